package services

import (
	"context"
	"testing"

	domain "github.com/cartledger/api/internal/domain"
)

func newTestItemValidator(t *testing.T) ItemValidator {
	t.Helper()
	validator, err := NewCartItemValidator(CartItemValidatorDeps{
		Clock:       fixedClock,
		IDGenerator: sequentialIDs("line-"),
	})
	if err != nil {
		t.Fatalf("new item validator: %v", err)
	}
	return validator
}

func TestValidateAndPriceItemsMergesExistingVariant(t *testing.T) {
	validator := newTestItemValidator(t)

	existing := []domain.CartItem{{
		ID:        "line-0",
		ProductID: "product-1",
		VariantID: "variant-1",
		Price:     domain.Money{Amount: 25, CurrencyCode: "USD"},
		Quantity:  2,
		Subtotal:  domain.Money{Amount: 50, CurrencyCode: "USD"},
	}}

	result, err := validator.ValidateAndPriceItems(context.Background(), existing, []CartItemInput{{
		ProductID: "product-1",
		VariantID: "variant-1",
		Price:     domain.Money{Amount: 25, CurrencyCode: "USD"},
		Quantity:  3,
	}}, ItemValidationOptions{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	if len(result.UpdatedItemList) != 1 {
		t.Fatalf("expected merged line, got %d items", len(result.UpdatedItemList))
	}
	merged := result.UpdatedItemList[0]
	if merged.Quantity != 5 {
		t.Fatalf("expected quantity incremented to 5, got %d", merged.Quantity)
	}
	if merged.Subtotal.Amount != 125 {
		t.Fatalf("expected subtotal recomputed to 125, got %v", merged.Subtotal.Amount)
	}
}

func TestValidateAndPriceItemsAppendsNewLine(t *testing.T) {
	validator := newTestItemValidator(t)

	result, err := validator.ValidateAndPriceItems(context.Background(), nil, []CartItemInput{{
		ProductID: "product-2",
		VariantID: "variant-2",
		Price:     domain.Money{Amount: 10, CurrencyCode: "USD"},
		Quantity:  2,
	}}, ItemValidationOptions{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	if len(result.UpdatedItemList) != 1 {
		t.Fatalf("expected one new line, got %d", len(result.UpdatedItemList))
	}
	item := result.UpdatedItemList[0]
	if item.ID == "" {
		t.Fatal("expected an id assigned to the new line")
	}
	if item.Subtotal.Amount != 20 || item.Subtotal.CurrencyCode != "USD" {
		t.Fatalf("unexpected subtotal: %+v", item.Subtotal)
	}
	if item.AddedAt != fixedClock() {
		t.Fatalf("expected addedAt stamped, got %v", item.AddedAt)
	}
}

func TestValidateAndPriceItemsPartitionsFailures(t *testing.T) {
	validator := newTestItemValidator(t)

	existing := []domain.CartItem{{
		ID:        "line-0",
		ProductID: "product-1",
		VariantID: "variant-1",
		Price:     domain.Money{Amount: 25, CurrencyCode: "USD"},
		Quantity:  1,
	}}

	result, err := validator.ValidateAndPriceItems(context.Background(), existing, []CartItemInput{
		{ProductID: "product-1", VariantID: "variant-1", Price: domain.Money{Amount: 19, CurrencyCode: "USD"}, Quantity: 1},
		{ProductID: "product-3", VariantID: "variant-3", Price: domain.Money{Amount: 5, CurrencyCode: "USD"}, Quantity: 0},
	}, ItemValidationOptions{})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	if len(result.IncorrectPriceFailures) != 1 {
		t.Fatalf("expected one price failure, got %d", len(result.IncorrectPriceFailures))
	}
	if result.IncorrectPriceFailures[0].Item.Price.Amount != 19 {
		t.Fatalf("expected rejected item returned unchanged, got %+v", result.IncorrectPriceFailures[0].Item)
	}
	if len(result.MinOrderQuantityFailures) != 1 {
		t.Fatalf("expected one quantity failure, got %d", len(result.MinOrderQuantityFailures))
	}
	if len(result.UpdatedItemList) != 1 || result.UpdatedItemList[0].Quantity != 1 {
		t.Fatalf("expected existing list unchanged by rejected items, got %+v", result.UpdatedItemList)
	}
}

func TestValidateAndPriceItemsSkipPriceCheck(t *testing.T) {
	validator := newTestItemValidator(t)

	existing := []domain.CartItem{{
		ID:        "line-0",
		ProductID: "product-1",
		VariantID: "variant-1",
		Price:     domain.Money{Amount: 25, CurrencyCode: "USD"},
		Quantity:  1,
	}}

	result, err := validator.ValidateAndPriceItems(context.Background(), existing, []CartItemInput{{
		ProductID: "product-1",
		VariantID: "variant-1",
		Price:     domain.Money{Amount: 19, CurrencyCode: "USD"},
		Quantity:  2,
	}}, ItemValidationOptions{SkipPriceCheck: true})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	if len(result.IncorrectPriceFailures) != 0 {
		t.Fatalf("expected no price failures with the check skipped, got %d", len(result.IncorrectPriceFailures))
	}
	if result.UpdatedItemList[0].Quantity != 3 {
		t.Fatalf("expected quantities merged, got %d", result.UpdatedItemList[0].Quantity)
	}
}
