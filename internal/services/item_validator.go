package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/cartledger/api/internal/domain"
)

var errItemValidatorClockRequired = errors.New("item validator: clock is required")

// Failure reasons reported back to the caller alongside a successful mutation.
const (
	failureReasonIncorrectPrice   = "price does not match the current price"
	failureReasonMinOrderQuantity = "quantity is below the minimum order quantity"
)

// CartItemValidatorDeps configures the default item validator.
type CartItemValidatorDeps struct {
	Clock       func() time.Time
	IDGenerator func() string

	// MinOrderQuantity is the smallest accepted quantity per line. Defaults to 1.
	MinOrderQuantity int
}

type cartItemValidator struct {
	now    func() time.Time
	newID  func() string
	minQty int
}

// NewCartItemValidator builds the default ItemValidator. It partitions
// requested items into accepted, wrong-price, and below-minimum-quantity
// sets, and merges accepted items into the existing list: a request matching
// an existing line's product and variant increments that line's quantity
// instead of appending a duplicate.
func NewCartItemValidator(deps CartItemValidatorDeps) (ItemValidator, error) {
	if deps.Clock == nil {
		return nil, errItemValidatorClockRequired
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	minQty := deps.MinOrderQuantity
	if minQty < 1 {
		minQty = 1
	}

	return &cartItemValidator{
		now:    func() time.Time { return deps.Clock().UTC() },
		newID:  idGen,
		minQty: minQty,
	}, nil
}

func (v *cartItemValidator) ValidateAndPriceItems(ctx context.Context, existing []domain.CartItem, requested []CartItemInput, opts ItemValidationOptions) (ItemValidationResult, error) {
	items := make([]domain.CartItem, len(existing))
	copy(items, existing)

	result := ItemValidationResult{}
	now := v.now()

	for _, input := range requested {
		if input.Quantity < v.minQty {
			result.MinOrderQuantityFailures = append(result.MinOrderQuantityFailures, CartItemFailure{
				Item:   input,
				Reason: failureReasonMinOrderQuantity,
			})
			continue
		}

		idx := indexOfVariant(items, input.ProductID, input.VariantID)
		if idx >= 0 {
			if !opts.SkipPriceCheck && !samePrice(items[idx].Price, input.Price) {
				result.IncorrectPriceFailures = append(result.IncorrectPriceFailures, CartItemFailure{
					Item:   input,
					Reason: failureReasonIncorrectPrice,
				})
				continue
			}
			items[idx].Quantity += input.Quantity
			items[idx].Subtotal = domain.Money{
				Amount:       items[idx].Price.Amount * float64(items[idx].Quantity),
				CurrencyCode: items[idx].Price.CurrencyCode,
			}
			items[idx].UpdatedAt = now
			continue
		}

		items = append(items, domain.CartItem{
			ID:        v.newID(),
			ProductID: strings.TrimSpace(input.ProductID),
			VariantID: strings.TrimSpace(input.VariantID),
			Title:     input.Title,
			Price:     input.Price,
			Quantity:  input.Quantity,
			Subtotal: domain.Money{
				Amount:       input.Price.Amount * float64(input.Quantity),
				CurrencyCode: input.Price.CurrencyCode,
			},
			IsTaxable:        input.IsTaxable,
			TaxCode:          input.TaxCode,
			ShippingOverride: input.ShippingOverride,
			Metafields:       input.Metafields,
			AddedAt:          now,
			UpdatedAt:        now,
		})
	}

	result.UpdatedItemList = items
	return result, nil
}

func indexOfVariant(items []domain.CartItem, productID, variantID string) int {
	for i, item := range items {
		if item.ProductID == strings.TrimSpace(productID) && item.VariantID == strings.TrimSpace(variantID) {
			return i
		}
	}
	return -1
}

func samePrice(a, b domain.Money) bool {
	return a.Amount == b.Amount && strings.EqualFold(a.CurrencyCode, b.CurrencyCode)
}
