package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/cartledger/api/internal/domain"
)

type stubJurisdictionRepository struct {
	findFn func(context.Context, string) ([]domain.TaxJurisdiction, error)
	calls  []string
}

func (s *stubJurisdictionRepository) FindForShop(ctx context.Context, shopID string) ([]domain.TaxJurisdiction, error) {
	s.calls = append(s.calls, shopID)
	if s.findFn != nil {
		return s.findFn(ctx, shopID)
	}
	return nil, nil
}

type stubAccountRepository struct {
	findFn func(context.Context, string) (domain.Account, error)
}

func (s *stubAccountRepository) FindByID(ctx context.Context, accountID string) (domain.Account, error) {
	if s.findFn != nil {
		return s.findFn(ctx, accountID)
	}
	return domain.Account{}, &stubRepoError{notFound: true}
}

type stubRateLookup struct {
	lookupFn func(context.Context, domain.Address) (float64, error)
	calls    []domain.Address
}

func (s *stubRateLookup) LookupRate(ctx context.Context, address domain.Address) (float64, error) {
	s.calls = append(s.calls, address)
	if s.lookupFn != nil {
		return s.lookupFn(ctx, address)
	}
	return 0, nil
}

func newTestTaxService(t *testing.T, jurisdictions *stubJurisdictionRepository, accounts *stubAccountRepository, rates *stubRateLookup) TaxService {
	t.Helper()
	deps := TaxServiceDeps{
		Jurisdictions: jurisdictions,
		Clock:         fixedClock,
		IDGenerator:   sequentialIDs("tax-"),
	}
	if accounts != nil {
		deps.Accounts = accounts
	}
	if rates != nil {
		deps.Rates = rates
	}
	svc, err := NewTaxService(deps)
	if err != nil {
		t.Fatalf("new tax service: %v", err)
	}
	return svc
}

func taxOrder() CommonOrder {
	return CommonOrder{
		ShopID: "shop-1",
		Items: []domain.CartItem{
			{
				ID:        "item-a",
				Subtotal:  domain.Money{Amount: 100, CurrencyCode: "USD"},
				IsTaxable: true,
			},
			{
				ID:        "item-b",
				Subtotal:  domain.Money{Amount: 50, CurrencyCode: "USD"},
				IsTaxable: false,
			},
		},
		OriginAddress:   &domain.Address{Region: "WA", Country: "US"},
		ShippingAddress: &domain.Address{Postal: "90210", Region: "CA", Country: "US"},
	}
}

func TestCalculateOrderTaxesNilWithoutAddresses(t *testing.T) {
	svc := newTestTaxService(t, &stubJurisdictionRepository{}, nil, nil)

	result, err := svc.CalculateOrderTaxes(context.Background(), CommonOrder{ShopID: "shop-1"})
	if err != nil {
		t.Fatalf("calculate taxes: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result without addresses, got %+v", result)
	}
}

func TestCalculateOrderTaxesAggregatesItemLines(t *testing.T) {
	jurisdictions := &stubJurisdictionRepository{}
	jurisdictions.findFn = func(context.Context, string) ([]domain.TaxJurisdiction, error) {
		return []domain.TaxJurisdiction{
			{ID: "jx", ShopID: "shop-1", Region: "CA", Country: "US", Rate: 99, Locale: domain.TaxLocaleDestination},
			{ID: "jy", ShopID: "shop-1", Region: "WA", Country: "US", Rate: 2, Locale: domain.TaxLocaleOrigin},
		}, nil
	}

	rates := &stubRateLookup{}
	rates.lookupFn = func(context.Context, domain.Address) (float64, error) {
		return 0.08, nil
	}

	svc := newTestTaxService(t, jurisdictions, nil, rates)

	result, err := svc.CalculateOrderTaxes(context.Background(), taxOrder())
	if err != nil {
		t.Fatalf("calculate taxes: %v", err)
	}
	if result == nil {
		t.Fatal("expected a result")
	}

	itemA := result.ItemTaxes[0]
	if len(itemA.Taxes) != 2 {
		t.Fatalf("expected two jurisdiction lines for item A, got %d", len(itemA.Taxes))
	}
	// destination line uses the external rate, not the stored 99 percent
	if itemA.Taxes[0].TaxRate != 0.08 || itemA.Taxes[0].Tax != 8 {
		t.Fatalf("unexpected destination line: %+v", itemA.Taxes[0])
	}
	if itemA.Taxes[1].TaxRate != 0.02 || itemA.Taxes[1].Tax != 2 {
		t.Fatalf("unexpected origin line: %+v", itemA.Taxes[1])
	}
	if itemA.Tax != 10 {
		t.Fatalf("expected item tax 10, got %v", itemA.Tax)
	}
	if itemA.TaxableAmount != 100 {
		t.Fatalf("expected taxable amount 100 (max across jurisdictions), got %v", itemA.TaxableAmount)
	}

	itemB := result.ItemTaxes[1]
	if len(itemB.Taxes) != 0 || itemB.Tax != 0 {
		t.Fatalf("expected no lines for non-taxable item, got %+v", itemB)
	}

	summary := result.TaxSummary
	if summary.Tax != 10 || summary.TaxableAmount != 100 {
		t.Fatalf("unexpected summary totals: tax %v taxable %v", summary.Tax, summary.TaxableAmount)
	}
	if summary.CalculatedByTaxServiceName != "custom-rates" {
		t.Fatalf("unexpected service name %q", summary.CalculatedByTaxServiceName)
	}
	if len(summary.Taxes) != 2 {
		t.Fatalf("expected two jurisdiction groups, got %d", len(summary.Taxes))
	}
	if summary.CalculatedAt != fixedClock() {
		t.Fatalf("unexpected calculation timestamp %v", summary.CalculatedAt)
	}
}

func TestCalculateOrderTaxesRateLookupFailureDegradesToZero(t *testing.T) {
	jurisdictions := &stubJurisdictionRepository{}
	jurisdictions.findFn = func(context.Context, string) ([]domain.TaxJurisdiction, error) {
		return []domain.TaxJurisdiction{
			{ID: "jx", Region: "CA", Country: "US", Rate: 8, Locale: domain.TaxLocaleDestination},
			{ID: "jy", Region: "WA", Country: "US", Rate: 2, Locale: domain.TaxLocaleOrigin},
		}, nil
	}

	rates := &stubRateLookup{}
	rates.lookupFn = func(context.Context, domain.Address) (float64, error) {
		return 0, errors.New("rate service timeout")
	}

	var events []string
	deps := TaxServiceDeps{
		Jurisdictions: jurisdictions,
		Rates:         rates,
		Clock:         fixedClock,
		IDGenerator:   sequentialIDs("tax-"),
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	}
	svc, err := NewTaxService(deps)
	if err != nil {
		t.Fatalf("new tax service: %v", err)
	}

	result, err := svc.CalculateOrderTaxes(context.Background(), taxOrder())
	if err != nil {
		t.Fatalf("expected lookup failure to be swallowed, got %v", err)
	}

	itemA := result.ItemTaxes[0]
	if itemA.Taxes[0].Tax != 0 || itemA.Taxes[0].TaxRate != 0 {
		t.Fatalf("expected destination line degraded to zero, got %+v", itemA.Taxes[0])
	}
	if itemA.Taxes[1].Tax != 2 {
		t.Fatalf("expected origin line untouched, got %+v", itemA.Taxes[1])
	}
	if len(events) != 1 || events[0] != "tax.rate_lookup_failed" {
		t.Fatalf("expected lookup failure logged, got %v", events)
	}
}

func TestCalculateOrderTaxesExemptAccountSkipsLookup(t *testing.T) {
	accounts := &stubAccountRepository{}
	accounts.findFn = func(context.Context, string) (domain.Account, error) {
		return domain.Account{
			ID:          "account-1",
			TaxSettings: &domain.AccountTaxSettings{ExemptionNo: "EX-42"},
		}, nil
	}

	rates := &stubRateLookup{}
	jurisdictions := &stubJurisdictionRepository{}

	svc := newTestTaxService(t, jurisdictions, accounts, rates)

	order := taxOrder()
	order.AccountID = "account-1"

	result, err := svc.CalculateOrderTaxes(context.Background(), order)
	if err != nil {
		t.Fatalf("calculate taxes: %v", err)
	}
	if len(rates.calls) != 0 {
		t.Fatalf("expected no rate lookup for exempt account, got %d calls", len(rates.calls))
	}
	if result.TaxSummary.Tax != 0 || result.TaxSummary.TaxableAmount != 0 {
		t.Fatalf("expected zero summary for exempt order, got %+v", result.TaxSummary)
	}
	if len(result.ItemTaxes) != 2 || len(result.ItemTaxes[0].Taxes) != 0 {
		t.Fatalf("expected empty item lines, got %+v", result.ItemTaxes)
	}
}

func TestCalculateOrderTaxesSkipsTaxCodeMismatch(t *testing.T) {
	jurisdictions := &stubJurisdictionRepository{}
	jurisdictions.findFn = func(context.Context, string) ([]domain.TaxJurisdiction, error) {
		return []domain.TaxJurisdiction{
			{ID: "jx", Region: "CA", Country: "US", TaxCode: "food", Rate: 8, Locale: domain.TaxLocaleDestination},
		}, nil
	}

	svc := newTestTaxService(t, jurisdictions, nil, nil)

	order := taxOrder()
	order.Items[0].TaxCode = "general"

	result, err := svc.CalculateOrderTaxes(context.Background(), order)
	if err != nil {
		t.Fatalf("calculate taxes: %v", err)
	}
	if len(result.ItemTaxes[0].Taxes) != 0 {
		t.Fatalf("expected tax code mismatch skipped, got %+v", result.ItemTaxes[0].Taxes)
	}
}

func TestMatchJurisdictionsPrefersMostSpecificTier(t *testing.T) {
	definitions := []domain.TaxJurisdiction{
		{ID: "country", Country: "US", Rate: 1, Locale: domain.TaxLocaleDestination},
		{ID: "postal-country", Postal: "90210", Country: "US", Rate: 2, Locale: domain.TaxLocaleDestination},
		{ID: "wildcard", Rate: 3, Locale: domain.TaxLocaleDestination},
	}
	address := &domain.Address{Postal: "90210", Country: "US"}

	matched := matchJurisdictions(definitions, domain.TaxLocaleDestination, address)
	if len(matched) != 1 || matched[0].ID != "postal-country" {
		t.Fatalf("expected postal+country tier to win, got %+v", matched)
	}
}

func TestMatchJurisdictionsFallsBackToLessSpecificTiers(t *testing.T) {
	definitions := []domain.TaxJurisdiction{
		{ID: "postal-country", Postal: "10001", Country: "US", Locale: domain.TaxLocaleDestination},
		{ID: "country", Country: "US", Locale: domain.TaxLocaleDestination},
		{ID: "wildcard", Locale: domain.TaxLocaleDestination},
	}

	matched := matchJurisdictions(definitions, domain.TaxLocaleDestination, &domain.Address{Postal: "90210", Country: "US"})
	if len(matched) != 1 || matched[0].ID != "country" {
		t.Fatalf("expected fallback to country tier, got %+v", matched)
	}

	matched = matchJurisdictions(definitions, domain.TaxLocaleDestination, &domain.Address{Country: "CA"})
	if len(matched) != 1 || matched[0].ID != "wildcard" {
		t.Fatalf("expected fallback to wildcard tier, got %+v", matched)
	}
}
