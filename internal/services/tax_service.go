package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/cartledger/api/internal/domain"
	"github.com/cartledger/api/internal/repositories"
)

// taxServiceName identifies this calculator on every summary it produces.
const taxServiceName = "custom-rates"

var (
	errTaxJurisdictionsRequired = errors.New("tax service: jurisdiction repository is required")
	errTaxClockRequired         = errors.New("tax service: clock is required")
)

// ErrTaxUnavailable indicates the tax service cannot fulfil the request due to missing dependencies or backend issues.
var ErrTaxUnavailable = errors.New("tax service: unavailable")

// TaxServiceDeps wires the jurisdiction store, the optional account store for
// exemption checks, and the optional external rate lookup.
type TaxServiceDeps struct {
	Jurisdictions repositories.TaxJurisdictionRepository
	Accounts      repositories.AccountRepository
	Rates         RateLookup
	Clock         func() time.Time
	Logger        func(context.Context, string, map[string]any)
	IDGenerator   func() string
}

type taxService struct {
	jurisdictions repositories.TaxJurisdictionRepository
	accounts      repositories.AccountRepository
	rates         RateLookup
	newID         func() string
	now           func() time.Time
	logger        func(context.Context, string, map[string]any)
}

// NewTaxService constructs a TaxService enforcing dependency validation.
func NewTaxService(deps TaxServiceDeps) (TaxService, error) {
	if deps.Jurisdictions == nil {
		return nil, errTaxJurisdictionsRequired
	}
	if deps.Clock == nil {
		return nil, errTaxClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &taxService{
		jurisdictions: deps.Jurisdictions,
		accounts:      deps.Accounts,
		rates:         deps.Rates,
		newID:         idGen,
		now:           func() time.Time { return deps.Clock().UTC() },
		logger:        logger,
	}, nil
}

// CalculateOrderTaxes resolves the jurisdictions applicable to the order's
// addresses and aggregates per-item tax lines into order totals. A nil result
// means tax cannot be determined because the order carries no address.
func (s *taxService) CalculateOrderTaxes(ctx context.Context, order CommonOrder) (*TaxServiceResult, error) {
	if s == nil || s.jurisdictions == nil {
		return nil, ErrTaxUnavailable
	}
	if order.ShippingAddress == nil && order.OriginAddress == nil {
		return nil, nil
	}

	taxable, err := s.isTaxableOrder(ctx, order)
	if err != nil {
		return nil, err
	}
	if !taxable {
		return s.exemptResult(order), nil
	}

	externalRate := s.lookupExternalRate(ctx, order)

	definitions, err := s.jurisdictions.FindForShop(ctx, order.ShopID)
	if err != nil {
		if isRepoNotFound(err) {
			definitions = nil
		} else {
			return nil, ErrTaxUnavailable
		}
	}

	matched := make([]appliedJurisdiction, 0, len(definitions))
	for _, def := range matchJurisdictions(definitions, domain.TaxLocaleDestination, order.ShippingAddress) {
		// The externally resolved rate replaces the stored destination rate,
		// including when the lookup degraded to zero.
		matched = append(matched, appliedJurisdiction{definition: def, rate: externalRate})
	}
	for _, def := range matchJurisdictions(definitions, domain.TaxLocaleOrigin, order.OriginAddress) {
		matched = append(matched, appliedJurisdiction{definition: def, rate: def.Rate / 100})
	}

	itemTaxes := make([]domain.ItemTax, 0, len(order.Items))
	summary := domain.TaxSummary{
		CalculatedAt:               s.now(),
		CalculatedByTaxServiceName: taxServiceName,
	}
	groupTotals := map[string]int{}

	for _, item := range order.Items {
		itemTax := domain.ItemTax{ItemID: item.ID, Taxes: []domain.TaxLine{}}
		if item.IsTaxable {
			for _, applied := range matched {
				def := applied.definition
				if def.TaxCode != "" && def.TaxCode != item.TaxCode {
					continue
				}
				line := domain.TaxLine{
					ID:             s.newID(),
					JurisdictionID: def.ID,
					Sourcing:       def.Locale,
					Tax:            item.Subtotal.Amount * applied.rate,
					TaxableAmount:  item.Subtotal.Amount,
					TaxName:        def.DisplayName(),
					TaxRate:        applied.rate,
				}
				itemTax.Taxes = append(itemTax.Taxes, line)
				itemTax.Tax += line.Tax
				if line.TaxableAmount > itemTax.TaxableAmount {
					itemTax.TaxableAmount = line.TaxableAmount
				}

				if idx, ok := groupTotals[def.ID]; ok {
					summary.Taxes[idx].Tax += line.Tax
					summary.Taxes[idx].TaxableAmount += line.TaxableAmount
				} else {
					group := line
					group.ID = s.newID()
					summary.Taxes = append(summary.Taxes, group)
					groupTotals[def.ID] = len(summary.Taxes) - 1
				}
			}
		}
		itemTaxes = append(itemTaxes, itemTax)
		summary.Tax += itemTax.Tax
		summary.TaxableAmount += itemTax.TaxableAmount
	}

	return &TaxServiceResult{ItemTaxes: itemTaxes, TaxSummary: summary}, nil
}

// isTaxableOrder reports whether the order should be taxed at all. An account
// carrying a tax exemption number makes the whole order non-taxable.
func (s *taxService) isTaxableOrder(ctx context.Context, order CommonOrder) (bool, error) {
	accountID := strings.TrimSpace(order.AccountID)
	if accountID == "" || s.accounts == nil {
		return true, nil
	}

	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if isRepoNotFound(err) {
			return true, nil
		}
		return false, ErrTaxUnavailable
	}
	if account.TaxSettings != nil && strings.TrimSpace(account.TaxSettings.ExemptionNo) != "" {
		return false, nil
	}
	return true, nil
}

// lookupExternalRate asks the external rate service for the destination's
// combined rate. Any failure degrades to zero so tax calculation proceeds.
func (s *taxService) lookupExternalRate(ctx context.Context, order CommonOrder) float64 {
	if s.rates == nil || order.ShippingAddress == nil {
		return 0
	}
	rate, err := s.rates.LookupRate(ctx, *order.ShippingAddress)
	if err != nil {
		s.logger(ctx, "tax.rate_lookup_failed", map[string]any{
			"shopID": order.ShopID,
			"error":  err.Error(),
		})
		return 0
	}
	return rate
}

func (s *taxService) exemptResult(order CommonOrder) *TaxServiceResult {
	itemTaxes := make([]domain.ItemTax, 0, len(order.Items))
	for _, item := range order.Items {
		itemTaxes = append(itemTaxes, domain.ItemTax{ItemID: item.ID, Taxes: []domain.TaxLine{}})
	}
	return &TaxServiceResult{
		ItemTaxes: itemTaxes,
		TaxSummary: domain.TaxSummary{
			CalculatedAt:               s.now(),
			CalculatedByTaxServiceName: taxServiceName,
		},
	}
}

type appliedJurisdiction struct {
	definition domain.TaxJurisdiction
	rate       float64
}

// matchJurisdictions selects the definitions of one locale applicable to the
// address, preferring the most specific tier that produces any match:
// postal+country, then region+country, then postal, then country, then
// wildcard definitions with no address criteria at all.
func matchJurisdictions(definitions []domain.TaxJurisdiction, locale string, address *domain.Address) []domain.TaxJurisdiction {
	if address == nil {
		return nil
	}

	byTier := make([][]domain.TaxJurisdiction, 5)
	for _, def := range definitions {
		if def.Locale != locale {
			continue
		}
		tier := jurisdictionTier(def)
		if tier < 0 || !jurisdictionMatches(def, *address) {
			continue
		}
		byTier[tier] = append(byTier[tier], def)
	}

	for _, defs := range byTier {
		if len(defs) > 0 {
			return defs
		}
	}
	return nil
}

// jurisdictionTier classifies a definition by the address fields it
// constrains, most specific first. Definitions with unsupported field
// combinations never match.
func jurisdictionTier(def domain.TaxJurisdiction) int {
	hasPostal := def.Postal != ""
	hasRegion := def.Region != ""
	hasCountry := def.Country != ""

	switch {
	case hasPostal && hasCountry && !hasRegion:
		return 0
	case hasRegion && hasCountry && !hasPostal:
		return 1
	case hasPostal && !hasRegion && !hasCountry:
		return 2
	case hasCountry && !hasPostal && !hasRegion:
		return 3
	case !hasPostal && !hasRegion && !hasCountry:
		return 4
	}
	return -1
}

func jurisdictionMatches(def domain.TaxJurisdiction, address domain.Address) bool {
	if def.Postal != "" && def.Postal != address.Postal {
		return false
	}
	if def.Region != "" && def.Region != address.Region {
		return false
	}
	if def.Country != "" && def.Country != address.Country {
		return false
	}
	return true
}
