package domain

import (
	"strings"
	"time"
)

// FulfillmentTypeShipping marks fulfillment groups whose items are delivered
// to a shipping address. Other types (e.g. pickup) carry no address and never
// participate in surcharge or shipping-rate reconciliation.
const FulfillmentTypeShipping = "shipping"

// Tax locale values describe whether a jurisdiction taxes at the order's
// origin or its destination.
const (
	TaxLocaleOrigin      = "origin"
	TaxLocaleDestination = "destination"
)

// Money is an amount of a single currency, in major units.
type Money struct {
	Amount       float64
	CurrencyCode string
}

// Cart is the mutable pre-order container of items and in-progress
// fulfillment and discount selections. Exactly one of AccountID or
// AnonymousAccessToken identifies the owner.
type Cart struct {
	ID string

	ShopID string

	// AccountID is set for carts owned by an authenticated account.
	AccountID string

	// AnonymousAccessToken holds the SHA-256 hash of the anonymous access
	// token. The plaintext token is never stored.
	AnonymousAccessToken string

	Items []CartItem

	// Billing holds applied discounts. In practice at most one is supported;
	// the presence of Billing[0] means a discount was computed against the
	// current item set and must be removed when that set changes.
	Billing []AppliedDiscount

	Shipping []FulfillmentGroup

	// TaxSummary is the most recent tax calculation stamped onto the cart by
	// the taxes plugin, when present. This engine reads it for discount
	// top-up math and never writes it.
	TaxSummary *TaxSummary

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartItem is a purchasable line on a cart. Subtotal is always
// Price.Amount × Quantity; it is recomputed on every quantity change and is
// never independently settable.
type CartItem struct {
	ID        string
	ProductID string
	VariantID string
	Title     string

	Price    Money
	Quantity int
	Subtotal Money

	IsTaxable bool
	TaxCode   string

	// ShippingOverride lists per-region surcharge rules applied when the
	// destination region matches.
	ShippingOverride []ShippingOverrideRule

	Metafields map[string]string

	AddedAt   time.Time
	UpdatedAt time.Time
}

// ShippingOverrideRule adds a per-unit surcharge when the shipping
// destination's region matches.
type ShippingOverrideRule struct {
	Region    string
	Surcharge float64
}

// Address is a postal address attached to a fulfillment group or order.
type Address struct {
	ID       string
	FullName string
	Address1 string
	Address2 string
	City     string
	Region   string
	Postal   string
	Country  string
	Phone    string
}

// ShipmentMethod is one priced way of fulfilling a group. Rate is mutable
// after selection so that address-based surcharges can be folded in.
type ShipmentMethod struct {
	ID       string
	Name     string
	Label    string
	Rate     float64
	Handling float64
}

// ShipmentQuote is an available priced method offered to the shopper.
type ShipmentQuote struct {
	Method ShipmentMethod
	Rate   float64
}

// FulfillmentGroup is a subset of an order's items requiring one
// shipping/pickup decision. ShipmentMethod, when set, must reference a
// method present in ShipmentQuotes at selection time.
type FulfillmentGroup struct {
	ID             string
	Type           string
	Address        *Address
	ShipmentQuotes []ShipmentQuote
	ShipmentMethod *ShipmentMethod
}

// AppliedDiscount records a discount applied to a cart, scoped to that cart.
type AppliedDiscount struct {
	ID     string
	ShopID string
	Code   string
	Amount float64
}

// Discount is a stored discount method. The percentage is stored as a string
// and parsed at calculation time; a non-numeric value is a data error
// surfaced to the caller.
type Discount struct {
	ID         string
	ShopID     string
	Code       string
	Discount   string
	Conditions DiscountConditions
}

// DiscountConditions restricts which items a discount applies to. An empty
// Products list means the discount applies to every item.
type DiscountConditions struct {
	// Products holds opaque-encoded product IDs.
	Products []string
}

// TaxJurisdiction defines one tax authority matched by address fields and
// locale. Rate is stored as a percentage (e.g. 8 for 8%).
type TaxJurisdiction struct {
	ID      string
	ShopID  string
	Postal  string
	Region  string
	Country string
	TaxCode string
	Rate    float64
	Locale  string
}

// DisplayName derives a human-readable jurisdiction name from the non-empty
// postal, region, and country fields.
func (j TaxJurisdiction) DisplayName() string {
	return strings.Join(nonEmpty(j.Postal, j.Region, j.Country), " ")
}

// TaxLine is one item's tax under one jurisdiction.
type TaxLine struct {
	ID             string
	JurisdictionID string
	Sourcing       string
	Tax            float64
	TaxableAmount  float64
	TaxName        string
	TaxRate        float64
}

// ItemTax aggregates all jurisdiction lines for one item. TaxableAmount is
// the maximum amount taxed by any single jurisdiction, not the sum; Tax is
// the sum of all lines.
type ItemTax struct {
	ItemID        string
	Tax           float64
	TaxableAmount float64
	Taxes         []TaxLine
}

// TaxSummary is the order-level rollup of item taxes.
type TaxSummary struct {
	CalculatedAt               time.Time
	CalculatedByTaxServiceName string
	Tax                        float64
	TaxableAmount              float64
	Taxes                      []TaxLine
}

// TaxServiceResult is the full outcome of a tax calculation for an order.
type TaxServiceResult struct {
	ItemTaxes  []ItemTax
	TaxSummary TaxSummary
}

// CommonOrder is the address/item view of an order handed to the tax
// resolver. Either address may be nil; when both are, tax cannot be
// determined.
type CommonOrder struct {
	ShopID          string
	AccountID       string
	Items           []CartItem
	OriginAddress   *Address
	ShippingAddress *Address
}

// AccountTaxSettings carries per-account tax flags. A non-empty ExemptionNo
// makes the account's orders non-taxable.
type AccountTaxSettings struct {
	ExemptionNo       string
	CustomerUsageType string
}

// Account is the slice of an account document this engine reads.
type Account struct {
	ID          string
	TaxSettings *AccountTaxSettings
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
