package services

import (
	"context"

	domain "github.com/cartledger/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart                 = domain.Cart
	CartItem             = domain.CartItem
	Money                = domain.Money
	Address              = domain.Address
	FulfillmentGroup     = domain.FulfillmentGroup
	ShipmentMethod       = domain.ShipmentMethod
	ShipmentQuote        = domain.ShipmentQuote
	AppliedDiscount      = domain.AppliedDiscount
	Discount             = domain.Discount
	ShippingOverrideRule = domain.ShippingOverrideRule
	TaxJurisdiction      = domain.TaxJurisdiction
	TaxLine              = domain.TaxLine
	ItemTax              = domain.ItemTax
	TaxSummary           = domain.TaxSummary
	TaxServiceResult     = domain.TaxServiceResult
	CommonOrder          = domain.CommonOrder
	Account              = domain.Account
	SystemHealthReport   = domain.SystemHealthReport
)

// CartService applies item and address mutations to a cart, reconciling any
// derived state (discount, selected shipping rate) invalidated by the change.
type CartService interface {
	AddItems(ctx context.Context, cmd AddCartItemsCommand) (CartMutationResult, error)
	RemoveItems(ctx context.Context, cmd RemoveCartItemsCommand) (CartMutationResult, error)
	UpdateItemsQuantity(ctx context.Context, cmd UpdateItemsQuantityCommand) (CartMutationResult, error)
	SetShippingAddress(ctx context.Context, cmd SetShippingAddressCommand) (CartMutationResult, error)
}

// FulfillmentService validates and records the shipping option chosen for a
// fulfillment group, folding address-based surcharges into the selected rate.
type FulfillmentService interface {
	SelectFulfillmentOption(ctx context.Context, cmd SelectFulfillmentOptionCommand) (CartMutationResult, error)
}

// TaxService resolves tax jurisdictions for an order and aggregates per-item
// tax into order-level totals.
type TaxService interface {
	CalculateOrderTaxes(ctx context.Context, order CommonOrder) (*TaxServiceResult, error)
}

// DiscountService computes percentage-off discount amounts and removes applied
// discounts whose amounts have gone stale.
type DiscountService interface {
	CalculatePercentageOff(ctx context.Context, cart Cart, discountID string) (float64, error)
	RemoveDiscountFromCart(ctx context.Context, cmd RemoveDiscountCommand) (Cart, error)
}

// MergeService folds an anonymous cart into the owning account's cart on login.
type MergeService interface {
	MergeCarts(ctx context.Context, cmd MergeCartsCommand) (CartMutationResult, error)
}

// SystemService aggregates dependency health for liveness and readiness probes.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}

// CartOwner carries the caller's proof of ownership for a cart. Exactly one of
// AccountID or CartToken identifies the caller; CartToken is the plaintext
// anonymous access token and is hashed before any lookup.
type CartOwner struct {
	AccountID string
	CartToken string
}

// CartItemInput is the caller-supplied shape of one requested line item.
type CartItemInput struct {
	ProductID        string
	VariantID        string
	Title            string
	Price            Money
	Quantity         int
	IsTaxable        bool
	TaxCode          string
	ShippingOverride []ShippingOverrideRule
	Metafields       map[string]string
}

// CartItemFailure reports one requested item the validator rejected, with the
// reason the caller needs to retry with corrected values.
type CartItemFailure struct {
	Item   CartItemInput
	Reason string
}

// CartMutationResult is the single result envelope returned by every cart
// mutation. The failure slices are partial-success signals accompanying a
// persisted cart, not errors.
type CartMutationResult struct {
	Cart                     Cart
	IncorrectPriceFailures   []CartItemFailure
	MinOrderQuantityFailures []CartItemFailure
}

// AddCartItemsCommand requests adding items to a cart.
type AddCartItemsCommand struct {
	CartID string
	Owner  CartOwner
	Items  []CartItemInput

	// SkipPriceCheck bypasses price re-validation for items that were already
	// validated once, e.g. during a cart merge.
	SkipPriceCheck bool
}

// RemoveCartItemsCommand requests removal of items by id. Unknown ids are
// ignored; removal is idempotent.
type RemoveCartItemsCommand struct {
	CartID  string
	Owner   CartOwner
	ItemIDs []string
}

// CartItemQuantityUpdate sets one item's quantity. Zero removes the item.
type CartItemQuantityUpdate struct {
	ItemID   string
	Quantity int
}

// UpdateItemsQuantityCommand requests quantity changes for existing items.
type UpdateItemsQuantityCommand struct {
	CartID  string
	Owner   CartOwner
	Updates []CartItemQuantityUpdate
}

// SetShippingAddressCommand stamps an address onto every shipping-type
// fulfillment group of the cart.
type SetShippingAddressCommand struct {
	CartID  string
	Owner   CartOwner
	Address Address
}

// SelectFulfillmentOptionCommand records the chosen shipping method for one
// fulfillment group.
type SelectFulfillmentOptionCommand struct {
	CartID              string
	Owner               CartOwner
	FulfillmentGroupID  string
	FulfillmentMethodID string
}

// RemoveDiscountCommand removes one applied discount from a cart.
type RemoveDiscountCommand struct {
	CartID     string
	DiscountID string
	ShopID     string
	Owner      CartOwner
}

// MergeCartsCommand folds the anonymous cart into the account's cart.
type MergeCartsCommand struct {
	AnonymousCartID string
	CartToken       string
	AccountID       string
	ShopID          string
}

// ItemValidationOptions tunes the external item validator.
type ItemValidationOptions struct {
	SkipPriceCheck bool
}

// ItemValidationResult partitions requested items into the merged item list
// and the rejected-for-price / rejected-for-quantity failure sets.
type ItemValidationResult struct {
	UpdatedItemList          []CartItem
	IncorrectPriceFailures   []CartItemFailure
	MinOrderQuantityFailures []CartItemFailure
}

// ItemValidator is the external collaborator that prices requested items and
// merges them into an existing item list. Its merge policy (same
// product/variant increments quantity) is its own contract.
type ItemValidator interface {
	ValidateAndPriceItems(ctx context.Context, existing []CartItem, requested []CartItemInput, opts ItemValidationOptions) (ItemValidationResult, error)
}

// DiscountRemover removes a stale applied discount during reconciliation.
type DiscountRemover interface {
	RemoveDiscountFromCart(ctx context.Context, cmd RemoveDiscountCommand) (Cart, error)
}

// FulfillmentOptionSelector re-runs fulfillment selection during
// reconciliation so the surcharge recompute path sees the new item list.
type FulfillmentOptionSelector interface {
	SelectFulfillmentOption(ctx context.Context, cmd SelectFulfillmentOptionCommand) (CartMutationResult, error)
}

// RateLookup resolves the combined tax rate for a destination address from an
// external rate service. Implementations own their timeout.
type RateLookup interface {
	LookupRate(ctx context.Context, address Address) (float64, error)
}

// ReconcileRepairMessage describes a cart left mid-cascade so a background
// sweep can finish removing its stale derived state.
type ReconcileRepairMessage struct {
	CartID       string   `json:"cartId"`
	ShopID       string   `json:"shopId"`
	PendingSteps []string `json:"pendingSteps"`
	Reason       string   `json:"reason"`
}

// RepairJobPublisher enqueues reconciliation repair jobs.
type RepairJobPublisher interface {
	PublishRepairJob(ctx context.Context, message ReconcileRepairMessage) (string, error)
}
