package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/cartledger/api/internal/domain"
	"github.com/cartledger/api/internal/platform/opaqueid"
	"github.com/cartledger/api/internal/repositories"
)

var (
	errDiscountRepositoryRequired = errors.New("discount service: discount repository is required")
	errDiscountCartsRequired      = errors.New("discount service: cart repository is required")
	errDiscountClockRequired      = errors.New("discount service: clock is required")
)

// ErrDiscountNotFound indicates the discount method does not exist.
var ErrDiscountNotFound = errors.New("discount service: not found")

// ErrDiscountInvalidValue indicates the stored discount percentage is not numeric.
var ErrDiscountInvalidValue = errors.New("discount service: invalid discount value")

// ErrDiscountUnavailable indicates the discount service cannot fulfil the request.
var ErrDiscountUnavailable = errors.New("discount service: unavailable")

// DiscountServiceDeps wires the discount and cart stores.
type DiscountServiceDeps struct {
	Discounts repositories.DiscountRepository
	Carts     repositories.CartRepository
	Clock     func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

type discountService struct {
	discounts repositories.DiscountRepository
	carts     repositories.CartRepository
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewDiscountService constructs a DiscountService enforcing dependency validation.
func NewDiscountService(deps DiscountServiceDeps) (DiscountService, error) {
	if deps.Discounts == nil {
		return nil, errDiscountRepositoryRequired
	}
	if deps.Carts == nil {
		return nil, errDiscountCartsRequired
	}
	if deps.Clock == nil {
		return nil, errDiscountClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &discountService{
		discounts: deps.Discounts,
		carts:     deps.Carts,
		now:       func() time.Time { return deps.Clock().UTC() },
		logger:    logger,
	}, nil
}

// CalculatePercentageOff computes the discount amount the stored percentage
// yields against the cart's current items. When the discount carries a
// product condition list, only matching items contribute to the discountable
// total. A tax summary on the cart tops the amount up by the discount's share
// of the already-calculated tax.
func (s *discountService) CalculatePercentageOff(ctx context.Context, cart Cart, discountID string) (float64, error) {
	if s == nil || s.discounts == nil {
		return 0, ErrDiscountUnavailable
	}

	id := strings.TrimSpace(discountID)
	if id == "" {
		return 0, fmt.Errorf("%w: discount id is required", ErrCartInvalidParam)
	}

	discount, err := s.discounts.FindByID(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return 0, ErrDiscountNotFound
		}
		return 0, ErrDiscountUnavailable
	}

	percentage, err := strconv.ParseFloat(strings.TrimSpace(discount.Discount), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrDiscountInvalidValue, discount.Discount)
	}

	products := conditionProductIDs(discount)
	var discountable float64
	for _, item := range cart.Items {
		if len(products) > 0 {
			if _, ok := products[item.ProductID]; !ok {
				continue
			}
		}
		discountable += item.Subtotal.Amount
	}

	amount := discountable * percentage / 100

	// The stored tax summary was calculated before the discount; the tax
	// attributable to the discounted share is folded into the amount.
	if cart.TaxSummary != nil && cart.TaxSummary.TaxableAmount > 0 {
		discountPercent := amount / cart.TaxSummary.TaxableAmount
		amount += cart.TaxSummary.Tax * discountPercent
	}

	return amount, nil
}

// RemoveDiscountFromCart strips the applied discount from the cart's billing
// records and persists the result.
func (s *discountService) RemoveDiscountFromCart(ctx context.Context, cmd RemoveDiscountCommand) (Cart, error) {
	if s == nil || s.carts == nil {
		return Cart{}, ErrDiscountUnavailable
	}

	discountID := strings.TrimSpace(cmd.DiscountID)
	if discountID == "" {
		return Cart{}, fmt.Errorf("%w: discount id is required", ErrCartInvalidParam)
	}

	selector, err := buildCartSelector(cmd.CartID, cmd.Owner)
	if err != nil {
		return Cart{}, err
	}
	cart, err := s.carts.FindBySelector(ctx, selector)
	if err != nil {
		return Cart{}, translateRepoError(err)
	}
	if shopID := strings.TrimSpace(cmd.ShopID); shopID != "" && cart.ShopID != shopID {
		return Cart{}, ErrCartNotFound
	}

	billing := make([]domain.AppliedDiscount, 0, len(cart.Billing))
	for _, applied := range cart.Billing {
		if applied.ID == discountID {
			continue
		}
		billing = append(billing, applied)
	}

	cart.Billing = billing
	cart.UpdatedAt = s.now()

	saved, err := s.carts.Save(ctx, cart)
	if err != nil {
		return Cart{}, translateRepoError(err)
	}
	return saved, nil
}

// conditionProductIDs decodes the discount's opaque product condition ids
// into internal product ids. An empty map means the discount applies to
// every item.
func conditionProductIDs(discount domain.Discount) map[string]struct{} {
	if len(discount.Conditions.Products) == 0 {
		return nil
	}
	ids := make(map[string]struct{}, len(discount.Conditions.Products))
	for _, opaque := range discount.Conditions.Products {
		ids[opaqueid.DecodeForNamespace(opaqueid.NamespaceProduct, opaque)] = struct{}{}
	}
	return ids
}
