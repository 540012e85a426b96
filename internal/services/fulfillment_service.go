package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/cartledger/api/internal/domain"
	"github.com/cartledger/api/internal/repositories"
)

var (
	errFulfillmentRepositoryRequired = errors.New("fulfillment service: repository is required")
	errFulfillmentClockRequired      = errors.New("fulfillment service: clock is required")
)

// ErrFulfillmentNotFound indicates the fulfillment group or the requested
// method is absent from the cart.
var ErrFulfillmentNotFound = errors.New("fulfillment service: not found")

// ErrFulfillmentAmbiguous indicates the cart carries more than one
// shipping-type fulfillment group, so the surcharge destination is undefined.
var ErrFulfillmentAmbiguous = errors.New("fulfillment service: multiple shipping groups")

// ErrFulfillmentUnavailable indicates the fulfillment service cannot fulfil the request.
var ErrFulfillmentUnavailable = errors.New("fulfillment service: unavailable")

// FulfillmentServiceDeps wires the repository for fulfillment selection.
type FulfillmentServiceDeps struct {
	Repository repositories.CartRepository
	Clock      func() time.Time
	Logger     func(context.Context, string, map[string]any)
}

type fulfillmentService struct {
	repo   repositories.CartRepository
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewFulfillmentService constructs a FulfillmentService enforcing dependency validation.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Repository == nil {
		return nil, errFulfillmentRepositoryRequired
	}
	if deps.Clock == nil {
		return nil, errFulfillmentClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &fulfillmentService{
		repo:   deps.Repository,
		now:    func() time.Time { return deps.Clock().UTC() },
		logger: logger,
	}, nil
}

// SelectFulfillmentOption records the chosen shipment method on the targeted
// group. The method must be one of the group's quoted options. The order-wide
// shipping surcharge is folded into the selected rate before it is written
// back; other groups pass through unchanged.
func (s *fulfillmentService) SelectFulfillmentOption(ctx context.Context, cmd SelectFulfillmentOptionCommand) (CartMutationResult, error) {
	if s == nil || s.repo == nil {
		return CartMutationResult{}, ErrFulfillmentUnavailable
	}

	groupID := strings.TrimSpace(cmd.FulfillmentGroupID)
	methodID := strings.TrimSpace(cmd.FulfillmentMethodID)
	if groupID == "" || methodID == "" {
		return CartMutationResult{}, fmt.Errorf("%w: group id and method id are required", ErrCartInvalidParam)
	}

	selector, err := buildCartSelector(cmd.CartID, cmd.Owner)
	if err != nil {
		return CartMutationResult{}, err
	}
	cart, err := s.repo.FindBySelector(ctx, selector)
	if err != nil {
		return CartMutationResult{}, translateRepoError(err)
	}

	shippingGroup, err := activeShippingGroup(cart)
	if err != nil {
		return CartMutationResult{}, err
	}

	groupIndex := -1
	for i, group := range cart.Shipping {
		if group.ID == groupID {
			groupIndex = i
			break
		}
	}
	if groupIndex < 0 {
		return CartMutationResult{}, fmt.Errorf("%w: fulfillment group %q", ErrFulfillmentNotFound, groupID)
	}

	var quote *domain.ShipmentQuote
	for i, candidate := range cart.Shipping[groupIndex].ShipmentQuotes {
		if candidate.Method.ID == methodID {
			quote = &cart.Shipping[groupIndex].ShipmentQuotes[i]
			break
		}
	}
	if quote == nil {
		return CartMutationResult{}, fmt.Errorf("%w: fulfillment method %q", ErrFulfillmentNotFound, methodID)
	}

	method := quote.Method
	method.Rate = quote.Rate + shippingSurcharge(cart.Items, destinationRegion(shippingGroup))
	cart.Shipping[groupIndex].ShipmentMethod = &method
	cart.UpdatedAt = s.now()

	saved, err := s.repo.Save(ctx, cart)
	if err != nil {
		return CartMutationResult{}, translateRepoError(err)
	}
	return CartMutationResult{Cart: saved}, nil
}

// activeShippingGroup returns the cart's single shipping-type group, or nil
// when the cart has none. More than one shipping group is rejected instead of
// silently trusting array position.
func activeShippingGroup(cart domain.Cart) (*domain.FulfillmentGroup, error) {
	var active *domain.FulfillmentGroup
	for i := range cart.Shipping {
		if cart.Shipping[i].Type != domain.FulfillmentTypeShipping {
			continue
		}
		if active != nil {
			return nil, ErrFulfillmentAmbiguous
		}
		active = &cart.Shipping[i]
	}
	return active, nil
}

func destinationRegion(group *domain.FulfillmentGroup) string {
	if group == nil || group.Address == nil {
		return ""
	}
	return strings.TrimSpace(group.Address.Region)
}

// shippingSurcharge accumulates per-unit override surcharges for every item
// whose rule region matches the destination. No destination region means no
// surcharge; selection still succeeds.
func shippingSurcharge(items []domain.CartItem, region string) float64 {
	if region == "" {
		return 0
	}
	var total float64
	for _, item := range items {
		for _, rule := range item.ShippingOverride {
			if rule.Region == region {
				total += rule.Surcharge * float64(item.Quantity)
			}
		}
	}
	return total
}
