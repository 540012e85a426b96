package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/cartledger/api/internal/domain"
	"github.com/cartledger/api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartValidatorRequired  = errors.New("cart service: item validator is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

// ErrCartNotFound indicates the cart does not exist under the caller's identity.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartInvalidParam indicates the caller supplied invalid input.
var ErrCartInvalidParam = errors.New("cart service: invalid parameter")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// CartServiceDeps wires the repository and reconciliation collaborators for cart mutations.
type CartServiceDeps struct {
	Repository  repositories.CartRepository
	Validator   ItemValidator
	Discounts   DiscountRemover
	Fulfillment FulfillmentOptionSelector
	RepairJobs  RepairJobPublisher
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	IDGenerator func() string
}

type cartService struct {
	repo      repositories.CartRepository
	validator ItemValidator
	reconcile *reconciler
	newID     func() string
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Validator == nil {
		return nil, errCartValidatorRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	service := &cartService{
		repo:      deps.Repository,
		validator: deps.Validator,
		reconcile: &reconciler{
			repo:        deps.Repository,
			discounts:   deps.Discounts,
			fulfillment: deps.Fulfillment,
			repairs:     deps.RepairJobs,
			logger:      logger,
		},
		newID:  idGen,
		now:    func() time.Time { return deps.Clock().UTC() },
		logger: logger,
	}
	return service, nil
}

// AddItems merges the requested items into the cart via the item validator and
// returns the validator's failure partitions alongside the reconciled cart.
func (s *cartService) AddItems(ctx context.Context, cmd AddCartItemsCommand) (CartMutationResult, error) {
	if s == nil || s.repo == nil {
		return CartMutationResult{}, ErrCartUnavailable
	}
	if len(cmd.Items) == 0 {
		return CartMutationResult{}, fmt.Errorf("%w: at least one item is required", ErrCartInvalidParam)
	}

	cart, err := s.loadCart(ctx, cmd.CartID, cmd.Owner)
	if err != nil {
		return CartMutationResult{}, err
	}
	plan := staleStateFrom(cart)

	validated, err := s.validator.ValidateAndPriceItems(ctx, cart.Items, cmd.Items, ItemValidationOptions{
		SkipPriceCheck: cmd.SkipPriceCheck,
	})
	if err != nil {
		return CartMutationResult{}, fmt.Errorf("%w: %v", ErrCartInvalidParam, err)
	}

	cart.Items = validated.UpdatedItemList
	cart.UpdatedAt = s.now()

	reconciled, err := s.reconcile.persistAndReconcile(ctx, cart, plan, cmd.Owner)
	if err != nil {
		return CartMutationResult{}, err
	}

	return CartMutationResult{
		Cart:                     reconciled,
		IncorrectPriceFailures:   validated.IncorrectPriceFailures,
		MinOrderQuantityFailures: validated.MinOrderQuantityFailures,
	}, nil
}

// RemoveItems filters out the named items. Removal is idempotent; ids with no
// matching item are silently ignored.
func (s *cartService) RemoveItems(ctx context.Context, cmd RemoveCartItemsCommand) (CartMutationResult, error) {
	if s == nil || s.repo == nil {
		return CartMutationResult{}, ErrCartUnavailable
	}
	if len(cmd.ItemIDs) == 0 {
		return CartMutationResult{}, fmt.Errorf("%w: at least one item id is required", ErrCartInvalidParam)
	}

	cart, err := s.loadCart(ctx, cmd.CartID, cmd.Owner)
	if err != nil {
		return CartMutationResult{}, err
	}
	plan := staleStateFrom(cart)

	removals := make(map[string]struct{}, len(cmd.ItemIDs))
	for _, id := range cmd.ItemIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			removals[trimmed] = struct{}{}
		}
	}

	kept := make([]domain.CartItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		if _, drop := removals[item.ID]; drop {
			continue
		}
		kept = append(kept, item)
	}

	cart.Items = kept
	cart.UpdatedAt = s.now()

	reconciled, err := s.reconcile.persistAndReconcile(ctx, cart, plan, cmd.Owner)
	if err != nil {
		return CartMutationResult{}, err
	}
	return CartMutationResult{Cart: reconciled}, nil
}

// UpdateItemsQuantity replaces quantities for the referenced items. A quantity
// of zero drops the item; items without an update entry pass through
// unchanged. Subtotals are recomputed from price and quantity.
func (s *cartService) UpdateItemsQuantity(ctx context.Context, cmd UpdateItemsQuantityCommand) (CartMutationResult, error) {
	if s == nil || s.repo == nil {
		return CartMutationResult{}, ErrCartUnavailable
	}
	if len(cmd.Updates) == 0 {
		return CartMutationResult{}, fmt.Errorf("%w: at least one quantity update is required", ErrCartInvalidParam)
	}

	updates := make(map[string]int, len(cmd.Updates))
	for _, update := range cmd.Updates {
		itemID := strings.TrimSpace(update.ItemID)
		if itemID == "" {
			return CartMutationResult{}, fmt.Errorf("%w: item id is required", ErrCartInvalidParam)
		}
		if update.Quantity < 0 {
			return CartMutationResult{}, fmt.Errorf("%w: quantity must be a non-negative integer", ErrCartInvalidParam)
		}
		updates[itemID] = update.Quantity
	}

	cart, err := s.loadCart(ctx, cmd.CartID, cmd.Owner)
	if err != nil {
		return CartMutationResult{}, err
	}
	plan := staleStateFrom(cart)

	now := s.now()
	items := make([]domain.CartItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		quantity, ok := updates[item.ID]
		if !ok {
			items = append(items, item)
			continue
		}
		if quantity == 0 {
			continue
		}
		item.Quantity = quantity
		item.Subtotal = domain.Money{
			Amount:       item.Price.Amount * float64(quantity),
			CurrencyCode: item.Price.CurrencyCode,
		}
		item.UpdatedAt = now
		items = append(items, item)
	}

	cart.Items = items
	cart.UpdatedAt = now

	reconciled, err := s.reconcile.persistAndReconcile(ctx, cart, plan, cmd.Owner)
	if err != nil {
		return CartMutationResult{}, err
	}
	return CartMutationResult{Cart: reconciled}, nil
}

// SetShippingAddress stamps the address onto every shipping-type fulfillment
// group. When the cart has no shipping group the cart is returned untouched
// without a persist.
func (s *cartService) SetShippingAddress(ctx context.Context, cmd SetShippingAddressCommand) (CartMutationResult, error) {
	if s == nil || s.repo == nil {
		return CartMutationResult{}, ErrCartUnavailable
	}

	cart, err := s.loadCart(ctx, cmd.CartID, cmd.Owner)
	if err != nil {
		return CartMutationResult{}, err
	}
	plan := staleStateFrom(cart)

	address := cmd.Address
	if strings.TrimSpace(address.ID) == "" {
		address.ID = s.newID()
	}

	touched := false
	for i := range cart.Shipping {
		if cart.Shipping[i].Type != domain.FulfillmentTypeShipping {
			continue
		}
		addr := address
		cart.Shipping[i].Address = &addr
		touched = true
	}

	if !touched {
		return CartMutationResult{Cart: cart}, nil
	}

	cart.UpdatedAt = s.now()

	reconciled, err := s.reconcile.persistAndReconcile(ctx, cart, plan, cmd.Owner)
	if err != nil {
		return CartMutationResult{}, err
	}
	return CartMutationResult{Cart: reconciled}, nil
}

func (s *cartService) loadCart(ctx context.Context, cartID string, owner CartOwner) (domain.Cart, error) {
	selector, err := buildCartSelector(cartID, owner)
	if err != nil {
		return domain.Cart{}, err
	}
	cart, err := s.repo.FindBySelector(ctx, selector)
	if err != nil {
		return domain.Cart{}, translateRepoError(err)
	}
	return cart, nil
}
