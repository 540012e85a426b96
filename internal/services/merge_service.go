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
	errMergeRepositoryRequired = errors.New("merge service: repository is required")
	errMergeCartsRequired      = errors.New("merge service: cart service is required")
	errMergeClockRequired      = errors.New("merge service: clock is required")
)

// ErrMergeServerError indicates the anonymous cart could not be disposed of
// after its items were merged. The merged account cart remains persisted.
var ErrMergeServerError = errors.New("merge service: server error")

// MergeServiceDeps wires the cart store and the item mutator the merge
// delegates to.
type MergeServiceDeps struct {
	Repository  repositories.CartRepository
	Carts       CartService
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	IDGenerator func() string
}

type mergeService struct {
	repo   repositories.CartRepository
	carts  CartService
	newID  func() string
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewMergeService constructs a MergeService enforcing dependency validation.
func NewMergeService(deps MergeServiceDeps) (MergeService, error) {
	if deps.Repository == nil {
		return nil, errMergeRepositoryRequired
	}
	if deps.Carts == nil {
		return nil, errMergeCartsRequired
	}
	if deps.Clock == nil {
		return nil, errMergeClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &mergeService{
		repo:   deps.Repository,
		carts:  deps.Carts,
		newID:  idGen,
		now:    func() time.Time { return deps.Clock().UTC() },
		logger: logger,
	}, nil
}

// MergeCarts folds the anonymous cart's items into the account's cart. The
// anonymous items were already price-validated when first added, so the merge
// skips price re-validation. The anonymous cart is deleted afterwards; a
// delete reporting zero removed documents is a server error because the merge
// must not leave an orphaned anonymous cart behind.
func (s *mergeService) MergeCarts(ctx context.Context, cmd MergeCartsCommand) (CartMutationResult, error) {
	if s == nil || s.repo == nil {
		return CartMutationResult{}, ErrCartUnavailable
	}

	accountID := strings.TrimSpace(cmd.AccountID)
	if accountID == "" {
		return CartMutationResult{}, fmt.Errorf("%w: account id is required", ErrCartInvalidParam)
	}

	selector, err := buildCartSelector(cmd.AnonymousCartID, CartOwner{CartToken: cmd.CartToken})
	if err != nil {
		return CartMutationResult{}, err
	}
	anonymous, err := s.repo.FindBySelector(ctx, selector)
	if err != nil {
		return CartMutationResult{}, translateRepoError(err)
	}

	accountCart, err := s.repo.FindByAccount(ctx, anonymous.ShopID, accountID)
	if err != nil {
		if !isRepoNotFound(err) {
			return CartMutationResult{}, translateRepoError(err)
		}
		created, err := s.createAccountCart(ctx, anonymous, accountID)
		if err != nil {
			return CartMutationResult{}, err
		}
		if err := s.disposeAnonymousCart(ctx, anonymous.ID); err != nil {
			return CartMutationResult{}, err
		}
		return CartMutationResult{Cart: created}, nil
	}

	result, err := s.carts.AddItems(ctx, AddCartItemsCommand{
		CartID:         accountCart.ID,
		Owner:          CartOwner{AccountID: accountID},
		Items:          itemInputsFrom(anonymous.Items),
		SkipPriceCheck: true,
	})
	if err != nil {
		return CartMutationResult{}, err
	}

	if err := s.disposeAnonymousCart(ctx, anonymous.ID); err != nil {
		return CartMutationResult{}, err
	}
	return result, nil
}

// createAccountCart re-owns the anonymous cart's contents as a fresh account
// cart when the account has none yet.
func (s *mergeService) createAccountCart(ctx context.Context, anonymous domain.Cart, accountID string) (domain.Cart, error) {
	now := s.now()
	cart := domain.Cart{
		ID:        s.newID(),
		ShopID:    anonymous.ShopID,
		AccountID: accountID,
		Items:     anonymous.Items,
		Shipping:  anonymous.Shipping,
		CreatedAt: now,
		UpdatedAt: now,
	}
	saved, err := s.repo.Save(ctx, cart)
	if err != nil {
		return domain.Cart{}, translateRepoError(err)
	}
	return saved, nil
}

func (s *mergeService) disposeAnonymousCart(ctx context.Context, cartID string) error {
	deleted, err := s.repo.Delete(ctx, cartID)
	if err != nil {
		return translateRepoError(err)
	}
	if deleted == 0 {
		s.logger(ctx, "cart.merge_orphaned_anonymous_cart", map[string]any{
			"cartID": cartID,
		})
		return fmt.Errorf("%w: anonymous cart %s was not deleted", ErrMergeServerError, cartID)
	}
	return nil
}

// itemInputsFrom translates stored cart items back into the add-item input
// shape the item validator consumes.
func itemInputsFrom(items []domain.CartItem) []CartItemInput {
	inputs := make([]CartItemInput, 0, len(items))
	for _, item := range items {
		inputs = append(inputs, CartItemInput{
			ProductID:        item.ProductID,
			VariantID:        item.VariantID,
			Title:            item.Title,
			Price:            item.Price,
			Quantity:         item.Quantity,
			IsTaxable:        item.IsTaxable,
			TaxCode:          item.TaxCode,
			ShippingOverride: item.ShippingOverride,
			Metafields:       item.Metafields,
		})
	}
	return inputs
}
