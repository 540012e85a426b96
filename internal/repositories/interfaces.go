package repositories

import (
	"context"

	domain "github.com/cartledger/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Discounts() DiscountRepository
	TaxJurisdictions() TaxJurisdictionRepository
	Accounts() AccountRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartSelector identifies a single cart by ID plus proof of ownership.
// Exactly one of AccountID or TokenHash must be set; a cart only matches when
// both the ID and the ownership field agree.
type CartSelector struct {
	CartID    string
	AccountID string

	// TokenHash is the SHA-256 hash of the anonymous access token.
	TokenHash string
}

// CartRepository owns cart persistence. Deletes report the number of removed
// documents so callers can distinguish a no-op from a successful removal.
type CartRepository interface {
	FindBySelector(ctx context.Context, selector CartSelector) (domain.Cart, error)
	FindByAccount(ctx context.Context, shopID, accountID string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	Delete(ctx context.Context, cartID string) (int, error)
}

// DiscountRepository reads stored discount methods.
type DiscountRepository interface {
	FindByID(ctx context.Context, discountID string) (domain.Discount, error)
}

// TaxJurisdictionRepository reads tax jurisdiction definitions scoped to a shop.
type TaxJurisdictionRepository interface {
	FindForShop(ctx context.Context, shopID string) ([]domain.TaxJurisdiction, error)
}

// AccountRepository reads the account slice needed for tax exemption checks.
type AccountRepository interface {
	FindByID(ctx context.Context, accountID string) (domain.Account, error)
}

// HealthRepository aggregates dependency health for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
