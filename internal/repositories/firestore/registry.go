package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/cartledger/api/internal/platform/firestore"
	"github.com/cartledger/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract so wiring happens in one place.
type Registry struct {
	provider *pfirestore.Provider

	carts         *CartRepository
	discounts     *DiscountRepository
	jurisdictions *TaxJurisdictionRepository
	accounts      *AccountRepository
	health        repositories.HealthRepository
}

// NewRegistry constructs every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	discounts, err := NewDiscountRepository(provider)
	if err != nil {
		return nil, err
	}
	jurisdictions, err := NewTaxJurisdictionRepository(provider)
	if err != nil {
		return nil, err
	}
	accounts, err := NewAccountRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:      provider,
		carts:         carts,
		discounts:     discounts,
		jurisdictions: jurisdictions,
		accounts:      accounts,
		health:        health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Carts() repositories.CartRepository { return r.carts }

func (r *Registry) Discounts() repositories.DiscountRepository { return r.discounts }

func (r *Registry) TaxJurisdictions() repositories.TaxJurisdictionRepository {
	return r.jurisdictions
}

func (r *Registry) Accounts() repositories.AccountRepository { return r.accounts }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx groups repository operations in one Firestore transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
		return fn(txCtx)
	})
}

var _ repositories.Registry = (*Registry)(nil)
