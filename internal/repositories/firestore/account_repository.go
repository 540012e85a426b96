package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/cartledger/api/internal/domain"
	pfirestore "github.com/cartledger/api/internal/platform/firestore"
	"github.com/cartledger/api/internal/repositories"
)

const accountCollection = "accounts"

// AccountRepository reads the account slice needed for tax exemption checks.
type AccountRepository struct {
	base *pfirestore.BaseRepository[accountDocument]
}

// NewAccountRepository constructs a Firestore-backed account repository.
func NewAccountRepository(provider *pfirestore.Provider) (*AccountRepository, error) {
	if provider == nil {
		return nil, errors.New("account repository requires firestore provider")
	}
	return &AccountRepository{
		base: pfirestore.NewBaseRepository[accountDocument](provider, accountCollection, nil, nil),
	}, nil
}

// FindByID loads the account document.
func (r *AccountRepository) FindByID(ctx context.Context, accountID string) (domain.Account, error) {
	if r == nil || r.base == nil {
		return domain.Account{}, errors.New("account repository not initialised")
	}
	id := strings.TrimSpace(accountID)
	if id == "" {
		return domain.Account{}, errors.New("account repository: account id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}

	account := domain.Account{ID: doc.ID}
	if doc.Data.TaxSettings != nil {
		account.TaxSettings = &domain.AccountTaxSettings{
			ExemptionNo:       doc.Data.TaxSettings.ExemptionNo,
			CustomerUsageType: doc.Data.TaxSettings.CustomerUsageType,
		}
	}
	return account, nil
}

type accountDocument struct {
	TaxSettings *accountTaxSettingsDocument `firestore:"taxSettings,omitempty"`
}

type accountTaxSettingsDocument struct {
	ExemptionNo       string `firestore:"exemptionNo,omitempty"`
	CustomerUsageType string `firestore:"customerUsageType,omitempty"`
}

var _ repositories.AccountRepository = (*AccountRepository)(nil)
