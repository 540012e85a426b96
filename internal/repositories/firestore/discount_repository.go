package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/cartledger/api/internal/domain"
	pfirestore "github.com/cartledger/api/internal/platform/firestore"
	"github.com/cartledger/api/internal/repositories"
)

const discountCollection = "discounts"

// DiscountRepository reads stored discount methods from Firestore.
type DiscountRepository struct {
	base *pfirestore.BaseRepository[discountDocument]
}

// NewDiscountRepository constructs a Firestore-backed discount repository.
func NewDiscountRepository(provider *pfirestore.Provider) (*DiscountRepository, error) {
	if provider == nil {
		return nil, errors.New("discount repository requires firestore provider")
	}
	return &DiscountRepository{
		base: pfirestore.NewBaseRepository[discountDocument](provider, discountCollection, nil, nil),
	}, nil
}

// FindByID loads the discount method document.
func (r *DiscountRepository) FindByID(ctx context.Context, discountID string) (domain.Discount, error) {
	if r == nil || r.base == nil {
		return domain.Discount{}, errors.New("discount repository not initialised")
	}
	id := strings.TrimSpace(discountID)
	if id == "" {
		return domain.Discount{}, errors.New("discount repository: discount id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Discount{}, err
	}

	return domain.Discount{
		ID:       doc.ID,
		ShopID:   doc.Data.ShopID,
		Code:     doc.Data.Code,
		Discount: doc.Data.Discount,
		Conditions: domain.DiscountConditions{
			Products: doc.Data.Conditions.Products,
		},
	}, nil
}

type discountDocument struct {
	ShopID     string                     `firestore:"shopId"`
	Code       string                     `firestore:"code"`
	Discount   string                     `firestore:"discount"`
	Conditions discountConditionsDocument `firestore:"conditions,omitempty"`
}

type discountConditionsDocument struct {
	Products []string `firestore:"products,omitempty"`
}

var _ repositories.DiscountRepository = (*DiscountRepository)(nil)
