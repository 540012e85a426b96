package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/cartledger/api/internal/domain"
	pfirestore "github.com/cartledger/api/internal/platform/firestore"
	"github.com/cartledger/api/internal/repositories"
)

const taxJurisdictionCollection = "taxes"

// TaxJurisdictionRepository reads tax jurisdiction definitions from Firestore.
type TaxJurisdictionRepository struct {
	base *pfirestore.BaseRepository[taxJurisdictionDocument]
}

// NewTaxJurisdictionRepository constructs a Firestore-backed jurisdiction repository.
func NewTaxJurisdictionRepository(provider *pfirestore.Provider) (*TaxJurisdictionRepository, error) {
	if provider == nil {
		return nil, errors.New("tax jurisdiction repository requires firestore provider")
	}
	return &TaxJurisdictionRepository{
		base: pfirestore.NewBaseRepository[taxJurisdictionDocument](provider, taxJurisdictionCollection, nil, nil),
	}, nil
}

// FindForShop returns every jurisdiction definition owned by the shop.
// Address matching and specificity fallback happen in the service layer.
func (r *TaxJurisdictionRepository) FindForShop(ctx context.Context, shopID string) ([]domain.TaxJurisdiction, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("tax jurisdiction repository not initialised")
	}
	shop := strings.TrimSpace(shopID)
	if shop == "" {
		return nil, errors.New("tax jurisdiction repository: shop id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("shopId", "==", shop)
	})
	if err != nil {
		return nil, err
	}

	jurisdictions := make([]domain.TaxJurisdiction, 0, len(docs))
	for _, doc := range docs {
		jurisdictions = append(jurisdictions, domain.TaxJurisdiction{
			ID:      doc.ID,
			ShopID:  doc.Data.ShopID,
			Postal:  doc.Data.Postal,
			Region:  doc.Data.Region,
			Country: doc.Data.Country,
			TaxCode: doc.Data.TaxCode,
			Rate:    doc.Data.Rate,
			Locale:  doc.Data.Locale,
		})
	}
	return jurisdictions, nil
}

type taxJurisdictionDocument struct {
	ShopID  string  `firestore:"shopId"`
	Postal  string  `firestore:"postal,omitempty"`
	Region  string  `firestore:"region,omitempty"`
	Country string  `firestore:"country,omitempty"`
	TaxCode string  `firestore:"taxCode,omitempty"`
	Rate    float64 `firestore:"rate"`
	Locale  string  `firestore:"taxLocale"`
}

var _ repositories.TaxJurisdictionRepository = (*TaxJurisdictionRepository)(nil)
