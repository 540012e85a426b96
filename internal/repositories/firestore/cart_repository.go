package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/cartledger/api/internal/domain"
	pfirestore "github.com/cartledger/api/internal/platform/firestore"
	"github.com/cartledger/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists carts within Firestore.
type CartRepository struct {
	base     *pfirestore.BaseRepository[cartDocument]
	provider *pfirestore.Provider
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{
		base:     base,
		provider: provider,
	}, nil
}

// FindBySelector loads the cart by ID and verifies ownership. A cart whose
// owner field does not match the selector is reported as not found, never as
// a permission failure, so callers cannot probe for foreign cart IDs.
func (r *CartRepository) FindBySelector(ctx context.Context, selector repositories.CartSelector) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	cartID := strings.TrimSpace(selector.CartID)
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}
	accountID := strings.TrimSpace(selector.AccountID)
	tokenHash := strings.TrimSpace(selector.TokenHash)
	if accountID == "" && tokenHash == "" {
		return domain.Cart{}, notFound("carts.find", "cart selector carries no ownership")
	}

	doc, err := r.base.Get(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}

	if accountID != "" && doc.Data.AccountID != accountID {
		return domain.Cart{}, notFound("carts.find", "cart not found")
	}
	if accountID == "" && doc.Data.AnonymousAccessToken != tokenHash {
		return domain.Cart{}, notFound("carts.find", "cart not found")
	}

	return decodeCart(doc), nil
}

// FindByAccount returns the account's cart for the given shop.
func (r *CartRepository) FindByAccount(ctx context.Context, shopID, accountID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	shop := strings.TrimSpace(shopID)
	account := strings.TrimSpace(accountID)
	if shop == "" || account == "" {
		return domain.Cart{}, errors.New("cart repository: shop id and account id are required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("shopId", "==", shop).Where("accountId", "==", account).Limit(1)
	})
	if err != nil {
		return domain.Cart{}, err
	}
	if len(docs) == 0 {
		return domain.Cart{}, notFound("carts.find_by_account", "cart not found")
	}
	return decodeCart(docs[0]), nil
}

// Save upserts the full cart document.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	cartID := strings.TrimSpace(cart.ID)
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	result, err := r.base.Set(ctx, cartID, encodeCart(cart))
	if err != nil {
		return domain.Cart{}, err
	}

	saved := cart
	saved.ID = cartID
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// Delete removes the cart and reports the number of deleted documents.
// Deleting an already absent cart returns zero without error.
func (r *CartRepository) Delete(ctx context.Context, cartID string) (int, error) {
	if r == nil || r.base == nil {
		return 0, errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(cartID)
	if id == "" {
		return 0, errors.New("cart repository: cart id is required")
	}

	if _, err := r.base.Delete(ctx, id); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return 0, nil
		}
		return 0, err
	}
	return 1, nil
}

func notFound(op, message string) error {
	return pfirestore.WrapError(op, status.Error(codes.NotFound, message))
}

func encodeCart(cart domain.Cart) cartDocument {
	doc := cartDocument{
		ShopID:               strings.TrimSpace(cart.ShopID),
		AccountID:            strings.TrimSpace(cart.AccountID),
		AnonymousAccessToken: strings.TrimSpace(cart.AnonymousAccessToken),
		CreatedAt:            cart.CreatedAt.UTC(),
		UpdatedAt:            cart.UpdatedAt.UTC(),
	}

	for _, item := range cart.Items {
		doc.Items = append(doc.Items, cartItemDocument{
			ID:        item.ID,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Title:     item.Title,
			Price: moneyDocument{
				Amount:       item.Price.Amount,
				CurrencyCode: item.Price.CurrencyCode,
			},
			Quantity: item.Quantity,
			Subtotal: moneyDocument{
				Amount:       item.Subtotal.Amount,
				CurrencyCode: item.Subtotal.CurrencyCode,
			},
			IsTaxable:        item.IsTaxable,
			TaxCode:          item.TaxCode,
			ShippingOverride: encodeOverrides(item.ShippingOverride),
			Metafields:       item.Metafields,
			AddedAt:          item.AddedAt.UTC(),
			UpdatedAt:        item.UpdatedAt.UTC(),
		})
	}

	for _, discount := range cart.Billing {
		doc.Billing = append(doc.Billing, appliedDiscountDocument{
			ID:     discount.ID,
			ShopID: discount.ShopID,
			Code:   discount.Code,
			Amount: discount.Amount,
		})
	}

	for _, group := range cart.Shipping {
		doc.Shipping = append(doc.Shipping, encodeFulfillmentGroup(group))
	}

	if cart.TaxSummary != nil {
		summary := encodeTaxSummary(*cart.TaxSummary)
		doc.TaxSummary = &summary
	}

	return doc
}

func encodeOverrides(rules []domain.ShippingOverrideRule) []shippingOverrideDocument {
	if len(rules) == 0 {
		return nil
	}
	out := make([]shippingOverrideDocument, 0, len(rules))
	for _, rule := range rules {
		out = append(out, shippingOverrideDocument{
			Region:    rule.Region,
			Surcharge: rule.Surcharge,
		})
	}
	return out
}

func encodeFulfillmentGroup(group domain.FulfillmentGroup) fulfillmentGroupDocument {
	doc := fulfillmentGroupDocument{
		ID:   group.ID,
		Type: group.Type,
	}
	if group.Address != nil {
		addr := encodeAddress(*group.Address)
		doc.Address = &addr
	}
	for _, quote := range group.ShipmentQuotes {
		doc.ShipmentQuotes = append(doc.ShipmentQuotes, shipmentQuoteDocument{
			Method: encodeShipmentMethod(quote.Method),
			Rate:   quote.Rate,
		})
	}
	if group.ShipmentMethod != nil {
		method := encodeShipmentMethod(*group.ShipmentMethod)
		doc.ShipmentMethod = &method
	}
	return doc
}

func encodeAddress(address domain.Address) addressDocument {
	return addressDocument{
		ID:       address.ID,
		FullName: address.FullName,
		Address1: address.Address1,
		Address2: address.Address2,
		City:     address.City,
		Region:   address.Region,
		Postal:   address.Postal,
		Country:  address.Country,
		Phone:    address.Phone,
	}
}

func encodeShipmentMethod(method domain.ShipmentMethod) shipmentMethodDocument {
	return shipmentMethodDocument{
		ID:       method.ID,
		Name:     method.Name,
		Label:    method.Label,
		Rate:     method.Rate,
		Handling: method.Handling,
	}
}

func encodeTaxSummary(summary domain.TaxSummary) taxSummaryDocument {
	doc := taxSummaryDocument{
		CalculatedAt:               summary.CalculatedAt.UTC(),
		CalculatedByTaxServiceName: summary.CalculatedByTaxServiceName,
		Tax:                        summary.Tax,
		TaxableAmount:              summary.TaxableAmount,
	}
	for _, line := range summary.Taxes {
		doc.Taxes = append(doc.Taxes, taxLineDocument{
			ID:             line.ID,
			JurisdictionID: line.JurisdictionID,
			Sourcing:       line.Sourcing,
			Tax:            line.Tax,
			TaxableAmount:  line.TaxableAmount,
			TaxName:        line.TaxName,
			TaxRate:        line.TaxRate,
		})
	}
	return doc
}

func decodeCart(doc pfirestore.Document[cartDocument]) domain.Cart {
	cart := domain.Cart{
		ID:                   doc.ID,
		ShopID:               doc.Data.ShopID,
		AccountID:            doc.Data.AccountID,
		AnonymousAccessToken: doc.Data.AnonymousAccessToken,
		CreatedAt:            doc.Data.CreatedAt,
		UpdatedAt:            doc.Data.UpdatedAt,
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = doc.UpdateTime
	}

	for _, item := range doc.Data.Items {
		cart.Items = append(cart.Items, domain.CartItem{
			ID:        item.ID,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Title:     item.Title,
			Price: domain.Money{
				Amount:       item.Price.Amount,
				CurrencyCode: item.Price.CurrencyCode,
			},
			Quantity: item.Quantity,
			Subtotal: domain.Money{
				Amount:       item.Subtotal.Amount,
				CurrencyCode: item.Subtotal.CurrencyCode,
			},
			IsTaxable:        item.IsTaxable,
			TaxCode:          item.TaxCode,
			ShippingOverride: decodeOverrides(item.ShippingOverride),
			Metafields:       item.Metafields,
			AddedAt:          item.AddedAt,
			UpdatedAt:        item.UpdatedAt,
		})
	}

	for _, discount := range doc.Data.Billing {
		cart.Billing = append(cart.Billing, domain.AppliedDiscount{
			ID:     discount.ID,
			ShopID: discount.ShopID,
			Code:   discount.Code,
			Amount: discount.Amount,
		})
	}

	for _, group := range doc.Data.Shipping {
		cart.Shipping = append(cart.Shipping, decodeFulfillmentGroup(group))
	}

	if doc.Data.TaxSummary != nil {
		summary := decodeTaxSummary(*doc.Data.TaxSummary)
		cart.TaxSummary = &summary
	}

	return cart
}

func decodeOverrides(rules []shippingOverrideDocument) []domain.ShippingOverrideRule {
	if len(rules) == 0 {
		return nil
	}
	out := make([]domain.ShippingOverrideRule, 0, len(rules))
	for _, rule := range rules {
		out = append(out, domain.ShippingOverrideRule{
			Region:    rule.Region,
			Surcharge: rule.Surcharge,
		})
	}
	return out
}

func decodeFulfillmentGroup(doc fulfillmentGroupDocument) domain.FulfillmentGroup {
	group := domain.FulfillmentGroup{
		ID:   doc.ID,
		Type: doc.Type,
	}
	if doc.Address != nil {
		addr := decodeAddress(*doc.Address)
		group.Address = &addr
	}
	for _, quote := range doc.ShipmentQuotes {
		group.ShipmentQuotes = append(group.ShipmentQuotes, domain.ShipmentQuote{
			Method: decodeShipmentMethod(quote.Method),
			Rate:   quote.Rate,
		})
	}
	if doc.ShipmentMethod != nil {
		method := decodeShipmentMethod(*doc.ShipmentMethod)
		group.ShipmentMethod = &method
	}
	return group
}

func decodeAddress(doc addressDocument) domain.Address {
	return domain.Address{
		ID:       doc.ID,
		FullName: doc.FullName,
		Address1: doc.Address1,
		Address2: doc.Address2,
		City:     doc.City,
		Region:   doc.Region,
		Postal:   doc.Postal,
		Country:  doc.Country,
		Phone:    doc.Phone,
	}
}

func decodeShipmentMethod(doc shipmentMethodDocument) domain.ShipmentMethod {
	return domain.ShipmentMethod{
		ID:       doc.ID,
		Name:     doc.Name,
		Label:    doc.Label,
		Rate:     doc.Rate,
		Handling: doc.Handling,
	}
}

func decodeTaxSummary(doc taxSummaryDocument) domain.TaxSummary {
	summary := domain.TaxSummary{
		CalculatedAt:               doc.CalculatedAt,
		CalculatedByTaxServiceName: doc.CalculatedByTaxServiceName,
		Tax:                        doc.Tax,
		TaxableAmount:              doc.TaxableAmount,
	}
	for _, line := range doc.Taxes {
		summary.Taxes = append(summary.Taxes, domain.TaxLine{
			ID:             line.ID,
			JurisdictionID: line.JurisdictionID,
			Sourcing:       line.Sourcing,
			Tax:            line.Tax,
			TaxableAmount:  line.TaxableAmount,
			TaxName:        line.TaxName,
			TaxRate:        line.TaxRate,
		})
	}
	return summary
}

type cartDocument struct {
	ShopID               string                    `firestore:"shopId"`
	AccountID            string                    `firestore:"accountId,omitempty"`
	AnonymousAccessToken string                    `firestore:"anonymousAccessToken,omitempty"`
	Items                []cartItemDocument        `firestore:"items"`
	Billing              []appliedDiscountDocument `firestore:"billing,omitempty"`
	Shipping             []fulfillmentGroupDocument `firestore:"shipping,omitempty"`
	TaxSummary           *taxSummaryDocument       `firestore:"taxSummary,omitempty"`
	CreatedAt            time.Time                 `firestore:"createdAt"`
	UpdatedAt            time.Time                 `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID               string                     `firestore:"_id"`
	ProductID        string                     `firestore:"productId"`
	VariantID        string                     `firestore:"variantId,omitempty"`
	Title            string                     `firestore:"title,omitempty"`
	Price            moneyDocument              `firestore:"price"`
	Quantity         int                        `firestore:"quantity"`
	Subtotal         moneyDocument              `firestore:"subtotal"`
	IsTaxable        bool                       `firestore:"isTaxable"`
	TaxCode          string                     `firestore:"taxCode,omitempty"`
	ShippingOverride []shippingOverrideDocument `firestore:"shippingOverride,omitempty"`
	Metafields       map[string]string          `firestore:"metafields,omitempty"`
	AddedAt          time.Time                  `firestore:"addedAt"`
	UpdatedAt        time.Time                  `firestore:"updatedAt"`
}

type moneyDocument struct {
	Amount       float64 `firestore:"amount"`
	CurrencyCode string  `firestore:"currencyCode"`
}

type shippingOverrideDocument struct {
	Region    string  `firestore:"region"`
	Surcharge float64 `firestore:"surcharge"`
}

type appliedDiscountDocument struct {
	ID     string  `firestore:"_id"`
	ShopID string  `firestore:"shopId"`
	Code   string  `firestore:"code"`
	Amount float64 `firestore:"amount"`
}

type fulfillmentGroupDocument struct {
	ID             string                  `firestore:"_id"`
	Type           string                  `firestore:"type"`
	Address        *addressDocument        `firestore:"address,omitempty"`
	ShipmentQuotes []shipmentQuoteDocument `firestore:"shipmentQuotes,omitempty"`
	ShipmentMethod *shipmentMethodDocument `firestore:"shipmentMethod,omitempty"`
}

type addressDocument struct {
	ID       string `firestore:"_id,omitempty"`
	FullName string `firestore:"fullName,omitempty"`
	Address1 string `firestore:"address1,omitempty"`
	Address2 string `firestore:"address2,omitempty"`
	City     string `firestore:"city,omitempty"`
	Region   string `firestore:"region,omitempty"`
	Postal   string `firestore:"postal,omitempty"`
	Country  string `firestore:"country,omitempty"`
	Phone    string `firestore:"phone,omitempty"`
}

type shipmentQuoteDocument struct {
	Method shipmentMethodDocument `firestore:"method"`
	Rate   float64                `firestore:"rate"`
}

type shipmentMethodDocument struct {
	ID       string  `firestore:"_id"`
	Name     string  `firestore:"name"`
	Label    string  `firestore:"label,omitempty"`
	Rate     float64 `firestore:"rate"`
	Handling float64 `firestore:"handling"`
}

type taxSummaryDocument struct {
	CalculatedAt               time.Time         `firestore:"calculatedAt"`
	CalculatedByTaxServiceName string            `firestore:"calculatedByTaxServiceName,omitempty"`
	Tax                        float64           `firestore:"tax"`
	TaxableAmount              float64           `firestore:"taxableAmount"`
	Taxes                      []taxLineDocument `firestore:"taxes,omitempty"`
}

type taxLineDocument struct {
	ID             string  `firestore:"_id,omitempty"`
	JurisdictionID string  `firestore:"jurisdictionId,omitempty"`
	Sourcing       string  `firestore:"sourcing"`
	Tax            float64 `firestore:"tax"`
	TaxableAmount  float64 `firestore:"taxableAmount"`
	TaxName        string  `firestore:"taxName,omitempty"`
	TaxRate        float64 `firestore:"taxRate"`
}

var _ repositories.CartRepository = (*CartRepository)(nil)
