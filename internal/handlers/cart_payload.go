package handlers

import (
	"github.com/cartledger/api/internal/platform/opaqueid"
	"github.com/cartledger/api/internal/services"
)

type mutationResponse struct {
	Cart                     cartPayload          `json:"cart"`
	IncorrectPriceFailures   []itemFailurePayload `json:"incorrectPriceFailures"`
	MinOrderQuantityFailures []itemFailurePayload `json:"minOrderQuantityFailures"`
}

type cartPayload struct {
	ID         string                    `json:"id"`
	ShopID     string                    `json:"shopId"`
	AccountID  string                    `json:"accountId,omitempty"`
	Items      []cartItemPayload         `json:"items"`
	Billing    []appliedDiscountPayload  `json:"billing"`
	Shipping   []fulfillmentGroupPayload `json:"shipping"`
	TaxSummary *taxSummaryPayload        `json:"taxSummary,omitempty"`
	CreatedAt  string                    `json:"createdAt,omitempty"`
	UpdatedAt  string                    `json:"updatedAt,omitempty"`
}

type cartItemPayload struct {
	ID         string            `json:"id"`
	ProductID  string            `json:"productId"`
	VariantID  string            `json:"variantId,omitempty"`
	Title      string            `json:"title,omitempty"`
	Price      moneyPayload      `json:"price"`
	Quantity   int               `json:"quantity"`
	Subtotal   moneyPayload      `json:"subtotal"`
	IsTaxable  bool              `json:"isTaxable"`
	TaxCode    string            `json:"taxCode,omitempty"`
	Metafields map[string]string `json:"metafields,omitempty"`
	AddedAt    string            `json:"addedAt,omitempty"`
	UpdatedAt  string            `json:"updatedAt,omitempty"`
}

type appliedDiscountPayload struct {
	ID     string  `json:"id"`
	ShopID string  `json:"shopId,omitempty"`
	Code   string  `json:"code,omitempty"`
	Amount float64 `json:"amount"`
}

type fulfillmentGroupPayload struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	Address        *addressPayload        `json:"address,omitempty"`
	ShipmentMethod *shipmentMethodPayload `json:"shipmentMethod,omitempty"`
	ShipmentQuotes []shipmentQuotePayload `json:"shipmentQuotes,omitempty"`
}

type shipmentMethodPayload struct {
	ID       string  `json:"id"`
	Name     string  `json:"name,omitempty"`
	Label    string  `json:"label,omitempty"`
	Rate     float64 `json:"rate"`
	Handling float64 `json:"handling,omitempty"`
}

type shipmentQuotePayload struct {
	Method shipmentMethodPayload `json:"method"`
	Rate   float64               `json:"rate"`
}

type itemFailurePayload struct {
	Item   cartItemInputPayload `json:"item"`
	Reason string               `json:"reason"`
}

func buildMutationResponse(result services.CartMutationResult) mutationResponse {
	return mutationResponse{
		Cart:                     buildCartPayload(result.Cart),
		IncorrectPriceFailures:   buildFailurePayloads(result.IncorrectPriceFailures),
		MinOrderQuantityFailures: buildFailurePayloads(result.MinOrderQuantityFailures),
	}
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:        opaqueid.Encode(opaqueid.NamespaceCart, cart.ID),
		ShopID:    opaqueid.Encode(opaqueid.NamespaceShop, cart.ShopID),
		AccountID: cart.AccountID,
		Items:     buildCartItemPayloads(cart.Items),
		Billing:   buildDiscountPayloads(cart.Billing),
		Shipping:  buildGroupPayloads(cart.Shipping),
		CreatedAt: formatTime(cart.CreatedAt),
		UpdatedAt: formatTime(cart.UpdatedAt),
	}
	if cart.TaxSummary != nil {
		summary := buildTaxSummaryPayload(*cart.TaxSummary)
		payload.TaxSummary = &summary
	}
	return payload
}

func buildCartItemPayloads(items []services.CartItem) []cartItemPayload {
	payload := make([]cartItemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, cartItemPayload{
			ID:         opaqueid.Encode(opaqueid.NamespaceCartItem, item.ID),
			ProductID:  opaqueid.Encode(opaqueid.NamespaceProduct, item.ProductID),
			VariantID:  item.VariantID,
			Title:      item.Title,
			Price:      moneyPayload{Amount: item.Price.Amount, CurrencyCode: item.Price.CurrencyCode},
			Quantity:   item.Quantity,
			Subtotal:   moneyPayload{Amount: item.Subtotal.Amount, CurrencyCode: item.Subtotal.CurrencyCode},
			IsTaxable:  item.IsTaxable,
			TaxCode:    item.TaxCode,
			Metafields: item.Metafields,
			AddedAt:    formatTime(item.AddedAt),
			UpdatedAt:  formatTime(item.UpdatedAt),
		})
	}
	return payload
}

func buildDiscountPayloads(discounts []services.AppliedDiscount) []appliedDiscountPayload {
	payload := make([]appliedDiscountPayload, 0, len(discounts))
	for _, discount := range discounts {
		payload = append(payload, appliedDiscountPayload{
			ID:     opaqueid.Encode(opaqueid.NamespaceDiscount, discount.ID),
			ShopID: discount.ShopID,
			Code:   discount.Code,
			Amount: discount.Amount,
		})
	}
	return payload
}

func buildGroupPayloads(groups []services.FulfillmentGroup) []fulfillmentGroupPayload {
	payload := make([]fulfillmentGroupPayload, 0, len(groups))
	for _, group := range groups {
		entry := fulfillmentGroupPayload{
			ID:   group.ID,
			Type: group.Type,
		}
		if group.Address != nil {
			addr := buildAddressPayload(*group.Address)
			entry.Address = &addr
		}
		if group.ShipmentMethod != nil {
			method := buildMethodPayload(*group.ShipmentMethod)
			entry.ShipmentMethod = &method
		}
		for _, quote := range group.ShipmentQuotes {
			entry.ShipmentQuotes = append(entry.ShipmentQuotes, shipmentQuotePayload{
				Method: buildMethodPayload(quote.Method),
				Rate:   quote.Rate,
			})
		}
		payload = append(payload, entry)
	}
	return payload
}

func buildMethodPayload(method services.ShipmentMethod) shipmentMethodPayload {
	return shipmentMethodPayload{
		ID:       method.ID,
		Name:     method.Name,
		Label:    method.Label,
		Rate:     method.Rate,
		Handling: method.Handling,
	}
}

func buildAddressPayload(address services.Address) addressPayload {
	return addressPayload{
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

func buildFailurePayloads(failures []services.CartItemFailure) []itemFailurePayload {
	payload := make([]itemFailurePayload, 0, len(failures))
	for _, failure := range failures {
		item := failure.Item
		entry := cartItemInputPayload{
			ProductID:  opaqueid.Encode(opaqueid.NamespaceProduct, item.ProductID),
			VariantID:  item.VariantID,
			Title:      item.Title,
			Price:      moneyPayload{Amount: item.Price.Amount, CurrencyCode: item.Price.CurrencyCode},
			Quantity:   item.Quantity,
			IsTaxable:  item.IsTaxable,
			TaxCode:    item.TaxCode,
			Metafields: item.Metafields,
		}
		for _, rule := range item.ShippingOverride {
			entry.ShippingOverride = append(entry.ShippingOverride, shippingOverridePayload{
				Region:    rule.Region,
				Surcharge: rule.Surcharge,
			})
		}
		payload = append(payload, itemFailurePayload{Item: entry, Reason: failure.Reason})
	}
	return payload
}
