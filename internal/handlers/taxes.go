package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cartledger/api/internal/platform/httpx"
	"github.com/cartledger/api/internal/platform/opaqueid"
	"github.com/cartledger/api/internal/services"
)

const maxTaxBodySize = 64 * 1024

// TaxHandlers exposes the order tax calculation endpoint.
type TaxHandlers struct {
	taxes services.TaxService
}

// NewTaxHandlers constructs handlers over the tax service.
func NewTaxHandlers(taxes services.TaxService) *TaxHandlers {
	return &TaxHandlers{taxes: taxes}
}

// Routes wires the /taxes endpoints onto the provided router.
func (h *TaxHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/calculate", h.calculate)
}

func (h *TaxHandlers) calculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.taxes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("tax_service_unavailable", "tax service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxTaxBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	var req calculateTaxesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if req.Order == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order is required", http.StatusBadRequest))
		return
	}

	result, err := h.taxes.CalculateOrderTaxes(ctx, buildCommonOrder(*req.Order))
	if err != nil {
		writeTaxError(ctx, w, err)
		return
	}

	response := calculateTaxesResponse{}
	if result != nil {
		payload := buildTaxResultPayload(*result)
		response.Result = &payload
	}
	writeJSONResponse(w, http.StatusOK, response)
}

func writeTaxError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrTaxUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("tax_service_unavailable", "tax service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("tax_error", "tax calculation failed", http.StatusInternalServerError))
	}
}

func buildCommonOrder(payload orderPayload) services.CommonOrder {
	order := services.CommonOrder{
		ShopID:    strings.TrimSpace(payload.ShopID),
		AccountID: strings.TrimSpace(payload.AccountID),
	}
	for _, item := range payload.Items {
		order.Items = append(order.Items, services.CartItem{
			ID:        strings.TrimSpace(item.ID),
			ProductID: opaqueid.DecodeForNamespace(opaqueid.NamespaceProduct, strings.TrimSpace(item.ProductID)),
			VariantID: strings.TrimSpace(item.VariantID),
			Title:     strings.TrimSpace(item.Title),
			Price:     services.Money{Amount: item.Price.Amount, CurrencyCode: item.Price.CurrencyCode},
			Quantity:  item.Quantity,
			Subtotal:  services.Money{Amount: item.Subtotal.Amount, CurrencyCode: item.Subtotal.CurrencyCode},
			IsTaxable: item.IsTaxable,
			TaxCode:   strings.TrimSpace(item.TaxCode),
		})
	}
	if payload.OriginAddress != nil {
		addr := buildAddressFromPayload(*payload.OriginAddress)
		order.OriginAddress = &addr
	}
	if payload.ShippingAddress != nil {
		addr := buildAddressFromPayload(*payload.ShippingAddress)
		order.ShippingAddress = &addr
	}
	return order
}

func buildTaxResultPayload(result services.TaxServiceResult) taxResultPayload {
	payload := taxResultPayload{
		ItemTaxes:  make([]itemTaxPayload, 0, len(result.ItemTaxes)),
		TaxSummary: buildTaxSummaryPayload(result.TaxSummary),
	}
	for _, itemTax := range result.ItemTaxes {
		payload.ItemTaxes = append(payload.ItemTaxes, itemTaxPayload{
			ItemID:        itemTax.ItemID,
			Tax:           itemTax.Tax,
			TaxableAmount: itemTax.TaxableAmount,
			Taxes:         buildTaxLinePayloads(itemTax.Taxes),
		})
	}
	return payload
}

func buildTaxSummaryPayload(summary services.TaxSummary) taxSummaryPayload {
	return taxSummaryPayload{
		CalculatedAt:               formatTime(summary.CalculatedAt),
		CalculatedByTaxServiceName: summary.CalculatedByTaxServiceName,
		Tax:                        summary.Tax,
		TaxableAmount:              summary.TaxableAmount,
		Taxes:                      buildTaxLinePayloads(summary.Taxes),
	}
}

func buildTaxLinePayloads(lines []services.TaxLine) []taxLinePayload {
	payload := make([]taxLinePayload, 0, len(lines))
	for _, line := range lines {
		payload = append(payload, taxLinePayload{
			ID:             line.ID,
			JurisdictionID: line.JurisdictionID,
			Sourcing:       line.Sourcing,
			Tax:            line.Tax,
			TaxableAmount:  line.TaxableAmount,
			TaxName:        line.TaxName,
			TaxRate:        line.TaxRate,
		})
	}
	return payload
}

type calculateTaxesRequest struct {
	Order *orderPayload `json:"order"`
}

type orderPayload struct {
	ShopID          string             `json:"shopId"`
	AccountID       string             `json:"accountId,omitempty"`
	Items           []orderItemPayload `json:"items"`
	OriginAddress   *addressPayload    `json:"originAddress,omitempty"`
	ShippingAddress *addressPayload    `json:"shippingAddress,omitempty"`
}

type orderItemPayload struct {
	ID        string       `json:"id"`
	ProductID string       `json:"productId,omitempty"`
	VariantID string       `json:"variantId,omitempty"`
	Title     string       `json:"title,omitempty"`
	Price     moneyPayload `json:"price"`
	Quantity  int          `json:"quantity"`
	Subtotal  moneyPayload `json:"subtotal"`
	IsTaxable bool         `json:"isTaxable"`
	TaxCode   string       `json:"taxCode,omitempty"`
}

type calculateTaxesResponse struct {
	Result *taxResultPayload `json:"result"`
}

type taxResultPayload struct {
	ItemTaxes  []itemTaxPayload  `json:"itemTaxes"`
	TaxSummary taxSummaryPayload `json:"taxSummary"`
}

type itemTaxPayload struct {
	ItemID        string           `json:"itemId"`
	Tax           float64          `json:"tax"`
	TaxableAmount float64          `json:"taxableAmount"`
	Taxes         []taxLinePayload `json:"taxes"`
}

type taxSummaryPayload struct {
	CalculatedAt               string           `json:"calculatedAt,omitempty"`
	CalculatedByTaxServiceName string           `json:"calculatedByTaxServiceName,omitempty"`
	Tax                        float64          `json:"tax"`
	TaxableAmount              float64          `json:"taxableAmount"`
	Taxes                      []taxLinePayload `json:"taxes"`
}

type taxLinePayload struct {
	ID             string  `json:"id"`
	JurisdictionID string  `json:"jurisdictionId"`
	Sourcing       string  `json:"sourcing"`
	Tax            float64 `json:"tax"`
	TaxableAmount  float64 `json:"taxableAmount"`
	TaxName        string  `json:"taxName,omitempty"`
	TaxRate        float64 `json:"taxRate"`
}
