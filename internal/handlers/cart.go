package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cartledger/api/internal/platform/httpx"
	"github.com/cartledger/api/internal/platform/opaqueid"
	"github.com/cartledger/api/internal/platform/textutil"
	"github.com/cartledger/api/internal/services"
)

const maxCartBodySize = 16 * 1024

const (
	headerCartToken = "X-Cart-Token"
	headerAccountID = "X-Account-ID"
)

// CartHandlers exposes the cart mutation endpoints. Ownership is asserted per
// request through the account and anonymous-token headers; the services decide
// whether the caller may see the cart.
type CartHandlers struct {
	carts       services.CartService
	fulfillment services.FulfillmentService
	merges      services.MergeService
	limiter     rateLimiter
}

// CartHandlersOption customises the cart handlers before construction.
type CartHandlersOption func(*CartHandlers)

// WithCartMutationLimit throttles mutations per caller within the window.
func WithCartMutationLimit(limit int, window time.Duration) CartHandlersOption {
	return func(h *CartHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewCartHandlers constructs handlers over the cart, fulfillment, and merge services.
func NewCartHandlers(carts services.CartService, fulfillment services.FulfillmentService, merges services.MergeService, opts ...CartHandlersOption) *CartHandlers {
	h := &CartHandlers{
		carts:       carts,
		fulfillment: fulfillment,
		merges:      merges,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes wires the /carts endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(h.limitMutations)
	r.Post("/merge", h.mergeCarts)
	r.Post("/{cartID}/items", h.addItems)
	r.Delete("/{cartID}/items", h.removeItems)
	r.Patch("/{cartID}/items/quantity", h.updateItemsQuantity)
	r.Put("/{cartID}/shipping-address", h.setShippingAddress)
	r.Put("/{cartID}/fulfillment-groups/{groupID}/option", h.selectFulfillmentOption)
}

func (h *CartHandlers) limitMutations(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil {
			owner := ownerFromRequest(r)
			key := owner.AccountID
			if key == "" {
				key = services.HashToken(owner.CartToken)
			}
			if !h.limiter.Allow(key) {
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many cart mutations; slow down", http.StatusTooManyRequests))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *CartHandlers) addItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var req addItemsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if len(req.Items) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "items must not be empty", http.StatusBadRequest))
		return
	}

	cmd := services.AddCartItemsCommand{
		CartID: cartIDFromRequest(r),
		Owner:  ownerFromRequest(r),
		Items:  buildItemInputs(req.Items),
	}

	result, err := h.carts.AddItems(ctx, cmd)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildMutationResponse(result))
}

func (h *CartHandlers) removeItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var req removeItemsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if len(req.ItemIDs) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "itemIds must not be empty", http.StatusBadRequest))
		return
	}

	itemIDs := make([]string, 0, len(req.ItemIDs))
	for _, opaque := range req.ItemIDs {
		itemIDs = append(itemIDs, opaqueid.DecodeForNamespace(opaqueid.NamespaceCartItem, strings.TrimSpace(opaque)))
	}

	result, err := h.carts.RemoveItems(ctx, services.RemoveCartItemsCommand{
		CartID:  cartIDFromRequest(r),
		Owner:   ownerFromRequest(r),
		ItemIDs: itemIDs,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildMutationResponse(result))
}

func (h *CartHandlers) updateItemsQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var req updateQuantitiesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if len(req.Updates) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "updates must not be empty", http.StatusBadRequest))
		return
	}

	updates := make([]services.CartItemQuantityUpdate, 0, len(req.Updates))
	for _, update := range req.Updates {
		updates = append(updates, services.CartItemQuantityUpdate{
			ItemID:   opaqueid.DecodeForNamespace(opaqueid.NamespaceCartItem, strings.TrimSpace(update.ItemID)),
			Quantity: update.Quantity,
		})
	}

	result, err := h.carts.UpdateItemsQuantity(ctx, services.UpdateItemsQuantityCommand{
		CartID:  cartIDFromRequest(r),
		Owner:   ownerFromRequest(r),
		Updates: updates,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildMutationResponse(result))
}

func (h *CartHandlers) setShippingAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var req shippingAddressRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if req.Address == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "address is required", http.StatusBadRequest))
		return
	}

	result, err := h.carts.SetShippingAddress(ctx, services.SetShippingAddressCommand{
		CartID:  cartIDFromRequest(r),
		Owner:   ownerFromRequest(r),
		Address: buildAddressFromPayload(*req.Address),
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildMutationResponse(result))
}

func (h *CartHandlers) selectFulfillmentOption(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_service_unavailable", "fulfillment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var req selectOptionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.FulfillmentMethodID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "fulfillmentMethodId is required", http.StatusBadRequest))
		return
	}

	result, err := h.fulfillment.SelectFulfillmentOption(ctx, services.SelectFulfillmentOptionCommand{
		CartID:              cartIDFromRequest(r),
		Owner:               ownerFromRequest(r),
		FulfillmentGroupID:  strings.TrimSpace(chi.URLParam(r, "groupID")),
		FulfillmentMethodID: strings.TrimSpace(req.FulfillmentMethodID),
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildMutationResponse(result))
}

func (h *CartHandlers) mergeCarts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.merges == nil {
		httpx.WriteError(ctx, w, httpx.NewError("merge_service_unavailable", "merge service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var req mergeCartsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.AnonymousCartID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "anonymousCartId is required", http.StatusBadRequest))
		return
	}

	cartToken := strings.TrimSpace(req.CartToken)
	if cartToken == "" {
		cartToken = strings.TrimSpace(r.Header.Get(headerCartToken))
	}

	result, err := h.merges.MergeCarts(ctx, services.MergeCartsCommand{
		AnonymousCartID: opaqueid.DecodeForNamespace(opaqueid.NamespaceCart, strings.TrimSpace(req.AnonymousCartID)),
		CartToken:       cartToken,
		AccountID:       strings.TrimSpace(r.Header.Get(headerAccountID)),
		ShopID:          strings.TrimSpace(req.ShopID),
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildMutationResponse(result))
}

func (h *CartHandlers) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(r.Context(), w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return nil, false
	}
	return body, true
}

func ownerFromRequest(r *http.Request) services.CartOwner {
	return services.CartOwner{
		AccountID: strings.TrimSpace(r.Header.Get(headerAccountID)),
		CartToken: strings.TrimSpace(r.Header.Get(headerCartToken)),
	}
}

func cartIDFromRequest(r *http.Request) string {
	return opaqueid.DecodeForNamespace(opaqueid.NamespaceCart, strings.TrimSpace(chi.URLParam(r, "cartID")))
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidParam):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrFulfillmentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_option_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrFulfillmentAmbiguous):
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_group_ambiguous", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable), errors.Is(err, services.ErrFulfillmentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrMergeServerError):
		httpx.WriteError(ctx, w, httpx.NewError("cart_merge_failed", "cart merge failed", http.StatusInternalServerError))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart operation failed", http.StatusInternalServerError))
	}
}

func buildItemInputs(items []cartItemInputPayload) []services.CartItemInput {
	inputs := make([]services.CartItemInput, 0, len(items))
	for _, item := range items {
		inputs = append(inputs, services.CartItemInput{
			ProductID:        opaqueid.DecodeForNamespace(opaqueid.NamespaceProduct, strings.TrimSpace(item.ProductID)),
			VariantID:        strings.TrimSpace(item.VariantID),
			Title:            strings.TrimSpace(item.Title),
			Price:            services.Money{Amount: item.Price.Amount, CurrencyCode: strings.TrimSpace(item.Price.CurrencyCode)},
			Quantity:         item.Quantity,
			IsTaxable:        item.IsTaxable,
			TaxCode:          strings.TrimSpace(item.TaxCode),
			ShippingOverride: buildOverrideRules(item.ShippingOverride),
			Metafields:       textutil.NormalizeStringMap(item.Metafields),
		})
	}
	return inputs
}

func buildOverrideRules(rules []shippingOverridePayload) []services.ShippingOverrideRule {
	if len(rules) == 0 {
		return nil
	}
	out := make([]services.ShippingOverrideRule, 0, len(rules))
	for _, rule := range rules {
		out = append(out, services.ShippingOverrideRule{
			Region:    strings.TrimSpace(rule.Region),
			Surcharge: rule.Surcharge,
		})
	}
	return out
}

func buildAddressFromPayload(payload addressPayload) services.Address {
	return services.Address{
		ID:       strings.TrimSpace(payload.ID),
		FullName: strings.TrimSpace(payload.FullName),
		Address1: strings.TrimSpace(payload.Address1),
		Address2: strings.TrimSpace(payload.Address2),
		City:     strings.TrimSpace(payload.City),
		Region:   strings.TrimSpace(payload.Region),
		Postal:   strings.TrimSpace(payload.Postal),
		Country:  strings.TrimSpace(payload.Country),
		Phone:    strings.TrimSpace(payload.Phone),
	}
}

type addItemsRequest struct {
	Items []cartItemInputPayload `json:"items"`
}

type removeItemsRequest struct {
	ItemIDs []string `json:"itemIds"`
}

type updateQuantitiesRequest struct {
	Updates []quantityUpdatePayload `json:"updates"`
}

type quantityUpdatePayload struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type shippingAddressRequest struct {
	Address *addressPayload `json:"address"`
}

type selectOptionRequest struct {
	FulfillmentMethodID string `json:"fulfillmentMethodId"`
}

type mergeCartsRequest struct {
	AnonymousCartID string `json:"anonymousCartId"`
	CartToken       string `json:"cartToken,omitempty"`
	ShopID          string `json:"shopId"`
}

type cartItemInputPayload struct {
	ProductID        string                    `json:"productId"`
	VariantID        string                    `json:"variantId"`
	Title            string                    `json:"title"`
	Price            moneyPayload              `json:"price"`
	Quantity         int                       `json:"quantity"`
	IsTaxable        bool                      `json:"isTaxable"`
	TaxCode          string                    `json:"taxCode,omitempty"`
	ShippingOverride []shippingOverridePayload `json:"shippingOverride,omitempty"`
	Metafields       map[string]string         `json:"metafields,omitempty"`
}

type moneyPayload struct {
	Amount       float64 `json:"amount"`
	CurrencyCode string  `json:"currencyCode"`
}

type shippingOverridePayload struct {
	Region    string  `json:"region"`
	Surcharge float64 `json:"surcharge"`
}

type addressPayload struct {
	ID       string `json:"id,omitempty"`
	FullName string `json:"fullName,omitempty"`
	Address1 string `json:"address1,omitempty"`
	Address2 string `json:"address2,omitempty"`
	City     string `json:"city,omitempty"`
	Region   string `json:"region,omitempty"`
	Postal   string `json:"postal,omitempty"`
	Country  string `json:"country,omitempty"`
	Phone    string `json:"phone,omitempty"`
}
