package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cartledger/api/internal/platform/opaqueid"
	"github.com/cartledger/api/internal/services"
)

type stubCartService struct {
	addFn      func(context.Context, services.AddCartItemsCommand) (services.CartMutationResult, error)
	removeFn   func(context.Context, services.RemoveCartItemsCommand) (services.CartMutationResult, error)
	quantityFn func(context.Context, services.UpdateItemsQuantityCommand) (services.CartMutationResult, error)
	addressFn  func(context.Context, services.SetShippingAddressCommand) (services.CartMutationResult, error)
}

func (s *stubCartService) AddItems(ctx context.Context, cmd services.AddCartItemsCommand) (services.CartMutationResult, error) {
	if s.addFn != nil {
		return s.addFn(ctx, cmd)
	}
	return services.CartMutationResult{}, nil
}

func (s *stubCartService) RemoveItems(ctx context.Context, cmd services.RemoveCartItemsCommand) (services.CartMutationResult, error) {
	if s.removeFn != nil {
		return s.removeFn(ctx, cmd)
	}
	return services.CartMutationResult{}, nil
}

func (s *stubCartService) UpdateItemsQuantity(ctx context.Context, cmd services.UpdateItemsQuantityCommand) (services.CartMutationResult, error) {
	if s.quantityFn != nil {
		return s.quantityFn(ctx, cmd)
	}
	return services.CartMutationResult{}, nil
}

func (s *stubCartService) SetShippingAddress(ctx context.Context, cmd services.SetShippingAddressCommand) (services.CartMutationResult, error) {
	if s.addressFn != nil {
		return s.addressFn(ctx, cmd)
	}
	return services.CartMutationResult{}, nil
}

type stubFulfillmentService struct {
	selectFn func(context.Context, services.SelectFulfillmentOptionCommand) (services.CartMutationResult, error)
}

func (s *stubFulfillmentService) SelectFulfillmentOption(ctx context.Context, cmd services.SelectFulfillmentOptionCommand) (services.CartMutationResult, error) {
	if s.selectFn != nil {
		return s.selectFn(ctx, cmd)
	}
	return services.CartMutationResult{}, nil
}

type stubMergeService struct {
	mergeFn func(context.Context, services.MergeCartsCommand) (services.CartMutationResult, error)
}

func (s *stubMergeService) MergeCarts(ctx context.Context, cmd services.MergeCartsCommand) (services.CartMutationResult, error) {
	if s.mergeFn != nil {
		return s.mergeFn(ctx, cmd)
	}
	return services.CartMutationResult{}, nil
}

var (
	_ services.CartService        = (*stubCartService)(nil)
	_ services.FulfillmentService = (*stubFulfillmentService)(nil)
	_ services.MergeService       = (*stubMergeService)(nil)
)

func newCartTestRouter(t *testing.T, carts services.CartService, fulfillment services.FulfillmentService, merges services.MergeService, opts ...CartHandlersOption) http.Handler {
	t.Helper()
	handlers := NewCartHandlers(carts, fulfillment, merges, opts...)
	return NewRouter(WithCartRoutes(handlers.Routes))
}

func TestCartHandlersAddItemsDecodesIdentityAndItems(t *testing.T) {
	var gotCmd services.AddCartItemsCommand
	carts := &stubCartService{}
	carts.addFn = func(_ context.Context, cmd services.AddCartItemsCommand) (services.CartMutationResult, error) {
		gotCmd = cmd
		return services.CartMutationResult{
			Cart: services.Cart{ID: "cart-1", ShopID: "shop-1"},
		}, nil
	}

	router := newCartTestRouter(t, carts, nil, nil)

	opaqueCart := opaqueid.Encode(opaqueid.NamespaceCart, "cart-1")
	opaqueProduct := opaqueid.Encode(opaqueid.NamespaceProduct, "product-1")
	payload := `{"items":[{"productId":"` + opaqueProduct + `","variantId":"variant-1","title":"Sticker","price":{"amount":25,"currencyCode":"USD"},"quantity":2,"isTaxable":true}]}`

	req := httptest.NewRequest(http.MethodPost, "/carts/"+opaqueCart+"/items", strings.NewReader(payload))
	req.Header.Set("X-Cart-Token", "anon-token")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCmd.CartID != "cart-1" {
		t.Fatalf("expected decoded cart id, got %q", gotCmd.CartID)
	}
	if gotCmd.Owner.CartToken != "anon-token" || gotCmd.Owner.AccountID != "" {
		t.Fatalf("unexpected owner %+v", gotCmd.Owner)
	}
	if len(gotCmd.Items) != 1 {
		t.Fatalf("expected one item, got %d", len(gotCmd.Items))
	}
	item := gotCmd.Items[0]
	if item.ProductID != "product-1" {
		t.Fatalf("expected decoded product id, got %q", item.ProductID)
	}
	if item.Price.Amount != 25 || item.Price.CurrencyCode != "USD" || item.Quantity != 2 {
		t.Fatalf("unexpected item %+v", item)
	}

	var body struct {
		Cart struct {
			ID string `json:"id"`
		} `json:"cart"`
		IncorrectPriceFailures   []json.RawMessage `json:"incorrectPriceFailures"`
		MinOrderQuantityFailures []json.RawMessage `json:"minOrderQuantityFailures"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Cart.ID != opaqueCart {
		t.Fatalf("expected opaque cart id %q, got %q", opaqueCart, body.Cart.ID)
	}
	if body.IncorrectPriceFailures == nil || body.MinOrderQuantityFailures == nil {
		t.Fatalf("expected failure arrays present, got %s", rr.Body.String())
	}
}

func TestCartHandlersAddItemsReportsFailures(t *testing.T) {
	carts := &stubCartService{}
	carts.addFn = func(_ context.Context, cmd services.AddCartItemsCommand) (services.CartMutationResult, error) {
		return services.CartMutationResult{
			Cart: services.Cart{ID: "cart-1"},
			IncorrectPriceFailures: []services.CartItemFailure{
				{Item: cmd.Items[0], Reason: "incorrect_price"},
			},
		}, nil
	}

	router := newCartTestRouter(t, carts, nil, nil)

	payload := `{"items":[{"productId":"product-1","price":{"amount":19,"currencyCode":"USD"},"quantity":1}]}`
	req := httptest.NewRequest(http.MethodPost, "/carts/cart-1/items", strings.NewReader(payload))
	req.Header.Set("X-Account-ID", "account-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body struct {
		IncorrectPriceFailures []struct {
			Reason string `json:"reason"`
		} `json:"incorrectPriceFailures"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.IncorrectPriceFailures) != 1 || body.IncorrectPriceFailures[0].Reason != "incorrect_price" {
		t.Fatalf("expected incorrect price failure, got %s", rr.Body.String())
	}
}

func TestCartHandlersAddItemsRejectsBadPayloads(t *testing.T) {
	router := newCartTestRouter(t, &stubCartService{}, nil, nil)

	cases := map[string]string{
		"empty body":   "",
		"invalid json": "{",
		"no items":     `{"items":[]}`,
	}
	for name, payload := range cases {
		req := httptest.NewRequest(http.MethodPost, "/carts/cart-1/items", strings.NewReader(payload))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", name, rr.Code)
		}
	}
}

func TestCartHandlersMapServiceErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", services.ErrCartNotFound, http.StatusNotFound, "cart_not_found"},
		{"invalid param", services.ErrCartInvalidParam, http.StatusBadRequest, "invalid_request"},
		{"conflict", services.ErrCartConflict, http.StatusConflict, "cart_conflict"},
		{"unavailable", services.ErrCartUnavailable, http.StatusServiceUnavailable, "cart_service_unavailable"},
	}

	for _, tc := range cases {
		carts := &stubCartService{}
		carts.addFn = func(context.Context, services.AddCartItemsCommand) (services.CartMutationResult, error) {
			return services.CartMutationResult{}, tc.err
		}
		router := newCartTestRouter(t, carts, nil, nil)

		payload := `{"items":[{"productId":"p","price":{"amount":1,"currencyCode":"USD"},"quantity":1}]}`
		req := httptest.NewRequest(http.MethodPost, "/carts/cart-1/items", strings.NewReader(payload))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != tc.wantStatus {
			t.Fatalf("%s: expected status %d, got %d", tc.name, tc.wantStatus, rr.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: failed to parse response: %v", tc.name, err)
		}
		if body["error"] != tc.wantCode {
			t.Fatalf("%s: expected error code %q, got %v", tc.name, tc.wantCode, body["error"])
		}
	}
}

func TestCartHandlersRemoveItemsDecodesItemIDs(t *testing.T) {
	var gotCmd services.RemoveCartItemsCommand
	carts := &stubCartService{}
	carts.removeFn = func(_ context.Context, cmd services.RemoveCartItemsCommand) (services.CartMutationResult, error) {
		gotCmd = cmd
		return services.CartMutationResult{Cart: services.Cart{ID: cmd.CartID}}, nil
	}

	router := newCartTestRouter(t, carts, nil, nil)

	opaqueItem := opaqueid.Encode(opaqueid.NamespaceCartItem, "item-1")
	payload := `{"itemIds":["` + opaqueItem + `","item-2"]}`
	req := httptest.NewRequest(http.MethodDelete, "/carts/cart-1/items", strings.NewReader(payload))
	req.Header.Set("X-Cart-Token", "anon-token")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(gotCmd.ItemIDs) != 2 || gotCmd.ItemIDs[0] != "item-1" || gotCmd.ItemIDs[1] != "item-2" {
		t.Fatalf("expected decoded item ids, got %v", gotCmd.ItemIDs)
	}
}

func TestCartHandlersUpdateQuantities(t *testing.T) {
	var gotCmd services.UpdateItemsQuantityCommand
	carts := &stubCartService{}
	carts.quantityFn = func(_ context.Context, cmd services.UpdateItemsQuantityCommand) (services.CartMutationResult, error) {
		gotCmd = cmd
		return services.CartMutationResult{Cart: services.Cart{ID: cmd.CartID}}, nil
	}

	router := newCartTestRouter(t, carts, nil, nil)

	payload := `{"updates":[{"itemId":"item-1","quantity":5},{"itemId":"item-2","quantity":0}]}`
	req := httptest.NewRequest(http.MethodPatch, "/carts/cart-1/items/quantity", strings.NewReader(payload))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(gotCmd.Updates) != 2 {
		t.Fatalf("expected two updates, got %d", len(gotCmd.Updates))
	}
	if gotCmd.Updates[0].ItemID != "item-1" || gotCmd.Updates[0].Quantity != 5 {
		t.Fatalf("unexpected first update %+v", gotCmd.Updates[0])
	}
	if gotCmd.Updates[1].Quantity != 0 {
		t.Fatalf("expected zero quantity passed through, got %+v", gotCmd.Updates[1])
	}
}

func TestCartHandlersSetShippingAddress(t *testing.T) {
	var gotCmd services.SetShippingAddressCommand
	carts := &stubCartService{}
	carts.addressFn = func(_ context.Context, cmd services.SetShippingAddressCommand) (services.CartMutationResult, error) {
		gotCmd = cmd
		return services.CartMutationResult{Cart: services.Cart{ID: cmd.CartID}}, nil
	}

	router := newCartTestRouter(t, carts, nil, nil)

	payload := `{"address":{"fullName":"Jo Doe","address1":"1 Main St","city":"Springfield","region":"CA","postal":"90210","country":"US"}}`
	req := httptest.NewRequest(http.MethodPut, "/carts/cart-1/shipping-address", strings.NewReader(payload))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if gotCmd.Address.Region != "CA" || gotCmd.Address.Postal != "90210" || gotCmd.Address.Country != "US" {
		t.Fatalf("unexpected address %+v", gotCmd.Address)
	}

	req = httptest.NewRequest(http.MethodPut, "/carts/cart-1/shipping-address", strings.NewReader(`{}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 without address, got %d", rr.Code)
	}
}

func TestCartHandlersSelectFulfillmentOption(t *testing.T) {
	var gotCmd services.SelectFulfillmentOptionCommand
	fulfillment := &stubFulfillmentService{}
	fulfillment.selectFn = func(_ context.Context, cmd services.SelectFulfillmentOptionCommand) (services.CartMutationResult, error) {
		gotCmd = cmd
		return services.CartMutationResult{Cart: services.Cart{ID: cmd.CartID}}, nil
	}

	router := newCartTestRouter(t, &stubCartService{}, fulfillment, nil)

	payload := `{"fulfillmentMethodId":"method-2"}`
	req := httptest.NewRequest(http.MethodPut, "/carts/cart-1/fulfillment-groups/group-1/option", strings.NewReader(payload))
	req.Header.Set("X-Account-ID", "account-1")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCmd.FulfillmentGroupID != "group-1" || gotCmd.FulfillmentMethodID != "method-2" {
		t.Fatalf("unexpected command %+v", gotCmd)
	}
	if gotCmd.Owner.AccountID != "account-1" {
		t.Fatalf("expected account owner, got %+v", gotCmd.Owner)
	}
}

func TestCartHandlersSelectFulfillmentOptionAmbiguousGroup(t *testing.T) {
	fulfillment := &stubFulfillmentService{}
	fulfillment.selectFn = func(context.Context, services.SelectFulfillmentOptionCommand) (services.CartMutationResult, error) {
		return services.CartMutationResult{}, services.ErrFulfillmentAmbiguous
	}

	router := newCartTestRouter(t, &stubCartService{}, fulfillment, nil)

	req := httptest.NewRequest(http.MethodPut, "/carts/cart-1/fulfillment-groups/group-1/option", strings.NewReader(`{"fulfillmentMethodId":"method-1"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestCartHandlersMergeCarts(t *testing.T) {
	var gotCmd services.MergeCartsCommand
	merges := &stubMergeService{}
	merges.mergeFn = func(_ context.Context, cmd services.MergeCartsCommand) (services.CartMutationResult, error) {
		gotCmd = cmd
		return services.CartMutationResult{Cart: services.Cart{ID: "cart-2", AccountID: cmd.AccountID}}, nil
	}

	router := newCartTestRouter(t, &stubCartService{}, nil, merges)

	opaqueCart := opaqueid.Encode(opaqueid.NamespaceCart, "cart-1")
	payload := `{"anonymousCartId":"` + opaqueCart + `","shopId":"shop-1"}`
	req := httptest.NewRequest(http.MethodPost, "/carts/merge", strings.NewReader(payload))
	req.Header.Set("X-Account-ID", "account-1")
	req.Header.Set("X-Cart-Token", "anon-token")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCmd.AnonymousCartID != "cart-1" {
		t.Fatalf("expected decoded anonymous cart id, got %q", gotCmd.AnonymousCartID)
	}
	if gotCmd.AccountID != "account-1" || gotCmd.CartToken != "anon-token" || gotCmd.ShopID != "shop-1" {
		t.Fatalf("unexpected command %+v", gotCmd)
	}
}

func TestCartHandlersMergeCartsServerError(t *testing.T) {
	merges := &stubMergeService{}
	merges.mergeFn = func(context.Context, services.MergeCartsCommand) (services.CartMutationResult, error) {
		return services.CartMutationResult{}, services.ErrMergeServerError
	}

	router := newCartTestRouter(t, &stubCartService{}, nil, merges)

	req := httptest.NewRequest(http.MethodPost, "/carts/merge", strings.NewReader(`{"anonymousCartId":"cart-1"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}

func TestCartHandlersMutationRateLimit(t *testing.T) {
	carts := &stubCartService{}
	router := newCartTestRouter(t, carts, nil, nil, WithCartMutationLimit(1, time.Minute))

	payload := `{"items":[{"productId":"p","price":{"amount":1,"currencyCode":"USD"},"quantity":1}]}`

	req := httptest.NewRequest(http.MethodPost, "/carts/cart-1/items", strings.NewReader(payload))
	req.Header.Set("X-Account-ID", "account-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/carts/cart-1/items", strings.NewReader(payload))
	req.Header.Set("X-Account-ID", "account-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
}
