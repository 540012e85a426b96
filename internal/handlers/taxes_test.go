package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cartledger/api/internal/services"
)

type stubTaxService struct {
	calculateFn func(context.Context, services.CommonOrder) (*services.TaxServiceResult, error)
}

func (s *stubTaxService) CalculateOrderTaxes(ctx context.Context, order services.CommonOrder) (*services.TaxServiceResult, error) {
	if s.calculateFn != nil {
		return s.calculateFn(ctx, order)
	}
	return nil, nil
}

var _ services.TaxService = (*stubTaxService)(nil)

func newTaxTestRouter(t *testing.T, taxes services.TaxService) http.Handler {
	t.Helper()
	handlers := NewTaxHandlers(taxes)
	return NewRouter(WithTaxRoutes(handlers.Routes))
}

func TestTaxHandlersCalculateReturnsResult(t *testing.T) {
	var gotOrder services.CommonOrder
	taxes := &stubTaxService{}
	taxes.calculateFn = func(_ context.Context, order services.CommonOrder) (*services.TaxServiceResult, error) {
		gotOrder = order
		return &services.TaxServiceResult{
			ItemTaxes: []services.ItemTax{
				{ItemID: "item-1", Tax: 8, TaxableAmount: 100, Taxes: []services.TaxLine{
					{ID: "line-1", JurisdictionID: "jur-1", Sourcing: "destination", Tax: 8, TaxableAmount: 100, TaxRate: 0.08},
				}},
			},
			TaxSummary: services.TaxSummary{
				CalculatedAt:               time.Date(2026, 2, 14, 10, 30, 0, 0, time.UTC),
				CalculatedByTaxServiceName: "custom-rates",
				Tax:                        8,
				TaxableAmount:              100,
			},
		}, nil
	}

	router := newTaxTestRouter(t, taxes)

	payload := `{"order":{"shopId":"shop-1","items":[{"id":"item-1","price":{"amount":50,"currencyCode":"USD"},"quantity":2,"subtotal":{"amount":100,"currencyCode":"USD"},"isTaxable":true}],"shippingAddress":{"postal":"90210","region":"CA","country":"US"}}}`
	req := httptest.NewRequest(http.MethodPost, "/taxes/calculate", strings.NewReader(payload))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotOrder.ShopID != "shop-1" || len(gotOrder.Items) != 1 {
		t.Fatalf("unexpected order %+v", gotOrder)
	}
	if gotOrder.ShippingAddress == nil || gotOrder.ShippingAddress.Postal != "90210" {
		t.Fatalf("expected shipping address carried, got %+v", gotOrder.ShippingAddress)
	}
	if gotOrder.OriginAddress != nil {
		t.Fatalf("expected nil origin address, got %+v", gotOrder.OriginAddress)
	}

	var body struct {
		Result *struct {
			ItemTaxes []struct {
				ItemID string `json:"itemId"`
				Tax    float64
			} `json:"itemTaxes"`
			TaxSummary struct {
				Tax                        float64 `json:"tax"`
				TaxableAmount              float64 `json:"taxableAmount"`
				CalculatedByTaxServiceName string  `json:"calculatedByTaxServiceName"`
			} `json:"taxSummary"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Result == nil {
		t.Fatal("expected a result payload")
	}
	if len(body.Result.ItemTaxes) != 1 || body.Result.ItemTaxes[0].ItemID != "item-1" {
		t.Fatalf("unexpected item taxes %+v", body.Result.ItemTaxes)
	}
	if body.Result.TaxSummary.Tax != 8 || body.Result.TaxSummary.TaxableAmount != 100 {
		t.Fatalf("unexpected summary %+v", body.Result.TaxSummary)
	}
	if body.Result.TaxSummary.CalculatedByTaxServiceName != "custom-rates" {
		t.Fatalf("unexpected service name %q", body.Result.TaxSummary.CalculatedByTaxServiceName)
	}
}

func TestTaxHandlersCalculateNullResultWithoutAddresses(t *testing.T) {
	router := newTaxTestRouter(t, &stubTaxService{})

	payload := `{"order":{"shopId":"shop-1","items":[]}}`
	req := httptest.NewRequest(http.MethodPost, "/taxes/calculate", strings.NewReader(payload))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if string(body["result"]) != "null" {
		t.Fatalf("expected null result, got %s", body["result"])
	}
}

func TestTaxHandlersCalculateRejectsBadPayloads(t *testing.T) {
	router := newTaxTestRouter(t, &stubTaxService{})

	cases := map[string]string{
		"empty body":    "",
		"invalid json":  "{",
		"missing order": `{}`,
	}
	for name, payload := range cases {
		req := httptest.NewRequest(http.MethodPost, "/taxes/calculate", strings.NewReader(payload))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", name, rr.Code)
		}
	}
}

func TestTaxHandlersCalculateMapsUnavailable(t *testing.T) {
	taxes := &stubTaxService{}
	taxes.calculateFn = func(context.Context, services.CommonOrder) (*services.TaxServiceResult, error) {
		return nil, services.ErrTaxUnavailable
	}

	router := newTaxTestRouter(t, taxes)

	req := httptest.NewRequest(http.MethodPost, "/taxes/calculate", strings.NewReader(`{"order":{"shopId":"shop-1"}}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
