package taxrates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/cartledger/api/internal/domain"
	"github.com/cartledger/api/internal/platform/config"
)

func TestLookupRateSendsAddressAndCredentials(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	var gotUser, gotPass string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		gotUser, gotPass, _ = r.BasicAuth()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"totalRate": 0.065}`))
	}))
	defer server.Close()

	client, err := NewClient(config.TaxRatesConfig{
		Endpoint: server.URL,
		Username: "rates-user",
		Password: "rates-pass",
		Timeout:  2 * time.Second,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	rate, err := client.LookupRate(context.Background(), domain.Address{
		Address1: "1 Main St",
		City:     "Springfield",
		Region:   "CA",
		Postal:   "90210",
		Country:  "US",
	})
	if err != nil {
		t.Fatalf("lookup rate: %v", err)
	}
	if rate != 0.065 {
		t.Fatalf("expected rate 0.065, got %v", rate)
	}

	if gotPath != "/api/v2/taxrates/byaddress" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotUser != "rates-user" || gotPass != "rates-pass" {
		t.Fatalf("expected basic auth credential, got %q/%q", gotUser, gotPass)
	}
	for key, want := range map[string]string{
		"street":  "1 Main St",
		"city":    "Springfield",
		"region":  "CA",
		"postal":  "90210",
		"country": "US",
	} {
		if got := gotQuery[key]; len(got) != 1 || got[0] != want {
			t.Fatalf("expected query %s=%s, got %v", key, want, got)
		}
	}
}

func TestLookupRateOmitsEmptyAddressFields(t *testing.T) {
	var gotQuery map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{"totalRate": 0}`))
	}))
	defer server.Close()

	client, err := NewClient(config.TaxRatesConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.LookupRate(context.Background(), domain.Address{Country: "US"}); err != nil {
		t.Fatalf("lookup rate: %v", err)
	}
	if len(gotQuery) != 1 {
		t.Fatalf("expected only the country parameter, got %v", gotQuery)
	}
}

func TestLookupRateNonSuccessStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(config.TaxRatesConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.LookupRate(context.Background(), domain.Address{Country: "US"}); err == nil {
		t.Fatal("expected an error for a non-2xx response")
	}
}

func TestLookupRateMalformedBodyIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client, err := NewClient(config.TaxRatesConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.LookupRate(context.Background(), domain.Address{Country: "US"}); err == nil {
		t.Fatal("expected an error for a malformed body")
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient(config.TaxRatesConfig{}); err == nil {
		t.Fatal("expected an error without an endpoint")
	}
}
