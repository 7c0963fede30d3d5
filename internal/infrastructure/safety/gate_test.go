package safety

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"living-world-engine/internal/config"
)

func gateConfig(endpoint string, failClosed bool) *config.SafetyConfig {
	return &config.SafetyConfig{
		Endpoint:   endpoint,
		FailClosed: failClosed,
		Timeout:    time.Second,
		RetryLimit: 1,
	}
}

func TestHTTPGateApproves(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"approved":true}`))
	}))
	defer srv.Close()

	gate := NewHTTPGate(gateConfig(srv.URL, true))
	verdict, err := gate.Validate(context.Background(), "pick some herbs", nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !verdict.Approved {
		t.Error("verdict not approved")
	}
}

func TestHTTPGateRejectionCarriesFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"approved":false,"reason":"violence","fallback_narrative":"a crowd gathers, watching"}`))
	}))
	defer srv.Close()

	gate := NewHTTPGate(gateConfig(srv.URL, true))
	verdict, err := gate.Validate(context.Background(), "burn it down", nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if verdict.Approved {
		t.Error("verdict approved, want rejected")
	}
	if verdict.FallbackNarrative != "a crowd gathers, watching" {
		t.Errorf("fallback = %q", verdict.FallbackNarrative)
	}
}

func TestHTTPGateFailClosedOnOutage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	gate := NewHTTPGate(gateConfig(srv.URL, true))
	verdict, err := gate.Validate(context.Background(), "anything", nil)
	if err != nil {
		t.Fatalf("fail-closed outage must not surface an error: %v", err)
	}
	if verdict.Approved {
		t.Error("fail-closed gate approved during outage")
	}
	if verdict.FallbackNarrative == "" {
		t.Error("fail-closed verdict has no fallback narrative")
	}
}

func TestHTTPGateFailOpenOnOutage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	gate := NewHTTPGate(gateConfig(srv.URL, false))
	verdict, err := gate.Validate(context.Background(), "anything", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !verdict.Approved {
		t.Error("fail-open gate rejected during outage")
	}
}

func TestHTTPGateRetriesBeforeDefault(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"approved":true}`))
	}))
	defer srv.Close()

	gate := NewHTTPGate(gateConfig(srv.URL, true))
	verdict, err := gate.Validate(context.Background(), "anything", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !verdict.Approved {
		t.Error("retry did not recover the verdict")
	}
	if calls != 2 {
		t.Errorf("gate called %d times, want 2", calls)
	}
}

func TestNewGateFromConfig(t *testing.T) {
	if _, ok := NewGateFromConfig(nil).(*PermissiveGate); !ok {
		t.Error("nil config should yield the permissive gate")
	}
	if _, ok := NewGateFromConfig(&config.SafetyConfig{}).(*PermissiveGate); !ok {
		t.Error("empty endpoint should yield the permissive gate")
	}
	if _, ok := NewGateFromConfig(gateConfig("http://gate", true)).(*HTTPGate); !ok {
		t.Error("configured endpoint should yield the HTTP gate")
	}
}
