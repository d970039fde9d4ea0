package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/mmynk/iouledger/internal/config"
	"github.com/mmynk/iouledger/internal/provider"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.Config
		available bool
	}{
		{"none", config.Config{PaymentProvider: "none"}, false},
		{"sandbox", config.Config{PaymentProvider: "sandbox"}, true},
		{"platform", config.Config{PaymentProvider: "platform", ProviderBaseURL: "https://api.example.com", ProviderAPIKey: "k"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := newProvider(&tt.cfg)
			if err != nil {
				t.Fatalf("newProvider failed: %v", err)
			}
			if p.Available() != tt.available {
				t.Errorf("Available() = %v, want %v", p.Available(), tt.available)
			}
		})
	}

	if _, ok := mustProvider(t, config.Config{PaymentProvider: "none"}).(provider.Unavailable); !ok {
		t.Error("none did not select the unavailable provider")
	}
}

func mustProvider(t *testing.T, cfg config.Config) paymentProvider {
	t.Helper()
	p, err := newProvider(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestOpenSQLiteStore(t *testing.T) {
	cfg := &config.Config{DBDriver: "sqlite", DBPath: filepath.Join(t.TempDir(), "nested", "iou.db")}
	store, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openStore failed: %v", err)
	}
	defer store.Close()
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/iouledger.v1.IOUService/CreateIOU", nil))
	if rec.Code != http.StatusOK || called {
		t.Errorf("preflight: code=%d reached handler=%v", rec.Code, called)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got == "" {
		t.Error("missing Access-Control-Allow-Headers")
	}
}
