package handlers

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/Maksone34334/x402new/internal/cdp"
)

func relaySecret(t *testing.T) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(der)
}

func newSettleRouter(t *testing.T, relay *cdp.Relay) *gin.Engine {
	t.Helper()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/x402/settle", NewSettleHandler(relay, zaptest.NewLogger(t)).Settle)
	return router
}

func TestSettleUnconfiguredCredentials(t *testing.T) {
	relay := cdp.NewRelay(cdp.Credentials{}, "api.cdp.coinbase.com", "/platform/v2/x402/settle", zaptest.NewLogger(t))
	router := newSettleRouter(t, relay)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/x402/settle", strings.NewReader(`{}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}

	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "CDP credentials are not configured" {
		t.Fatalf("error = %q, want %q", body.Error, "CDP credentials are not configured")
	}
}

func TestSettlePassesUpstreamThroughVerbatim(t *testing.T) {
	secret := relaySecret(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"errorReason":"expired_authorization"}`))
	}))
	defer ts.Close()

	relay := cdp.NewRelay(cdp.Credentials{
		APIKeyID:     "key-id",
		APIKeySecret: secret,
		WalletSecret: secret,
	}, "api.cdp.coinbase.com", "/platform/v2/x402/settle", zaptest.NewLogger(t)).
		WithEndpoint(ts.URL)

	router := newSettleRouter(t, relay)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/x402/settle", strings.NewReader(`{"paymentPayload":{}}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusPaymentRequired)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("content type = %q, want %q", got, "application/json")
	}
	if rec.Body.String() != `{"errorReason":"expired_authorization"}` {
		t.Fatalf("body = %q, not passed through verbatim", rec.Body.String())
	}
}
