// Package cdp relays settlement requests to the Coinbase Developer
// Platform using server-held credentials. The remote service does the
// actual signing and on-chain submission; this package only authenticates
// the forwarded call.
package cdp

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ErrNotConfigured means one or more CDP credentials are unset.
var ErrNotConfigured = errors.New("cdp: credentials are not configured")

// Credentials holds the API key pair and the wallet secret.
type Credentials struct {
	APIKeyID     string
	APIKeySecret string
	WalletSecret string
}

func (c Credentials) complete() bool {
	return c.APIKeyID != "" && c.APIKeySecret != "" && c.WalletSecret != ""
}

// Relay forwards settle requests to the CDP x402 settlement endpoint and
// passes the upstream status and body through verbatim.
type Relay struct {
	creds      Credentials
	host       string
	path       string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	// endpoint overrides the https URL derived from host+path (tests).
	endpoint string
}

// RelayResult is the upstream response, untouched.
type RelayResult struct {
	Status      int
	ContentType string
	Body        []byte
}

// NewRelay builds the settlement relay.
func NewRelay(creds Credentials, host, path string, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		creds:      creds,
		host:       host,
		path:       path,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log,
		now:        time.Now,
	}
}

// WithEndpoint overrides the settle URL (primarily for testing).
func (r *Relay) WithEndpoint(url string) *Relay {
	r.endpoint = url
	return r
}

// WithClock allows injection of a custom clock (primarily for testing).
func (r *Relay) WithClock(now func() time.Time) *Relay {
	if now != nil {
		r.now = now
	}
	return r
}

// Settle forwards the request body to the CDP settle endpoint.
func (r *Relay) Settle(ctx context.Context, body []byte) (*RelayResult, error) {
	if !r.creds.complete() {
		return nil, ErrNotConfigured
	}

	headers, err := r.authHeaders(http.MethodPost, body)
	if err != nil {
		return nil, fmt.Errorf("cdp: build auth headers: %w", err)
	}

	endpoint := r.endpoint
	if endpoint == "" {
		endpoint = "https://" + r.host + r.path
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("cdp: create settle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cdp: call settle endpoint: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cdp: read settle response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}

	r.logger.Info("settlement relayed", zap.Int("status", resp.StatusCode))

	return &RelayResult{
		Status:      resp.StatusCode,
		ContentType: contentType,
		Body:        respBody,
	}, nil
}

// authHeaders produces the bearer JWT and wallet-auth JWT the CDP API
// expects, both ES256-signed with the respective secrets.
func (r *Relay) authHeaders(method string, body []byte) (map[string]string, error) {
	uri := fmt.Sprintf("%s %s%s", method, r.host, r.path)
	now := r.now()

	apiKey, err := parseECPrivateKey(r.creds.APIKeySecret)
	if err != nil {
		return nil, fmt.Errorf("parse api key secret: %w", err)
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	bearer := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss":  "cdp",
		"sub":  r.creds.APIKeyID,
		"nbf":  now.Unix(),
		"exp":  now.Add(2 * time.Minute).Unix(),
		"uris": []string{uri},
	})
	bearer.Header["kid"] = r.creds.APIKeyID
	bearer.Header["nonce"] = hex.EncodeToString(nonce)

	bearerToken, err := bearer.SignedString(apiKey)
	if err != nil {
		return nil, fmt.Errorf("sign bearer jwt: %w", err)
	}

	walletKey, err := parseECPrivateKey(r.creds.WalletSecret)
	if err != nil {
		return nil, fmt.Errorf("parse wallet secret: %w", err)
	}

	bodyHash := sha256.Sum256(body)
	walletAuth := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"uris":    []string{uri},
		"reqHash": hex.EncodeToString(bodyHash[:]),
		"iat":     now.Unix(),
		"nbf":     now.Unix(),
		"jti":     hex.EncodeToString(nonce),
	})

	walletToken, err := walletAuth.SignedString(walletKey)
	if err != nil {
		return nil, fmt.Errorf("sign wallet auth jwt: %w", err)
	}

	return map[string]string{
		"Authorization": "Bearer " + bearerToken,
		"X-Wallet-Auth": walletToken,
	}, nil
}

// parseECPrivateKey accepts a CDP secret as base64 PKCS#8, base64 SEC1, or
// PEM and returns the ECDSA private key.
func parseECPrivateKey(secret string) (*ecdsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		block, _ := pem.Decode([]byte(secret))
		if block == nil {
			return nil, fmt.Errorf("secret is neither base64 nor PEM")
		}
		der = block.Bytes
	}

	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		ec, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("secret is not an EC key")
		}
		return ec, nil
	}

	return x509.ParseECPrivateKey(der)
}
