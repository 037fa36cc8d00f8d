package x402

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrPaymentAlreadyAttempted is returned when a request that already
// carried a signed payment comes back 402 again. The agent never loops:
// one signature prompt, one retry.
var ErrPaymentAlreadyAttempted = errors.New("x402: payment already attempted")

// ErrNoSigner is returned when a 402 is received but no signer is wired.
var ErrNoSigner = errors.New("x402: no signer configured")

// retryMarkerHeader prevents recursive re-entry into the payment-building
// logic when the retried request itself is answered with 402.
const retryMarkerHeader = "X-X402-Retry"

// TypedDataField is one field of an EIP-712 type definition.
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TypedDataDomain is the EIP-712 domain separator.
type TypedDataDomain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           uint64 `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

// TypedData is the structure handed to the wallet signer.
type TypedData struct {
	Types       map[string][]TypedDataField `json:"types"`
	PrimaryType string                      `json:"primaryType"`
	Domain      TypedDataDomain             `json:"domain"`
	Message     map[string]any              `json:"message"`
}

// Signer produces EIP-712 signatures. Implementations delegate to a wallet
// or custodial key service; no signing happens in this package.
type Signer interface {
	Address() string
	SignTypedData(ctx context.Context, data TypedData) (string, error)
}

// Agent is an HTTP client wrapper that answers 402 challenges with a
// signed payment and retries the original request exactly once.
type Agent struct {
	httpClient *http.Client
	signer     Signer
	now        func() time.Time
	nonce      func() (string, error)
}

// NewAgent builds a payment-aware client around httpClient (nil for a
// default client with a 60s timeout).
func NewAgent(httpClient *http.Client, signer Signer) *Agent {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Agent{
		httpClient: httpClient,
		signer:     signer,
		now:        time.Now,
		nonce:      randomNonce,
	}
}

// WithClock allows injection of a custom clock (primarily for testing).
func (a *Agent) WithClock(now func() time.Time) *Agent {
	if now != nil {
		a.now = now
	}
	return a
}

// Do sends req, paying for it if the server demands payment. The request
// body is buffered so the request can be replayed on the paid retry.
func (a *Agent) Do(req *http.Request) (*http.Response, error) {
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient.Do(cloneRequest(req, body))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}
	if req.Header.Get(retryMarkerHeader) != "" {
		resp.Body.Close()
		return nil, ErrPaymentAlreadyAttempted
	}
	if a.signer == nil {
		resp.Body.Close()
		return nil, ErrNoSigner
	}

	challenge, err := readChallenge(resp)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	payload, err := a.buildPayment(req.Context(), challenge)
	if err != nil {
		return nil, err
	}

	encoded, err := EncodePaymentSignature(payload)
	if err != nil {
		return nil, err
	}

	retry := cloneRequest(req, body)
	retry.Header.Set(HeaderPaymentSignature, encoded)
	retry.Header.Set(retryMarkerHeader, "1")

	retryResp, err := a.httpClient.Do(retry)
	if err != nil {
		return nil, err
	}
	if retryResp.StatusCode == http.StatusPaymentRequired {
		retryResp.Body.Close()
		return nil, ErrPaymentAlreadyAttempted
	}
	return retryResp, nil
}

// buildPayment selects the first accepted requirement and signs an exact
// scheme transfer authorization for it.
func (a *Agent) buildPayment(ctx context.Context, challenge *PaymentRequiredResponse) (*PaymentPayload, error) {
	if len(challenge.Accepts) == 0 {
		return nil, fmt.Errorf("x402: challenge carries no accepted payment requirements")
	}
	accepted := challenge.Accepts[0]
	if accepted.Scheme != SchemeExact {
		return nil, fmt.Errorf("x402: unsupported payment scheme %q", accepted.Scheme)
	}

	chainID, err := chainIDFromNetwork(accepted.Network)
	if err != nil {
		return nil, err
	}

	nonce, err := a.nonce()
	if err != nil {
		return nil, fmt.Errorf("x402: generate nonce: %w", err)
	}

	timeout := accepted.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = defaultMaxTimeoutSeconds
	}
	now := a.now().Unix()

	auth := ExactEvmAuthorization{
		From:        a.signer.Address(),
		To:          accepted.PayTo,
		Value:       accepted.Amount,
		ValidAfter:  strconv.FormatInt(now-60, 10),
		ValidBefore: strconv.FormatInt(now+int64(timeout), 10),
		Nonce:       nonce,
	}

	signature, err := a.signer.SignTypedData(ctx, transferAuthorizationTypedData(accepted, auth, chainID))
	if err != nil {
		return nil, fmt.Errorf("x402: sign payment: %w", err)
	}

	return &PaymentPayload{
		X402Version: Version,
		Accepted:    accepted,
		Payload: ExactEvmPayload{
			Signature:     signature,
			Authorization: auth,
		},
	}, nil
}

// transferAuthorizationTypedData builds the EIP-3009
// TransferWithAuthorization typed data, including the domain separator
// fields the token contract requires.
func transferAuthorizationTypedData(accepted PaymentRequirements, auth ExactEvmAuthorization, chainID uint64) TypedData {
	name, version := "USD Coin", "2"
	if accepted.Extra != nil {
		if v, ok := accepted.Extra["name"].(string); ok && v != "" {
			name = v
		}
		if v, ok := accepted.Extra["version"].(string); ok && v != "" {
			version = v
		}
	}

	return TypedData{
		Types: map[string][]TypedDataField{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainID:           chainID,
			VerifyingContract: accepted.Asset,
		},
		Message: map[string]any{
			"from":        auth.From,
			"to":          auth.To,
			"value":       auth.Value,
			"validAfter":  auth.ValidAfter,
			"validBefore": auth.ValidBefore,
			"nonce":       auth.Nonce,
		},
	}
}

// readChallenge extracts the payment requirements from a 402 response,
// preferring the PAYMENT-REQUIRED header and falling back to the body.
func readChallenge(resp *http.Response) (*PaymentRequiredResponse, error) {
	if header := resp.Header.Get(HeaderPaymentRequired); header != "" {
		if challenge, err := DecodePaymentRequired(header); err == nil {
			return challenge, nil
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("x402: read 402 body: %w", err)
	}

	var challenge PaymentRequiredResponse
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return nil, fmt.Errorf("x402: parse 402 challenge: %w", err)
	}
	return &challenge, nil
}

func chainIDFromNetwork(network string) (uint64, error) {
	parts := strings.SplitN(network, ":", 2)
	if len(parts) != 2 || parts[0] != "eip155" {
		return 0, fmt.Errorf("x402: unsupported network %q", network)
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("x402: invalid chain id in network %q", network)
	}
	return id, nil
}

func randomNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(buf), nil
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("x402: buffer request body: %w", err)
	}
	return body, nil
}

func cloneRequest(req *http.Request, body []byte) *http.Request {
	clone := req.Clone(req.Context())
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.ContentLength = int64(len(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	} else {
		clone.Body = http.NoBody
	}
	return clone
}
