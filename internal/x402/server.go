package x402

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Maksone34334/x402new/internal/infra/logger"
)

// usdcByNetwork maps the CAIP-2 networks this service sells on to their
// USDC contract addresses.
var usdcByNetwork = map[string]string{
	"eip155:8453":  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", // Base mainnet
	"eip155:84532": "0x036CbD53842c5426634e7929541eC2318f3dCF7e", // Base Sepolia
}

const defaultMaxTimeoutSeconds = 600

// RouteConfig declares the payment terms for one protected route.
type RouteConfig struct {
	// Price is the display price with currency symbol, e.g. "$0.15". It
	// is echoed verbatim in 402 bodies.
	Price       string
	Network     string
	PayTo       string
	Description string
	MimeType    string
}

// RequestInfo is the slice of an incoming request the payment gate needs.
type RequestInfo struct {
	Method string
	Path   string
	// Header returns the named request header or "".
	Header func(name string) string
}

// ResourceServer coordinates the 402 challenge/verify cycle for a route.
//
// The facilitator client and the derived payment requirements are built
// lazily on first use and cached for the life of the process. A failed
// build clears the cell so the next request retries instead of observing
// a poisoned value. Two requests racing the first build is acceptable;
// whichever completes first wins.
type ResourceServer struct {
	route          RouteConfig
	facilitatorURL string
	logger         *zap.Logger

	// newFacilitator is swappable for tests.
	newFacilitator func(baseURL string) Facilitator

	mu    sync.Mutex
	state *serverState
}

type serverState struct {
	facilitator  Facilitator
	requirements PaymentRequirements
}

// NewResourceServer builds the payment gate for a route. No facilitator
// traffic happens until the first request.
func NewResourceServer(route RouteConfig, facilitatorURL string, logger *zap.Logger) *ResourceServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResourceServer{
		route:          route,
		facilitatorURL: facilitatorURL,
		logger:         logger,
		newFacilitator: func(baseURL string) Facilitator {
			return NewFacilitatorClient(baseURL)
		},
	}
}

// WithFacilitatorFactory overrides facilitator construction (tests).
func (s *ResourceServer) WithFacilitatorFactory(factory func(baseURL string) Facilitator) *ResourceServer {
	if factory != nil {
		s.newFacilitator = factory
	}
	return s
}

// init returns the cached state, building it on first use. The build
// validates the route against the facilitator's supported kinds; on any
// failure the cell stays empty so a later request can retry.
func (s *ResourceServer) init(ctx context.Context) (*serverState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != nil {
		return s.state, nil
	}

	requirements, err := buildRequirements(s.route)
	if err != nil {
		return nil, NewPaymentError(ErrCodeInvalidConfig, "invalid route payment configuration", err)
	}

	facilitator := s.newFacilitator(s.facilitatorURL)

	supported, err := facilitator.Supported(ctx)
	if err != nil {
		return nil, NewPaymentError(ErrCodeFacilitator, "facilitator unavailable", err)
	}

	ok := false
	for _, kind := range supported.Kinds {
		if kind.Scheme == requirements.Scheme && networkMatches(kind.Network, requirements.Network) {
			ok = true
			break
		}
	}
	if !ok {
		return nil, NewPaymentError(ErrCodeInvalidConfig,
			fmt.Sprintf("facilitator does not support %s on %s", requirements.Scheme, requirements.Network), nil)
	}

	s.state = &serverState{facilitator: facilitator, requirements: *requirements}
	s.logger.Info("x402 resource server initialized",
		zap.String("network", requirements.Network),
		zap.String("amount", requirements.Amount),
	)
	return s.state, nil
}

// Process runs the payment state machine for one request.
func (s *ResourceServer) Process(ctx context.Context, req RequestInfo) (*ProcessResult, error) {
	state, err := s.init(ctx)
	if err != nil {
		return nil, err
	}

	header := req.Header(HeaderPaymentSignature)
	if header == "" {
		return s.challenge(state), nil
	}

	payload, err := DecodePaymentSignature(header)
	if err != nil {
		return s.reject(state, fmt.Sprintf("invalid payment header: %v", err)), nil
	}

	if payload.Accepted.Scheme != state.requirements.Scheme {
		return s.reject(state, fmt.Sprintf("unsupported payment scheme %q", payload.Accepted.Scheme)), nil
	}
	if !networkMatches(state.requirements.Network, payload.Accepted.Network) {
		return s.reject(state, fmt.Sprintf("payment network %q does not match %q", payload.Accepted.Network, state.requirements.Network)), nil
	}

	verdict, err := state.facilitator.Verify(ctx, payload, &state.requirements)
	if err != nil {
		return nil, NewPaymentError(ErrCodeVerificationFailed, "facilitator verification failed", err)
	}
	if !verdict.IsValid {
		reason := verdict.InvalidReason
		if reason == "" {
			reason = "payment rejected"
		}
		return s.reject(state, reason), nil
	}

	requirements := state.requirements
	return &ProcessResult{
		Kind:         KindPaymentVerified,
		Payload:      payload,
		Requirements: &requirements,
	}, nil
}

// SettleOutcome is the result of post-delivery settlement.
type SettleOutcome struct {
	Success bool
	Headers map[string]string
}

// Settle finalizes a verified payment. Callers invoke it strictly after
// the protected handler has produced its response; a settlement failure is
// logged and absorbed, never turned into a user-facing error.
func (s *ResourceServer) Settle(ctx context.Context, payload *PaymentPayload, requirements *PaymentRequirements) SettleOutcome {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == nil || payload == nil || requirements == nil {
		return SettleOutcome{}
	}

	result, err := state.facilitator.Settle(ctx, payload, requirements)
	if err != nil {
		s.logger.Error("payment settlement failed",
			zap.String("payer", logger.MaskAddress(payload.Payload.Authorization.From)),
			zap.Error(err),
		)
		return SettleOutcome{}
	}
	if !result.Success {
		s.logger.Error("facilitator declined settlement",
			zap.String("reason", result.ErrorReason),
			zap.String("payer", logger.MaskAddress(result.Payer)),
		)
		return SettleOutcome{}
	}

	receipt := &PaymentResponse{
		Success:     true,
		Transaction: result.Transaction,
		Network:     result.Network,
		Payer:       result.Payer,
	}
	encoded, err := EncodePaymentResponse(receipt)
	if err != nil {
		s.logger.Error("encode settlement receipt failed", zap.Error(err))
		return SettleOutcome{}
	}

	s.logger.Info("payment settled",
		zap.String("transaction", result.Transaction),
		zap.String("network", result.Network),
	)

	return SettleOutcome{
		Success: true,
		Headers: map[string]string{
			HeaderPaymentResponse:       encoded,
			HeaderLegacyPaymentResponse: encoded,
		},
	}
}

func (s *ResourceServer) challenge(state *serverState) *ProcessResult {
	return s.paymentErrorResult(state, "Payment required")
}

func (s *ResourceServer) reject(state *serverState, reason string) *ProcessResult {
	res := s.paymentErrorResult(state, "Payment required")
	res.Response.Body["reason"] = reason
	return res
}

func (s *ResourceServer) paymentErrorResult(state *serverState, message string) *ProcessResult {
	challenge := &PaymentRequiredResponse{
		X402Version: Version,
		Error:       message,
		Accepts:     []PaymentRequirements{state.requirements},
	}

	headers := map[string]string{}
	if encoded, err := EncodePaymentRequired(challenge); err == nil {
		headers[HeaderPaymentRequired] = encoded
	} else {
		s.logger.Error("encode payment required header failed", zap.Error(err))
	}

	return &ProcessResult{
		Kind:     KindPaymentError,
		Response: &ChallengeResponse{
			Status:  402,
			Headers: headers,
			Body: map[string]any{
				"error": message,
				"price": s.route.Price,
			},
		},
	}
}

func buildRequirements(route RouteConfig) (*PaymentRequirements, error) {
	amount, err := parseDisplayPrice(route.Price)
	if err != nil {
		return nil, err
	}

	asset, ok := usdcByNetwork[route.Network]
	if !ok {
		return nil, fmt.Errorf("no known settlement asset for network %q", route.Network)
	}
	if route.PayTo == "" {
		return nil, fmt.Errorf("payTo address is required")
	}

	return &PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           route.Network,
		Amount:            amount,
		Asset:             asset,
		PayTo:             route.PayTo,
		Description:       route.Description,
		MimeType:          route.MimeType,
		MaxTimeoutSeconds: defaultMaxTimeoutSeconds,
		Extra: map[string]any{
			"name":    "USD Coin",
			"version": "2",
		},
	}, nil
}

// parseDisplayPrice converts a "$0.15" style price into atomic USDC units
// (6 decimals), e.g. "$0.15" -> "150000".
func parseDisplayPrice(price string) (string, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(price), "$"))
	if raw == "" {
		return "", fmt.Errorf("empty price")
	}

	whole, frac := raw, ""
	if idx := strings.IndexByte(raw, '.'); idx >= 0 {
		whole, frac = raw[:idx], raw[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 6 {
		return "", fmt.Errorf("price %q has more than 6 decimal places", price)
	}
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("invalid price %q", price)
		}
	}

	frac += strings.Repeat("0", 6-len(frac))
	atomic := strings.TrimLeft(whole+frac, "0")
	if atomic == "" {
		return "", fmt.Errorf("price %q is zero", price)
	}
	return atomic, nil
}

// networkMatches supports the "eip155:*" wildcard facilitators advertise.
func networkMatches(pattern, network string) bool {
	if pattern == network {
		return true
	}
	if strings.HasSuffix(pattern, ":*") {
		return strings.HasPrefix(network, strings.TrimSuffix(pattern, "*"))
	}
	if strings.HasSuffix(network, ":*") {
		return strings.HasPrefix(pattern, strings.TrimSuffix(network, "*"))
	}
	return false
}
