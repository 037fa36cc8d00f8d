package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Wire header names. Values are base64-encoded JSON.
const (
	HeaderPaymentRequired  = "PAYMENT-REQUIRED"
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	HeaderPaymentResponse  = "PAYMENT-RESPONSE"

	// Legacy alias some clients still read the receipt from.
	HeaderLegacyPaymentResponse = "X-PAYMENT-RESPONSE"
)

// DecodeFailedSentinel replaces a header value that could not be decoded
// when enriching error bodies. A secondary parse failure must never mask
// the primary payment error.
const DecodeFailedSentinel = "failed_to_decode"

// EncodePaymentRequired encodes the 402 challenge for the
// PAYMENT-REQUIRED header.
func EncodePaymentRequired(challenge *PaymentRequiredResponse) (string, error) {
	raw, err := json.Marshal(challenge)
	if err != nil {
		return "", fmt.Errorf("marshal payment required: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePaymentRequired decodes a PAYMENT-REQUIRED header value.
func DecodePaymentRequired(header string) (*PaymentRequiredResponse, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	var challenge PaymentRequiredResponse
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return nil, fmt.Errorf("parse payment required: %w", err)
	}
	return &challenge, nil
}

// EncodePaymentSignature encodes a payment payload for the
// PAYMENT-SIGNATURE header.
func EncodePaymentSignature(payload *PaymentPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePaymentSignature decodes and minimally validates a
// PAYMENT-SIGNATURE header value. Cryptographic checks stay with the
// facilitator; this only establishes the payload is well-formed.
func DecodePaymentSignature(header string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse payment payload: %w", err)
	}

	if payload.X402Version < Version {
		return nil, fmt.Errorf("payment payload requires x402Version >= %d, got %d", Version, payload.X402Version)
	}
	if payload.Payload.Signature == "" {
		return nil, fmt.Errorf("payment payload signature is required")
	}
	return &payload, nil
}

// EncodePaymentResponse encodes a settlement receipt for the
// PAYMENT-RESPONSE header.
func EncodePaymentResponse(receipt *PaymentResponse) (string, error) {
	raw, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("marshal payment response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePaymentResponse decodes a PAYMENT-RESPONSE header value.
func DecodePaymentResponse(header string) (*PaymentResponse, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	var receipt PaymentResponse
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, fmt.Errorf("parse payment response: %w", err)
	}
	return &receipt, nil
}

// DecodePaymentRequiredLenient decodes a PAYMENT-REQUIRED header for error
// body enrichment, substituting the sentinel on failure.
func DecodePaymentRequiredLenient(header string) any {
	challenge, err := DecodePaymentRequired(header)
	if err != nil {
		return DecodeFailedSentinel
	}
	return challenge
}

// DecodePaymentSignatureLenient decodes a PAYMENT-SIGNATURE header for
// error body enrichment, substituting the sentinel on failure.
func DecodePaymentSignatureLenient(header string) any {
	payload, err := DecodePaymentSignature(header)
	if err != nil {
		return DecodeFailedSentinel
	}
	return payload
}
