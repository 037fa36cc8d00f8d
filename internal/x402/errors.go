package x402

import "fmt"

// PaymentError carries a machine-readable code alongside the human message
// so handlers can surface facilitator diagnostics without string matching.
type PaymentError struct {
	Code    string
	Message string
	Cause   error
}

func (e *PaymentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Cause
}

// Error codes.
const (
	ErrCodeInvalidPayment     = "INVALID_PAYMENT"
	ErrCodeVerificationFailed = "VERIFICATION_FAILED"
	ErrCodeSettlementFailed   = "SETTLEMENT_FAILED"
	ErrCodeInvalidConfig      = "INVALID_CONFIG"
	ErrCodeFacilitator        = "FACILITATOR_UNAVAILABLE"
)

// NewPaymentError creates a new PaymentError.
func NewPaymentError(code, message string, cause error) *PaymentError {
	return &PaymentError{Code: code, Message: message, Cause: cause}
}
