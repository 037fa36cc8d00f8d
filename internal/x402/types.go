package x402

// Protocol version carried in every payload and 402 body.
const Version = 2

// Scheme is the only payment scheme this service accepts.
const SchemeExact = "exact"

// PaymentRequirements describes what payment a resource accepts.
// Networks use CAIP-2 identifiers (e.g. "eip155:8453").
type PaymentRequirements struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	Amount            string         `json:"amount"` // atomic units of Asset
	Asset             string         `json:"asset"`  // token contract address
	PayTo             string         `json:"payTo"`
	Description       string         `json:"description,omitempty"`
	MimeType          string         `json:"mimeType,omitempty"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// ExactEvmAuthorization is the EIP-3009 transfer authorization the payer
// signs. All numeric fields are decimal strings.
type ExactEvmAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEvmPayload carries the signed authorization for the exact scheme.
type ExactEvmPayload struct {
	Signature     string                `json:"signature"`
	Authorization ExactEvmAuthorization `json:"authorization"`
}

// PaymentPayload is the client-constructed proof sent in the
// PAYMENT-SIGNATURE header. It exists only within one request's lifecycle
// and is never persisted server-side.
type PaymentPayload struct {
	X402Version int                 `json:"x402Version"`
	Accepted    PaymentRequirements `json:"accepted"`
	Payload     ExactEvmPayload     `json:"payload"`
}

// PaymentRequiredResponse is the machine-readable 402 challenge.
type PaymentRequiredResponse struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// PaymentResponse is the settlement receipt sent in the PAYMENT-RESPONSE
// header once a verified payment has been settled.
type PaymentResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// VerifyResult is the facilitator's verdict on a payment payload.
type VerifyResult struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResult is the facilitator's settlement outcome.
type SettleResult struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

// SupportedKind is one scheme+network pair a facilitator can handle.
type SupportedKind struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
}

// SupportedResponse is returned by the facilitator's supported endpoint.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// ResultKind tags the outcome of processing a request through the payment
// gate.
type ResultKind int

const (
	// KindNoPaymentRequired means the route is not gated.
	KindNoPaymentRequired ResultKind = iota
	// KindPaymentError means a challenge or rejection response must be
	// sent instead of the protected resource.
	KindPaymentError
	// KindPaymentVerified means the protected resource may run and the
	// payment should be settled afterwards.
	KindPaymentVerified
)

// ChallengeResponse is the HTTP response a payment error translates into.
type ChallengeResponse struct {
	Status  int
	Headers map[string]string
	Body    map[string]any
}

// ProcessResult is the union returned by ResourceServer.Process. A request
// reaches the protected handler iff Kind is KindNoPaymentRequired or
// KindPaymentVerified; settlement is attempted iff Kind is
// KindPaymentVerified.
type ProcessResult struct {
	Kind         ResultKind
	Response     *ChallengeResponse
	Payload      *PaymentPayload
	Requirements *PaymentRequirements
}
