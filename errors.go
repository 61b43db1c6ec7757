package x402

import "errors"

// Sentinel errors for payment gating operations.
var (
	// ErrConfiguration indicates invalid price or payee setup. Fatal at startup.
	ErrConfiguration = errors.New("x402: invalid payment configuration")

	// ErrInvalidResourceURI indicates a resource identifier that is not an
	// absolute, scheme-qualified URI.
	ErrInvalidResourceURI = errors.New("x402: resource is not an absolute URI")

	// ErrMalformedProof indicates a proof header that is present but unusable.
	ErrMalformedProof = errors.New("x402: malformed payment proof")

	// ErrAlreadyClaimed indicates a proof that has already paid for a request.
	ErrAlreadyClaimed = errors.New("x402: payment proof already claimed")

	// ErrNetworkUnavailable indicates an RPC or facilitator call failed.
	ErrNetworkUnavailable = errors.New("x402: payment network unavailable")

	// ErrNoValidPayer indicates no configured payer can satisfy any of the
	// server's payment requirements.
	ErrNoValidPayer = errors.New("x402: no payer can satisfy payment requirements")

	// ErrPaymentInFlight indicates a transfer for the same resource is still
	// awaiting confirmation.
	ErrPaymentInFlight = errors.New("x402: payment already in flight for resource")

	// ErrConfirmationTimeout indicates the network did not confirm a submitted
	// transaction within the configured wait.
	ErrConfirmationTimeout = errors.New("x402: timed out waiting for confirmation")

	// ErrInvalidAmount indicates an amount that is not a non-negative integer.
	ErrInvalidAmount = errors.New("x402: invalid amount")

	// ErrInvalidNetwork indicates an unsupported network identifier.
	ErrInvalidNetwork = errors.New("x402: invalid or unsupported network")

	// ErrInvalidKey indicates an invalid private key.
	ErrInvalidKey = errors.New("x402: invalid private key")

	// ErrInvalidRequirements indicates payment requirements that fail validation.
	ErrInvalidRequirements = errors.New("x402: invalid payment requirements")

	// ErrFacilitatorUnavailable indicates the facilitator service is unreachable.
	ErrFacilitatorUnavailable = errors.New("x402: facilitator service unavailable")

	// ErrVerificationFailed indicates the facilitator could not verify a payment.
	ErrVerificationFailed = errors.New("x402: payment verification failed")

	// ErrSettlementFailed indicates payment settlement failed.
	ErrSettlementFailed = errors.New("x402: payment settlement failed")
)

// ErrorCode represents payment error codes for programmatic handling.
type ErrorCode string

const (
	// ErrCodeConfiguration indicates bad price, asset, or payee setup.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrCodeInvalidRequirements indicates invalid server requirements.
	ErrCodeInvalidRequirements ErrorCode = "INVALID_REQUIREMENTS"

	// ErrCodeNoValidPayer indicates no payer can satisfy requirements.
	ErrCodeNoValidPayer ErrorCode = "NO_VALID_PAYER"

	// ErrCodePaymentInFlight indicates a duplicate payment attempt.
	ErrCodePaymentInFlight ErrorCode = "PAYMENT_IN_FLIGHT"

	// ErrCodePaymentFailed indicates building or submitting a transfer failed.
	ErrCodePaymentFailed ErrorCode = "PAYMENT_FAILED"

	// ErrCodeNetworkError indicates network communication error.
	ErrCodeNetworkError ErrorCode = "NETWORK_ERROR"
)

// PaymentError provides structured error information.
type PaymentError struct {
	// Code is the error code for programmatic handling.
	Code ErrorCode

	// Message is the human-readable error message.
	Message string

	// Details contains additional error context.
	Details map[string]interface{}

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError creates a new PaymentError with the given code and message.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithDetails adds additional context to the error.
// Lazily initializes the Details map if nil.
func (e *PaymentError) WithDetails(key string, value interface{}) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}
