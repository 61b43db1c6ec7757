// Package helpers provides internal HTTP utilities for x402 payment handling.
package helpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	x402 "github.com/0xDeepanshu/solanax402"
	"github.com/0xDeepanshu/solanax402/encoding"
)

// ProofHeader carries the client's payment proof: the bare transaction
// identifier of the on-chain transfer.
const ProofHeader = "X-402-Payment"

// ReceiptHeader carries the base64-encoded settlement receipt back to the
// client on a successful paid response.
const ReceiptHeader = "X-402-Payment-Response"

// RejectedMessage is the error body text for a proof that failed
// verification or was already consumed.
const RejectedMessage = "Invalid or unverified payment"

// allowedHeaders lists the request headers permitted by the CORS policy.
const allowedHeaders = "Content-Type, Authorization, X-Requested-With, " + ProofHeader

// ExtractProof reads the payment proof from the request. A request without
// the header returns (nil, nil): the client has not paid yet. A header that
// is present but blank is malformed and returns ErrMalformedProof.
func ExtractProof(r *http.Request) (*x402.PaymentProof, error) {
	values, present := r.Header[http.CanonicalHeaderKey(ProofHeader)]
	if !present {
		return nil, nil
	}

	txid := ""
	if len(values) > 0 {
		txid = strings.TrimSpace(values[0])
	}
	if txid == "" {
		return nil, x402.ErrMalformedProof
	}

	return &x402.PaymentProof{TxID: txid}, nil
}

// WriteCORS sets the CORS headers for the payment gate. The proof header must
// be allowed on requests and the receipt header exposed on responses, or
// browser clients cannot complete the payment flow.
func WriteCORS(w http.ResponseWriter, allowOrigin string) {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", allowOrigin)
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", allowedHeaders)
	h.Set("Access-Control-Expose-Headers", ReceiptHeader)
}

// SendPaymentRequired writes a 402 challenge listing the accepted payment
// options. Returns an error if JSON encoding fails.
func SendPaymentRequired(w http.ResponseWriter, accepts []x402.PaymentRequirements, errMsg string) error {
	response := x402.PaymentRequired{
		Error:   errMsg,
		Accepts: accepts,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		return fmt.Errorf("encoding PaymentRequired response: %w", err)
	}
	return nil
}

// SendPaymentRejected writes a 402 rejection for a proof that did not verify.
// The body deliberately carries no accepts list: the client already knows the
// requirements and must pay again with a valid transaction.
func SendPaymentRejected(w http.ResponseWriter) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	if err := json.NewEncoder(w).Encode(x402.PaymentRequired{Error: RejectedMessage}); err != nil {
		return fmt.Errorf("encoding rejection response: %w", err)
	}
	return nil
}

// SendInternalError writes a 500 response with an error message and detail.
func SendInternalError(w http.ResponseWriter, errMsg, details string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	body := map[string]string{"error": errMsg}
	if details != "" {
		body["details"] = details
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		return fmt.Errorf("encoding error response: %w", err)
	}
	return nil
}

// AddReceiptHeader adds the receipt header with settlement information.
func AddReceiptHeader(w http.ResponseWriter, receipt *x402.SettlementReceipt) error {
	if receipt == nil {
		return fmt.Errorf("AddReceiptHeader: receipt is nil")
	}
	encoded, err := encoding.EncodeReceipt(*receipt)
	if err != nil {
		return fmt.Errorf("AddReceiptHeader: encode receipt: %w", err)
	}
	w.Header().Set(ReceiptHeader, encoded)
	return nil
}

// ParsePaymentRequired extracts the challenge body from a 402 response.
// Returns an error if resp or resp.Body is nil, or the body has no accepts.
func ParsePaymentRequired(resp *http.Response) (*x402.PaymentRequired, error) {
	if resp == nil || resp.Body == nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "missing response or body", x402.ErrInvalidRequirements)
	}

	var paymentReq x402.PaymentRequired
	if err := json.NewDecoder(resp.Body).Decode(&paymentReq); err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "failed to decode payment requirements", err)
	}

	if len(paymentReq.Accepts) == 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "no payment requirements in response", x402.ErrInvalidRequirements)
	}

	return &paymentReq, nil
}

// ParseReceipt extracts settlement information from the receipt header value.
// Returns nil if the header is empty or cannot be parsed.
func ParseReceipt(headerValue string) *x402.SettlementReceipt {
	if headerValue == "" {
		return nil
	}

	receipt, err := encoding.DecodeReceipt(headerValue)
	if err != nil {
		return nil
	}

	return &receipt
}

// BuildResourceURL constructs the full URL for the protected resource from
// the request.
func BuildResourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}
