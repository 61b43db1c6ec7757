// Package encoding provides utilities for encoding and decoding x402 payment
// data carried in HTTP headers. Settlement receipts travel as base64-encoded
// JSON in the X-402-Payment-Response header.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	x402 "github.com/0xDeepanshu/solanax402"
)

// EncodeReceipt converts a SettlementReceipt to a base64-encoded JSON string.
//
// Returns an error if JSON marshaling fails.
func EncodeReceipt(receipt x402.SettlementReceipt) (string, error) {
	receiptJSON, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal receipt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(receiptJSON), nil
}

// DecodeReceipt converts a base64-encoded JSON string to a SettlementReceipt.
//
// Returns an error if base64 decoding or JSON unmarshaling fails.
func DecodeReceipt(encoded string) (x402.SettlementReceipt, error) {
	var receipt x402.SettlementReceipt

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return receipt, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &receipt); err != nil {
		return receipt, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	return receipt, nil
}
