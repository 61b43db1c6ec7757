// Package x402 implements an HTTP 402 payment gate backed by on-chain
// stablecoin micropayments.
//
// A server issues PaymentRequirements in a 402 challenge; the client submits
// an exact token transfer on the named network and retries the request with
// the resulting transaction identifier as proof. The server verifies the
// transfer against the requirements, claims the proof exactly once, and only
// then releases the protected response.
package x402

import (
	"math/big"
	"time"
)

// Asset identifies the token a payment must be made in.
type Asset struct {
	// Address is the token contract address (EVM) or mint address (Solana).
	Address string `json:"address"`

	// Decimals is the token's decimal precision.
	Decimals int `json:"decimals"`
}

// Price is the nominal price of a protected resource: an amount in the
// asset's smallest unit. Amounts are always integer strings; there is no
// floating point anywhere in the payment path.
type Price struct {
	// Amount is the price in atomic units (e.g. "2500000" for 2.5 USDC).
	Amount string

	// Asset is the token the price is denominated in.
	Asset Asset
}

// PaymentRequirements describes one payment option a server will accept.
// It is immutable once issued and deterministically reproducible from
// (price, resource, network), so a challenge can be regenerated on retry
// without server-side session state.
type PaymentRequirements struct {
	// Amount is the required payment in atomic units.
	Amount string `json:"amount"`

	// Asset is the token the payment must use.
	Asset Asset `json:"asset"`

	// Network is the blockchain network in CAIP-2 format (e.g. "eip155:8453").
	Network string `json:"network"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// Description is an optional human-readable description.
	Description string `json:"description,omitempty"`

	// Resource is the absolute URI of the protected resource.
	Resource string `json:"resource"`

	// ExpiresAt is an optional deadline after which the challenge is void.
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// PaymentRequired is the 402 response body sent by resource servers.
// A body with Accepts present means "pay"; a body without Accepts means a
// submitted payment was rejected.
type PaymentRequired struct {
	// Error is a human-readable error message.
	Error string `json:"error"`

	// Accepts lists the payment options the server will accept.
	Accepts []PaymentRequirements `json:"accepts,omitempty"`
}

// PaymentProof is the client-supplied evidence that payment was made:
// the identifier of an on-chain transaction.
type PaymentProof struct {
	// TxID is the transaction signature (Solana) or hash (EVM).
	TxID string `json:"txId"`
}

// RejectReason is a short code explaining why verification rejected a proof.
type RejectReason string

const (
	// RejectNotFound means the transaction identifier did not resolve on the
	// network within the bounded wait.
	RejectNotFound RejectReason = "not-found"

	// RejectWrongAsset means the resolved transfer used a different token.
	RejectWrongAsset RejectReason = "wrong-asset"

	// RejectWrongNetwork means the proof targets a different network.
	RejectWrongNetwork RejectReason = "wrong-network"

	// RejectWrongPayee means the transfer did not pay the required recipient.
	RejectWrongPayee RejectReason = "wrong-payee"

	// RejectInsufficientAmount means the transfer moved less than required.
	RejectInsufficientAmount RejectReason = "insufficient-amount"

	// RejectUnconfirmed means the transaction has not reached the configured
	// confirmation depth.
	RejectUnconfirmed RejectReason = "insufficient-confirmations"

	// RejectTxFailed means the transaction executed but failed on-chain.
	RejectTxFailed RejectReason = "transaction-failed"
)

// VerificationResult is the outcome of checking a proof against requirements.
// It is created per verification attempt and never persisted.
type VerificationResult struct {
	// Verified reports whether every field of the resolved transfer matched
	// the requirements exactly (amount equal or greater, never less).
	Verified bool `json:"verified"`

	// Reason is set when Verified is false.
	Reason RejectReason `json:"reason,omitempty"`

	// Payer is the resolved source address of the transfer.
	Payer string `json:"payer,omitempty"`

	// Amount is the resolved transfer amount in atomic units.
	Amount string `json:"amount,omitempty"`

	// Asset is the resolved token.
	Asset Asset `json:"asset,omitempty"`

	// Network is the network the transfer was resolved on.
	Network string `json:"network,omitempty"`
}

// SettlementReceipt records that a verified payment has been consumed.
// It is returned to the client in the X-402-Payment-Response header.
type SettlementReceipt struct {
	// Success reports whether settlement completed.
	Success bool `json:"success"`

	// ErrorReason is a short error code when Success is false.
	ErrorReason string `json:"errorReason,omitempty"`

	// Transaction is the settled transaction identifier.
	Transaction string `json:"transaction"`

	// Network is the network the payment settled on (CAIP-2 format).
	Network string `json:"network"`

	// Payer is the address that made the payment.
	Payer string `json:"payer,omitempty"`
}

// ParseAmount parses an atomic-unit amount string into a *big.Int.
// Only base-10 integers are accepted; negative amounts are rejected.
// Returns ErrInvalidAmount otherwise.
func ParseAmount(amount string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, ErrInvalidAmount
	}
	if value.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	return value, nil
}

// FormatAmount renders an atomic-unit value as a decimal string for display.
// For example, 2500000 with 6 decimals becomes "2.500000".
func FormatAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}

	rat := new(big.Rat).SetInt(value)
	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	rat.Quo(rat, scale)

	return rat.FloatString(decimals)
}
