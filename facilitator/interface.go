// Package facilitator defines the contract for payment verification and
// settlement.
//
// A facilitator resolves a client's payment proof against the blockchain and
// confirms it satisfies the server's requirements. Implementations either
// query the network directly (the solana and evm packages) or delegate to a
// remote facilitator service over HTTP (the http package's FacilitatorClient).
package facilitator

import (
	"context"

	x402 "github.com/0xDeepanshu/solanax402"
)

// Interface is the trust anchor the payment gate verifies and settles through.
type Interface interface {
	// Verify resolves the proof's transaction identifier and checks that a
	// matching, sufficiently confirmed transfer to the required payee
	// occurred. A proof that fails any check yields a rejected result, not
	// an error; errors are reserved for the network being unreachable.
	// Verify does not consult claim state; that is the ledger's job.
	Verify(ctx context.Context, proof x402.PaymentProof, requirements x402.PaymentRequirements) (*x402.VerificationResult, error)

	// Settle finalizes a verified payment and produces a receipt.
	// It should only be called after successful verification.
	Settle(ctx context.Context, proof x402.PaymentProof, requirements x402.PaymentRequirements) (*x402.SettlementReceipt, error)
}

// VerifyRequest is the request payload sent to POST /verify.
type VerifyRequest struct {
	// Proof is the transaction identifier supplied by the client.
	Proof string `json:"proof"`

	// PaymentRequirements is the payment option the proof must satisfy.
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

// SettleRequest is the request payload sent to POST /settle.
type SettleRequest struct {
	// Proof is the transaction identifier supplied by the client.
	Proof string `json:"proof"`

	// PaymentRequirements is the payment option the proof satisfied.
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}
