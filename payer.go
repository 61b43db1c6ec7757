package x402

import "context"

// Payer builds, submits, and confirms an on-chain transfer that satisfies
// payment requirements, returning the transaction identifier as proof.
// Implementations wrap a specific chain's wallet and RPC stack; callers treat
// them as an opaque capability.
type Payer interface {
	// Network returns the CAIP-2 network identifier this payer spends on.
	Network() string

	// Supports reports whether this payer can satisfy the given requirements
	// (network and asset match the payer's configuration).
	Supports(requirements *PaymentRequirements) bool

	// Pay submits a single transfer for exactly the required amount and
	// blocks until the network reports the configured confirmation depth,
	// bounded by the context deadline. It must not be called concurrently
	// for the same pending payment; callers guard against duplicate spends.
	Pay(ctx context.Context, requirements *PaymentRequirements) (*PaymentProof, error)
}
