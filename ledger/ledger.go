// Package ledger records settlement claims on payment proofs so that each
// on-chain transaction grants access exactly once.
//
// The gate claims a proof before invoking the protected handler. A claim that
// later fails settlement is released back to claimable so the client can retry
// with the same transaction; settled claims stay consumed forever.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a claimed proof.
type Status string

const (
	// StatusPending means the proof is claimed but settlement has not
	// completed. A pending proof cannot be claimed again.
	StatusPending Status = "pending"

	// StatusSettled means the proof was consumed by a successful request.
	StatusSettled Status = "settled"

	// StatusFailed means the request that claimed the proof failed before
	// settlement. A failed proof may be claimed again.
	StatusFailed Status = "failed"
)

// ClaimOutcome reports the result of a TryClaim call.
type ClaimOutcome int

const (
	// Claimed means the caller won the claim and owns the proof for the
	// duration of the request.
	Claimed ClaimOutcome = iota

	// AlreadyClaimed means another request holds or has consumed the proof.
	AlreadyClaimed
)

// Record is the stored state of a claimed proof.
type Record struct {
	// ID uniquely identifies this claim attempt.
	ID string

	// Proof is the on-chain transaction identifier.
	Proof string

	// Resource is the protected resource the proof was presented for.
	Resource string

	// Payer is the address that funded the payment, when known.
	Payer string

	// Amount is the verified transfer amount in atomic units.
	Amount string

	// Network is the CAIP-2 network the transaction settled on.
	Network string

	// Status is the claim lifecycle state.
	Status Status

	// ClaimedAt is when the proof was first claimed.
	ClaimedAt time.Time

	// UpdatedAt is when the record last changed state.
	UpdatedAt time.Time
}

// ErrUnknownProof is returned when marking a proof that was never claimed.
var ErrUnknownProof = errors.New("ledger: unknown proof")

// Ledger is the claim store behind the payment gate.
//
// TryClaim must be atomic: when two requests race on the same proof, exactly
// one observes Claimed.
type Ledger interface {
	// TryClaim atomically claims the proof for the given resource. It
	// returns Claimed when the caller won the claim, including the case
	// where a previous claim on the same proof and resource ended in
	// StatusFailed. It returns AlreadyClaimed when the proof is pending or
	// settled, or when it was claimed for a different resource.
	TryClaim(ctx context.Context, proof string, rec Record) (ClaimOutcome, error)

	// MarkSettled transitions a pending claim to settled.
	MarkSettled(ctx context.Context, proof string) error

	// MarkFailed transitions a pending claim to failed, releasing the
	// proof for a future claim on the same resource.
	MarkFailed(ctx context.Context, proof string) error
}
