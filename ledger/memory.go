package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger is an in-process Ledger backed by a mutex-guarded map.
// Claims do not survive a restart; use SQLLedger when replay protection must
// hold across process lifetimes.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records: make(map[string]*Record),
	}
}

// TryClaim implements Ledger.
func (l *MemoryLedger) TryClaim(_ context.Context, proof string, rec Record) (ClaimOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()

	existing, ok := l.records[proof]
	if !ok {
		stored := rec
		stored.ID = uuid.NewString()
		stored.Proof = proof
		stored.Status = StatusPending
		stored.ClaimedAt = now
		stored.UpdatedAt = now
		l.records[proof] = &stored
		return Claimed, nil
	}

	// A failed claim is reclaimable, but only for the resource it was
	// originally presented for.
	if existing.Status == StatusFailed && existing.Resource == rec.Resource {
		existing.Status = StatusPending
		existing.Payer = rec.Payer
		existing.Amount = rec.Amount
		existing.Network = rec.Network
		existing.UpdatedAt = now
		return Claimed, nil
	}

	return AlreadyClaimed, nil
}

// MarkSettled implements Ledger.
func (l *MemoryLedger) MarkSettled(_ context.Context, proof string) error {
	return l.mark(proof, StatusSettled)
}

// MarkFailed implements Ledger.
func (l *MemoryLedger) MarkFailed(_ context.Context, proof string) error {
	return l.mark(proof, StatusFailed)
}

func (l *MemoryLedger) mark(proof string, status Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[proof]
	if !ok {
		return ErrUnknownProof
	}

	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// Get returns a copy of the record for a proof, if present. It exists for
// inspection in tests and diagnostics.
func (l *MemoryLedger) Get(proof string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[proof]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}
