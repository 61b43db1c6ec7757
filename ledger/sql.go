package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// mysqlDuplicateEntry is the MySQL error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// Schema is the table the SQL ledger expects. The unique key on proof is what
// makes TryClaim atomic under concurrent requests.
const Schema = `
CREATE TABLE IF NOT EXISTS payment_claims (
    id         CHAR(36)     NOT NULL,
    proof      VARCHAR(128) NOT NULL,
    resource   VARCHAR(512) NOT NULL,
    payer      VARCHAR(64)  NOT NULL DEFAULT '',
    amount     VARCHAR(64)  NOT NULL DEFAULT '',
    network    VARCHAR(64)  NOT NULL DEFAULT '',
    status     VARCHAR(16)  NOT NULL,
    claimed_at TIMESTAMP    NOT NULL,
    updated_at TIMESTAMP    NOT NULL,
    PRIMARY KEY (id),
    UNIQUE KEY uniq_proof (proof)
)`

// SQLLedger is a Ledger backed by MySQL. It is safe for concurrent use and
// keeps claims across process restarts, so a settled proof stays consumed
// even after a redeploy.
type SQLLedger struct {
	db *sql.DB
}

// NewSQLLedger wraps an open database handle. The caller owns the handle and
// is responsible for closing it.
func NewSQLLedger(db *sql.DB) *SQLLedger {
	return &SQLLedger{db: db}
}

// Init creates the claims table if it does not exist.
func (l *SQLLedger) Init(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ledger: create table: %w", err)
	}
	return nil
}

// TryClaim implements Ledger. The insert races on the unique proof key; the
// loser of the race observes a duplicate entry error and then attempts to
// take over a failed claim for the same resource.
func (l *SQLLedger) TryClaim(ctx context.Context, proof string, rec Record) (ClaimOutcome, error) {
	now := time.Now().UTC()

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO payment_claims (id, proof, resource, payer, amount, network, status, claimed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), proof, rec.Resource, rec.Payer, rec.Amount, rec.Network, StatusPending, now, now)
	if err == nil {
		return Claimed, nil
	}

	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) || mysqlErr.Number != mysqlDuplicateEntry {
		return AlreadyClaimed, fmt.Errorf("ledger: insert claim: %w", err)
	}

	// The proof is already recorded. Reclaim it only if the previous
	// attempt failed and it was presented for the same resource.
	res, err := l.db.ExecContext(ctx,
		`UPDATE payment_claims
		 SET status = ?, payer = ?, amount = ?, network = ?, updated_at = ?
		 WHERE proof = ? AND resource = ? AND status = ?`,
		StatusPending, rec.Payer, rec.Amount, rec.Network, now, proof, rec.Resource, StatusFailed)
	if err != nil {
		return AlreadyClaimed, fmt.Errorf("ledger: reclaim: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return AlreadyClaimed, fmt.Errorf("ledger: reclaim rows: %w", err)
	}
	if affected == 0 {
		return AlreadyClaimed, nil
	}
	return Claimed, nil
}

// MarkSettled implements Ledger.
func (l *SQLLedger) MarkSettled(ctx context.Context, proof string) error {
	return l.mark(ctx, proof, StatusSettled)
}

// MarkFailed implements Ledger.
func (l *SQLLedger) MarkFailed(ctx context.Context, proof string) error {
	return l.mark(ctx, proof, StatusFailed)
}

func (l *SQLLedger) mark(ctx context.Context, proof string, status Status) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE payment_claims SET status = ?, updated_at = ? WHERE proof = ?`,
		status, time.Now().UTC(), proof)
	if err != nil {
		return fmt.Errorf("ledger: mark %s: %w", status, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: mark %s rows: %w", status, err)
	}
	if affected == 0 {
		return ErrUnknownProof
	}
	return nil
}
