// Package http provides the HTTP server and client sides of the x402 payment
// flow: a gate middleware that charges for handlers, a facilitator client,
// and a RoundTripper that pays 402 challenges automatically.
package http

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	x402 "github.com/0xDeepanshu/solanax402"
	"github.com/0xDeepanshu/solanax402/facilitator"
	"github.com/0xDeepanshu/solanax402/http/internal/helpers"
	"github.com/0xDeepanshu/solanax402/ledger"
)

// GateConfig holds the configuration for a payment gate.
type GateConfig struct {
	// Builders produce the payment options offered in 402 challenges, in
	// server preference order. At least one is required.
	Builders []*x402.RequirementBuilder

	// Facilitator verifies and settles payment proofs. Required.
	Facilitator facilitator.Interface

	// Ledger tracks claimed proofs. Defaults to an in-memory ledger, which
	// does not survive restarts.
	Ledger ledger.Ledger

	// VerifyOnly skips facilitator settlement; verified proofs are still
	// claimed and marked settled in the ledger.
	VerifyOnly bool

	// AllowOrigin is the CORS allow-origin value. Defaults to "*".
	AllowOrigin string

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// Gate authorizes requests against payment proofs and commits settlement at
// the moment the protected handler succeeds. The stdlib middleware and the
// gin and echo adapters all drive this one state machine.
type Gate struct {
	builders    []*x402.RequirementBuilder
	facilitator facilitator.Interface
	ledger      ledger.Ledger
	verifyOnly  bool
	allowOrigin string
	logger      *slog.Logger
}

// Authorization is the outcome of a successful Authorize call: a verified,
// claimed proof waiting for the handler to succeed.
type Authorization struct {
	// Proof is the claimed payment proof.
	Proof x402.PaymentProof

	// Requirements is the payment option the proof satisfied.
	Requirements x402.PaymentRequirements

	// Result is the verification outcome.
	Result *x402.VerificationResult
}

// NewGate creates a payment gate.
func NewGate(config GateConfig) (*Gate, error) {
	if len(config.Builders) == 0 {
		return nil, errors.New("x402: gate needs at least one requirement builder")
	}
	if config.Facilitator == nil {
		return nil, errors.New("x402: gate needs a facilitator")
	}

	g := &Gate{
		builders:    config.Builders,
		facilitator: config.Facilitator,
		ledger:      config.Ledger,
		verifyOnly:  config.VerifyOnly,
		allowOrigin: config.AllowOrigin,
		logger:      config.Logger,
	}
	if g.ledger == nil {
		g.ledger = ledger.NewMemoryLedger()
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}

	return g, nil
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PaymentContextKey is the context key for storing verified payment information.
const PaymentContextKey = contextKey("x402_payment")

// GetVerificationFromContext extracts the verification result stored by the
// gate. Returns nil if the request was not payment-gated.
func GetVerificationFromContext(ctx context.Context) *x402.VerificationResult {
	value := ctx.Value(PaymentContextKey)
	if value == nil {
		return nil
	}
	result, ok := value.(*x402.VerificationResult)
	if !ok {
		return nil
	}
	return result
}

// buildAccepts regenerates the challenge for the resource. Builders are pure,
// so the same resource always yields the same challenge with no server-side
// session state.
func (g *Gate) buildAccepts(resource string) ([]x402.PaymentRequirements, error) {
	accepts := make([]x402.PaymentRequirements, 0, len(g.builders))
	for _, b := range g.builders {
		req, err := b.Build(resource)
		if err != nil {
			return nil, err
		}
		accepts = append(accepts, req)
	}
	return accepts, nil
}

// Authorize runs the pre-handler half of the gate: CORS, proof extraction,
// verification, and the ledger claim. When it returns nil the response has
// already been written and the handler must not run. A non-nil Authorization
// means the proof is verified and claimed; the caller must route the
// handler's outcome through Commit.
func (g *Gate) Authorize(w http.ResponseWriter, r *http.Request) *Authorization {
	helpers.WriteCORS(w, g.allowOrigin)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	resource := helpers.BuildResourceURL(r)
	accepts, err := g.buildAccepts(resource)
	if err != nil {
		g.logger.Error("failed to build payment requirements", "resource", resource, "error", err)
		if err := helpers.SendInternalError(w, "Failed to process request", err.Error()); err != nil {
			g.logger.Error("failed to send error response", "error", err)
		}
		return nil
	}

	proof, err := helpers.ExtractProof(r)
	if err != nil {
		g.logger.Warn("malformed payment proof", "path", r.URL.Path, "error", err)
		if err := helpers.SendPaymentRejected(w); err != nil {
			g.logger.Error("failed to send rejection response", "error", err)
		}
		return nil
	}
	if proof == nil {
		g.logger.Info("no payment proof provided", "path", r.URL.Path)
		if err := helpers.SendPaymentRequired(w, accepts, "Payment required"); err != nil {
			g.logger.Error("failed to send payment required response", "error", err)
		}
		return nil
	}

	// The client does not say which option it paid; try each in server
	// preference order.
	var result *x402.VerificationResult
	var matched x402.PaymentRequirements
	for _, req := range accepts {
		res, err := g.facilitator.Verify(r.Context(), *proof, req)
		if err != nil {
			g.logger.Error("payment verification failed", "txid", proof.TxID, "error", err)
			if err := helpers.SendInternalError(w, "Payment verification failed", err.Error()); err != nil {
				g.logger.Error("failed to send error response", "error", err)
			}
			return nil
		}
		if res.Verified {
			result = res
			matched = req
			break
		}
		result = res
	}

	if result == nil || !result.Verified {
		reason := x402.RejectReason("")
		if result != nil {
			reason = result.Reason
		}
		g.logger.Warn("payment rejected", "txid", proof.TxID, "reason", reason)
		if err := helpers.SendPaymentRejected(w); err != nil {
			g.logger.Error("failed to send rejection response", "error", err)
		}
		return nil
	}

	outcome, err := g.ledger.TryClaim(r.Context(), proof.TxID, ledger.Record{
		Resource: matched.Resource,
		Payer:    result.Payer,
		Amount:   result.Amount,
		Network:  result.Network,
	})
	if err != nil {
		g.logger.Error("ledger claim failed", "txid", proof.TxID, "error", err)
		if err := helpers.SendInternalError(w, "Failed to process payment", err.Error()); err != nil {
			g.logger.Error("failed to send error response", "error", err)
		}
		return nil
	}
	if outcome != ledger.Claimed {
		g.logger.Warn("payment proof already claimed", "txid", proof.TxID)
		if err := helpers.SendPaymentRejected(w); err != nil {
			g.logger.Error("failed to send rejection response", "error", err)
		}
		return nil
	}

	g.logger.Info("payment verified and claimed",
		"txid", proof.TxID, "payer", result.Payer, "amount", result.Amount, "network", result.Network)

	return &Authorization{
		Proof:        *proof,
		Requirements: matched,
		Result:       result,
	}
}

// Commit runs the post-handler half of the gate at the moment the handler
// first writes a response. For success statuses it settles the payment and
// marks the claim settled; for error statuses it releases the claim so the
// client can retry with the same transaction. It reports whether the
// handler's response may proceed; on false the error response has already
// been written.
func (g *Gate) Commit(ctx context.Context, w http.ResponseWriter, auth *Authorization, statusCode int) bool {
	txid := auth.Proof.TxID

	if statusCode >= 400 {
		g.logger.Warn("handler failed, releasing payment claim", "txid", txid, "status", statusCode)
		if err := g.ledger.MarkFailed(ctx, txid); err != nil {
			g.logger.Error("failed to release claim", "txid", txid, "error", err)
		}
		return true
	}

	if g.verifyOnly {
		if err := g.ledger.MarkSettled(ctx, txid); err != nil {
			g.logger.Error("failed to mark claim settled", "txid", txid, "error", err)
		}
		return true
	}

	receipt, err := g.facilitator.Settle(ctx, auth.Proof, auth.Requirements)
	if err != nil {
		g.logger.Error("settlement failed", "txid", txid, "error", err)
		if err := g.ledger.MarkFailed(ctx, txid); err != nil {
			g.logger.Error("failed to release claim", "txid", txid, "error", err)
		}
		if err := helpers.SendInternalError(w, "Payment settlement failed", err.Error()); err != nil {
			g.logger.Error("failed to send error response", "error", err)
		}
		return false
	}

	if !receipt.Success {
		g.logger.Warn("settlement unsuccessful", "txid", txid, "reason", receipt.ErrorReason)
		if err := g.ledger.MarkFailed(ctx, txid); err != nil {
			g.logger.Error("failed to release claim", "txid", txid, "error", err)
		}
		if err := helpers.SendPaymentRejected(w); err != nil {
			g.logger.Error("failed to send rejection response", "error", err)
		}
		return false
	}

	if err := g.ledger.MarkSettled(ctx, txid); err != nil {
		g.logger.Error("failed to mark claim settled", "txid", txid, "error", err)
	}

	g.logger.Info("payment settled", "txid", txid, "transaction", receipt.Transaction)

	if err := helpers.AddReceiptHeader(w, receipt); err != nil {
		// The payment went through; a missing receipt header is not worth
		// failing the response over.
		g.logger.Warn("failed to add receipt header", "error", err)
	}
	return true
}

// NewSettlementWriter wraps a ResponseWriter so that the handler's first
// write triggers Commit for the given authorization. Framework adapters use
// this to reuse the gate's commit logic.
func (g *Gate) NewSettlementWriter(ctx context.Context, w http.ResponseWriter, auth *Authorization) http.ResponseWriter {
	return &settlementInterceptor{
		w: w,
		commit: func(statusCode int) bool {
			return g.Commit(ctx, w, auth, statusCode)
		},
	}
}

// Middleware wraps an http.Handler with the payment gate.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := g.Authorize(w, r)
		if auth == nil {
			return
		}

		ctx := context.WithValue(r.Context(), PaymentContextKey, auth.Result)
		r = r.WithContext(ctx)

		interceptor := &settlementInterceptor{
			w: w,
			commit: func(statusCode int) bool {
				return g.Commit(r.Context(), w, auth, statusCode)
			},
		}
		next.ServeHTTP(interceptor, r)
	})
}

// settlementInterceptor wraps the ResponseWriter to intercept the moment of
// commitment: the handler's first WriteHeader (or Write).
type settlementInterceptor struct {
	w http.ResponseWriter
	// commit runs settlement and reports whether the handler's response may
	// proceed.
	commit    func(statusCode int) bool
	committed bool
	hijacked  bool
}

func (i *settlementInterceptor) Header() http.Header {
	return i.w.Header()
}

func (i *settlementInterceptor) Write(b []byte) (int, error) {
	// A Write without WriteHeader implies 200 OK; the commit check must run
	// now.
	if !i.committed {
		i.WriteHeader(http.StatusOK)
	}

	// If settlement failed the commit callback already wrote an error
	// response. Silently discard the handler's payload to prevent mixed
	// responses.
	if i.hijacked {
		return len(b), nil
	}

	return i.w.Write(b)
}

func (i *settlementInterceptor) WriteHeader(statusCode int) {
	if i.committed {
		return
	}
	i.committed = true

	if !i.commit(statusCode) {
		i.hijacked = true
		return
	}

	i.w.WriteHeader(statusCode)
}

// Flush implements http.Flusher to support streaming responses.
func (i *settlementInterceptor) Flush() {
	if flusher, ok := i.w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker to support connection hijacking.
func (i *settlementInterceptor) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := i.w.(http.Hijacker); ok {
		// Settle before handing over the connection (e.g. WebSocket
		// upgrades).
		if !i.committed {
			i.committed = true
			if !i.commit(http.StatusOK) {
				i.hijacked = true
				return nil, nil, errors.New("payment settlement failed")
			}
		}
		return hijacker.Hijack()
	}
	return nil, nil, errors.New("hijacking not supported")
}

// Push implements http.Pusher to support HTTP/2 server push.
func (i *settlementInterceptor) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := i.w.(http.Pusher); ok {
		return pusher.Push(target, opts)
	}
	return http.ErrNotSupported
}
