package http

import (
	"net/http"
	"sync"
	"time"

	x402 "github.com/0xDeepanshu/solanax402"
	"github.com/0xDeepanshu/solanax402/http/internal/helpers"
	"github.com/0xDeepanshu/solanax402/validation"
)

// PaymentTransport is a RoundTripper that completes x402 payment flows. It
// wraps an existing http.RoundTripper; when a request draws a 402 challenge
// it pays on-chain with one of its payers and retries the request with the
// transaction identifier as proof.
type PaymentTransport struct {
	// Base is the underlying RoundTripper (typically http.DefaultTransport).
	Base http.RoundTripper

	// Payers is the list of available payers. The first payer able to
	// satisfy a challenge entry wins, in the server's preference order.
	Payers []x402.Payer

	// OnPaymentAttempt is called when a payment attempt is made.
	OnPaymentAttempt x402.PaymentCallback

	// OnPaymentSuccess is called when a payment succeeds.
	OnPaymentSuccess x402.PaymentCallback

	// OnPaymentFailure is called when a payment fails.
	OnPaymentFailure x402.PaymentCallback

	// inflight guards against concurrent duplicate spends on the same
	// resource.
	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// RoundTrip implements http.RoundTripper. It makes the initial request, and
// if a 402 Payment Required response is received, it pays on-chain and
// retries the request with proof.
func (t *PaymentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	// Clone the request to avoid modifying the original
	reqCopy := req.Clone(req.Context())

	resp, err := base.RoundTrip(reqCopy)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	paymentReq, err := helpers.ParsePaymentRequired(resp)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	resp.Body.Close()

	requirement, payer, err := x402.SelectRequirement(t.Payers, paymentReq.Accepts)
	if err != nil {
		return nil, err
	}

	// Never pay against a challenge the server could not legitimately have
	// issued.
	if err := validation.ValidatePaymentRequirements(*requirement); err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "rejecting payment challenge", err)
	}

	resource := requirement.Resource
	if !t.claimInflight(resource) {
		return nil, x402.NewPaymentError(x402.ErrCodePaymentInFlight, "payment already in flight", x402.ErrPaymentInFlight).
			WithDetails("resource", resource)
	}
	defer t.releaseInflight(resource)

	startTime := time.Now()

	if t.OnPaymentAttempt != nil {
		t.OnPaymentAttempt(x402.PaymentEvent{
			Type:      x402.PaymentEventAttempt,
			Timestamp: startTime,
			URL:       req.URL.String(),
			Amount:    requirement.Amount,
			Asset:     requirement.Asset.Address,
			Network:   requirement.Network,
			Recipient: requirement.PayTo,
		})
	}

	proof, err := payer.Pay(req.Context(), requirement)
	if err != nil {
		if t.OnPaymentFailure != nil {
			t.OnPaymentFailure(x402.PaymentEvent{
				Type:      x402.PaymentEventFailure,
				Timestamp: time.Now(),
				URL:       req.URL.String(),
				Amount:    requirement.Amount,
				Asset:     requirement.Asset.Address,
				Network:   requirement.Network,
				Recipient: requirement.PayTo,
				Error:     err,
				Duration:  time.Since(startTime),
			})
		}
		return nil, x402.NewPaymentError(x402.ErrCodePaymentFailed, "payment failed", err)
	}

	// Clone again for the retry; bodies are single-use, so replay requires
	// GetBody (set automatically for byte and string readers).
	reqRetry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, x402.NewPaymentError(x402.ErrCodePaymentFailed, "failed to replay request body", err)
		}
		reqRetry.Body = body
	}
	reqRetry.Header.Set(helpers.ProofHeader, proof.TxID)

	respRetry, err := base.RoundTrip(reqRetry)
	duration := time.Since(startTime)

	if err != nil {
		if t.OnPaymentFailure != nil {
			t.OnPaymentFailure(x402.PaymentEvent{
				Type:        x402.PaymentEventFailure,
				Timestamp:   time.Now(),
				URL:         req.URL.String(),
				Transaction: proof.TxID,
				Error:       err,
				Duration:    duration,
			})
		}
		return nil, err
	}

	receipt := helpers.ParseReceipt(respRetry.Header.Get(helpers.ReceiptHeader))
	if receipt != nil && receipt.Success && t.OnPaymentSuccess != nil {
		t.OnPaymentSuccess(x402.PaymentEvent{
			Type:        x402.PaymentEventSuccess,
			Timestamp:   time.Now(),
			URL:         req.URL.String(),
			Amount:      requirement.Amount,
			Asset:       requirement.Asset.Address,
			Network:     requirement.Network,
			Recipient:   requirement.PayTo,
			Transaction: receipt.Transaction,
			Payer:       receipt.Payer,
			Duration:    duration,
		})
	}

	return respRetry, nil
}

func (t *PaymentTransport) claimInflight(resource string) bool {
	t.inflightMu.Lock()
	defer t.inflightMu.Unlock()

	if t.inflight == nil {
		t.inflight = make(map[string]struct{})
	}
	if _, busy := t.inflight[resource]; busy {
		return false
	}
	t.inflight[resource] = struct{}{}
	return true
}

func (t *PaymentTransport) releaseInflight(resource string) {
	t.inflightMu.Lock()
	defer t.inflightMu.Unlock()
	delete(t.inflight, resource)
}
