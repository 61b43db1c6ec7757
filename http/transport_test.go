package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	x402 "github.com/0xDeepanshu/solanax402"
	"github.com/0xDeepanshu/solanax402/http/internal/helpers"
	"github.com/0xDeepanshu/solanax402/ledger"
)

// fakePayer satisfies challenges for a fixed network and asset by returning a
// canned proof. Pay can be made to block or fail for concurrency tests.
type fakePayer struct {
	network  string
	asset    string
	proof    string
	payErr   error
	started  chan struct{}
	release  chan struct{}
	payCalls int
	mu       sync.Mutex
}

func (p *fakePayer) Network() string { return p.network }

func (p *fakePayer) Supports(req *x402.PaymentRequirements) bool {
	return req.Network == p.network && req.Asset.Address == p.asset
}

func (p *fakePayer) Pay(ctx context.Context, req *x402.PaymentRequirements) (*x402.PaymentProof, error) {
	p.mu.Lock()
	p.payCalls++
	p.mu.Unlock()

	if p.started != nil {
		close(p.started)
		p.started = nil
	}
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if p.payErr != nil {
		return nil, p.payErr
	}
	return &x402.PaymentProof{TxID: p.proof}, nil
}

func (p *fakePayer) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.payCalls
}

func newFakePayer() *fakePayer {
	return &fakePayer{
		network: x402.NetworkSolanaDevnet,
		asset:   testMint,
		proof:   goodProof,
	}
}

// paywalledServer returns a 402 challenge until the expected proof arrives,
// then serves the resource with a receipt header.
func paywalledServer(t *testing.T, expectProof string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resource := "http://" + r.Host + r.URL.Path

		if r.Header.Get(helpers.ProofHeader) != expectProof {
			challenge := []x402.PaymentRequirements{{
				Amount:   "2500000",
				Asset:    x402.Asset{Address: testMint, Decimals: 6},
				Network:  x402.NetworkSolanaDevnet,
				PayTo:    testPayee,
				Resource: resource,
			}}
			if err := helpers.SendPaymentRequired(w, challenge, "Payment required"); err != nil {
				t.Errorf("sending challenge: %v", err)
			}
			return
		}

		body, _ := io.ReadAll(r.Body)
		if err := helpers.AddReceiptHeader(w, &x402.SettlementReceipt{
			Success:     true,
			Transaction: expectProof,
			Network:     x402.NetworkSolanaDevnet,
			Payer:       testPayer,
		}); err != nil {
			t.Errorf("adding receipt header: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}))
}

func TestTransportPassesThroughNon402(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "free")
	}))
	defer server.Close()

	payer := newFakePayer()
	client := &http.Client{Transport: &PaymentTransport{Payers: []x402.Payer{payer}}}

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if payer.calls() != 0 {
		t.Errorf("pay calls = %d, want 0 for a free resource", payer.calls())
	}
}

func TestTransportPaysAndRetries(t *testing.T) {
	server := paywalledServer(t, goodProof)
	defer server.Close()

	payer := newFakePayer()
	client := &http.Client{Transport: &PaymentTransport{Payers: []x402.Payer{payer}}}

	resp, err := client.Post(server.URL+"/api/try", "application/json", bytes.NewBufferString(`{"q":"hello"}`))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if payer.calls() != 1 {
		t.Errorf("pay calls = %d, want 1", payer.calls())
	}

	// The retried request must replay the original body.
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"q":"hello"}` {
		t.Errorf("replayed body = %q", string(body))
	}

	receipt := helpers.ParseReceipt(resp.Header.Get(helpers.ReceiptHeader))
	if receipt == nil || !receipt.Success {
		t.Fatalf("missing receipt: %+v", receipt)
	}
	if receipt.Transaction != goodProof {
		t.Errorf("receipt transaction = %q, want %q", receipt.Transaction, goodProof)
	}
}

func TestTransportAgainstRealGate(t *testing.T) {
	fac := &fakeFacilitator{results: map[string]*x402.VerificationResult{goodProof: verifiedResult()}}

	gate, err := NewGate(GateConfig{
		Builders:    []*x402.RequirementBuilder{testBuilder(t)},
		Facilitator: fac,
		Ledger:      ledger.NewMemoryLedger(),
	})
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}

	server := httptest.NewServer(gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "paid content"})
	})))
	defer server.Close()

	payer := newFakePayer()
	client := &http.Client{Transport: &PaymentTransport{Payers: []x402.Payer{payer}}}

	resp, err := client.Get(server.URL + "/api/try")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 200, body: %s", resp.StatusCode, body)
	}
	if payer.calls() != 1 {
		t.Errorf("pay calls = %d, want 1", payer.calls())
	}
	if fac.settleCalls != 1 {
		t.Errorf("settle calls = %d, want 1", fac.settleCalls)
	}
	if receipt := helpers.ParseReceipt(resp.Header.Get(helpers.ReceiptHeader)); receipt == nil {
		t.Error("missing receipt header")
	}
}

func TestTransportRejectsUnsupportedChallenge(t *testing.T) {
	server := paywalledServer(t, goodProof)
	defer server.Close()

	// Payer on the wrong network; no challenge entry matches.
	payer := &fakePayer{network: "eip155:8453", asset: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", proof: goodProof}
	client := &http.Client{Transport: &PaymentTransport{Payers: []x402.Payer{payer}}}

	_, err := client.Get(server.URL)
	if err == nil {
		t.Fatal("expected error for unsupported challenge")
	}
	if !errors.Is(err, x402.ErrNoValidPayer) {
		t.Errorf("error = %v, want ErrNoValidPayer", err)
	}
	if payer.calls() != 0 {
		t.Errorf("pay calls = %d, want 0", payer.calls())
	}
}

func TestTransportRejectsMalformedChallenge(t *testing.T) {
	// A challenge whose resource is not an absolute URI must never be paid.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		challenge := []x402.PaymentRequirements{{
			Amount:   "2500000",
			Asset:    x402.Asset{Address: testMint, Decimals: 6},
			Network:  x402.NetworkSolanaDevnet,
			PayTo:    testPayee,
			Resource: "/api/try",
		}}
		helpers.SendPaymentRequired(w, challenge, "Payment required")
	}))
	defer server.Close()

	payer := newFakePayer()
	client := &http.Client{Transport: &PaymentTransport{Payers: []x402.Payer{payer}}}

	_, err := client.Get(server.URL)
	if err == nil {
		t.Fatal("expected error for malformed challenge")
	}

	var paymentErr *x402.PaymentError
	if !errors.As(err, &paymentErr) || paymentErr.Code != x402.ErrCodeInvalidRequirements {
		t.Errorf("error = %v, want PaymentError with INVALID_REQUIREMENTS", err)
	}
	if payer.calls() != 0 {
		t.Errorf("pay calls = %d, want 0 against a malformed challenge", payer.calls())
	}
}

func TestTransportSurfacesPaymentFailure(t *testing.T) {
	server := paywalledServer(t, goodProof)
	defer server.Close()

	payer := newFakePayer()
	payer.payErr = x402.ErrConfirmationTimeout

	var failure *x402.PaymentEvent
	transport := &PaymentTransport{
		Payers: []x402.Payer{payer},
		OnPaymentFailure: func(e x402.PaymentEvent) {
			failure = &e
		},
	}
	client := &http.Client{Transport: transport}

	_, err := client.Get(server.URL)
	if err == nil {
		t.Fatal("expected error when payment fails")
	}
	if !errors.Is(err, x402.ErrConfirmationTimeout) {
		t.Errorf("error = %v, want wrapped ErrConfirmationTimeout", err)
	}
	if failure == nil {
		t.Fatal("failure callback not invoked")
	}
	if failure.Type != x402.PaymentEventFailure {
		t.Errorf("event type = %q", failure.Type)
	}
}

func TestTransportEmitsLifecycleEvents(t *testing.T) {
	server := paywalledServer(t, goodProof)
	defer server.Close()

	var events []x402.PaymentEventType
	var mu sync.Mutex
	record := func(e x402.PaymentEvent) {
		mu.Lock()
		events = append(events, e.Type)
		mu.Unlock()
	}

	transport := &PaymentTransport{
		Payers:           []x402.Payer{newFakePayer()},
		OnPaymentAttempt: record,
		OnPaymentSuccess: record,
		OnPaymentFailure: record,
	}
	client := &http.Client{Transport: transport}

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	want := []x402.PaymentEventType{x402.PaymentEventAttempt, x402.PaymentEventSuccess}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestTransportBlocksConcurrentPaymentForSameResource(t *testing.T) {
	server := paywalledServer(t, goodProof)
	defer server.Close()

	payer := newFakePayer()
	payer.started = make(chan struct{})
	payer.release = make(chan struct{})

	started := payer.started
	transport := &PaymentTransport{Payers: []x402.Payer{payer}}
	client := &http.Client{Transport: transport}

	firstDone := make(chan error, 1)
	go func() {
		resp, err := client.Get(server.URL + "/api/try")
		if resp != nil {
			resp.Body.Close()
		}
		firstDone <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first payment never started")
	}

	// While the first payment is pending, a second request for the same
	// resource must fail fast instead of double spending.
	_, err := client.Get(server.URL + "/api/try")
	if !errors.Is(err, x402.ErrPaymentInFlight) {
		t.Errorf("concurrent request error = %v, want ErrPaymentInFlight", err)
	}

	close(payer.release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first request error = %v", err)
	}
	if payer.calls() != 1 {
		t.Errorf("pay calls = %d, want 1", payer.calls())
	}
}
