package http

import (
	"io"
	"net/http"
	"testing"

	x402 "github.com/0xDeepanshu/solanax402"
	"github.com/0xDeepanshu/solanax402/http/internal/helpers"
)

func TestNewClientWrapsTransport(t *testing.T) {
	payer := newFakePayer()

	client, err := NewClient(WithPayer(payer))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	transport, ok := client.Transport.(*PaymentTransport)
	if !ok {
		t.Fatalf("transport is %T, want *PaymentTransport", client.Transport)
	}
	if len(transport.Payers) != 1 {
		t.Errorf("payers = %d, want 1", len(transport.Payers))
	}
	if transport.Base != http.DefaultTransport {
		t.Error("base transport should default to http.DefaultTransport")
	}
}

func TestNewClientMultiplePayers(t *testing.T) {
	solanaPayer := newFakePayer()
	evmPayer := &fakePayer{network: "eip155:8453", asset: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"}

	client, err := NewClient(WithPayer(solanaPayer), WithPayer(evmPayer))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	transport := client.Transport.(*PaymentTransport)
	if len(transport.Payers) != 2 {
		t.Fatalf("payers = %d, want 2", len(transport.Payers))
	}
	if transport.Payers[0] != x402.Payer(solanaPayer) {
		t.Error("payer order not preserved")
	}
}

func TestNewClientPreservesCustomHTTPClient(t *testing.T) {
	custom := &http.Client{}

	client, err := NewClient(WithHTTPClient(custom), WithPayer(newFakePayer()))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if client.Client != custom {
		t.Error("custom http.Client was not kept")
	}
	if _, ok := client.Transport.(*PaymentTransport); !ok {
		t.Errorf("transport is %T, want *PaymentTransport", client.Transport)
	}
}

func TestClientPaysEndToEnd(t *testing.T) {
	server := paywalledServer(t, goodProof)
	defer server.Close()

	var successes int
	client, err := NewClient(
		WithPayer(newFakePayer()),
		WithPaymentCallbacks(nil, func(x402.PaymentEvent) { successes++ }, nil),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	resp, err := client.Get(server.URL + "/api/try")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if successes != 1 {
		t.Errorf("success callbacks = %d, want 1", successes)
	}

	receipt := GetReceipt(resp)
	if receipt == nil || !receipt.Success {
		t.Fatalf("GetReceipt() = %+v, want successful receipt", receipt)
	}
}

func TestGetReceiptMissingHeader(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	if receipt := GetReceipt(resp); receipt != nil {
		t.Errorf("GetReceipt() = %+v, want nil", receipt)
	}

	resp.Header.Set(helpers.ReceiptHeader, "not base64 json!!")
	if receipt := GetReceipt(resp); receipt != nil {
		t.Errorf("GetReceipt() with garbage header = %+v, want nil", receipt)
	}
}
