package http

import (
	"net/http"

	x402 "github.com/0xDeepanshu/solanax402"
	"github.com/0xDeepanshu/solanax402/http/internal/helpers"
)

// Client is an HTTP client that automatically completes x402 payment flows.
// It wraps a standard http.Client and adds payment handling via a custom
// RoundTripper.
type Client struct {
	*http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// NewClient creates a new payment-enabled HTTP client.
func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{
		Client: &http.Client{},
	}

	if client.Transport == nil {
		client.Transport = http.DefaultTransport
	}

	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, err
		}
	}

	return client, nil
}

// WithHTTPClient sets a custom underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) error {
		c.Client = httpClient
		if c.Transport == nil {
			c.Transport = http.DefaultTransport
		}
		return nil
	}
}

// WithPayer adds a payer to the client. Multiple payers can be added; the
// client picks the first one that can satisfy a challenge.
func WithPayer(payer x402.Payer) ClientOption {
	return func(c *Client) error {
		transport := getOrCreateTransport(c)
		transport.Payers = append(transport.Payers, payer)
		return nil
	}
}

// WithPaymentCallbacks sets all payment callbacks at once.
// Pass nil for any callback you don't want to set.
func WithPaymentCallbacks(onAttempt, onSuccess, onFailure x402.PaymentCallback) ClientOption {
	return func(c *Client) error {
		transport := getOrCreateTransport(c)

		if onAttempt != nil {
			transport.OnPaymentAttempt = onAttempt
		}
		if onSuccess != nil {
			transport.OnPaymentSuccess = onSuccess
		}
		if onFailure != nil {
			transport.OnPaymentFailure = onFailure
		}

		return nil
	}
}

// getOrCreateTransport gets the PaymentTransport or creates one if it doesn't exist.
func getOrCreateTransport(c *Client) *PaymentTransport {
	transport, ok := c.Transport.(*PaymentTransport)
	if !ok {
		// Wrap the existing transport
		transport = &PaymentTransport{
			Base:   c.Transport,
			Payers: []x402.Payer{},
		}
		c.Transport = transport
	}
	return transport
}

// GetReceipt extracts settlement information from an HTTP response.
// Returns nil if no receipt header is present or if parsing fails.
func GetReceipt(resp *http.Response) *x402.SettlementReceipt {
	return helpers.ParseReceipt(resp.Header.Get(helpers.ReceiptHeader))
}
