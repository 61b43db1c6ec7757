// Package echo provides Echo-compatible middleware for x402 payment gating.
// Like the gin adapter, it translates framework plumbing to stdlib http
// patterns and delegates all verification, claim, and settlement logic to the
// http package's Gate.
package echo

import (
	"context"

	"github.com/labstack/echo/v4"

	x402 "github.com/0xDeepanshu/solanax402"
	x402http "github.com/0xDeepanshu/solanax402/http"
)

// PaymentContextKey is the echo context key for storing verified payment information.
const PaymentContextKey = "x402_payment"

// Middleware creates an Echo middleware from a payment gate.
//
// Example usage:
//
//	gate, _ := x402http.NewGate(x402http.GateConfig{
//	    Builders:    []*x402.RequirementBuilder{builder},
//	    Facilitator: verifier,
//	})
//	e := echo.New()
//	e.Use(echox402.Middleware(gate))
func Middleware(gate *x402http.Gate) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := gate.Authorize(c.Response().Writer, c.Request())
			if auth == nil {
				// The gate already wrote the 402/500 response.
				c.Response().Committed = true
				return nil
			}

			// Store payment info in the Echo context for handler access
			c.Set(PaymentContextKey, auth.Result)

			// Also store in stdlib context for compatibility with http package helpers
			ctx := context.WithValue(c.Request().Context(), x402http.PaymentContextKey, auth.Result)
			c.SetRequest(c.Request().WithContext(ctx))

			original := c.Response().Writer
			c.Response().Writer = gate.NewSettlementWriter(c.Request().Context(), original, auth)

			return next(c)
		}
	}
}

// GetVerificationFromContext extracts the verification result from the Echo
// context. Returns nil if the request was not payment-gated.
func GetVerificationFromContext(c echo.Context) *x402.VerificationResult {
	value := c.Get(PaymentContextKey)
	if value == nil {
		return nil
	}
	result, ok := value.(*x402.VerificationResult)
	if !ok {
		return nil
	}
	return result
}
