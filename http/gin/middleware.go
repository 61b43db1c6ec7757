// Package gin provides Gin-compatible middleware for x402 payment gating.
// This package is a thin adapter that translates gin.Context to stdlib http
// patterns and delegates all verification, claim, and settlement logic to the
// http package's Gate.
package gin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	x402 "github.com/0xDeepanshu/solanax402"
	x402http "github.com/0xDeepanshu/solanax402/http"
)

// PaymentContextKey is the gin context key for storing verified payment information.
const PaymentContextKey = "x402_payment"

// Middleware creates a Gin middleware from a payment gate.
//
// The middleware:
//   - Returns 402 Payment Required when the proof header is missing or invalid
//   - Verifies the proof and claims it in the gate's ledger
//   - Stores the verification result in the Gin context via c.Set("x402_payment", result)
//   - Settles the payment when the handler succeeds, releasing the claim when
//     it fails so the client can retry with the same transaction
//
// Example usage:
//
//	gate, _ := x402http.NewGate(x402http.GateConfig{
//	    Builders:    []*x402.RequirementBuilder{builder},
//	    Facilitator: verifier,
//	})
//	r := gin.Default()
//	r.Use(ginx402.Middleware(gate))
//	r.POST("/api/try", func(c *gin.Context) {
//	    result := ginx402.GetVerificationFromContext(c)
//	    c.JSON(200, gin.H{"payer": result.Payer})
//	})
func Middleware(gate *x402http.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := gate.Authorize(c.Writer, c.Request)
		if auth == nil {
			c.Abort()
			return
		}

		// Store payment info in Gin context for handler access
		c.Set(PaymentContextKey, auth.Result)

		// Also store in stdlib context for compatibility with http package helpers
		ctx := context.WithValue(c.Request.Context(), x402http.PaymentContextKey, auth.Result)
		c.Request = c.Request.WithContext(ctx)

		original := c.Writer
		c.Writer = &settlementWriter{
			ResponseWriter: original,
			commit: func(statusCode int) bool {
				return gate.Commit(c.Request.Context(), original, auth, statusCode)
			},
		}

		c.Next()
	}
}

// settlementWriter wraps gin.ResponseWriter to intercept the moment of
// commitment, mirroring the stdlib interceptor in the http package.
type settlementWriter struct {
	gin.ResponseWriter
	commit    func(statusCode int) bool
	committed bool
	hijacked  bool
}

func (w *settlementWriter) WriteHeader(statusCode int) {
	if w.committed {
		return
	}
	w.committed = true

	if !w.commit(statusCode) {
		w.hijacked = true
		return
	}

	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *settlementWriter) WriteHeaderNow() {
	if !w.committed {
		w.WriteHeader(w.Status())
	}
	if !w.hijacked {
		w.ResponseWriter.WriteHeaderNow()
	}
}

func (w *settlementWriter) Write(b []byte) (int, error) {
	if !w.committed {
		w.WriteHeader(http.StatusOK)
	}
	if w.hijacked {
		return len(b), nil
	}
	return w.ResponseWriter.Write(b)
}

func (w *settlementWriter) WriteString(s string) (int, error) {
	if !w.committed {
		w.WriteHeader(http.StatusOK)
	}
	if w.hijacked {
		return len(s), nil
	}
	return w.ResponseWriter.WriteString(s)
}

// GetVerificationFromContext extracts the verification result from the Gin
// context. Returns nil if the request was not payment-gated.
func GetVerificationFromContext(c *gin.Context) *x402.VerificationResult {
	value, exists := c.Get(PaymentContextKey)
	if !exists {
		return nil
	}
	result, ok := value.(*x402.VerificationResult)
	if !ok {
		return nil
	}
	return result
}
