package x402

import "strings"

// SelectRequirement picks the first acceptable payment option from a 402
// challenge: requirements are scanned in the server's preference order and
// the first entry some payer supports wins. Returns the chosen requirement
// and payer, or ErrNoValidPayer listing the options that were offered.
func SelectRequirement(payers []Payer, accepts []PaymentRequirements) (*PaymentRequirements, Payer, error) {
	if len(payers) == 0 {
		return nil, nil, NewPaymentError(ErrCodeNoValidPayer, "no payers configured", ErrNoValidPayer)
	}
	if len(accepts) == 0 {
		return nil, nil, NewPaymentError(ErrCodeInvalidRequirements, "no payment requirements provided", ErrInvalidRequirements)
	}

	for i := range accepts {
		req := &accepts[i]

		if _, err := ParseAmount(req.Amount); err != nil {
			continue
		}

		for _, payer := range payers {
			if payer.Supports(req) {
				return req, payer, nil
			}
		}
	}

	options := make([]string, 0, len(accepts))
	for _, req := range accepts {
		options = append(options, req.Network+":"+req.Asset.Address)
	}
	return nil, nil, NewPaymentError(ErrCodeNoValidPayer, "no payer can satisfy any payment requirement", ErrNoValidPayer).
		WithDetails("options", strings.Join(options, ", "))
}
