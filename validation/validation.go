// Package validation provides validation utilities for x402 payment data.
// It validates addresses, amounts, networks (CAIP-2 format), resource URIs,
// and payment requirement structures.
package validation

import (
	"fmt"
	"math/big"
	"net/url"
	"regexp"

	x402 "github.com/0xDeepanshu/solanax402"
)

var (
	// evmAddressRegex matches Ethereum-style addresses (0x followed by 40 hex chars)
	evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

	// solanaAddressRegex matches Solana base58 addresses (32-44 chars, base58 charset)
	solanaAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

	// caip2Regex matches CAIP-2 network identifiers (namespace:reference)
	caip2Regex = regexp.MustCompile(`^[a-z0-9]+:[a-zA-Z0-9]+$`)
)

// ValidateAmount validates that an amount string is a positive integer in
// atomic units. Returns an error if the amount is empty, malformed, negative,
// or zero.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount cannot be empty")
	}

	amt := new(big.Int)
	amt, ok := amt.SetString(amount, 10)
	if !ok {
		return fmt.Errorf("invalid amount format: %s", amount)
	}

	if amt.Sign() <= 0 {
		return fmt.Errorf("amount must be positive, got: %s", amount)
	}

	return nil
}

// ValidateNetwork validates a CAIP-2 network identifier.
// Returns an error if the network is empty or not in valid CAIP-2 format.
func ValidateNetwork(network string) error {
	if network == "" {
		return fmt.Errorf("network cannot be empty")
	}

	if !caip2Regex.MatchString(network) {
		return fmt.Errorf("invalid CAIP-2 network format: %s (expected namespace:reference)", network)
	}

	_, err := x402.ValidateNetwork(network)
	return err
}

// ValidateAddress validates an address based on the network type.
func ValidateAddress(address string, network string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	networkType, err := x402.ValidateNetwork(network)
	if err != nil {
		return fmt.Errorf("cannot validate address: %w", err)
	}

	switch networkType {
	case x402.NetworkTypeEVM:
		if !evmAddressRegex.MatchString(address) {
			return fmt.Errorf("invalid EVM address format: %s (expected 0x followed by 40 hex characters)", address)
		}
		return nil

	case x402.NetworkTypeSVM:
		if !solanaAddressRegex.MatchString(address) {
			return fmt.Errorf("invalid Solana address format: %s (expected base58 string 32-44 chars)", address)
		}
		return nil

	default:
		return fmt.Errorf("unsupported network type for address validation: %d", networkType)
	}
}

// ValidateResource validates that a resource identifier is an absolute,
// scheme-qualified URI.
func ValidateResource(resource string) error {
	if resource == "" {
		return fmt.Errorf("resource cannot be empty")
	}

	u, err := url.Parse(resource)
	if err != nil {
		return fmt.Errorf("invalid resource URI: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("resource must be an absolute URI: %s", resource)
	}

	return nil
}

// ValidatePaymentRequirements performs comprehensive validation of a single
// payment option. Clients call this on each entry of a 402 challenge before
// paying against it.
func ValidatePaymentRequirements(req x402.PaymentRequirements) error {
	if err := ValidateAmount(req.Amount); err != nil {
		return fmt.Errorf("invalid requirements: %w", err)
	}

	if err := ValidateNetwork(req.Network); err != nil {
		return fmt.Errorf("invalid requirements: %w", err)
	}

	if err := ValidateAddress(req.PayTo, req.Network); err != nil {
		return fmt.Errorf("invalid requirements: payTo %w", err)
	}

	if req.Asset.Address == "" {
		return fmt.Errorf("invalid requirements: asset address cannot be empty")
	}

	if err := ValidateAddress(req.Asset.Address, req.Network); err != nil {
		return fmt.Errorf("invalid requirements: asset %w", err)
	}

	if req.Asset.Decimals < 0 {
		return fmt.Errorf("invalid requirements: asset decimals cannot be negative: %d", req.Asset.Decimals)
	}

	if err := ValidateResource(req.Resource); err != nil {
		return fmt.Errorf("invalid requirements: %w", err)
	}

	return nil
}

// ValidatePaymentRequired validates a complete 402 challenge body.
func ValidatePaymentRequired(pr x402.PaymentRequired) error {
	if len(pr.Accepts) == 0 {
		return fmt.Errorf("invalid payment required: accepts cannot be empty")
	}

	for i, req := range pr.Accepts {
		if err := ValidatePaymentRequirements(req); err != nil {
			return fmt.Errorf("invalid payment required: accepts[%d] %w", i, err)
		}
	}

	return nil
}
