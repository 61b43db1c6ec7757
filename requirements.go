package x402

import (
	"fmt"
	"net/url"
	"regexp"
	"time"
)

var (
	evmAddressRe    = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	solanaAddressRe = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// RequirementBuilder produces canonical PaymentRequirements for a priced
// resource. It is a pure function of its configuration plus the resource URI
// passed to Build: the same inputs always yield byte-identical output, so a
// challenge can be regenerated on retry without caching it server-side.
type RequirementBuilder struct {
	price       Price
	network     string
	payTo       string
	description string
	expiresAt   *time.Time
}

// BuilderOption configures a RequirementBuilder.
type BuilderOption func(*RequirementBuilder)

// WithDescription sets the human-readable description on built requirements.
func WithDescription(description string) BuilderOption {
	return func(b *RequirementBuilder) {
		b.description = description
	}
}

// WithExpiresAt sets a fixed expiry deadline on built requirements.
// A fixed timestamp keeps Build deterministic across repeated calls.
func WithExpiresAt(at time.Time) BuilderOption {
	return func(b *RequirementBuilder) {
		at = at.UTC().Truncate(time.Second)
		b.expiresAt = &at
	}
}

// NewRequirementBuilder creates a builder for the given price, network, and
// payee. It rejects a zero or negative price, a malformed asset address, an
// unknown network, and a malformed payee address, all wrapping
// ErrConfiguration so misconfiguration is fatal at startup rather than
// surfacing per request.
func NewRequirementBuilder(price Price, network, payTo string, opts ...BuilderOption) (*RequirementBuilder, error) {
	networkType, err := ValidateNetwork(network)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	amount, err := ParseAmount(price.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: price amount %q: %v", ErrConfiguration, price.Amount, err)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: price amount must be positive, got %q", ErrConfiguration, price.Amount)
	}

	if price.Asset.Decimals < 0 {
		return nil, fmt.Errorf("%w: asset decimals cannot be negative", ErrConfiguration)
	}
	if err := checkAddress(price.Asset.Address, networkType); err != nil {
		return nil, fmt.Errorf("%w: asset address: %v", ErrConfiguration, err)
	}
	if err := checkAddress(payTo, networkType); err != nil {
		return nil, fmt.Errorf("%w: payee address: %v", ErrConfiguration, err)
	}

	b := &RequirementBuilder{
		price:   price,
		network: network,
		payTo:   payTo,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Build produces the PaymentRequirements for the given resource URI.
// The resource must be an absolute, scheme-qualified URI; Build fails with
// ErrInvalidResourceURI otherwise. Build never mutates the builder.
func (b *RequirementBuilder) Build(resource string) (PaymentRequirements, error) {
	u, err := url.Parse(resource)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return PaymentRequirements{}, fmt.Errorf("%w: %q", ErrInvalidResourceURI, resource)
	}

	return PaymentRequirements{
		Amount:      b.price.Amount,
		Asset:       b.price.Asset,
		Network:     b.network,
		PayTo:       b.payTo,
		Description: b.description,
		Resource:    resource,
		ExpiresAt:   b.expiresAt,
	}, nil
}

// Network returns the CAIP-2 network the builder prices in.
func (b *RequirementBuilder) Network() string {
	return b.network
}

func checkAddress(address string, networkType NetworkType) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	switch networkType {
	case NetworkTypeEVM:
		if !evmAddressRe.MatchString(address) {
			return fmt.Errorf("invalid EVM address: %s", address)
		}
	case NetworkTypeSVM:
		if !solanaAddressRe.MatchString(address) {
			return fmt.Errorf("invalid Solana address: %s", address)
		}
	default:
		return fmt.Errorf("unsupported network type")
	}
	return nil
}
