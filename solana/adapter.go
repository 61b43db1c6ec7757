package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	x402 "github.com/0xDeepanshu/solanax402"
)

// confirmPollInterval is how often the payer polls for signature status while
// waiting for a submitted transfer to confirm.
const confirmPollInterval = 2 * time.Second

// RPCClient is the interface for Solana RPC operations needed by the payer.
// This allows for dependency injection and easier testing.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Payer implements the x402.Payer interface for Solana (SVM). It submits SPL
// token transfers signed by its own key, paying its own fees, and waits for
// the configured commitment before returning the transaction signature as
// proof.
type Payer struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
	network    string // CAIP-2 format (e.g., "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1")
	tokens     []x402.Asset
	maxAmount  *big.Int
	commitment rpc.CommitmentType
	timeouts   x402.TimeoutConfig
	rpcClient  RPCClient
}

// Option configures a Payer.
type Option func(*Payer) error

// NewPayer creates a new Solana payer from a base58-encoded private key.
func NewPayer(network string, privateKeyBase58 string, tokens []x402.Asset, opts ...Option) (*Payer, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, x402.ErrInvalidKey
	}

	return NewPayerFromKey(network, privateKey, tokens, opts...)
}

// NewPayerFromKey creates a new Solana payer from an existing private key.
func NewPayerFromKey(network string, key solana.PrivateKey, tokens []x402.Asset, opts ...Option) (*Payer, error) {
	networkType, err := x402.ValidateNetwork(network)
	if err != nil {
		return nil, err
	}
	if networkType != x402.NetworkTypeSVM {
		return nil, fmt.Errorf("%w: expected Solana network, got %s", x402.ErrInvalidNetwork, network)
	}

	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: payer needs at least one token", x402.ErrConfiguration)
	}

	p := &Payer{
		privateKey: key,
		publicKey:  key.PublicKey(),
		network:    network,
		tokens:     tokens,
		commitment: rpc.CommitmentConfirmed,
		timeouts:   x402.DefaultTimeouts,
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// NewPayerFromKeygenFile creates a new Solana payer from a Solana keygen JSON
// file. The file should contain a JSON array of 64 bytes (the ed25519 private
// key).
func NewPayerFromKeygenFile(network string, path string, tokens []x402.Asset, opts ...Option) (*Payer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidKey, err)
	}

	var keyBytes []byte
	if err := json.Unmarshal(data, &keyBytes); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON format", x402.ErrInvalidKey)
	}

	if len(keyBytes) != 64 {
		return nil, fmt.Errorf("%w: invalid key length (expected 64 bytes)", x402.ErrInvalidKey)
	}

	return NewPayerFromKey(network, solana.PrivateKey(keyBytes), tokens, opts...)
}

// WithMaxAmount sets the maximum amount per payment call.
func WithMaxAmount(amount *big.Int) Option {
	return func(p *Payer) error {
		p.maxAmount = amount
		return nil
	}
}

// WithCommitment sets the commitment level the payer waits for before
// treating a transfer as confirmed.
func WithCommitment(commitment rpc.CommitmentType) Option {
	return func(p *Payer) error {
		p.commitment = commitment
		return nil
	}
}

// WithTimeouts overrides the default timeout configuration.
func WithTimeouts(timeouts x402.TimeoutConfig) Option {
	return func(p *Payer) error {
		if err := timeouts.Validate(); err != nil {
			return fmt.Errorf("%w: %v", x402.ErrConfiguration, err)
		}
		p.timeouts = timeouts
		return nil
	}
}

// WithRPCClient sets a custom RPC client.
func WithRPCClient(client RPCClient) Option {
	return func(p *Payer) error {
		p.rpcClient = client
		return nil
	}
}

// Network returns the CAIP-2 network identifier.
func (p *Payer) Network() string {
	return p.network
}

// Address returns the payer's public key.
func (p *Payer) Address() solana.PublicKey {
	return p.publicKey
}

// Supports checks if this payer can satisfy the given payment requirements.
func (p *Payer) Supports(requirements *x402.PaymentRequirements) bool {
	if requirements == nil {
		return false
	}

	if requirements.Network != p.network {
		return false
	}

	// Mint addresses are case-sensitive base58
	for _, t := range p.tokens {
		if t.Address == requirements.Asset.Address {
			return true
		}
	}

	return false
}

// Pay submits an SPL token transfer for the required amount and waits for it
// to reach the configured commitment. The returned proof carries the
// transaction signature.
func (p *Payer) Pay(ctx context.Context, requirements *x402.PaymentRequirements) (*x402.PaymentProof, error) {
	if !p.Supports(requirements) {
		return nil, x402.ErrNoValidPayer
	}

	amount, err := x402.ParseAmount(requirements.Amount)
	if err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, x402.ErrInvalidAmount
	}

	if p.maxAmount != nil && amount.Cmp(p.maxAmount) > 0 {
		return nil, fmt.Errorf("%w: amount %s exceeds payer limit %s", x402.ErrInvalidAmount, amount, p.maxAmount)
	}

	// Check for uint64 overflow before conversion
	maxUint64 := new(big.Int).SetUint64(^uint64(0))
	if amount.Cmp(maxUint64) > 0 {
		return nil, x402.ErrInvalidAmount
	}

	mint, err := solana.PublicKeyFromBase58(requirements.Asset.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid mint address: %w", err)
	}

	recipient, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}

	if requirements.Asset.Decimals < 0 || requirements.Asset.Decimals > 255 {
		return nil, fmt.Errorf("%w: invalid token decimals %d", x402.ErrInvalidRequirements, requirements.Asset.Decimals)
	}
	decimals := uint8(requirements.Asset.Decimals)

	client, err := p.client()
	if err != nil {
		return nil, err
	}

	blockhashCtx, cancel := context.WithTimeout(ctx, p.timeouts.VerifyTimeout)
	defer cancel()
	recent, err := client.GetLatestBlockhash(blockhashCtx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get blockhash: %v", x402.ErrNetworkUnavailable, err)
	}

	tx, err := p.buildTransfer(mint, recipient, amount.Uint64(), decimals, recent.Value.Blockhash)
	if err != nil {
		return nil, err
	}

	sig, err := client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: p.commitment,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send transaction: %v", x402.ErrNetworkUnavailable, err)
	}

	if err := p.waitForConfirmation(ctx, client, sig); err != nil {
		return nil, err
	}

	return &x402.PaymentProof{TxID: sig.String()}, nil
}

func (p *Payer) client() (RPCClient, error) {
	if p.rpcClient != nil {
		return p.rpcClient, nil
	}

	rpcURL, err := GetRPCURL(p.network)
	if err != nil {
		return nil, err
	}
	return rpc.New(rpcURL), nil
}

// buildTransfer assembles a fully signed transfer transaction with the payer
// as fee payer. The destination ATA creation is idempotent so first-time
// recipients do not break the transfer.
func (p *Payer) buildTransfer(
	mint, recipient solana.PublicKey,
	amount uint64,
	decimals uint8,
	blockhash solana.Hash,
) (*solana.Transaction, error) {
	sourceATA, err := DeriveAssociatedTokenAddress(p.publicKey, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to find source ATA: %w", err)
	}

	destATA, err := DeriveAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to find destination ATA: %w", err)
	}

	createATA, err := BuildCreateIdempotentATAInstruction(p.publicKey, recipient, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to build ATA creation instruction: %w", err)
	}

	instructions := []solana.Instruction{
		BuildSetComputeUnitLimitInstruction(DefaultComputeUnits),
		BuildSetComputeUnitPriceInstruction(DefaultComputeUnitPrice),
		createATA,
		BuildTransferCheckedInstruction(sourceATA, mint, destATA, p.publicKey, amount, decimals),
	}

	tx, err := solana.NewTransaction(
		instructions,
		blockhash,
		solana.TransactionPayer(p.publicKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(p.publicKey) {
			return &p.privateKey
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	return tx, nil
}

// waitForConfirmation polls signature status until the transaction reaches
// the configured commitment, errors on-chain, or the confirmation window
// elapses.
func (p *Payer) waitForConfirmation(ctx context.Context, client RPCClient, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		statuses, err := client.GetSignatureStatuses(ctx, true, sig)
		if err == nil && statuses != nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			status := statuses.Value[0]
			if status.Err != nil {
				return fmt.Errorf("%w: transaction %s failed on-chain", x402.ErrVerificationFailed, sig)
			}
			if commitmentReached(status.ConfirmationStatus, p.commitment) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: transaction %s", x402.ErrConfirmationTimeout, sig)
		case <-ticker.C:
		}
	}
}

// commitmentReached reports whether an observed confirmation status satisfies
// the required commitment level.
func commitmentReached(status rpc.ConfirmationStatusType, required rpc.CommitmentType) bool {
	rank := func(s string) int {
		switch s {
		case string(rpc.ConfirmationStatusProcessed):
			return 1
		case string(rpc.ConfirmationStatusConfirmed):
			return 2
		case string(rpc.ConfirmationStatusFinalized):
			return 3
		default:
			return 0
		}
	}
	return rank(string(status)) >= rank(string(required))
}
