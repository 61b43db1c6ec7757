package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/0xDeepanshu/solanax402"
)

// transferEventTopic is the topic hash of the ERC-20 Transfer event:
// Transfer(address indexed from, address indexed to, uint256 value)
var transferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// DefaultConfirmations is the block depth a transaction must reach before the
// verifier accepts it.
const DefaultConfirmations uint64 = 1

// Verifier resolves payment proofs against an EVM network. It implements
// facilitator.Interface by reading the receipt's Transfer logs rather than
// trusting anything the client said.
type Verifier struct {
	network       string
	rpcURL        string
	confirmations uint64
	timeouts      x402.TimeoutConfig
	client        Client
	logger        *slog.Logger
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier) error

// NewVerifier creates a verifier for a CAIP-2 EVM network backed by the given
// RPC endpoint.
func NewVerifier(network, rpcURL string, opts ...VerifierOption) (*Verifier, error) {
	networkType, err := x402.ValidateNetwork(network)
	if err != nil {
		return nil, err
	}
	if networkType != x402.NetworkTypeEVM {
		return nil, fmt.Errorf("%w: expected EVM network, got %s", x402.ErrInvalidNetwork, network)
	}
	if rpcURL == "" {
		return nil, fmt.Errorf("%w: RPC URL is required", x402.ErrConfiguration)
	}

	v := &Verifier{
		network:       network,
		rpcURL:        rpcURL,
		confirmations: DefaultConfirmations,
		timeouts:      x402.DefaultTimeouts,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}

	if v.client == nil {
		client, err := NewClient(rpcURL)
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %v", x402.ErrNetworkUnavailable, rpcURL, err)
		}
		v.client = client
	}

	return v, nil
}

// WithConfirmations sets the block depth required before a transaction is
// accepted.
func WithConfirmations(depth uint64) VerifierOption {
	return func(v *Verifier) error {
		v.confirmations = depth
		return nil
	}
}

// WithVerifierTimeouts overrides the default timeout configuration.
func WithVerifierTimeouts(timeouts x402.TimeoutConfig) VerifierOption {
	return func(v *Verifier) error {
		if err := timeouts.Validate(); err != nil {
			return fmt.Errorf("%w: %v", x402.ErrConfiguration, err)
		}
		v.timeouts = timeouts
		return nil
	}
}

// WithClient sets a custom Ethereum client.
func WithClient(client Client) VerifierOption {
	return func(v *Verifier) error {
		v.client = client
		return nil
	}
}

// WithVerifierLogger sets the structured logger.
func WithVerifierLogger(logger *slog.Logger) VerifierOption {
	return func(v *Verifier) error {
		v.logger = logger
		return nil
	}
}

func rejected(reason x402.RejectReason) *x402.VerificationResult {
	return &x402.VerificationResult{Verified: false, Reason: reason}
}

// Verify resolves the proof's transaction receipt and checks its Transfer
// logs for a sufficiently confirmed transfer of the required token to the
// required payee.
func (v *Verifier) Verify(ctx context.Context, proof x402.PaymentProof, requirements x402.PaymentRequirements) (*x402.VerificationResult, error) {
	if requirements.Network != v.network {
		return rejected(x402.RejectWrongNetwork), nil
	}

	if !common.IsHexAddress(requirements.PayTo) {
		return nil, fmt.Errorf("%w: invalid payee address %s", x402.ErrInvalidRequirements, requirements.PayTo)
	}
	if !common.IsHexAddress(requirements.Asset.Address) {
		return nil, fmt.Errorf("%w: invalid asset address %s", x402.ErrInvalidRequirements, requirements.Asset.Address)
	}

	required, err := x402.ParseAmount(requirements.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidRequirements, err)
	}

	if len(proof.TxID) != 66 || proof.TxID[:2] != "0x" {
		// A string that is not a transaction hash cannot resolve on any
		// network.
		return rejected(x402.RejectNotFound), nil
	}
	txHash := common.HexToHash(proof.TxID)

	ctx, cancel := context.WithTimeout(ctx, v.timeouts.VerifyTimeout)
	defer cancel()

	receipt, err := v.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			v.logger.Debug("transaction not found", "hash", proof.TxID, "network", v.network)
			return rejected(x402.RejectNotFound), nil
		}
		return nil, fmt.Errorf("%w: receipt: %v", x402.ErrNetworkUnavailable, err)
	}
	if receipt == nil {
		return rejected(x402.RejectNotFound), nil
	}

	if receipt.Status != 1 {
		return rejected(x402.RejectTxFailed), nil
	}

	head, err := v.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: block number: %v", x402.ErrNetworkUnavailable, err)
	}
	depth := head - receipt.BlockNumber.Uint64() + 1
	if receipt.BlockNumber.Uint64() > head || depth < v.confirmations {
		return rejected(x402.RejectUnconfirmed), nil
	}

	return v.checkLogs(receipt, requirements, required), nil
}

// checkLogs scans the receipt's logs for a Transfer event from the required
// token contract to the required payee. The reject reason reflects the
// closest miss: wrong-asset when the token never appears, wrong-payee when it
// does but pays someone else, insufficient-amount when the payee received too
// little.
func (v *Verifier) checkLogs(receipt *ethtypes.Receipt, requirements x402.PaymentRequirements, required *big.Int) *x402.VerificationResult {
	asset := common.HexToAddress(requirements.Asset.Address)
	payee := common.HexToAddress(requirements.PayTo)

	sawAsset := false
	total := new(big.Int)
	var payer string

	for _, log := range receipt.Logs {
		if len(log.Topics) != 3 || log.Topics[0] != transferEventTopic {
			continue
		}
		if log.Address != asset {
			continue
		}
		sawAsset = true

		to := common.BytesToAddress(log.Topics[2].Bytes())
		if to != payee {
			continue
		}

		value := new(big.Int).SetBytes(log.Data)
		total.Add(total, value)
		payer = common.BytesToAddress(log.Topics[1].Bytes()).Hex()
	}

	if !sawAsset {
		return rejected(x402.RejectWrongAsset)
	}
	if total.Sign() == 0 {
		return rejected(x402.RejectWrongPayee)
	}
	if total.Cmp(required) < 0 {
		result := rejected(x402.RejectInsufficientAmount)
		result.Amount = total.String()
		return result
	}

	return &x402.VerificationResult{
		Verified: true,
		Payer:    payer,
		Amount:   total.String(),
		Asset:    requirements.Asset,
		Network:  v.network,
	}
}

// Settle finalizes a verified payment. The transfer itself settled when it
// landed on-chain, so settlement re-checks the proof and issues the receipt.
func (v *Verifier) Settle(ctx context.Context, proof x402.PaymentProof, requirements x402.PaymentRequirements) (*x402.SettlementReceipt, error) {
	result, err := v.Verify(ctx, proof, requirements)
	if err != nil {
		return nil, err
	}

	if !result.Verified {
		return &x402.SettlementReceipt{
			Success:     false,
			ErrorReason: string(result.Reason),
			Transaction: proof.TxID,
			Network:     v.network,
		}, nil
	}

	return &x402.SettlementReceipt{
		Success:     true,
		Transaction: proof.TxID,
		Network:     v.network,
		Payer:       result.Payer,
	}, nil
}
