package solana

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	x402 "github.com/0xDeepanshu/solanax402"
)

// VerifierRPCClient is the interface for Solana RPC operations needed by the
// verifier. This allows for dependency injection and easier testing.
type VerifierRPCClient interface {
	GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// Verifier resolves payment proofs against a Solana network. It implements
// facilitator.Interface by inspecting the transaction's token balance changes
// rather than trusting anything the client said.
type Verifier struct {
	network    string
	commitment rpc.CommitmentType
	timeouts   x402.TimeoutConfig
	rpcClient  VerifierRPCClient
	logger     *slog.Logger
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier) error

// NewVerifier creates a verifier for a CAIP-2 Solana network.
func NewVerifier(network string, opts ...VerifierOption) (*Verifier, error) {
	networkType, err := x402.ValidateNetwork(network)
	if err != nil {
		return nil, err
	}
	if networkType != x402.NetworkTypeSVM {
		return nil, fmt.Errorf("%w: expected Solana network, got %s", x402.ErrInvalidNetwork, network)
	}

	v := &Verifier{
		network:    network,
		commitment: rpc.CommitmentConfirmed,
		timeouts:   x402.DefaultTimeouts,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}

	return v, nil
}

// WithVerifierCommitment sets the commitment level a transaction must reach
// before the verifier accepts it.
func WithVerifierCommitment(commitment rpc.CommitmentType) VerifierOption {
	return func(v *Verifier) error {
		v.commitment = commitment
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

// WithVerifierRPCClient sets a custom RPC client.
func WithVerifierRPCClient(client VerifierRPCClient) VerifierOption {
	return func(v *Verifier) error {
		v.rpcClient = client
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

func (v *Verifier) client() (VerifierRPCClient, error) {
	if v.rpcClient != nil {
		return v.rpcClient, nil
	}

	rpcURL, err := GetRPCURL(v.network)
	if err != nil {
		return nil, err
	}
	return rpc.New(rpcURL), nil
}

func rejected(reason x402.RejectReason) *x402.VerificationResult {
	return &x402.VerificationResult{Verified: false, Reason: reason}
}

// Verify resolves the proof's transaction and checks it transferred at least
// the required amount of the required mint to the required payee. Checks are
// performed on the recorded pre/post token balances, so the transfer is
// validated by its effect, not by the instructions the client claims it
// contains.
func (v *Verifier) Verify(ctx context.Context, proof x402.PaymentProof, requirements x402.PaymentRequirements) (*x402.VerificationResult, error) {
	if requirements.Network != v.network {
		return rejected(x402.RejectWrongNetwork), nil
	}

	sig, err := solana.SignatureFromBase58(proof.TxID)
	if err != nil {
		// A string that is not a signature cannot resolve on any network.
		return rejected(x402.RejectNotFound), nil
	}

	required, err := x402.ParseAmount(requirements.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidRequirements, err)
	}

	mint, err := solana.PublicKeyFromBase58(requirements.Asset.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid mint address: %v", x402.ErrInvalidRequirements, err)
	}

	payee, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid payee address: %v", x402.ErrInvalidRequirements, err)
	}

	client, err := v.client()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeouts.VerifyTimeout)
	defer cancel()

	maxTxVersion := uint64(0)
	tx, err := client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     v.commitment,
		MaxSupportedTransactionVersion: &maxTxVersion,
	})
	if err != nil || tx == nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", x402.ErrNetworkUnavailable, ctx.Err())
		}
		v.logger.Debug("transaction not found", "signature", proof.TxID, "network", v.network)
		return rejected(x402.RejectNotFound), nil
	}

	if tx.Meta == nil {
		return rejected(x402.RejectNotFound), nil
	}
	if tx.Meta.Err != nil {
		return rejected(x402.RejectTxFailed), nil
	}

	confirmed, err := v.confirmationReached(ctx, client, sig)
	if err != nil {
		return nil, err
	}
	if !confirmed {
		return rejected(x402.RejectUnconfirmed), nil
	}

	return v.checkBalances(tx.Meta, mint, payee, required, requirements), nil
}

// confirmationReached checks that the signature has reached the verifier's
// commitment level.
func (v *Verifier) confirmationReached(ctx context.Context, client VerifierRPCClient, sig solana.Signature) (bool, error) {
	statuses, err := client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return false, fmt.Errorf("%w: signature status: %v", x402.ErrNetworkUnavailable, err)
	}
	if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return false, nil
	}

	status := statuses.Value[0]
	if status.Err != nil {
		return false, nil
	}
	return commitmentReached(status.ConfirmationStatus, v.commitment), nil
}

// checkBalances validates the transfer via the transaction's token balance
// deltas and resolves the payer as the owner whose balance of the mint
// decreased.
func (v *Verifier) checkBalances(meta *rpc.TransactionMeta, mint, payee solana.PublicKey, required *big.Int, requirements x402.PaymentRequirements) *x402.VerificationResult {
	pre := balancesByAccount(meta.PreTokenBalances, mint)
	post := balancesByAccount(meta.PostTokenBalances, mint)

	if len(pre) == 0 && len(post) == 0 {
		// The transaction never touched the required mint.
		return rejected(x402.RejectWrongAsset)
	}

	var payeeDelta *big.Int
	var payer string
	decimalsOK := true

	for idx, p := range post {
		before := big.NewInt(0)
		if b, ok := pre[idx]; ok {
			before = b.amount
		}
		delta := new(big.Int).Sub(p.amount, before)

		if int(p.decimals) != requirements.Asset.Decimals {
			decimalsOK = false
		}

		if p.owner == payee {
			if payeeDelta == nil {
				payeeDelta = delta
			} else {
				payeeDelta.Add(payeeDelta, delta)
			}
			continue
		}
		if delta.Sign() < 0 {
			payer = p.owner.String()
		}
	}

	if !decimalsOK {
		return rejected(x402.RejectWrongAsset)
	}
	if payeeDelta == nil || payeeDelta.Sign() <= 0 {
		return rejected(x402.RejectWrongPayee)
	}
	if payeeDelta.Cmp(required) < 0 {
		result := rejected(x402.RejectInsufficientAmount)
		result.Amount = payeeDelta.String()
		return result
	}

	return &x402.VerificationResult{
		Verified: true,
		Payer:    payer,
		Amount:   payeeDelta.String(),
		Asset:    requirements.Asset,
		Network:  v.network,
	}
}

type tokenBalance struct {
	owner    solana.PublicKey
	amount   *big.Int
	decimals uint8
}

// balancesByAccount indexes a transaction's token balances by account index,
// keeping only entries for the required mint.
func balancesByAccount(balances []rpc.TokenBalance, mint solana.PublicKey) map[uint16]tokenBalance {
	out := make(map[uint16]tokenBalance)
	for _, b := range balances {
		if !b.Mint.Equals(mint) {
			continue
		}
		if b.Owner == nil || b.UiTokenAmount == nil {
			continue
		}
		amount, ok := new(big.Int).SetString(b.UiTokenAmount.Amount, 10)
		if !ok {
			continue
		}
		out[b.AccountIndex] = tokenBalance{
			owner:    *b.Owner,
			amount:   amount,
			decimals: b.UiTokenAmount.Decimals,
		}
	}
	return out
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
