package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/0xDeepanshu/solanax402"
)

// receiptPollInterval is how often the payer polls for the transfer receipt
// while waiting for confirmation.
const receiptPollInterval = 2 * time.Second

// erc20TransferABI is the minimal ABI needed to call transfer on any ERC-20
// token.
const erc20TransferABI = `[{
	"type": "function",
	"name": "transfer",
	"inputs": [
		{"name": "to", "type": "address"},
		{"name": "value", "type": "uint256"}
	],
	"outputs": [{"name": "", "type": "bool"}],
	"constant": false
}]`

var transferABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		panic(fmt.Sprintf("invalid transfer ABI: %v", err))
	}
	return parsed
}()

// Payer implements the x402.Payer interface for EVM networks. It submits
// ERC-20 transfers signed by its own key and waits for the configured block
// depth before returning the transaction hash as proof.
type Payer struct {
	privateKey    *ecdsa.PrivateKey
	address       common.Address
	network       string // CAIP-2 format (e.g., "eip155:8453")
	chainID       *big.Int
	tokens        []x402.Asset
	maxAmount     *big.Int
	confirmations uint64
	timeouts      x402.TimeoutConfig
	client        Client
}

// PayerOption configures a Payer.
type PayerOption func(*Payer) error

// NewPayer creates a new EVM payer from a hex-encoded private key.
func NewPayer(network, rpcURL, privateKeyHex string, tokens []x402.Asset, opts ...PayerOption) (*Payer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, x402.ErrInvalidKey
	}

	networkType, err := x402.ValidateNetwork(network)
	if err != nil {
		return nil, err
	}
	if networkType != x402.NetworkTypeEVM {
		return nil, fmt.Errorf("%w: expected EVM network, got %s", x402.ErrInvalidNetwork, network)
	}

	chainID, err := x402.GetChainID(network)
	if err != nil {
		return nil, err
	}

	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: payer needs at least one token", x402.ErrConfiguration)
	}

	p := &Payer{
		privateKey:    key,
		address:       crypto.PubkeyToAddress(key.PublicKey),
		network:       network,
		chainID:       big.NewInt(chainID),
		tokens:        tokens,
		confirmations: DefaultConfirmations,
		timeouts:      x402.DefaultTimeouts,
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	if p.client == nil {
		if rpcURL == "" {
			return nil, fmt.Errorf("%w: RPC URL is required", x402.ErrConfiguration)
		}
		client, err := NewClient(rpcURL)
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %v", x402.ErrNetworkUnavailable, rpcURL, err)
		}
		p.client = client
	}

	return p, nil
}

// WithPayerMaxAmount sets the maximum amount per payment call.
func WithPayerMaxAmount(amount *big.Int) PayerOption {
	return func(p *Payer) error {
		p.maxAmount = amount
		return nil
	}
}

// WithPayerConfirmations sets the block depth the payer waits for before
// treating a transfer as confirmed.
func WithPayerConfirmations(depth uint64) PayerOption {
	return func(p *Payer) error {
		p.confirmations = depth
		return nil
	}
}

// WithPayerTimeouts overrides the default timeout configuration.
func WithPayerTimeouts(timeouts x402.TimeoutConfig) PayerOption {
	return func(p *Payer) error {
		if err := timeouts.Validate(); err != nil {
			return fmt.Errorf("%w: %v", x402.ErrConfiguration, err)
		}
		p.timeouts = timeouts
		return nil
	}
}

// WithPayerClient sets a custom Ethereum client.
func WithPayerClient(client Client) PayerOption {
	return func(p *Payer) error {
		p.client = client
		return nil
	}
}

// Network returns the CAIP-2 network identifier.
func (p *Payer) Network() string {
	return p.network
}

// Address returns the payer's account address.
func (p *Payer) Address() common.Address {
	return p.address
}

// Supports checks if this payer can satisfy the given payment requirements.
func (p *Payer) Supports(requirements *x402.PaymentRequirements) bool {
	if requirements == nil {
		return false
	}

	if requirements.Network != p.network {
		return false
	}

	for _, t := range p.tokens {
		if strings.EqualFold(t.Address, requirements.Asset.Address) {
			return true
		}
	}

	return false
}

// Pay submits an ERC-20 transfer for the required amount and waits for it to
// reach the configured block depth. The returned proof carries the
// transaction hash.
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

	if !common.IsHexAddress(requirements.PayTo) {
		return nil, fmt.Errorf("%w: invalid recipient address %s", x402.ErrInvalidRequirements, requirements.PayTo)
	}
	if !common.IsHexAddress(requirements.Asset.Address) {
		return nil, fmt.Errorf("%w: invalid token address %s", x402.ErrInvalidRequirements, requirements.Asset.Address)
	}

	recipient := common.HexToAddress(requirements.PayTo)
	token := common.HexToAddress(requirements.Asset.Address)

	txData, err := transferABI.Pack("transfer", recipient, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transfer call: %w", err)
	}

	signedTx, err := p.buildTransaction(ctx, token, txData)
	if err != nil {
		return nil, err
	}

	if err := p.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("%w: failed to send transaction: %v", x402.ErrNetworkUnavailable, err)
	}

	if err := p.waitForConfirmation(ctx, signedTx.Hash()); err != nil {
		return nil, err
	}

	return &x402.PaymentProof{TxID: signedTx.Hash().Hex()}, nil
}

// buildTransaction assembles and signs an EIP-1559 transaction calling the
// token contract.
func (p *Payer) buildTransaction(ctx context.Context, to common.Address, data []byte) (*ethtypes.Transaction, error) {
	nonce, err := p.client.PendingNonceAt(ctx, p.address)
	if err != nil {
		return nil, fmt.Errorf("%w: pending nonce: %v", x402.ErrNetworkUnavailable, err)
	}

	gasTipCap, err := p.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: gas tip cap: %v", x402.ErrNetworkUnavailable, err)
	}

	header, err := p.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: block header: %v", x402.ErrNetworkUnavailable, err)
	}
	if header.BaseFee == nil {
		return nil, fmt.Errorf("%w: network does not support EIP-1559", x402.ErrNetworkUnavailable)
	}

	// 2x base fee + tip keeps the transaction includable across base fee
	// swings.
	gasFeeCap := new(big.Int).Add(
		new(big.Int).Mul(header.BaseFee, big.NewInt(2)),
		gasTipCap,
	)

	gasLimit, err := p.client.EstimateGas(ctx, ethereum.CallMsg{
		From: p.address,
		To:   &to,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: estimate gas: %v", x402.ErrNetworkUnavailable, err)
	}

	// 20% buffer on the gas estimate
	gasLimit = gasLimit * 120 / 100

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   p.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      data,
	})

	signer := ethtypes.NewLondonSigner(p.chainID)
	signedTx, err := ethtypes.SignTx(tx, signer, p.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	return signedTx, nil
}

// waitForConfirmation polls for the transaction receipt until it reaches the
// configured block depth, reverts, or the confirmation window elapses.
func (p *Payer) waitForConfirmation(ctx context.Context, txHash common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := p.client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status != 1 {
				return fmt.Errorf("%w: transaction %s reverted", x402.ErrVerificationFailed, txHash.Hex())
			}

			head, err := p.client.BlockNumber(ctx)
			if err == nil && head >= receipt.BlockNumber.Uint64() {
				if head-receipt.BlockNumber.Uint64()+1 >= p.confirmations {
					return nil
				}
			}
		} else if err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			return fmt.Errorf("%w: receipt: %v", x402.ErrNetworkUnavailable, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: transaction %s", x402.ErrConfirmationTimeout, txHash.Hex())
		case <-ticker.C:
		}
	}
}
