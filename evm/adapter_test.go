package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/0xDeepanshu/solanax402"
)

func baseTokens() []x402.Asset {
	return []x402.Asset{{Address: usdcBase.Hex(), Decimals: 6}}
}

func newEVMPayer(t *testing.T, client Client, opts ...PayerOption) *Payer {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	keyHex := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))

	opts = append(opts, WithPayerClient(client))
	p, err := NewPayer(x402.NetworkBase, "http://localhost:8545", keyHex, baseTokens(), opts...)
	if err != nil {
		t.Fatalf("NewPayer() error = %v", err)
	}
	return p
}

func TestEVMPayerSupports(t *testing.T) {
	p := newEVMPayer(t, &fakeClient{})

	tests := []struct {
		name string
		req  *x402.PaymentRequirements
		want bool
	}{
		{
			name: "matching network and token",
			req:  &x402.PaymentRequirements{Network: x402.NetworkBase, Asset: baseTokens()[0]},
			want: true,
		},
		{
			name: "token address case-insensitive",
			req:  &x402.PaymentRequirements{Network: x402.NetworkBase, Asset: x402.Asset{Address: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", Decimals: 6}},
			want: true,
		},
		{
			name: "wrong network",
			req:  &x402.PaymentRequirements{Network: x402.NetworkEthereum, Asset: baseTokens()[0]},
			want: false,
		},
		{
			name: "unknown token",
			req:  &x402.PaymentRequirements{Network: x402.NetworkBase, Asset: x402.Asset{Address: "0x4444444444444444444444444444444444444444", Decimals: 6}},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Supports(tt.req); got != tt.want {
				t.Errorf("Supports() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEVMPayerPaySubmitsAndConfirms(t *testing.T) {
	client := &fakeClient{head: 101}
	p := newEVMPayer(t, client)

	// The receipt appears once the transaction is sent.
	client.receipt = transferReceipt(usdcBase, p.Address(), payeeAddr, big.NewInt(2_500_000), 100)

	req := baseRequirements()
	proof, err := p.Pay(context.Background(), &req)
	if err != nil {
		t.Fatalf("Pay() error = %v", err)
	}
	if proof.TxID == "" {
		t.Fatal("Pay() returned empty transaction ID")
	}

	if client.sentTx == nil {
		t.Fatal("no transaction submitted")
	}
	if to := client.sentTx.To(); to == nil || *to != usdcBase {
		t.Errorf("transaction target = %v, want token contract %s", to, usdcBase.Hex())
	}
	if client.sentTx.Value().Sign() != 0 {
		t.Error("token transfer should carry zero native value")
	}
}

func TestEVMPayerPayRejectsUnsupportedNetwork(t *testing.T) {
	p := newEVMPayer(t, &fakeClient{})

	req := baseRequirements()
	req.Network = x402.NetworkEthereum

	if _, err := p.Pay(context.Background(), &req); !errors.Is(err, x402.ErrNoValidPayer) {
		t.Errorf("Pay() error = %v, want ErrNoValidPayer", err)
	}
}

func TestEVMPayerPayEnforcesMaxAmount(t *testing.T) {
	p := newEVMPayer(t, &fakeClient{}, WithPayerMaxAmount(big.NewInt(1_000_000)))

	req := baseRequirements()

	if _, err := p.Pay(context.Background(), &req); !errors.Is(err, x402.ErrInvalidAmount) {
		t.Errorf("Pay() error = %v, want ErrInvalidAmount", err)
	}
}

func TestEVMPayerPaySurfacesNetworkErrors(t *testing.T) {
	client := &fakeClient{headerErr: errors.New("rpc down")}
	p := newEVMPayer(t, client)

	req := baseRequirements()

	if _, err := p.Pay(context.Background(), &req); !errors.Is(err, x402.ErrNetworkUnavailable) {
		t.Errorf("Pay() error = %v, want ErrNetworkUnavailable", err)
	}
}
