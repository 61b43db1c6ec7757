package solana

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	x402 "github.com/0xDeepanshu/solanax402"
)

var (
	testMint  = solana.MustPublicKeyFromBase58("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU")
	testPayee = solana.NewWallet().PublicKey()
	testPayer = solana.NewWallet().PublicKey()
	testSig   = solana.SignatureFromBytes(make([]byte, 64))
)

type fakeVerifierRPC struct {
	tx       *rpc.GetTransactionResult
	txErr    error
	statuses *rpc.GetSignatureStatusesResult
	statErr  error
}

func (f *fakeVerifierRPC) GetTransaction(_ context.Context, _ solana.Signature, _ *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	return f.tx, f.txErr
}

func (f *fakeVerifierRPC) GetSignatureStatuses(_ context.Context, _ bool, _ ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	return f.statuses, f.statErr
}

func confirmedStatus() *rpc.GetSignatureStatusesResult {
	return &rpc.GetSignatureStatusesResult{
		Value: []*rpc.SignatureStatusesResult{
			{ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
		},
	}
}

func tokenBalanceEntry(index uint16, mint solana.PublicKey, owner solana.PublicKey, amount string, decimals uint8) rpc.TokenBalance {
	o := owner
	return rpc.TokenBalance{
		AccountIndex: index,
		Mint:         mint,
		Owner:        &o,
		UiTokenAmount: &rpc.UiTokenAmount{
			Amount:   amount,
			Decimals: decimals,
		},
	}
}

// transferTx fakes a transaction whose balance deltas move amount from payer
// to payee in the test mint.
func transferTx(amount string, payeeBefore, payeeAfter string) *rpc.GetTransactionResult {
	return &rpc.GetTransactionResult{
		Meta: &rpc.TransactionMeta{
			PreTokenBalances: []rpc.TokenBalance{
				tokenBalanceEntry(1, testMint, testPayer, "9000000", 6),
				tokenBalanceEntry(2, testMint, testPayee, payeeBefore, 6),
			},
			PostTokenBalances: []rpc.TokenBalance{
				tokenBalanceEntry(1, testMint, testPayer, "6500000", 6),
				tokenBalanceEntry(2, testMint, testPayee, payeeAfter, 6),
			},
		},
	}
}

func testRequirements() x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Amount:   "2500000",
		Asset:    x402.Asset{Address: testMint.String(), Decimals: 6},
		Network:  x402.NetworkSolanaDevnet,
		PayTo:    testPayee.String(),
		Resource: "https://api.example.com/api/try",
	}
}

func newTestVerifier(t *testing.T, client VerifierRPCClient) *Verifier {
	t.Helper()
	v, err := NewVerifier(x402.NetworkSolanaDevnet, WithVerifierRPCClient(client))
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	return v
}

func TestVerifierAcceptsExactTransfer(t *testing.T) {
	v := newTestVerifier(t, &fakeVerifierRPC{
		tx:       transferTx("2500000", "0", "2500000"),
		statuses: confirmedStatus(),
	})

	result, err := v.Verify(context.Background(), x402.PaymentProof{TxID: testSig.String()}, testRequirements())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !result.Verified {
		t.Fatalf("Verify() rejected: %s", result.Reason)
	}
	if result.Amount != "2500000" {
		t.Errorf("amount = %q, want %q", result.Amount, "2500000")
	}
	if result.Payer != testPayer.String() {
		t.Errorf("payer = %q, want %q", result.Payer, testPayer.String())
	}
	if result.Network != x402.NetworkSolanaDevnet {
		t.Errorf("network = %q, want %q", result.Network, x402.NetworkSolanaDevnet)
	}
}

func TestVerifierAcceptsOverpayment(t *testing.T) {
	v := newTestVerifier(t, &fakeVerifierRPC{
		tx:       transferTx("3000000", "0", "3000000"),
		statuses: confirmedStatus(),
	})

	result, err := v.Verify(context.Background(), x402.PaymentProof{TxID: testSig.String()}, testRequirements())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !result.Verified {
		t.Errorf("Verify() rejected overpayment: %s", result.Reason)
	}
}

func TestVerifierRejectsShortPayment(t *testing.T) {
	v := newTestVerifier(t, &fakeVerifierRPC{
		tx:       transferTx("2499999", "0", "2499999"),
		statuses: confirmedStatus(),
	})

	result, err := v.Verify(context.Background(), x402.PaymentProof{TxID: testSig.String()}, testRequirements())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if result.Verified {
		t.Fatal("Verify() accepted a short payment")
	}
	if result.Reason != x402.RejectInsufficientAmount {
		t.Errorf("reason = %q, want %q", result.Reason, x402.RejectInsufficientAmount)
	}
	if result.Amount != "2499999" {
		t.Errorf("amount = %q, want observed transfer amount", result.Amount)
	}
}

func TestVerifierRejectsUnknownTransaction(t *testing.T) {
	v := newTestVerifier(t, &fakeVerifierRPC{txErr: errors.New("not found")})

	result, err := v.Verify(context.Background(), x402.PaymentProof{TxID: testSig.String()}, testRequirements())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if result.Verified || result.Reason != x402.RejectNotFound {
		t.Errorf("result = %+v, want not-found rejection", result)
	}
}

func TestVerifierRejectsMalformedSignature(t *testing.T) {
	v := newTestVerifier(t, &fakeVerifierRPC{})

	result, err := v.Verify(context.Background(), x402.PaymentProof{TxID: "not-a-signature!"}, testRequirements())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if result.Verified || result.Reason != x402.RejectNotFound {
		t.Errorf("result = %+v, want not-found rejection", result)
	}
}

func TestVerifierRejectsFailedTransaction(t *testing.T) {
	tx := transferTx("2500000", "0", "2500000")
	tx.Meta.Err = map[string]interface{}{"InstructionError": []interface{}{}}

	v := newTestVerifier(t, &fakeVerifierRPC{tx: tx, statuses: confirmedStatus()})

	result, err := v.Verify(context.Background(), x402.PaymentProof{TxID: testSig.String()}, testRequirements())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if result.Verified || result.Reason != x402.RejectTxFailed {
		t.Errorf("result = %+v, want transaction-failed rejection", result)
	}
}

func TestVerifierRejectsWrongNetwork(t *testing.T) {
	v := newTestVerifier(t, &fakeVerifierRPC{})

	req := testRequirements()
	req.Network = x402.NetworkSolanaMainnet

	result, err := v.Verify(context.Background(), x402.PaymentProof{TxID: testSig.String()}, req)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if result.Verified || result.Reason != x402.RejectWrongNetwork {
		t.Errorf("result = %+v, want wrong-network rejection", result)
	}
}

func TestVerifierRejectsWrongMint(t *testing.T) {
	otherMint := solana.NewWallet().PublicKey()
	tx := &rpc.GetTransactionResult{
		Meta: &rpc.TransactionMeta{
			PreTokenBalances: []rpc.TokenBalance{
				tokenBalanceEntry(1, otherMint, testPayer, "9000000", 6),
			},
			PostTokenBalances: []rpc.TokenBalance{
				tokenBalanceEntry(1, otherMint, testPayer, "6500000", 6),
				tokenBalanceEntry(2, otherMint, testPayee, "2500000", 6),
			},
		},
	}

	v := newTestVerifier(t, &fakeVerifierRPC{tx: tx, statuses: confirmedStatus()})

	result, err := v.Verify(context.Background(), x402.PaymentProof{TxID: testSig.String()}, testRequirements())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if result.Verified || result.Reason != x402.RejectWrongAsset {
		t.Errorf("result = %+v, want wrong-asset rejection", result)
	}
}

func TestVerifierRejectsWrongPayee(t *testing.T) {
	other := solana.NewWallet().PublicKey()
	tx := &rpc.GetTransactionResult{
		Meta: &rpc.TransactionMeta{
			PreTokenBalances: []rpc.TokenBalance{
				tokenBalanceEntry(1, testMint, testPayer, "9000000", 6),
			},
			PostTokenBalances: []rpc.TokenBalance{
				tokenBalanceEntry(1, testMint, testPayer, "6500000", 6),
				tokenBalanceEntry(2, testMint, other, "2500000", 6),
			},
		},
	}

	v := newTestVerifier(t, &fakeVerifierRPC{tx: tx, statuses: confirmedStatus()})

	result, err := v.Verify(context.Background(), x402.PaymentProof{TxID: testSig.String()}, testRequirements())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if result.Verified || result.Reason != x402.RejectWrongPayee {
		t.Errorf("result = %+v, want wrong-payee rejection", result)
	}
}

func TestVerifierRejectsUnconfirmedTransaction(t *testing.T) {
	v := newTestVerifier(t, &fakeVerifierRPC{
		tx: transferTx("2500000", "0", "2500000"),
		statuses: &rpc.GetSignatureStatusesResult{
			Value: []*rpc.SignatureStatusesResult{
				{ConfirmationStatus: rpc.ConfirmationStatusProcessed},
			},
		},
	})

	result, err := v.Verify(context.Background(), x402.PaymentProof{TxID: testSig.String()}, testRequirements())
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if result.Verified || result.Reason != x402.RejectUnconfirmed {
		t.Errorf("result = %+v, want insufficient-confirmations rejection", result)
	}
}

func TestVerifierSettleIssuesReceipt(t *testing.T) {
	v := newTestVerifier(t, &fakeVerifierRPC{
		tx:       transferTx("2500000", "0", "2500000"),
		statuses: confirmedStatus(),
	})

	receipt, err := v.Settle(context.Background(), x402.PaymentProof{TxID: testSig.String()}, testRequirements())
	if err != nil {
		t.Fatalf("Settle() error = %v", err)
	}
	if !receipt.Success {
		t.Fatalf("Settle() failed: %s", receipt.ErrorReason)
	}
	if receipt.Transaction != testSig.String() {
		t.Errorf("transaction = %q, want %q", receipt.Transaction, testSig.String())
	}
	if receipt.Payer != testPayer.String() {
		t.Errorf("payer = %q, want %q", receipt.Payer, testPayer.String())
	}
}
