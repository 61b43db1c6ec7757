package x402

import (
	"errors"
	"testing"
)

func TestValidateNetwork(t *testing.T) {
	tests := []struct {
		network  string
		wantType NetworkType
		wantErr  bool
	}{
		{NetworkEthereum, NetworkTypeEVM, false},
		{NetworkBase, NetworkTypeEVM, false},
		{NetworkBaseSepolia, NetworkTypeEVM, false},
		{NetworkSolanaMainnet, NetworkTypeSVM, false},
		{NetworkSolanaDevnet, NetworkTypeSVM, false},
		{"eip155:1", NetworkTypeEVM, false},
		{"eip155:notanumber", NetworkTypeUnknown, true},
		{"solana:tooshort", NetworkTypeUnknown, true},
		{"bitcoin:mainnet", NetworkTypeUnknown, true},
		{"noseparator", NetworkTypeUnknown, true},
		{"eip155:", NetworkTypeUnknown, true},
		{"", NetworkTypeUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.network, func(t *testing.T) {
			networkType, err := ValidateNetwork(tt.network)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, ErrInvalidNetwork) {
					t.Errorf("error = %v, want wrapped ErrInvalidNetwork", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if networkType != tt.wantType {
				t.Errorf("type = %v, want %v", networkType, tt.wantType)
			}
		})
	}
}

func TestGetChainID(t *testing.T) {
	id, err := GetChainID(NetworkBase)
	if err != nil {
		t.Fatalf("GetChainID() error = %v", err)
	}
	if id != 8453 {
		t.Errorf("chain id = %d, want 8453", id)
	}

	if _, err := GetChainID(NetworkSolanaDevnet); !errors.Is(err, ErrInvalidNetwork) {
		t.Errorf("GetChainID(solana) error = %v, want ErrInvalidNetwork", err)
	}
	if _, err := GetChainID("garbage"); !errors.Is(err, ErrInvalidNetwork) {
		t.Errorf("GetChainID(garbage) error = %v, want ErrInvalidNetwork", err)
	}
}

func TestGetChainConfig(t *testing.T) {
	config, err := GetChainConfig(NetworkSolanaDevnet)
	if err != nil {
		t.Fatalf("GetChainConfig() error = %v", err)
	}
	if config.USDCAddress != testMint {
		t.Errorf("devnet USDC mint = %q", config.USDCAddress)
	}
	if config.Decimals != 6 {
		t.Errorf("decimals = %d, want 6", config.Decimals)
	}

	if _, err := GetChainConfig("eip155:99999"); !errors.Is(err, ErrInvalidNetwork) {
		t.Errorf("unknown network error = %v, want ErrInvalidNetwork", err)
	}
}

func TestUSDCAsset(t *testing.T) {
	asset := USDCAsset(BaseMainnet)
	if asset.Address != BaseMainnet.USDCAddress {
		t.Errorf("address = %q", asset.Address)
	}
	if asset.Decimals != 6 {
		t.Errorf("decimals = %d, want 6", asset.Decimals)
	}
}
