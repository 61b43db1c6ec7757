package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	x402 "github.com/0xDeepanshu/solanax402"
)

// Config is the daemon configuration, loaded from the environment with an
// optional .env file.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string

	// Network is the CAIP-2 network payments are accepted on.
	Network string

	// PayTo is the recipient address. Required.
	PayTo string

	// PriceAmount is the price per request in atomic units.
	PriceAmount string

	// AssetAddress and AssetDecimals name the accepted token. Defaults to
	// the network's USDC.
	AssetAddress  string
	AssetDecimals int

	// Description is the human-readable challenge description.
	Description string

	// RPCURL overrides the EVM RPC endpoint. Required for EVM networks.
	RPCURL string

	// FacilitatorURL, when set, delegates verification and settlement to a
	// remote facilitator instead of verifying against the chain directly.
	FacilitatorURL string

	// FacilitatorAuth is an optional Authorization header value for the
	// facilitator.
	FacilitatorAuth string

	// MySQLDSN, when set, backs the claim ledger with MySQL so multiple
	// instances share claim state. Empty means in-memory.
	MySQLDSN string

	// VerifyOnly skips facilitator settlement.
	VerifyOnly bool

	// AllowOrigin is the CORS allow-origin value.
	AllowOrigin string
}

func loadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		Network:         getEnv("NETWORK", x402.NetworkSolanaDevnet),
		PayTo:           os.Getenv("PAY_TO"),
		PriceAmount:     getEnv("PRICE_AMOUNT", "2500000"),
		AssetAddress:    os.Getenv("ASSET_ADDRESS"),
		Description:     getEnv("DESCRIPTION", "AI Chat Request Example"),
		RPCURL:          os.Getenv("RPC_URL"),
		FacilitatorURL:  os.Getenv("FACILITATOR_URL"),
		FacilitatorAuth: os.Getenv("FACILITATOR_AUTH"),
		MySQLDSN:        os.Getenv("MYSQL_DSN"),
		AllowOrigin:     getEnv("ALLOW_ORIGIN", "*"),
	}

	if v := os.Getenv("VERIFY_ONLY"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("VERIFY_ONLY: %w", err)
		}
		cfg.VerifyOnly = parsed
	}

	if cfg.PayTo == "" {
		return nil, errors.New("PAY_TO is required")
	}

	if cfg.AssetAddress == "" {
		chain, err := x402.GetChainConfig(cfg.Network)
		if err != nil {
			return nil, fmt.Errorf("NETWORK %q has no default asset, set ASSET_ADDRESS: %w", cfg.Network, err)
		}
		cfg.AssetAddress = chain.USDCAddress
		cfg.AssetDecimals = chain.Decimals
	} else {
		decimals, err := strconv.Atoi(getEnv("ASSET_DECIMALS", "6"))
		if err != nil {
			return nil, fmt.Errorf("ASSET_DECIMALS: %w", err)
		}
		cfg.AssetDecimals = decimals
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
