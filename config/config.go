// Package config loads the server configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	paygate "github.com/paygate-protocol/paygate/go"
)

// Config is everything the paygated binary needs to wire the core.
type Config struct {
	ListenAddr string

	LedgerAddress  common.Address
	GatewayAddress common.Address
	AssetAddress   common.Address

	FeeRateBps   uint32
	FeeRecipient common.Address
	Controller   common.Address

	StatusTTL time.Duration

	// DevFaucetAmount, when positive, mints that many units to the
	// controller on startup so a fresh instance is usable immediately.
	// Dev-mode convenience only.
	DevFaucetAmount int64
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first if present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr: getenv("PAYGATE_LISTEN_ADDR", ":8402"),
		StatusTTL:  10 * time.Minute,
	}

	var err error
	if cfg.LedgerAddress, err = requireAddress("PAYGATE_LEDGER_ADDRESS"); err != nil {
		return nil, err
	}
	if cfg.GatewayAddress, err = requireAddress("PAYGATE_GATEWAY_ADDRESS"); err != nil {
		return nil, err
	}
	if cfg.AssetAddress, err = requireAddress("PAYGATE_ASSET_ADDRESS"); err != nil {
		return nil, err
	}
	if cfg.FeeRecipient, err = requireAddress("PAYGATE_FEE_RECIPIENT"); err != nil {
		return nil, err
	}
	if cfg.Controller, err = requireAddress("PAYGATE_CONTROLLER_ADDRESS"); err != nil {
		return nil, err
	}

	if raw := os.Getenv("PAYGATE_FEE_RATE_BPS"); raw != "" {
		rate, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("PAYGATE_FEE_RATE_BPS: %w", err)
		}
		if rate > paygate.MaxFeeRateBps {
			return nil, fmt.Errorf("PAYGATE_FEE_RATE_BPS %d exceeds maximum %d", rate, paygate.MaxFeeRateBps)
		}
		cfg.FeeRateBps = uint32(rate)
	}

	if raw := os.Getenv("PAYGATE_STATUS_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("PAYGATE_STATUS_TTL: %w", err)
		}
		cfg.StatusTTL = ttl
	}

	if raw := os.Getenv("PAYGATE_DEV_FAUCET_AMOUNT"); raw != "" {
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("PAYGATE_DEV_FAUCET_AMOUNT: %w", err)
		}
		cfg.DevFaucetAmount = amount
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requireAddress(key string) (common.Address, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return common.Address{}, fmt.Errorf("%s is required", key)
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s: %q is not a hex address", key, raw)
	}
	return common.HexToAddress(raw), nil
}
