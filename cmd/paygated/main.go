// paygated serves the settlement core over HTTP: payment submission through
// the fee gateway, settlement status reads through the status index, and
// controller-only fee administration.
package main

import (
	"log/slog"
	"math/big"
	"os"
	"time"

	"github.com/lmittmann/tint"

	paygate "github.com/paygate-protocol/paygate/go"
	"github.com/paygate-protocol/paygate/go/config"
	"github.com/paygate-protocol/paygate/go/host"
	"github.com/paygate-protocol/paygate/go/rest"
	"github.com/paygate-protocol/paygate/go/statusindex"
)

func main() {
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config", "err", err)
		os.Exit(1)
	}

	h := host.New()
	token := host.NewStandardToken("USDX")
	h.RegisterToken(cfg.AssetAddress, token)

	ledger := paygate.NewLedger(cfg.LedgerAddress)
	gateway, err := paygate.NewFeeGateway(cfg.GatewayAddress, ledger, paygate.SingleController(cfg.Controller), paygate.FeeConfig{
		RateBps:   cfg.FeeRateBps,
		Recipient: cfg.FeeRecipient,
	})
	if err != nil {
		log.Error("gateway init", "err", err)
		os.Exit(1)
	}

	index := statusindex.New(h.Events(), ledger, cfg.StatusTTL)
	defer index.Close()

	if cfg.DevFaucetAmount > 0 {
		token.Mint(cfg.Controller, big.NewInt(cfg.DevFaucetAmount))
		log.Warn("dev faucet enabled", "recipient", cfg.Controller, "amount", cfg.DevFaucetAmount)
	}

	server := rest.NewServer(h, ledger, gateway, index, log)
	log.Info("paygated listening",
		"addr", cfg.ListenAddr,
		"feeRateBps", cfg.FeeRateBps,
		"maxFeeRateBps", paygate.MaxFeeRateBps,
	)
	if err := server.Router().Run(cfg.ListenAddr); err != nil {
		log.Error("server", "err", err)
		os.Exit(1)
	}
}
