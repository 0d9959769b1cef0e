package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"gigchain/config"
	"gigchain/core"
	"gigchain/observability/logging"
	"gigchain/rpc"
	"gigchain/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("GIG_ENV"))
	logger := logging.Setup("gigd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.Environment != "" {
		logger = logging.Setup("gigd", cfg.Environment)
	}

	nodeCfg, err := buildNodeConfig(cfg)
	if err != nil {
		logger.Error("Invalid node configuration", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.String("path", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	node, err := core.NewNode(db, nodeCfg)
	if err != nil {
		logger.Error("Failed to initialize node", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("Starting JSON-RPC server",
		slog.String("address", cfg.RPCAddress),
		slog.String("network", cfg.NetworkName),
	)
	server := rpc.NewServer(node)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server terminated", slog.Any("error", err))
		os.Exit(1)
	}
}

func buildNodeConfig(cfg *config.Config) (core.Config, error) {
	out := core.Config{
		FeeBps:              cfg.FeeBps,
		AutoReleaseSeconds:  cfg.AutoReleaseSeconds,
		MinBidReputation:    cfg.MinBidReputation,
		MaxBidsPerEpoch:     cfg.MaxBidsPerEpoch,
		BidEpochSeconds:     cfg.BidEpochSeconds,
		Quorum:              cfg.Quorum,
		VotingPeriodSeconds: cfg.VotingPeriodSeconds,
		BondToken:           cfg.BondToken,
		LivenessSeconds:     cfg.LivenessSeconds,
		DisputerRewardBps:   cfg.DisputerRewardBps,
		RejectedClientBps:   cfg.RejectedClientBps,
	}

	var err error
	if out.Owner, err = config.DecodedAddress(cfg.Owner); err != nil {
		return core.Config{}, fmt.Errorf("owner: %w", err)
	}
	if out.FeeTreasury, err = config.DecodedAddress(cfg.FeeTreasury); err != nil {
		return core.Config{}, fmt.Errorf("fee treasury: %w", err)
	}
	if cfg.Oracle != "" {
		if out.Oracle, err = config.DecodedAddress(cfg.Oracle); err != nil {
			return core.Config{}, fmt.Errorf("oracle: %w", err)
		}
	}
	if cfg.Scorer != "" {
		if out.Scorer, err = config.DecodedAddress(cfg.Scorer); err != nil {
			return core.Config{}, fmt.Errorf("scorer: %w", err)
		}
	}
	for _, raw := range cfg.Arbitrators {
		member, decodeErr := config.DecodedAddress(raw)
		if decodeErr != nil {
			return core.Config{}, fmt.Errorf("arbitrator %q: %w", raw, decodeErr)
		}
		out.ArbPanel = append(out.ArbPanel, member)
	}
	if trimmed := strings.TrimSpace(cfg.BondAmount); trimmed != "" {
		amount, ok := new(big.Int).SetString(trimmed, 10)
		if !ok || amount.Sign() <= 0 {
			return core.Config{}, fmt.Errorf("bond amount %q is not a positive integer", cfg.BondAmount)
		}
		out.BondAmount = amount
	}
	return out, nil
}
