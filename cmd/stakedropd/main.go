package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strings"

	"stakedrop/config"
	"stakedrop/core"
	"stakedrop/crypto"
	"stakedrop/observability/logging"
	"stakedrop/rpc"
	"stakedrop/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var genesisAppliedKey = []byte("stakedrop/genesis-applied")

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("STAKEDROP_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("stakedropd", env, cfg.LogFile)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node := core.NewNode(db)

	if err := applyGenesis(db, node, cfg.GenesisAlloc); err != nil {
		logger.Error("Failed to apply genesis allocations", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.MetricsAddress != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("Metrics listening", slog.String("address", cfg.MetricsAddress))
			if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
				logger.Error("Metrics server stopped", slog.Any("error", err))
			}
		}()
	}

	server := rpc.NewServer(node)
	logger.Info("RPC listening",
		slog.String("address", cfg.RPCAddress),
		slog.String("network", cfg.NetworkName))
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// applyGenesis funds the configured accounts exactly once per data directory.
func applyGenesis(db storage.Database, node *core.Node, allocs []config.GenesisAlloc) error {
	applied, err := db.Has(genesisAppliedKey)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	for _, alloc := range allocs {
		addr, err := crypto.DecodeAddress(alloc.Address)
		if err != nil {
			return fmt.Errorf("genesis alloc %q: %w", alloc.Address, err)
		}
		amount, ok := new(big.Int).SetString(alloc.Amount, 10)
		if !ok || amount.Sign() <= 0 {
			return fmt.Errorf("genesis alloc %q: invalid amount %q", alloc.Address, alloc.Amount)
		}
		var raw [20]byte
		copy(raw[:], addr.Bytes())
		if err := node.State().Mint(raw, amount); err != nil {
			return fmt.Errorf("genesis alloc %q: %w", alloc.Address, err)
		}
	}
	return db.Put(genesisAppliedKey, []byte{0x1})
}
