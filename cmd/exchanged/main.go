// Package main provides exchanged, the exchange ledger/matching/custody
// daemon.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klingon-exchange/exchanged/internal/admin"
	"github.com/klingon-exchange/exchanged/internal/coinnode"
	"github.com/klingon-exchange/exchanged/internal/config"
	"github.com/klingon-exchange/exchanged/internal/depositsync"
	"github.com/klingon-exchange/exchanged/internal/exchange"
	"github.com/klingon-exchange/exchanged/internal/identity"
	"github.com/klingon-exchange/exchanged/internal/ledger"
	"github.com/klingon-exchange/exchanged/internal/rpc"
	"github.com/klingon-exchange/exchanged/internal/withdrawal"
	"github.com/klingon-exchange/exchanged/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir      = flag.String("data-dir", "~/.exchanged", "Data directory")
		configFile   = flag.String("config", "", "Config file path")
		apiAddr      = flag.String("api", "", "JSON-RPC API address, overrides config")
		logLevel     = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		syncInterval = flag.Duration("sync-interval", 0, "Deposit sync poll interval, overrides config")
		showVersion  = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: "info", TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("exchanged %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *apiAddr != "" {
		cfg.ListenAddr = *apiAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *syncInterval != 0 {
		cfg.SyncInterval = *syncInterval
	}

	log = logging.New(&logging.Config{Level: cfg.LogLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)
	log.Info("Config loaded", "data_dir", cfg.DataDir, "listen", cfg.ListenAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := ledger.New(&ledger.Config{DataDir: cfg.DataDir})
	if err != nil {
		log.Fatal("Failed to initialize ledger", "error", err)
	}
	defer store.Close()
	log.Info("Ledger initialized", "data_dir", cfg.DataDir)

	nodes := coinnode.NewRegistry(cfg, store)

	ex := exchange.New(store, log)
	wd := withdrawal.New(store, nodes, log)
	id := identity.New(store, log)
	ad := admin.New(store, nodes, log)

	syncCfg := depositsync.DefaultConfig()
	if cfg.SyncInterval != 0 {
		syncCfg.PollInterval = cfg.SyncInterval
	}
	if cfg.MinConfirm != 0 {
		syncCfg.MinConfirmations = int64(cfg.MinConfirm)
	}
	syncLoop := depositsync.New(store, nodes, syncCfg, log)
	syncLoop.Start()
	log.Info("Deposit sync loop started", "poll_interval", syncCfg.PollInterval)

	server := rpc.NewServer(ex, wd, id, ad, nodes, store, log)
	if err := server.Start(cfg.ListenAddr); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	log.Info("exchanged ready", "version", version, "api", "http://"+cfg.ListenAddr, "ws", "ws://"+cfg.ListenAddr+"/ws")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down...")

	cancel()
	syncLoop.Stop()
	if err := server.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}
	log.Info("Goodbye!")
}
