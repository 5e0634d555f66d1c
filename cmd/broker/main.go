package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	gklevel "github.com/go-kit/log/level"

	"github.com/streamkeep/broker/internal/config"
	"github.com/streamkeep/broker/internal/logging"
	"github.com/streamkeep/broker/pkg/storage"
	"github.com/streamkeep/broker/pkg/storage/memory"
	"github.com/streamkeep/broker/pkg/storage/pg"
)

func main() {
	configFile := flag.String("config.file", "", "Path to a YAML configuration file")
	printVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *printVersion {
		fmt.Println("streamkeep-broker (dev)")
		os.Exit(0)
	}

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := logging.New(cfg.LevelFilter())
	gklevel.Info(logger).Log("msg", "starting broker", "broker_id", cfg.Server.BrokerID, "cluster_id", cfg.Server.ClusterID, "listen_addr", cfg.Server.ListenAddr)

	engine, closeFn, err := buildEngine(cfg, logger)
	if err != nil {
		gklevel.Error(logger).Log("msg", "failed to construct storage engine", "err", err)
		os.Exit(1)
	}
	defer closeFn()

	ctx := context.Background()
	if err := engine.RegisterBroker(ctx, storage.BrokerRegistration{
		BrokerID:           cfg.Server.BrokerID,
		ClusterID:          cfg.Server.ClusterID,
		AdvertisedListener: cfg.Server.AdvertisedListener,
	}); err != nil {
		gklevel.Error(logger).Log("msg", "failed to register broker", "err", err)
		os.Exit(1)
	}

	gklevel.Info(logger).Log("msg", "broker ready", "backend", cfg.Storage.Backend)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	gklevel.Info(logger).Log("msg", "shutting down", "signal", sig.String())
}

// buildEngine selects the storage.StorageEngine realization named by
// cfg.Storage.Backend. The wire-protocol server that would route requests
// into this engine is out of scope; this entry point exists to prove the
// ambient stack (config, logging, storage selection) wires together.
func buildEngine(cfg config.Config, logger log.Logger) (storage.StorageEngine, func(), error) {
	switch cfg.Storage.Backend {
	case "postgres":
		engine, err := pg.Open(context.Background(), cfg.Storage.Postgres.DSN, cfg.Server.ClusterID)
		if err != nil {
			return nil, nil, err
		}
		return engine, engine.Close, nil
	default:
		gklevel.Info(logger).Log("msg", "using in-memory storage backend; data does not survive a restart")
		engine := memory.New(cfg.Server.ClusterID)
		return engine, func() {}, nil
	}
}
