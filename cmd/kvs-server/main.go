// Command kvs-server runs the network front end over a chosen storage
// engine.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gtarraga/kvs/internal/config"
	"github.com/gtarraga/kvs/internal/engine"
	"github.com/gtarraga/kvs/internal/engine/kvs"
	"github.com/gtarraga/kvs/internal/engine/kvserr"
	"github.com/gtarraga/kvs/internal/engine/sledkv"
	"github.com/gtarraga/kvs/internal/metrics"
	"github.com/gtarraga/kvs/internal/pool"
	"github.com/gtarraga/kvs/internal/server"
)

func main() {
	var (
		addr        string
		dataDir     string
		engineFlag  string
		metricsAddr string
		poolFlag    string
		workers     int
	)

	root := &cobra.Command{
		Use:   "kvs-server",
		Short: "Serve a key-value store over TCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(addr, dataDir, engineFlag, metricsAddr, poolFlag, workers)
		},
	}

	root.Flags().StringVar(&addr, "addr", "127.0.0.1:4000", "address to listen on")
	root.Flags().StringVar(&dataDir, "data-dir", "./kvs-data", "directory holding engine state and kvs.conf")
	root.Flags().StringVar(&engineFlag, "engine", "kvs", "storage engine: kvs or sled")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")
	root.Flags().StringVar(&poolFlag, "pool", "shared-queue", "connection worker pool: naive, shared-queue, or work-stealing")
	root.Flags().IntVar(&workers, "workers", 8, "worker count for shared-queue and work-stealing pools")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kvs-server:", err)
		os.Exit(1)
	}
}

func run(addr, dataDir, engineFlag, metricsAddr, poolFlag string, workers int) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	confPath := filepath.Join(dataDir, config.FileName)
	if err := config.EnsureEngine(confPath, engineFlag); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	engMetrics := metrics.NewEngine(reg)
	srvMetrics := metrics.NewServer(reg)

	eng, err := openEngine(engineFlag, dataDir, logger, engMetrics)
	if err != nil {
		return err
	}
	defer eng.Close()

	p, err := openPool(poolFlag, workers, logger)
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(srvMetrics),
	}
	if metricsAddr != "" {
		opts = append(opts, server.WithMetricsAddr(metricsAddr, reg))
	}

	srv, err := server.New(addr, eng, p, opts...)
	if err != nil {
		return err
	}
	logger.Info("listening", zap.String("addr", srv.Addr()), zap.String("engine", engineFlag), zap.String("pool", poolFlag))
	return srv.Serve()
}

func openEngine(engineFlag, dataDir string, logger *zap.Logger, m *metrics.Engine) (engine.Engine, error) {
	switch engineFlag {
	case "kvs":
		return kvs.Open(dataDir, kvs.WithLogger(logger), kvs.WithMetrics(m))
	case "sled":
		return sledkv.Open(filepath.Join(dataDir, "sled.db"))
	default:
		return nil, kvserr.New(kvserr.ConfigMismatch, "unknown engine \""+engineFlag+"\"")
	}
}

func openPool(poolFlag string, workers int, logger *zap.Logger) (pool.Pool, error) {
	switch poolFlag {
	case "naive":
		return pool.NewNaive(), nil
	case "shared-queue":
		return pool.NewSharedQueue(workers, pool.WithLogger(logger)), nil
	case "work-stealing":
		return pool.NewWorkStealing(workers)
	default:
		return nil, kvserr.New(kvserr.ConfigMismatch, "unknown pool \""+poolFlag+"\"")
	}
}
