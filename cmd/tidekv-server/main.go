// Command tidekv-server runs a standalone server.
//
// Configuration comes from an optional YAML file; flags override individual
// fields. The server stops gracefully on SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/tidekv/tidekv/config"
	"github.com/tidekv/tidekv/engine"
	"github.com/tidekv/tidekv/server"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		addr       = flag.String("addr", "", "listen address, overrides config (host:port)")
		shards     = flag.Int("shards", 0, "shard count, overrides config")
		maxMemory  = flag.Int64("max-memory", -1, "memory budget in bytes, 0 is unlimited, overrides config")
		logLevel   = flag.String("log-level", "", "log level: debug, info, warn, error")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	applyFlagOverrides(cfg, *addr, *shards, *maxMemory, *logLevel)

	cfg.PopulateDefaults()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log.Level)
	slog.SetDefault(log)

	eng := engine.New(engine.Config{
		ShardCount:    cfg.Engine.Shards,
		MaxMemory:     cfg.Engine.MaxMemoryBytes,
		SweepInterval: time.Duration(cfg.Engine.SweepIntervalMs) * time.Millisecond,
	})
	defer eng.Close()

	srv := server.New(eng, server.Config{
		Addr:         cfg.Server.Addr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
		MaxFrameSize: uint32(cfg.Server.MaxFrameBytes),
		Logger:       log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting", "version", server.Version, "addr", cfg.Server.Addr(), "shards", cfg.Engine.Shards)

	if err := srv.ListenAndServe(ctx); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	log.Info("stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Read(path)
}

func applyFlagOverrides(cfg *config.Config, addr string, shards int, maxMemory int64, logLevel string) {
	if addr != "" {
		host, port, err := splitAddr(addr)
		if err == nil {
			cfg.Server.BindAddress = host
			cfg.Server.Port = port
		}
	}
	if shards > 0 {
		cfg.Engine.Shards = shards
	}
	if maxMemory >= 0 {
		cfg.Engine.MaxMemoryBytes = maxMemory
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
}

func splitAddr(addr string) (host string, port int, err error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("address %q has a bad port: %w", addr, err)
	}
	return host, port, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
