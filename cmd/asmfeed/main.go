package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/asmfeed/asmfeed/internal/collector"
	"github.com/asmfeed/asmfeed/internal/config"
	"github.com/asmfeed/asmfeed/internal/fetch"
	"github.com/asmfeed/asmfeed/internal/sink"
	"github.com/asmfeed/asmfeed/internal/telemetry"
	"github.com/asmfeed/asmfeed/internal/transport"
	"github.com/asmfeed/asmfeed/pkg/types"
)

// Exit codes: 0 on success, 1 when a run failed with a classified error,
// 2 when something unexpected happened.
const (
	exitOK      = 0
	exitKnown   = 1
	exitUnknown = 2
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	collectors := flag.String("collector", "", "comma-separated collector names to run once")
	daemon := flag.Bool("daemon", false, "run enabled collectors on an interval until signalled")
	list := flag.Bool("list", false, "print known collector names and exit")
	flag.Parse()

	// stdout carries the NDJSON event stream; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if *list {
		for _, name := range collector.Names() {
			fmt.Println(name)
		}
		os.Exit(exitOK)
	}

	slog.Info("asmfeed starting", "config", *configPath, "daemon", *daemon)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		reportPreflight(err)
		os.Exit(exitCode(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *daemon {
		os.Exit(runDaemon(ctx, *configPath, cfg))
	}

	names := splitNames(*collectors)
	if len(names) == 0 {
		slog.Error("no collector named; use -collector or -daemon")
		os.Exit(exitUnknown)
	}
	os.Exit(runOnce(ctx, cfg, names, nil))
}

// runOnce executes the named collectors sequentially against a single
// config. The worst exit code across runs wins.
func runOnce(ctx context.Context, cfg *config.Config, names []string, reg *telemetry.Registry) int {
	runner, err := buildRunner(cfg)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		reportPreflight(err)
		return exitCode(err)
	}

	code := exitOK
	for _, name := range names {
		def, ok := collector.Lookup(name)
		if !ok {
			err := &types.ConfigError{Reason: "unknown collector: " + name}
			slog.Error("unknown collector", "collector", name)
			reportPreflight(err)
			code = worst(code, exitCode(err))
			continue
		}
		stats, err := runner.Run(ctx, def)
		if reg != nil {
			reg.RecordRun(name, stats, err)
		}
		if err != nil {
			slog.Error("collection run failed", "collector", name, "err", err)
			code = worst(code, exitCode(err))
			continue
		}
		slog.Info("collection run complete",
			"collector", name,
			"records", stats.Records,
			"attempts", stats.Attempts,
		)
	}
	return code
}

// runDaemon runs the enabled collectors on the configured interval until
// the context is cancelled. The config file is watched for changes; a
// successful reload swaps the active config for subsequent ticks.
func runDaemon(ctx context.Context, configPath string, cfg *config.Config) int {
	var mu sync.Mutex
	active := cfg

	ticker := time.NewTicker(cfg.Jobs.Interval)
	defer ticker.Stop()

	go func() {
		if err := config.Watch(ctx, configPath, func(updated *config.Config) {
			mu.Lock()
			active = updated
			mu.Unlock()
			ticker.Reset(updated.Jobs.Interval)
			slog.Info("config hot-reloaded",
				"collectors", len(updated.Jobs.Enabled),
				"interval", updated.Jobs.Interval,
			)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	reg := telemetry.NewRegistry()
	if addr := cfg.Daemon.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			slog.Info("metrics endpoint listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server stopped", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()
	}

	run := func() {
		mu.Lock()
		current := active
		mu.Unlock()
		if len(current.Jobs.Enabled) == 0 {
			slog.Warn("no collectors enabled; daemon is idle")
			return
		}
		runOnce(ctx, current, current.Jobs.Enabled, reg)
	}

	slog.Info("daemon started",
		"collectors", len(cfg.Jobs.Enabled),
		"interval", cfg.Jobs.Interval,
	)
	run()

	for {
		select {
		case <-ctx.Done():
			slog.Info("asmfeed shutting down")
			return exitOK
		case <-ticker.C:
			run()
		}
	}
}

func buildRunner(cfg *config.Config) (*collector.Runner, error) {
	client, err := transport.Build(cfg)
	if err != nil {
		return nil, err
	}
	proxyURL, err := cfg.Proxy.ProxyURL()
	if err != nil {
		return nil, err
	}
	engine := fetch.New(client, cfg)
	return collector.NewRunner(engine, sink.New(cfg.Sink), proxyURL != nil), nil
}

// reportPreflight writes a single structured error event to stdout so a
// downstream consumer sees failures that happened before any run started.
func reportPreflight(err error) {
	_ = sink.NewWithWriter(os.Stdout).WriteEvent(map[string]any{
		"event_type": "asmfeed_error",
		"ts":         time.Now().Unix(),
		"error":      err.Error(),
	})
}

func exitCode(err error) int {
	if types.IsKnown(err) {
		return exitKnown
	}
	return exitUnknown
}

func worst(a, b int) int {
	if b > a {
		return b
	}
	return a
}

func splitNames(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
