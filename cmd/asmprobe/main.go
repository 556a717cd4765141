package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/asmfeed/asmfeed/internal/config"
	"github.com/asmfeed/asmfeed/internal/probe"
)

type targetList []string

func (t *targetList) String() string { return strings.Join(*t, ",") }

func (t *targetList) Set(v string) error {
	if v = strings.TrimSpace(v); v != "" {
		*t = append(*t, v)
	}
	return nil
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	timeout := flag.Duration("timeout", 10*time.Second, "per-target timeout")
	ndjson := flag.Bool("ndjson", false, "emit one JSON object per line instead of an array")
	var targets targetList
	flag.Var(&targets, "target", "URL to probe (repeatable; default is the API root)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	if len(targets) == 0 {
		targets = targetList{strings.TrimRight(cfg.API.BaseURL, "/") + "/global"}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	results := probe.New(cfg, *timeout).Probe(ctx, targets)

	enc := json.NewEncoder(os.Stdout)
	if *ndjson {
		for _, res := range results {
			if err := enc.Encode(res); err != nil {
				slog.Error("encode result", "err", err)
				os.Exit(1)
			}
		}
	} else {
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			slog.Error("encode results", "err", err)
			os.Exit(1)
		}
	}

	failed := 0
	for _, res := range results {
		if !res.Success {
			failed++
		}
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d targets failed\n", failed, len(results))
	}
	// Target failures are data, not process failures.
	os.Exit(0)
}
