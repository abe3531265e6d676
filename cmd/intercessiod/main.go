// Command intercessiod is the Intercessio remote-signing daemon: a single
// long-lived process that owns pairing sessions, evaluates signing
// requests against policy, and exposes a local control-plane socket.
package main

import (
	"context"
	"fmt"
	"os"

	"intercessio/internal/config"
	"intercessio/internal/daemon"
	"intercessio/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	dir, err := config.Dir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "intercessiod: %v\n", err)
		return 1
	}

	if err := config.EnsureDir(dir); err != nil {
		fmt.Fprintf(os.Stderr, "intercessiod: %v\n", err)
		return 1
	}

	paths := config.ResolvePaths(dir)

	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "intercessiod: %v\n", err)
		return 1
	}

	format := logging.FormatText
	if cfg.LogFormat == "json" {
		format = logging.FormatJSON
	}
	level := logging.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}

	logger := logging.New(logging.Config{
		Level: level, Format: format, Output: os.Stderr, Component: "intercessiod",
	})

	d, err := daemon.New(cfg, paths, logger)
	if err != nil {
		logger.Error("failed to construct daemon", "error", err)
		return 1
	}

	return d.Run(context.Background())
}
