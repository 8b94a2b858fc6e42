package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bosley/minutes/cli"
	"github.com/bosley/minutes/config"
	"github.com/bosley/minutes/output"
)

func main() {
	if err := run(); err != nil {
		formatter := output.NewFormatter(os.Stderr)
		formatter.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	deps := &cli.Dependencies{Config: cfg}
	defer deps.Close()

	return cli.NewRootCmd(deps).Execute()
}
