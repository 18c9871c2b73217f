package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cqkv/logkv"
	"github.com/cqkv/logkv/server"
	"github.com/cqkv/logkv/shell"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "logkv: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a YAML config file")
	dir := flag.String("dir", "", "data directory, overrides the config file")
	serve := flag.Bool("serve", false, "serve HTTP instead of running the shell")
	httpAddr := flag.String("addr", "", "HTTP listen address, overrides the config file")
	logLevel := flag.String("log-level", "", "debug, info, warn or error")
	flag.Parse()

	cfg, err := initConfig(*configPath)
	if err != nil {
		return err
	}
	if *dir != "" {
		cfg.DB.Dir = *dir
	}
	if *logLevel != "" {
		cfg.Logger.Level = *logLevel
	}
	if err = initLogger(cfg.Logger); err != nil {
		return err
	}
	if err = cfg.DB.Validate(); err != nil {
		return err
	}

	opts := append(cfg.DB.Options(), logkv.WithLogger(slog.Default()))
	db, err := logkv.Open(cfg.DB.Dir, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("close db", "error", err)
		}
	}()

	if !*serve {
		var limits []shell.Option
		if cfg.DB.MaxKeySize > 0 && cfg.DB.MaxValueSize > 0 {
			limits = append(limits, shell.WithLimits(cfg.DB.MaxKeySize, cfg.DB.MaxValueSize))
		}
		return shell.New(db, os.Stdin, os.Stdout, isTerminal(os.Stdin), limits...).Run()
	}

	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := server.New(db, cfg.HTTP.Addr, int64(cfg.DB.MaxValueSize), slog.Default())
	if err = srv.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	slog.Info("shutting down")
	return srv.Stop()
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
