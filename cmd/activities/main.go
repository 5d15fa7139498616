package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/pflag"

	"github.com/example/activities-management/internal/application"
	"github.com/example/activities-management/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "activities:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("activities", pflag.ContinueOnError)
	flags.SetOutput(stdout)
	configPath := flags.StringP("config", "c", "", "path to a YAML configuration file")
	hashKey := flags.String("hash-api-key", "", "print the argon2id hash of an API key for the api_clients configuration and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *hashKey != "" {
		encoded, err := application.HashAPIKey(*hashKey, application.DefaultArgon2idParams)
		if err != nil {
			return fmt.Errorf("hash api key: %w", err)
		}
		_, err = fmt.Fprintln(stdout, encoded)
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := newLogger(stdout, cfg.LogLevel)
	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return err
	}
	defer app.Close()

	return app.Run(ctx)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
