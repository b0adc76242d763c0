package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagnerlima/certledger/internal/certification"
	"github.com/wagnerlima/certledger/internal/config"
	"github.com/wagnerlima/certledger/internal/server"
	"github.com/wagnerlima/certledger/internal/storage"
	"github.com/wagnerlima/certledger/internal/storage/postgres"
	"github.com/wagnerlima/certledger/internal/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "certledger: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		return err
	}
	// stdout belongs to the stdio transport
	logger := cfg.Logger(os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	metrics, err := tools.NewMetrics(nil)
	if err != nil {
		return err
	}

	svc := certification.New(store, certification.WithLogger(logger))
	srv := server.New(svc, logger, metrics)

	switch cfg.Transport {
	case config.TransportStdio:
		logger.Info("certledger starting", "transport", "stdio", "driver", cfg.Driver)
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case config.TransportHTTP:
		handler := server.NewHTTPHandler(srv, svc, logger)
		if err := server.ListenAndServe(ctx, cfg.Addr, handler, logger); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.Driver == config.DriverPostgres {
		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := storage.OpenSQLite(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	return s, nil
}
