// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// dexindexd indexes a Uniswap v4-style pool manager: it follows the
// contract's event stream, materializes pool, token and candle state, and
// serves it over REST and WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/luxfi/log"
	"github.com/spf13/cobra"

	"github.com/luxfi/dexindex/api"
	"github.com/luxfi/dexindex/bus"
	"github.com/luxfi/dexindex/chain"
	"github.com/luxfi/dexindex/config"
	"github.com/luxfi/dexindex/ingest"
	"github.com/luxfi/dexindex/pools"
	"github.com/luxfi/dexindex/store"
	"github.com/luxfi/dexindex/tokens"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:           "dexindexd",
		Short:         "pool manager event indexer",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgPath)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	return cmd
}

func run(ctx context.Context, cfgPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger := log.Root()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := chain.Dial(ctx, cfg.RPCURL, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	b := bus.New(cfg.CandleBuffer, logger)
	defer b.Close()

	floor, err := cfg.MinimumNativeLocked()
	if err != nil {
		return err
	}
	oracle := tokens.NewOracle(st, tokens.OracleConfig{
		WrappedNative:       cfg.Oracle.WrappedNative,
		Stablecoin:          cfg.Oracle.Stablecoin,
		NativeStablePool:    cfg.Oracle.NativeStablePool,
		StablecoinIsToken0:  cfg.Oracle.StablecoinIsToken0,
		WhitelistTokens:     cfg.Oracle.WhitelistTokens,
		MinimumNativeLocked: floor,
	}, logger)
	agg, err := tokens.NewAggregator(st, client, oracle, b, logger)
	if err != nil {
		return err
	}
	machine := pools.NewMachine(st, agg, logger)

	orch, err := ingest.New(ingest.Config{
		PoolManager:  cfg.PoolManagerAddress(),
		StartBlock:   cfg.StartBlock,
		BatchSize:    cfg.SyncBatchSize,
		PollInterval: cfg.PollInterval,
	}, client, st, machine, agg, logger)
	if err != nil {
		return err
	}

	tokens.NewFinalizer(st, b, logger).Run(ctx)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewServer(st, b, cfg.PoolManager, logger).Router(),
	}
	go func() {
		logger.Info("api listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", "err", err)
		}
	}()

	ingestErr := make(chan error, 1)
	go func() { ingestErr <- orch.Run(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-ingestErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("ingestion stopped", "err", err)
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown incomplete", "err", err)
	}
	return runErr
}

func openStore(ctx context.Context, cfg *config.Config, logger log.Logger) (store.Store, error) {
	if cfg.DatabaseDSN == "" {
		logger.Warn("no database configured, using in-memory store")
		return store.NewMemStore(), nil
	}
	st, err := store.OpenSQL(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Info("connected to database")
	return st, nil
}
