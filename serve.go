package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"geminichat/core"
	"geminichat/core/history"
	"geminichat/core/llm"
	"geminichat/platforms/matrix"
	"geminichat/platforms/web"
)

func runServe(ctx context.Context, root *rootOptions) error {
	cfg, err := LoadConfig(root.cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.requireAPIKey(); err != nil {
		return err
	}
	log := newLogger(cfg.Logging, os.Stderr)
	if log.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	provider, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}
	dispatcher := core.NewDispatcher(provider,
		core.WithLogger(log.With().Str("component", "dispatcher").Logger()),
		core.WithMetrics(core.NewMetrics(reg)),
	)
	log.Info().Str("provider", dispatcher.ProviderID()).Str("model", cfg.LLM.Model).Msg("provider ready")

	webOpts := []web.Option{
		web.WithGatherer(reg),
		web.WithLogger(log.With().Str("component", "web").Logger()),
	}
	matrixLog := log.With().Str("component", "matrix").Logger()
	matrixOpts := []matrix.Option{matrix.WithLogger(matrixLog)}

	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close history store")
			}
		}()
		webOpts = append(webOpts, web.WithHistory(store))
		matrixOpts = append(matrixOpts, matrix.WithHistory(store))
		log.Info().Str("path", cfg.History.Path).Msg("conversation history enabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	server := web.NewServer(cfg.Server, dispatcher, webOpts...)
	g.Go(func() error { return server.Run(gctx) })

	if cfg.Matrix.Enabled {
		client, err := matrix.Login(ctx, cfg.Matrix, matrixLog)
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("matrix auth failed: %w", err)
		}
		closeCrypto, err := matrix.InitCrypto(ctx, client, cfg.Matrix, matrixLog)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		defer func() {
			if err := closeCrypto(); err != nil {
				matrixLog.Warn().Err(err).Msg("failed to close crypto store")
			}
		}()

		adapter := matrix.NewAdapter(client, dispatcher, cfg.Matrix, matrixOpts...)
		g.Go(func() error { return adapter.Run(gctx) })
	}

	err = g.Wait()
	log.Info().Msg("shutdown complete")
	return err
}
