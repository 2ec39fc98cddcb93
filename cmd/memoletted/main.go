// Command memoletted runs the memory service daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tesumi/memolette/assemble"
	"github.com/tesumi/memolette/config"
	"github.com/tesumi/memolette/embed"
	"github.com/tesumi/memolette/embed/mock"
	openaiembed "github.com/tesumi/memolette/embed/openai"
	"github.com/tesumi/memolette/extract"
	"github.com/tesumi/memolette/extract/claude"
	"github.com/tesumi/memolette/fact"
	"github.com/tesumi/memolette/pipeline"
	"github.com/tesumi/memolette/server"
	"github.com/tesumi/memolette/store"
	"github.com/tesumi/memolette/store/memstore"
	"github.com/tesumi/memolette/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "memoletted:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	attrs := fact.NewAttributes(cfg.Attrs)

	st, turns, err := newStore(cfg, attrs, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	embedder, cleanup, err := newEmbedder(cfg.Embedder)
	if err != nil {
		return err
	}
	defer cleanup()

	extractor := newExtractor(cfg.Extractor)

	p := pipeline.New(pipeline.Config{
		Extractor: extractor,
		Embedder:  embedder,
		Store:     st,
		TurnLog:   turns,
		Retrieval: cfg.Retrieval.Engine(),
		Assembler: assemble.New(nil),
		Attrs:     attrs,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr: cfg.Server.Address,
		Handler: server.New(p, logger, server.Options{
			DefaultBudget: cfg.Assembler.DefaultBudget,
			TurnLimit:     cfg.Assembler.TurnLimit,
		}).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.Server.Address),
			zap.String("store", cfg.Store.Backend),
			zap.String("embedder", cfg.Embedder.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	return srv.Shutdown(ctx)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func newStore(cfg *config.Config, attrs *fact.Attributes, logger *zap.Logger) (store.Store, store.TurnLog, error) {
	switch cfg.Store.Backend {
	case "memory":
		ms := memstore.New(attrs)
		return ms, ms, nil
	case "sqlite":
		ss, err := sqlite.Open(cfg.Store.Path, attrs, logger)
		if err != nil {
			return nil, nil, err
		}
		return ss, ss, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// newEmbedder builds the configured backend and wraps it with the
// cache and circuit breaker decorators. The returned cleanup releases
// the cache.
func newEmbedder(cfg config.EmbedderConfig) (embed.Embedder, func(), error) {
	var base embed.Embedder
	var err error
	switch cfg.Backend {
	case "mock":
		base = mock.New()
	case "openai":
		base = openaiembed.New(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "onnx":
		base, err = newONNXEmbedder(cfg)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("unknown embedder backend %q", cfg.Backend)
	}

	if cfg.Breaker {
		base = embed.WithBreaker(base, embed.DefaultBreakerConfig(cfg.Backend))
	}

	cleanup := func() {}
	if cfg.CacheEntries > 0 {
		cached, err := embed.NewCached(base, cfg.CacheEntries)
		if err != nil {
			return nil, nil, err
		}
		base = cached
		cleanup = cached.Close
	}
	return base, cleanup, nil
}

func newExtractor(cfg config.ExtractorConfig) extract.Extractor {
	var opts []claude.Option
	if cfg.Model != "" {
		opts = append(opts, claude.WithModel(cfg.Model))
	}
	return claude.New(cfg.APIKey, cfg.BaseURL, opts...)
}
