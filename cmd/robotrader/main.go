package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"robotrader/internal/config"
	"robotrader/internal/engine"
	"robotrader/internal/gateway/kis"
	"robotrader/internal/gateway/notifier"
	"robotrader/internal/logger"
	"robotrader/internal/store"
	transporthttp "robotrader/internal/transport/http"
	"robotrader/internal/universe"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfgPath := os.Getenv("ROBOTRADER_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config failed: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("initializing log file failed: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("config loaded (env=%s)", cfg.App.Env)

	client, err := kis.NewClient(kis.Config{
		BaseURL:        cfg.KIS.BaseURL,
		AppKey:         cfg.KIS.AppKey,
		AppSecret:      cfg.KIS.AppSecret,
		AccountNo:      cfg.KIS.AccountNo,
		AccountProduct: cfg.KIS.AccountProduct,
		TimeoutSeconds: cfg.KIS.TimeoutSeconds,
	})
	if err != nil {
		log.Fatalf("initializing brokerage client failed: %v", err)
	}

	journal, err := store.New(cfg.Store.Path)
	if err != nil {
		log.Fatalf("opening trade journal failed: %v", err)
	}

	watchlist, err := universe.Load(cfg.Universe.Path)
	if err != nil {
		log.Fatalf("loading watchlist failed: %v", err)
	}

	opts := []engine.Option{
		engine.WithJournal(journal),
		engine.WithWatchlist(watchlist),
	}
	if cfg.Notify.Telegram.Enabled {
		tg := notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
		opts = append(opts, engine.WithNotifier(notifier.NewAsync(tg)))
	}

	eng, err := engine.New(cfg, client, client, opts...)
	if err != nil {
		log.Fatalf("initializing engine failed: %v", err)
	}
	defer eng.Close()

	server, err := transporthttp.NewServer(transporthttp.ServerConfig{
		Addr:        cfg.App.HTTPAddr,
		Manager:     eng.Manager(),
		Ledger:      eng.Ledger(),
		Registry:    eng.Registry(),
		Coordinator: eng.Coordinator(),
		Journal:     journal,
	})
	if err != nil {
		log.Fatalf("initializing status server failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return eng.Run(gctx)
	})
	group.Go(func() error {
		return server.Start()
	})
	group.Go(func() error {
		<-gctx.Done()
		return server.Shutdown(context.Background())
	})

	if err := group.Wait(); err != nil && gctx.Err() == nil {
		log.Fatalf("run failed: %v", err)
	}
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
