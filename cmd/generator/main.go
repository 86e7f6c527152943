package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"quizpipe/internal/app"
	"quizpipe/internal/infra/config"
	applog "quizpipe/internal/infra/log"
	"quizpipe/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	if cfg.Queues.Backend == "memory" {
		logger.Fatal().Msg("generator: очередь в памяти не видна другим процессам, задайте QUEUE_BACKEND")
	}

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("generator: не удалось инициализировать зависимости")
	}
	defer a.Close()

	q, err := a.Queue()
	if err != nil {
		logger.Fatal().Err(err).Msg("generator: не удалось инициализировать очередь")
	}
	svc, err := a.Generation(q)
	if err != nil {
		logger.Fatal().Err(err).Msg("generator: не удалось собрать сервис генерации")
	}

	workers := cfg.Queues.Prefetch
	if workers <= 0 {
		workers = 1
	}
	logger.Info().Int("workers", workers).Str("queue", cfg.Queues.Backend).Msg("generator: запуск обработки очереди")
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			svc.Consume(gctx)
			return nil
		})
	}
	_ = g.Wait()
	logger.Info().Msg("generator: остановлен")
}
