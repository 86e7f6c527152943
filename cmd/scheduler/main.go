package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

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

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось инициализировать зависимости")
	}
	defer a.Close()

	pub, err := a.Publisher()
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось создать публикатор")
	}
	worker := a.Worker(pub)

	c, err := newCron(ctx, cfg.Scheduler.Spec, worker, cfg.Scheduler.BatchSize, applog.Component(logger, "scheduler"))
	if err != nil {
		logger.Fatal().Err(err).Str("spec", cfg.Scheduler.Spec).Msg("scheduler: некорректное расписание")
	}
	c.Start()
	logger.Info().Str("spec", cfg.Scheduler.Spec).Int("batch_size", cfg.Scheduler.BatchSize).Msg("scheduler: старт")

	<-ctx.Done()
	logger.Info().Msg("scheduler: остановка")
	// дожидаемся текущего прохода: захваченные задачи должны дойти до PUBLISHED или FAILED
	<-c.Stop().Done()
}

