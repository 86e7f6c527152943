package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"quizpipe/internal/app"
	"quizpipe/internal/infra/config"
	httpinfra "quizpipe/internal/infra/http"
	applog "quizpipe/internal/infra/log"
	"quizpipe/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось инициализировать зависимости")
	}
	defer a.Close()

	h := &handlers{
		tracker: a.Tracker(),
		slots:   a.Slots(),
		worker:  a.Worker(nil),
		log:     applog.Component(logger, "api"),
	}

	q, err := a.Queue()
	if err != nil {
		logger.Warn().Err(err).Msg("api: очередь генерации недоступна, создание пакетов отключено")
	} else {
		svc, err := a.Generation(q)
		if err != nil {
			logger.Warn().Err(err).Msg("api: генерация не настроена, создание пакетов отключено")
		} else {
			h.generation = svc
			// очередь в памяти видна только этому процессу, поэтому разбираем её здесь же
			if cfg.Queues.Backend == "memory" {
				go svc.Consume(ctx)
			}
		}
	}

	srv := httpinfra.NewServer(applog.Component(logger, "http"))
	h.routes(srv.Router)

	logger.Info().Msg("api: старт")
	if err := srv.Run(ctx, fmt.Sprintf(":%d", cfg.Port)); err != nil {
		logger.Error().Err(err).Msg("api: сервер остановлен")
	}
	logger.Info().Msg("api: остановка")
}
