package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"quizpipe/internal/usecase/publish"
)

type ticker interface {
	Tick(ctx context.Context, batchSize int) (publish.TickReport, error)
}

// cronLogger перенаправляет журнал robfig/cron в zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("scheduler: cron " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("scheduler: cron " + msg)
}

// newCron регистрирует проход воркера по расписанию spec. Пересекающиеся проходы
// внутри процесса пропускаются, между процессами их разводит блокировка воркера.
func newCron(ctx context.Context, spec string, w ticker, batchSize int, logger zerolog.Logger) (*cron.Cron, error) {
	cl := cronLogger{log: logger}
	c := cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	_, err := c.AddFunc(spec, func() { runTick(ctx, w, batchSize, logger) })
	if err != nil {
		return nil, err
	}
	return c, nil
}

func runTick(ctx context.Context, w ticker, batchSize int, logger zerolog.Logger) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	report, err := w.Tick(ctx, batchSize)
	if err != nil {
		logger.Error().Err(err).Msg("scheduler: проход завершился ошибкой")
		return
	}
	if report.Skipped {
		logger.Debug().Msg("scheduler: проход выполняет другой процесс")
		return
	}
	if report.Claimed == 0 {
		return
	}
	logger.Info().
		Int("claimed", report.Claimed).
		Int("published", report.Published).
		Int("failed", report.Failed).
		Dur("took", time.Since(start)).
		Msg("scheduler: проход завершён")
}
