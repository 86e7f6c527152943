package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"quizpipe/internal/app"
	"quizpipe/internal/infra/config"
	applog "quizpipe/internal/infra/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(os.Stdout, openServices)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openServices подключается к хранилищу по переменным окружения сервисов.
func openServices(ctx context.Context, withPublisher bool) (*services, func(), error) {
	cfg, err := config.Parse()
	if err != nil {
		return nil, nil, fmt.Errorf("конфигурация: %w", err)
	}
	logger := applog.New(os.Stderr, cfg.AppEnv)
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	svc := &services{slots: a.Slots()}
	if withPublisher {
		pub, err := a.Publisher()
		if err != nil {
			a.Close()
			return nil, nil, err
		}
		svc.worker = a.Worker(pub)
	} else {
		svc.worker = a.Worker(nil)
	}
	return svc, a.Close, nil
}
