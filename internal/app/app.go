// Package app собирает адаптеры и сценарии из конфигурации. Общий код запуска для cmd/*.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"quizpipe/internal/adapters/generator"
	"quizpipe/internal/adapters/publisher"
	"quizpipe/internal/adapters/renderer"
	"quizpipe/internal/adapters/repo"
	"quizpipe/internal/domain"
	"quizpipe/internal/infra/cache"
	"quizpipe/internal/infra/config"
	"quizpipe/internal/infra/db"
	"quizpipe/internal/infra/lock"
	applog "quizpipe/internal/infra/log"
	"quizpipe/internal/infra/openai"
	"quizpipe/internal/infra/queue"
	"quizpipe/internal/usecase/batch"
	"quizpipe/internal/usecase/generation"
	"quizpipe/internal/usecase/publish"
	"quizpipe/internal/usecase/slots"
)

// Store объединяет все репозитории хранилища.
type Store interface {
	domain.SlotRepo
	domain.PublishJobRepo
	domain.BatchRepo
	domain.QuizRepo
	domain.BusinessMetricRepo
}

// App держит общие для сервисов подключения.
type App struct {
	Cfg   config.AppConfig
	Log   zerolog.Logger
	Store Store

	pool    *pgxpool.Pool
	redis   *redis.Client
	closers []func() error
}

// Open подключает хранилище и Redis. Без PG_DSN в dev используется хранилище в памяти.
func Open(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: logger}
	switch {
	case cfg.PGDSN != "":
		pool, err := db.Connect(ctx, cfg.PGDSN, 10)
		if err != nil {
			return nil, fmt.Errorf("подключение к БД: %w", err)
		}
		a.pool = pool
		a.Store = repo.NewPostgres(pool)
	case cfg.Dev():
		logger.Warn().Msg("app: PG_DSN не задан, используется хранилище в памяти")
		a.Store = repo.NewMemory()
	default:
		return nil, errors.New("не указан адрес БД (PG_DSN)")
	}

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("подключение к Redis: %w", err)
		}
		a.closers = append(a.closers, a.redis.Close)
	}
	return a, nil
}

// Close освобождает подключения.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn().Err(err).Msg("app: ошибка при закрытии")
		}
	}
	a.closers = nil
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

// Cache возвращает кэш статусов пакетов или nil без Redis.
func (a *App) Cache() domain.Cache {
	if a.redis == nil {
		return nil
	}
	return cache.NewRedis(a.redis, "quizpipe:")
}

// Locker возвращает межпроцессную блокировку тика или nil без Redis.
func (a *App) Locker() domain.Locker {
	if a.redis == nil {
		return nil
	}
	return lock.NewRedisLocker(a.redis, applog.Component(a.Log, "lock"))
}

// Tracker создаёт трекер пакетов.
func (a *App) Tracker() *batch.Tracker {
	return batch.NewTracker(a.Store, a.Store, a.Cache(), applog.Component(a.Log, "batch"))
}

// Slots создаёт сервис слотов.
func (a *App) Slots() *slots.Service {
	return slots.NewService(a.Store, a.Store, a.Store, applog.Component(a.Log, "slots"), a.Cfg.Limits.HorizonDays)
}

// Worker создаёт воркер публикаций. pub может быть nil, если Tick не вызывается.
func (a *App) Worker(pub domain.Publisher) *publish.Worker {
	cfg := publish.Config{
		Concurrency:    a.Cfg.Publish.Concurrency,
		PublishTimeout: a.Cfg.Publish.Timeout,
		RatePerSecond:  a.Cfg.Publish.RatePerSecond,
		Burst:          a.Cfg.Publish.Burst,
		LockTTL:        a.Cfg.Publish.LockTTL,
	}
	return publish.NewWorker(publish.Deps{
		Jobs:      a.Store,
		Quizzes:   a.Store,
		Publisher: pub,
		Events:    a.Store,
		Locker:    a.Locker(),
	}, cfg, applog.Component(a.Log, "publish"))
}

// Publisher создаёт клиента внешнего API публикации согласно PUBLISHER.
func (a *App) Publisher() (domain.Publisher, error) {
	switch a.Cfg.Publisher.Kind {
	case "telegram":
		if a.Cfg.Telegram.Token == "" {
			return nil, errors.New("не указан токен Telegram (TG_BOT_TOKEN)")
		}
		bot, err := tgbotapi.NewBotAPI(a.Cfg.Telegram.Token)
		if err != nil {
			return nil, fmt.Errorf("создание бота: %w", err)
		}
		pub, err := publisher.NewTelegram(bot, a.Cfg.Telegram.Channel, applog.Component(a.Log, "publisher"))
		if err != nil {
			return nil, err
		}
		return pub, nil
	case "graph":
		pub, err := publisher.NewGraph(a.Cfg.Graph.BaseURL, a.Cfg.Graph.AccountID, a.Cfg.Graph.AccessToken, a.Cfg.Publish.Timeout)
		if err != nil {
			return nil, err
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("неизвестный публикатор %q", a.Cfg.Publisher.Kind)
	}
}

// Queue открывает очередь задач генерации согласно QUEUE_BACKEND.
func (a *App) Queue() (domain.GenerationQueue, error) {
	switch a.Cfg.Queues.Backend {
	case "rabbitmq":
		if a.Cfg.RabbitURL == "" {
			return nil, errors.New("не указан адрес RabbitMQ (RABBITMQ_URL)")
		}
		q, err := queue.NewRabbitGenerationQueue(a.Cfg.RabbitURL, a.Cfg.Queues.Generation, a.Cfg.Queues.Prefetch)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, q.Close)
		return q, nil
	case "redis":
		if a.redis == nil {
			return nil, errors.New("очередь redis требует REDIS_ADDR")
		}
		return queue.NewRedisGenerationQueue(a.redis, a.Cfg.Queues.Generation), nil
	case "memory":
		return queue.NewMemoryQueue(a.Cfg.Limits.MaxBatch * 4), nil
	default:
		return nil, fmt.Errorf("неизвестная очередь %q", a.Cfg.Queues.Backend)
	}
}

// Generator выбирает генератор контента: OpenAI при наличии ключа, иначе офлайн-шаблоны.
func (a *App) Generator() domain.QuizGenerator {
	if a.Cfg.OpenAI.APIKey == "" {
		a.Log.Warn().Msg("app: OPENAI_API_KEY не задан, используется шаблонный генератор")
		return generator.NewSimple(uint64(time.Now().UnixNano()))
	}
	client := openai.NewClient(a.Cfg.OpenAI.APIKey, a.Cfg.OpenAI.BaseURL, a.Cfg.OpenAI.Timeout)
	return generator.NewOpenAI(client, a.Cfg.OpenAI.Model, a.Cfg.OpenAI.Timeout)
}

// Generation собирает сервис генерации поверх очереди q.
func (a *App) Generation(q domain.GenerationQueue) (*generation.Service, error) {
	if a.Cfg.Renderer.URL == "" {
		return nil, errors.New("не указан адрес сервиса рендеринга (RENDERER_URL)")
	}
	render, err := renderer.New(a.Cfg.Renderer.URL, renderer.WithTimeout(a.Cfg.Renderer.Timeout))
	if err != nil {
		return nil, err
	}
	return generation.NewService(a.Tracker(), a.Store, a.Generator(), render, a.Slots(), q,
		applog.Component(a.Log, "generation"), a.Cfg.Limits.MaxBatch), nil
}
