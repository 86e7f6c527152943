package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	PublishTickSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "publish_tick_seconds",
		Help:    "Длительность одного прохода воркера публикаций",
		Buckets: prometheus.DefBuckets,
	})
	PublishJobsClaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "publish_jobs_claimed_total",
		Help: "Задачи публикации, захваченные воркером",
	})
	PublishOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "publish_outcomes_total",
		Help: "Результаты попыток публикации",
	}, []string{"outcome"})
	PublishManualActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "publish_manual_actions_total",
		Help: "Ручные действия над задачами публикации",
	}, []string{"action", "result"})

	ConnectionRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_retries_total",
		Help: "Повторы операций с хранилищем после временных ошибок",
	}, []string{"operation"})
	ConnectionRetryExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_retry_exhausted_total",
		Help: "Операции, для которых исчерпаны повторы",
	}, []string{"operation"})

	BatchTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_transitions_total",
		Help: "Переходы состояний пакетов генерации",
	}, []string{"status"})
	GenerationItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_items_total",
		Help: "Обработанные элементы пакетов генерации",
	}, []string{"result"})
	SlotBookings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slot_bookings_total",
		Help: "Попытки бронирования слотов публикации",
	}, []string{"result"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		PublishTickSeconds,
		PublishJobsClaimed,
		PublishOutcomes,
		PublishManualActions,
		ConnectionRetries,
		ConnectionRetryExhausted,
		BatchTransitions,
		GenerationItems,
		SlotBookings,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// ObservePublish увеличивает счётчик результатов публикации.
func ObservePublish(outcome string) {
	PublishOutcomes.WithLabelValues(outcome).Inc()
}
