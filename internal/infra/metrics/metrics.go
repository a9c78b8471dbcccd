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
	SweepsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweeps_total",
		Help: "Количество выполненных проходов планировщика",
	}, []string{"kind"})

	SweepDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sweep_duration_seconds",
		Help:    "Длительность прохода планировщика",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	OpportunitiesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opportunities_total",
		Help: "Результаты проверки записей на пригодность",
	}, []string{"result"})

	EngagementsScheduledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engagements_scheduled_total",
		Help: "Количество запланированных вовлечений",
	}, []string{"persona"})

	EngagementsDeliveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engagements_delivered_total",
		Help: "Количество доставленных вовлечений по итогу генерации",
	}, []string{"outcome"})

	EngagementsCancelledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engagements_cancelled_total",
		Help: "Количество отменённых вовлечений",
	})

	EngagementsRequeuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engagements_requeued_total",
		Help: "Количество задач, возвращённых в очередь",
	})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engagement_queue_depth",
		Help: "Оценка числа задач, ожидающих исполнения",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120},
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
		SweepsTotal,
		SweepDurationSeconds,
		OpportunitiesTotal,
		EngagementsScheduledTotal,
		EngagementsDeliveredTotal,
		EngagementsCancelledTotal,
		EngagementsRequeuedTotal,
		QueueDepth,
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

// IncOpportunity учитывает результат проверки записи.
func IncOpportunity(result string) {
	if result == "" {
		result = "eligible"
	}
	OpportunitiesTotal.WithLabelValues(result).Inc()
}
