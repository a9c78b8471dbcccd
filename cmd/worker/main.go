package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"journal-companion/internal/adapters/generator"
	"journal-companion/internal/adapters/notify"
	"journal-companion/internal/adapters/repo"
	"journal-companion/internal/domain"
	"journal-companion/internal/infra/cache"
	"journal-companion/internal/infra/config"
	"journal-companion/internal/infra/db"
	loginfra "journal-companion/internal/infra/log"
	"journal-companion/internal/infra/metrics"
	"journal-companion/internal/infra/openai"
	"journal-companion/internal/infra/queue"
	"journal-companion/internal/usecase/engage"
	"journal-companion/internal/usecase/pattern"
	"journal-companion/internal/usecase/selector"
)

func main() {
	cfg := config.Load()
	logger := loginfra.NewLogger(cfg.AppEnv).With().Str("component", "worker").Logger()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()
	pg := repo.NewPostgres(pool)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := cache.NewRedis(redisClient)

	var jobs domain.EngagementQueue
	switch strings.ToLower(cfg.Queues.Backend) {
	case "redis":
		jobs = queue.NewRedisEngagementQueue(redisClient, cfg.Queues.Engagements)
	default:
		rabbit, err := queue.NewRabbitEngagementQueue(cfg.RabbitURL, cfg.Queues.Engagements)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: нет подключения к RabbitMQ")
		}
		defer rabbit.Close()
		jobs = rabbit
	}

	override := domain.NewTestingOverride(cfg.TestingOverride)
	limits := domain.TierLimits{
		FreeDaily:    cfg.Limits.FreeDaily,
		PremiumDaily: cfg.Limits.PremiumDaily,
		ActiveBonus:  cfg.Limits.ActiveBonus,
		CollabMax:    cfg.Limits.CollabMax,
	}

	tracker := pattern.NewTracker(pattern.Config{
		Window:       time.Duration(cfg.Pattern.WindowDays) * 24 * time.Hour,
		MaxEvents:    cfg.Pattern.MaxEvents,
		MinPositive:  cfg.Pattern.MinPositive,
		RecentWindow: cfg.Pattern.RecentWindow,
	})
	if err := tracker.LoadHistory(ctx, pg); err != nil {
		logger.Error().Err(err).Msg("worker: история исходов не загружена, трекер стартует пустым")
	}

	var provider domain.CompletionProvider
	if cfg.OpenAI.APIKey != "" {
		client := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
		provider = generator.NewOpenAIProvider(client, cfg.OpenAI.Model)
	} else {
		logger.Warn().Msg("worker: ключ OpenAI не задан, ответы идут из заготовок персон")
		provider = generator.NewFallbackProvider()
	}

	engine := engage.NewEngine(
		pg, pg, pg, pg, pg, pg,
		provider, tracker, limits, override,
		engage.Config{
			ProviderTimeout: cfg.Engage.ProviderTimeout,
			RetryBackoff:    cfg.Engage.RetryBackoff,
			MinSpacing:      cfg.Engage.MinSpacing,
			MaxGenerations:  int64(cfg.Engage.MaxGenerations),
		},
		logger,
	)
	engine.SetRecencySink(selector.New(redisCache))

	notifier, err := notify.NewTelegramNotifier(cfg.Ops.TelegramToken, cfg.Ops.TelegramChatID, logger)
	if err != nil {
		logger.Error().Err(err).Msg("worker: нотификатор дежурного не создан")
	}

	var alerts domain.Notifier
	if notifier != nil {
		alerts = notifier
	}
	worker := engage.NewWorker(jobs, engine, alerts, logger)

	metrics.StartServer(ctx, logger, fmt.Sprintf(":%d", cfg.Port))

	var wg sync.WaitGroup
	for i := 0; i < cfg.Engage.Workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Int("worker", n).Msg("worker: цикл потребления завершился ошибкой")
			}
		}(i)
	}

	logger.Info().Int("workers", cfg.Engage.Workers).Msg("worker: запущен")
	<-ctx.Done()
	logger.Info().Msg("worker: останавливаемся")
	wg.Wait()
}
