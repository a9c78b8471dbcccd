package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"journal-companion/internal/adapters/notify"
	"journal-companion/internal/adapters/repo"
	"journal-companion/internal/domain"
	"journal-companion/internal/infra/cache"
	"journal-companion/internal/infra/config"
	"journal-companion/internal/infra/db"
	httpinfra "journal-companion/internal/infra/http"
	loginfra "journal-companion/internal/infra/log"
	"journal-companion/internal/infra/metrics"
	"journal-companion/internal/infra/queue"
	"journal-companion/internal/usecase/opportunity"
	"journal-companion/internal/usecase/orchestrate"
	"journal-companion/internal/usecase/pattern"
	"journal-companion/internal/usecase/selector"
	"journal-companion/internal/usecase/timing"
)

func main() {
	cfg := config.Load()
	logger := loginfra.NewLogger(cfg.AppEnv).With().Str("component", "orchestrator").Logger()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("orchestrator: нет подключения к БД")
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
			logger.Fatal().Err(err).Msg("orchestrator: нет подключения к RabbitMQ")
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
		logger.Error().Err(err).Msg("orchestrator: история исходов не загружена, трекер стартует пустым")
	}

	detector := opportunity.NewDetector(pg, limits, cfg.Engage.MinEntryAge, override)
	personaSelector := selector.New(redisCache)
	planner := timing.NewPlanner(pg, pg, limits, timing.Config{
		MinDelay:     cfg.Engage.MinDelay,
		MaxDelay:     cfg.Engage.MaxDelay,
		FastDelayMin: cfg.Engage.FastDelayMin,
		FastDelayMax: cfg.Engage.FastDelayMax,
		SlowDelayMin: cfg.Engage.SlowDelayMin,
		SlowDelayMax: cfg.Engage.SlowDelayMax,
		MinSpacing:   cfg.Engage.MinSpacing,
	}, override)

	svc := orchestrate.NewService(
		pg, pg, pg, pg, pg, jobs, redisCache,
		detector, tracker, personaSelector, planner, limits, override,
		orchestrate.Config{
			PageSize:   cfg.Sweeps.PageSize,
			PendingTTL: cfg.Engage.PendingTTL,
		},
		logger,
	)

	notifier, err := notify.NewTelegramNotifier(cfg.Ops.TelegramToken, cfg.Ops.TelegramChatID, logger)
	if err != nil {
		logger.Error().Err(err).Msg("orchestrator: нотификатор дежурного не создан")
	}

	crontab := cron.New()
	addSweep := func(spec string, kind orchestrate.SweepKind) {
		if _, err := crontab.AddFunc(spec, func() {
			if err := svc.Sweep(ctx, kind); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("kind", string(kind)).Msg("orchestrator: проход завершился ошибкой")
				if notifier != nil {
					notifier.Alert(fmt.Sprintf("Проход %s завершился ошибкой: %v", kind, err))
				}
			}
		}); err != nil {
			logger.Fatal().Err(err).Str("spec", spec).Msg("orchestrator: некорректное расписание прохода")
		}
	}
	addSweep(cfg.Sweeps.Immediate, orchestrate.SweepImmediate)
	addSweep(cfg.Sweeps.Main, orchestrate.SweepMain)
	addSweep(cfg.Sweeps.Analytics, orchestrate.SweepAnalytics)
	crontab.Start()

	server := httpinfra.NewServer(logger)
	registerOpsRoutes(server, svc, override, cfg)

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("orchestrator: HTTP сервер упал")
		}
	}()

	logger.Info().Msg("orchestrator: запущен")
	<-ctx.Done()
	logger.Info().Msg("orchestrator: останавливаемся")

	cronCtx := crontab.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	select {
	case <-cronCtx.Done():
	case <-shutdownCtx.Done():
	}
}

func registerOpsRoutes(server *httpinfra.Server, svc *orchestrate.Service, override *domain.TestingOverride, cfg config.AppConfig) {
	r := server.Router

	r.Get("/ops/v1/status", func(w http.ResponseWriter, _ *http.Request) {
		httpinfra.WriteJSON(w, svc.Stats())
	})

	r.Post("/ops/v1/sweep", func(w http.ResponseWriter, req *http.Request) {
		if err := svc.Sweep(req.Context(), orchestrate.SweepMain); err != nil {
			httpinfra.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httpinfra.WriteJSON(w, map[string]string{"status": "ok"})
	})

	r.Put("/ops/v1/override", func(w http.ResponseWriter, req *http.Request) {
		if cfg.AppEnv == "prod" {
			httpinfra.WriteError(w, http.StatusForbidden, "диагностический режим запрещён в prod")
			return
		}
		defer req.Body.Close()
		var body struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, "некорректное тело запроса")
			return
		}
		override.Set(body.Enabled)
		httpinfra.WriteJSON(w, map[string]bool{"enabled": override.Enabled()})
	})

	r.Route("/events/v1", func(events chi.Router) {
		events.Use(httpinfra.EventAuthMiddleware(cfg.Events.Secret))
		events.Post("/entries", func(w http.ResponseWriter, req *http.Request) {
			defer req.Body.Close()
			var event orchestrate.EntryEvent
			if err := json.NewDecoder(req.Body).Decode(&event); err != nil {
				httpinfra.WriteError(w, http.StatusBadRequest, "некорректное тело события")
				return
			}
			if event.EventID == "" || event.UserID == 0 {
				httpinfra.WriteError(w, http.StatusBadRequest, "event_id и user_id обязательны")
				return
			}
			if err := svc.HandleEntryEvent(req.Context(), event); err != nil {
				httpinfra.WriteError(w, http.StatusInternalServerError, err.Error())
				return
			}
			httpinfra.WriteJSON(w, map[string]string{"status": "accepted"})
		})
	})
}
