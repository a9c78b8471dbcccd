package orchestrate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"journal-companion/internal/domain"
	"journal-companion/internal/infra/metrics"
	"journal-companion/internal/usecase/opportunity"
	"journal-companion/internal/usecase/pattern"
	"journal-companion/internal/usecase/selector"
	"journal-companion/internal/usecase/timing"
)

// SweepKind различает проходы планировщика.
type SweepKind string

const (
	SweepImmediate SweepKind = "immediate"
	SweepMain      SweepKind = "main"
	SweepAnalytics SweepKind = "analytics"
)

// EntryEvent — входящее событие дневника с внешнего контура.
type EntryEvent struct {
	EventID         string             `json:"event_id"`
	Kind            domain.OutcomeKind `json:"kind"`
	EntryID         int64              `json:"entry_id"`
	UserID          int64              `json:"user_id"`
	Topic           domain.Topic       `json:"topic,omitempty"`
	ReactionDelayMs int64              `json:"reaction_delay_ms,omitempty"`
}

// Stats — срез счётчиков оркестратора для служебной ручки.
type Stats struct {
	CyclesRun      int64                            `json:"cycles_run"`
	LastSweepAt    time.Time                        `json:"last_sweep_at"`
	Opportunities  int64                            `json:"opportunities"`
	Rejections     map[domain.RejectionReason]int64 `json:"rejections"`
	Scheduled      int64                            `json:"scheduled"`
	Enqueued       int64                            `json:"enqueued"`
	Errors         int64                            `json:"errors"`
	OverrideActive bool                             `json:"override_active"`
}

// Config задаёт параметры проходов.
type Config struct {
	PageSize        int
	EntryWindow     time.Duration // окно свежих записей для основного прохода
	ImmediateWindow time.Duration // окно активности для быстрого прохода
	PendingTTL      time.Duration
	UsageRetention  time.Duration
	DueBatch        int
	DedupTTL        time.Duration
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 500
	}
	if c.EntryWindow <= 0 {
		c.EntryWindow = 24 * time.Hour
	}
	if c.ImmediateWindow <= 0 {
		c.ImmediateWindow = 15 * time.Minute
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = 24 * time.Hour
	}
	if c.UsageRetention <= 0 {
		c.UsageRetention = 30 * 24 * time.Hour
	}
	if c.DueBatch <= 0 {
		c.DueBatch = 1000
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 10 * time.Minute
	}
	return c
}

// Service связывает детектор, трекер, селектор и планировщик в единый цикл
// и кладёт созревшие вовлечения в очередь исполнения.
type Service struct {
	users       domain.UserStore
	entries     domain.EntryStore
	engagements domain.EngagementRepo
	usage       domain.UsageRepo
	outcomes    domain.OutcomeRepo
	queue       domain.EngagementQueue
	cache       domain.Cache
	detector    *opportunity.Detector
	tracker     *pattern.Tracker
	selector    *selector.Selector
	planner     *timing.Planner
	limits      domain.TierLimits
	override    *domain.TestingOverride
	cfg         Config
	log         zerolog.Logger
	now         func() time.Time

	mu    sync.Mutex
	stats Stats
}

// NewService собирает оркестратор.
func NewService(
	users domain.UserStore,
	entries domain.EntryStore,
	engagements domain.EngagementRepo,
	usage domain.UsageRepo,
	outcomes domain.OutcomeRepo,
	queue domain.EngagementQueue,
	cache domain.Cache,
	detector *opportunity.Detector,
	tracker *pattern.Tracker,
	sel *selector.Selector,
	planner *timing.Planner,
	limits domain.TierLimits,
	override *domain.TestingOverride,
	cfg Config,
	logger zerolog.Logger,
) *Service {
	return &Service{
		users:       users,
		entries:     entries,
		engagements: engagements,
		usage:       usage,
		outcomes:    outcomes,
		queue:       queue,
		cache:       cache,
		detector:    detector,
		tracker:     tracker,
		selector:    sel,
		planner:     planner,
		limits:      limits,
		override:    override,
		cfg:         cfg.withDefaults(),
		log:         logger,
		now:         func() time.Time { return time.Now().UTC() },
		stats:       Stats{Rejections: make(map[domain.RejectionReason]int64)},
	}
}

// SetNowFunc подменяет источник времени в тестах.
func (s *Service) SetNowFunc(now func() time.Time) { s.now = now }

// Sweep выполняет один проход указанного вида.
func (s *Service) Sweep(ctx context.Context, kind SweepKind) error {
	start := time.Now()
	defer func() {
		metrics.SweepsTotal.WithLabelValues(string(kind)).Inc()
		metrics.SweepDurationSeconds.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	}()

	var err error
	switch kind {
	case SweepImmediate:
		err = s.sweepUsers(ctx, SweepImmediate, s.now().Add(-s.cfg.ImmediateWindow))
	case SweepMain:
		err = s.sweepUsers(ctx, SweepMain, s.now().Add(-s.cfg.EntryWindow))
	case SweepAnalytics:
		err = s.sweepAnalytics(ctx)
	default:
		return fmt.Errorf("неизвестный вид прохода %q", kind)
	}

	s.mu.Lock()
	s.stats.CyclesRun++
	s.stats.LastSweepAt = s.now()
	if err != nil {
		s.stats.Errors++
	}
	s.mu.Unlock()
	return err
}

// sweepUsers постранично обходит активных пользователей и прогоняет их
// свежие записи через конвейер. Ошибки отдельных пользователей не валят
// проход целиком.
func (s *Service) sweepUsers(ctx context.Context, kind SweepKind, activeSince time.Time) error {
	entrySince := s.now().Add(-s.cfg.EntryWindow)
	for offset := 0; ; offset += s.cfg.PageSize {
		users, err := s.users.ListUsersActiveSince(ctx, activeSince, s.cfg.PageSize, offset)
		if err != nil {
			return fmt.Errorf("страница пользователей: %w", err)
		}
		for _, user := range users {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			entries, err := s.entries.GetRecentEntriesForUser(ctx, user.ID, entrySince)
			if err != nil {
				s.log.Error().Err(err).Int64("user", user.ID).Msg("orchestrate: записи пользователя не прочитаны")
				s.countError()
				continue
			}
			for _, entry := range entries {
				if err := s.processEntry(ctx, entry, user, domain.EngagementCauseSweep); err != nil {
					s.log.Error().Err(err).Int64("entry", entry.ID).Msg("orchestrate: запись не обработана")
					s.countError()
				}
			}
		}
		if len(users) < s.cfg.PageSize {
			break
		}
	}
	if err := s.EnqueueDue(ctx); err != nil {
		return err
	}
	s.log.Debug().Str("kind", string(kind)).Msg("orchestrate: проход завершён")
	return nil
}

// processEntry — конвейер одной записи: детектор → профиль → селектор →
// планировщик → идемпотентный захват. Двойное планирование с push-путём
// исключается на уровне захвата.
func (s *Service) processEntry(ctx context.Context, entry domain.JournalEntry, user domain.User, cause domain.EngagementJobCause) error {
	profile := s.tracker.Snapshot(user.ID)
	usage, err := s.usage.GetDailyUsage(ctx, user.ID, s.now())
	if err != nil {
		return fmt.Errorf("счётчик доставок: %w", err)
	}

	opp, err := s.detector.Evaluate(ctx, entry, user, profile, usage)
	if err != nil {
		return err
	}
	if !opp.Eligible {
		metrics.IncOpportunity(string(opp.Reason))
		s.mu.Lock()
		s.stats.Rejections[opp.Reason]++
		s.mu.Unlock()
		return nil
	}
	metrics.IncOpportunity("")
	s.mu.Lock()
	s.stats.Opportunities++
	s.mu.Unlock()

	personaIDs := s.selector.SelectPersonas(entry, profile, user.Tier, s.limits.CollabPersonaMax(user.Tier))
	if len(personaIDs) == 0 {
		return nil
	}
	drafts, err := s.planner.Plan(ctx, opp, profile, personaIDs)
	if err != nil {
		return err
	}
	for _, draft := range drafts {
		created, err := s.engagements.AcquireEngagement(ctx, draft)
		if err != nil {
			return fmt.Errorf("захват вовлечения: %w", err)
		}
		if !created {
			continue
		}
		metrics.EngagementsScheduledTotal.WithLabelValues(string(draft.PersonaID)).Inc()
		s.mu.Lock()
		s.stats.Scheduled++
		s.mu.Unlock()
		s.log.Info().
			Str("engagement", draft.ID).
			Str("persona", string(draft.PersonaID)).
			Int64("entry", draft.EntryID).
			Time("fire_at", draft.FireAt).
			Str("cause", string(cause)).
			Msg("orchestrate: вовлечение запланировано")
	}
	return nil
}

// EnqueueDue кладёт созревшие вовлечения в очередь исполнения. Повторная
// постановка в пределах TTL гасится кешем; гонка двух воркеров всё равно
// разрешается переходом pending→in_flight.
func (s *Service) EnqueueDue(ctx context.Context) error {
	now := s.now()
	due, err := s.engagements.ListDue(ctx, now, s.cfg.DueBatch)
	if err != nil {
		return fmt.Errorf("выборка созревших вовлечений: %w", err)
	}
	metrics.QueueDepth.Set(float64(len(due)))
	for _, eng := range due {
		job := domain.EngagementJob{
			ID:           uuid.NewString(),
			EngagementID: eng.ID,
			UserID:       eng.UserID,
			EntryID:      eng.EntryID,
			PersonaID:    eng.PersonaID,
			FireAt:       eng.FireAt,
			EnqueuedAt:   now,
			Cause:        domain.EngagementCauseSweep,
		}
		if err := s.once("enqueue:"+eng.ID, s.cfg.DedupTTL, func() error {
			return s.queue.Enqueue(ctx, job)
		}); err != nil {
			s.log.Error().Err(err).Str("engagement", eng.ID).Msg("orchestrate: постановка в очередь не удалась")
			s.countError()
			continue
		}
		s.mu.Lock()
		s.stats.Enqueued++
		s.mu.Unlock()
	}
	return nil
}

// HandleEntryEvent — быстрый путь от внешнего контура. Создание записи
// сразу прогоняется через конвейер, реакции только пополняют статистику.
func (s *Service) HandleEntryEvent(ctx context.Context, event EntryEvent) error {
	if event.Kind == "" {
		event.Kind = domain.OutcomeEventEntryCreated
	}
	return s.once("event:"+event.EventID, s.cfg.DedupTTL, func() error {
		outcome := domain.OutcomeEvent{
			UserID:        event.UserID,
			Kind:          event.Kind,
			Topic:         event.Topic,
			ReactionDelay: time.Duration(event.ReactionDelayMs) * time.Millisecond,
			OccurredAt:    s.now(),
		}
		s.tracker.RecordOutcome(event.UserID, outcome)
		if err := s.outcomes.SaveOutcomeEvent(ctx, outcome); err != nil {
			s.log.Error().Err(err).Int64("user", event.UserID).Msg("orchestrate: событие исхода не сохранено")
		}
		if event.Kind != domain.OutcomeEventEntryCreated {
			return nil
		}

		entry, err := s.entries.GetEntry(ctx, event.EntryID)
		if err != nil {
			return fmt.Errorf("чтение записи: %w", err)
		}
		user, err := s.users.GetUser(ctx, event.UserID)
		if err != nil {
			return fmt.Errorf("чтение пользователя: %w", err)
		}
		if err := s.processEntry(ctx, entry, user, domain.EngagementCauseEvent); err != nil {
			return err
		}
		// В диагностическом режиме вовлечение назначено на текущий момент —
		// подбираем его сразу, не дожидаясь ближайшего прохода.
		return s.EnqueueDue(ctx)
	})
}

// sweepAnalytics прибирает хвосты: протухшие pending, старые суточные
// счётчики и вовлечения пользователей, выключивших ИИ.
func (s *Service) sweepAnalytics(ctx context.Context) error {
	now := s.now()
	expired, err := s.engagements.ExpireStalePending(ctx, now.Add(-s.cfg.PendingTTL))
	if err != nil {
		return fmt.Errorf("чистка протухших вовлечений: %w", err)
	}
	cancelled, err := s.engagements.CancelPendingForDisabled(ctx)
	if err != nil {
		return fmt.Errorf("отмена вовлечений выключивших ИИ: %w", err)
	}
	if cancelled > 0 {
		metrics.EngagementsCancelledTotal.Add(float64(cancelled))
	}
	purged, err := s.usage.PurgeBefore(ctx, now.Add(-s.cfg.UsageRetention))
	if err != nil {
		return fmt.Errorf("чистка суточных счётчиков: %w", err)
	}
	s.log.Info().
		Int64("expired", expired).
		Int64("cancelled", cancelled).
		Int64("purged", purged).
		Msg("orchestrate: аналитический проход завершён")
	return nil
}

// Stats возвращает копию счётчиков.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.Rejections = make(map[domain.RejectionReason]int64, len(s.stats.Rejections))
	for k, v := range s.stats.Rejections {
		out.Rejections[k] = v
	}
	out.OverrideActive = s.override.Enabled()
	return out
}

func (s *Service) countError() {
	s.mu.Lock()
	s.stats.Errors++
	s.mu.Unlock()
}

// once выполняет fn не чаще одного раза за ttl по ключу. Без кеша — всегда.
func (s *Service) once(key string, ttl time.Duration, fn func() error) error {
	if s.cache == nil {
		return fn()
	}
	return s.cache.Once(key, ttl, fn)
}
