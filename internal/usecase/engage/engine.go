package engage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"journal-companion/internal/domain"
	"journal-companion/internal/infra/metrics"
)

// ErrAlreadyHandled возвращается, если вовлечение уже забрал другой воркер
// или оно дошло до терминального статуса. Повторять задачу не нужно.
var ErrAlreadyHandled = errors.New("вовлечение уже обработано")

// ErrCancelled возвращается, если поздняя проверка пригодности не прошла
// и вовлечение отменено.
var ErrCancelled = errors.New("вовлечение отменено")

// ErrNotDue возвращается, когда задача пришла раньше времени запуска или
// не выдержан интервал после предыдущей доставки. Задача вернётся в очередь.
var ErrNotDue = errors.New("вовлечение ещё не готово к запуску")

const lockShards = 64

// Config задаёт параметры исполнения.
type Config struct {
	ProviderTimeout time.Duration
	RetryBackoff    time.Duration
	MinSpacing      time.Duration
	// MaxGenerations ограничивает одновременные обращения к провайдеру
	// на весь процесс, включая коллаборативный разветвлённый режим.
	MaxGenerations int64
}

// PatternSink отдаёт профиль пользователя и принимает события об исходах.
type PatternSink interface {
	Snapshot(userID int64) domain.EngagementProfile
	RecordOutcome(userID int64, event domain.OutcomeEvent)
}

// RecencySink помечает персону как недавно использованную для пользователя.
type RecencySink interface {
	MarkUsed(userID int64, personaID domain.PersonaID)
}

// Engine исполняет запланированные вовлечения: вызывает провайдера,
// сохраняет ответ и обновляет счётчики. Пользователь никогда не видит
// жёсткого отказа — при недоступности провайдера уходит заготовка персоны.
type Engine struct {
	users       domain.UserStore
	entries     domain.EntryStore
	engagements domain.EngagementRepo
	usage       domain.UsageRepo
	responses   domain.ResponseStore
	outcomes    domain.OutcomeRepo
	provider    domain.CompletionProvider
	patterns    PatternSink
	recents     RecencySink
	limits      domain.TierLimits
	override    *domain.TestingOverride
	cfg         Config
	sem         *semaphore.Weighted
	log         zerolog.Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration)

	locks [lockShards]sync.Mutex
}

// NewEngine создаёт движок исполнения.
func NewEngine(
	users domain.UserStore,
	entries domain.EntryStore,
	engagements domain.EngagementRepo,
	usage domain.UsageRepo,
	responses domain.ResponseStore,
	outcomes domain.OutcomeRepo,
	provider domain.CompletionProvider,
	patterns PatternSink,
	limits domain.TierLimits,
	override *domain.TestingOverride,
	cfg Config,
	logger zerolog.Logger,
) *Engine {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 45 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	if cfg.MaxGenerations <= 0 {
		cfg.MaxGenerations = 50
	}
	return &Engine{
		users:       users,
		entries:     entries,
		engagements: engagements,
		usage:       usage,
		responses:   responses,
		outcomes:    outcomes,
		provider:    provider,
		patterns:    patterns,
		limits:      limits,
		override:    override,
		cfg:         cfg,
		sem:         semaphore.NewWeighted(cfg.MaxGenerations),
		log:         logger,
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       sleepCtx,
	}
}

// SetNowFunc подменяет источник времени в тестах.
func (e *Engine) SetNowFunc(now func() time.Time) { e.now = now }

// SetRecencySink подключает учёт недавно использованных персон.
func (e *Engine) SetRecencySink(recents RecencySink) { e.recents = recents }

// SetSleepFunc отключает реальные паузы бэкоффа в тестах.
func (e *Engine) SetSleepFunc(sleep func(ctx context.Context, d time.Duration)) { e.sleep = sleep }

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (e *Engine) userLock(userID int64) *sync.Mutex {
	idx := userID % lockShards
	if idx < 0 {
		idx = -idx
	}
	return &e.locks[idx]
}

// Run исполняет одно вовлечение. Вызов идемпотентен: переход
// pending→in_flight выигрывает ровно один воркер, остальные получают
// ErrAlreadyHandled.
func (e *Engine) Run(ctx context.Context, job domain.EngagementJob) (domain.ResponseRecord, error) {
	lock := e.userLock(job.UserID)
	lock.Lock()
	defer lock.Unlock()

	now := e.now()
	if job.FireAt.After(now) {
		return domain.ResponseRecord{}, ErrNotDue
	}

	eng, err := e.engagements.GetEngagement(ctx, job.EngagementID)
	if err != nil {
		return domain.ResponseRecord{}, fmt.Errorf("чтение вовлечения: %w", err)
	}
	if eng.Status.Terminal() || eng.Status == domain.EngagementInFlight {
		return domain.ResponseRecord{}, ErrAlreadyHandled
	}

	// Поздняя проверка пригодности: состояние могло устареть с момента
	// планирования — полагаться только на него нельзя.
	user, err := e.users.GetUser(ctx, job.UserID)
	if err != nil {
		return domain.ResponseRecord{}, fmt.Errorf("чтение пользователя: %w", err)
	}
	if user.AIPreference == domain.PreferenceDisabled {
		return domain.ResponseRecord{}, e.cancel(ctx, job.EngagementID)
	}
	usage, err := e.usage.GetDailyUsage(ctx, job.UserID, now)
	if err != nil {
		return domain.ResponseRecord{}, fmt.Errorf("счётчик доставок: %w", err)
	}
	if usage.Delivered >= e.limits.DailyLimit(user.Tier, user.AIPreference) {
		return domain.ResponseRecord{}, e.cancel(ctx, job.EngagementID)
	}
	if !e.override.Enabled() && !usage.LastDeliveredAt.IsZero() && now.Sub(usage.LastDeliveredAt) < e.cfg.MinSpacing {
		return domain.ResponseRecord{}, ErrNotDue
	}

	ok, err := e.engagements.MarkInFlight(ctx, job.EngagementID)
	if err != nil {
		return domain.ResponseRecord{}, fmt.Errorf("переход в in_flight: %w", err)
	}
	if !ok {
		return domain.ResponseRecord{}, ErrAlreadyHandled
	}

	persona, found := domain.PersonaByID(job.PersonaID)
	if !found {
		_ = e.engagements.MarkFailed(ctx, job.EngagementID)
		return domain.ResponseRecord{}, fmt.Errorf("неизвестная персона %s", job.PersonaID)
	}
	entry, err := e.entries.GetEntry(ctx, job.EntryID)
	if err != nil {
		_ = e.engagements.MarkFailed(ctx, job.EngagementID)
		return domain.ResponseRecord{}, fmt.Errorf("чтение записи: %w", err)
	}

	profile := e.patterns.Snapshot(job.UserID)
	text, outcome := e.generate(ctx, persona, entry, profile)

	record := domain.ResponseRecord{
		ID:           uuid.NewString(),
		EngagementID: job.EngagementID,
		PersonaID:    job.PersonaID,
		Text:         text,
		Outcome:      outcome,
		DeliveredAt:  e.now(),
	}
	if err := e.responses.SaveResponse(ctx, record); err != nil {
		_ = e.engagements.MarkFailed(ctx, job.EngagementID)
		return domain.ResponseRecord{}, fmt.Errorf("сохранение ответа: %w", err)
	}
	if _, err := e.usage.IncrementDelivered(ctx, job.UserID, record.DeliveredAt); err != nil {
		e.log.Error().Err(err).Str("engagement", job.EngagementID).Msg("engine: не удалось увеличить счётчик доставок")
	}
	if err := e.engagements.MarkDelivered(ctx, job.EngagementID); err != nil {
		e.log.Error().Err(err).Str("engagement", job.EngagementID).Msg("engine: не удалось пометить доставку")
	}

	event := domain.OutcomeEvent{
		UserID:     job.UserID,
		Kind:       domain.OutcomeEventResponseDelivered,
		OccurredAt: record.DeliveredAt,
	}
	e.patterns.RecordOutcome(job.UserID, event)
	if e.recents != nil {
		e.recents.MarkUsed(job.UserID, job.PersonaID)
	}
	if err := e.outcomes.SaveOutcomeEvent(ctx, event); err != nil {
		e.log.Error().Err(err).Int64("user", job.UserID).Msg("engine: не удалось сохранить событие исхода")
	}

	metrics.EngagementsDeliveredTotal.WithLabelValues(string(outcome)).Inc()
	return record, nil
}

func (e *Engine) cancel(ctx context.Context, engagementID string) error {
	if _, err := e.engagements.Cancel(ctx, engagementID); err != nil {
		return fmt.Errorf("отмена вовлечения: %w", err)
	}
	metrics.EngagementsCancelledTotal.Inc()
	return ErrCancelled
}

// generate обращается к провайдеру с ограничением параллелизма и жёстким
// таймаутом; после одного повтора с бэкоффом уходит заготовка персоны.
func (e *Engine) generate(ctx context.Context, persona domain.Persona, entry domain.JournalEntry, profile domain.EngagementProfile) (string, domain.ResponseOutcome) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return persona.FallbackText(entry.ID), domain.OutcomeFallbackUsed
	}
	defer e.sem.Release(1)

	text, err := e.callProvider(ctx, persona, entry, profile)
	if err == nil {
		return text, domain.OutcomeSuccess
	}
	e.log.Warn().Err(err).Str("persona", string(persona.ID)).Int64("entry", entry.ID).Msg("engine: провайдер не ответил, повторяем")
	e.sleep(ctx, e.cfg.RetryBackoff)

	text, err = e.callProvider(ctx, persona, entry, profile)
	if err == nil {
		return text, domain.OutcomeSuccess
	}
	e.log.Error().Err(err).Str("persona", string(persona.ID)).Int64("entry", entry.ID).Msg("engine: провайдер недоступен, используем заготовку")
	return persona.FallbackText(entry.ID), domain.OutcomeFallbackUsed
}

func (e *Engine) callProvider(ctx context.Context, persona domain.Persona, entry domain.JournalEntry, profile domain.EngagementProfile) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
	defer cancel()
	return e.provider.Generate(genCtx, persona, entry, profile)
}
