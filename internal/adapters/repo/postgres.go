package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"journal-companion/internal/domain"
	"journal-companion/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.UserStore      = (*Postgres)(nil)
	_ domain.EntryStore     = (*Postgres)(nil)
	_ domain.EngagementRepo = (*Postgres)(nil)
	_ domain.UsageRepo      = (*Postgres)(nil)
	_ domain.OutcomeRepo    = (*Postgres)(nil)
	_ domain.ResponseStore  = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// GetUser возвращает пользователя по идентификатору.
func (p *Postgres) GetUser(ctx context.Context, id int64) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var u domain.User
	var tier, pref string
	err := p.pool.QueryRow(ctx, `
SELECT id, tier, ai_preference, engagement_score, last_activity_at, created_at, updated_at
FROM users WHERE id = $1`, id).
		Scan(&u.ID, &tier, &pref, &u.EngagementScore, &u.LastActivityAt, &u.CreatedAt, &u.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, fmt.Errorf("пользователь %d не найден", id)
	}
	if err != nil {
		return domain.User{}, err
	}
	u.Tier = domain.ParseTier(tier)
	u.AIPreference = domain.ParseAIPreference(pref)
	return u, nil
}

// ListUsersActiveSince постранично выбирает пользователей, активных после
// указанного момента. Порядок по id стабилен между страницами.
func (p *Postgres) ListUsersActiveSince(ctx context.Context, since time.Time, limit, offset int) ([]domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, tier, ai_preference, engagement_score, last_activity_at, created_at, updated_at
FROM users
WHERE last_activity_at > $1 AND ai_preference <> 'disabled'
ORDER BY id
LIMIT $2 OFFSET $3`, since, limit, offset)
	metrics.ObserveNetworkRequest("postgres", "users_list_active", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		var tier, pref string
		if err := rows.Scan(&u.ID, &tier, &pref, &u.EngagementScore, &u.LastActivityAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Tier = domain.ParseTier(tier)
		u.AIPreference = domain.ParseAIPreference(pref)
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetEntry возвращает запись дневника.
func (p *Postgres) GetEntry(ctx context.Context, id int64) (domain.JournalEntry, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var e domain.JournalEntry
	err := p.pool.QueryRow(ctx, `
SELECT id, user_id, body, has_response, created_at
FROM journal_entries WHERE id = $1`, id).
		Scan(&e.ID, &e.UserID, &e.Text, &e.HasResponse, &e.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "entries_get", "journal_entries", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.JournalEntry{}, fmt.Errorf("запись %d не найдена", id)
	}
	return e, err
}

// GetRecentEntriesForUser возвращает записи пользователя не старше since.
func (p *Postgres) GetRecentEntriesForUser(ctx context.Context, userID int64, since time.Time) ([]domain.JournalEntry, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, body, has_response, created_at
FROM journal_entries
WHERE user_id = $1 AND created_at > $2
ORDER BY created_at DESC`, userID, since)
	metrics.ObserveNetworkRequest("postgres", "entries_list_recent", "journal_entries", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Text, &e.HasResponse, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AcquireEngagement вставляет черновик вовлечения. Конфликт по частичному
// уникальному индексу (entry_id, persona_id) среди неотменённых строк
// разрешается молча: второй планировщик просто получает false.
func (p *Postgres) AcquireEngagement(ctx context.Context, draft domain.ScheduledEngagement) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
INSERT INTO engagements (id, entry_id, user_id, persona_id, fire_at, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT DO NOTHING`,
		draft.ID, draft.EntryID, draft.UserID, string(draft.PersonaID), draft.FireAt, string(draft.Status), draft.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "engagements_acquire", "engagements", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetEngagement возвращает вовлечение по идентификатору.
func (p *Postgres) GetEngagement(ctx context.Context, id string) (domain.ScheduledEngagement, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var e domain.ScheduledEngagement
	var personaID, status string
	err := p.pool.QueryRow(ctx, `
SELECT id, entry_id, user_id, persona_id, fire_at, status, created_at
FROM engagements WHERE id = $1`, id).
		Scan(&e.ID, &e.EntryID, &e.UserID, &personaID, &e.FireAt, &status, &e.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "engagements_get", "engagements", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScheduledEngagement{}, fmt.Errorf("вовлечение %s не найдено", id)
	}
	if err != nil {
		return domain.ScheduledEngagement{}, err
	}
	e.PersonaID = domain.PersonaID(personaID)
	e.Status = domain.EngagementStatus(status)
	return e, nil
}

// ListDue возвращает созревшие pending-вовлечения.
func (p *Postgres) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledEngagement, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, entry_id, user_id, persona_id, fire_at, status, created_at
FROM engagements
WHERE status = 'pending' AND fire_at <= $1
ORDER BY fire_at
LIMIT $2`, now, limit)
	metrics.ObserveNetworkRequest("postgres", "engagements_list_due", "engagements", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []domain.ScheduledEngagement
	for rows.Next() {
		var e domain.ScheduledEngagement
		var personaID, status string
		if err := rows.Scan(&e.ID, &e.EntryID, &e.UserID, &personaID, &e.FireAt, &status, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.PersonaID = domain.PersonaID(personaID)
		e.Status = domain.EngagementStatus(status)
		due = append(due, e)
	}
	return due, rows.Err()
}

// MarkInFlight выполняет условный переход pending→in_flight. Перехват
// состояния гонкой другого воркера возвращает false без ошибки.
func (p *Postgres) MarkInFlight(ctx context.Context, id string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE engagements SET status = 'in_flight' WHERE id = $1 AND status = 'pending'`, id)
	metrics.ObserveNetworkRequest("postgres", "engagements_mark_in_flight", "engagements", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkDelivered переводит вовлечение из in_flight в delivered.
func (p *Postgres) MarkDelivered(ctx context.Context, id string) error {
	return p.transition(ctx, id, domain.EngagementInFlight, domain.EngagementDelivered, "engagements_mark_delivered")
}

// MarkFailed переводит вовлечение из in_flight в failed.
func (p *Postgres) MarkFailed(ctx context.Context, id string) error {
	return p.transition(ctx, id, domain.EngagementInFlight, domain.EngagementFailed, "engagements_mark_failed")
}

func (p *Postgres) transition(ctx context.Context, id string, from, to domain.EngagementStatus, op string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE engagements SET status = $3 WHERE id = $1 AND status = $2`, id, string(from), string(to))
	metrics.ObserveNetworkRequest("postgres", op, "engagements", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("переход %s→%s не выполнен для %s", from, to, id)
	}
	return nil
}

// Cancel отменяет нетерминальное вовлечение.
func (p *Postgres) Cancel(ctx context.Context, id string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE engagements SET status = 'cancelled'
WHERE id = $1 AND status IN ('pending', 'in_flight')`, id)
	metrics.ObserveNetworkRequest("postgres", "engagements_cancel", "engagements", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// HasEngagementForEntry сообщает о неотменённом вовлечении для записи.
func (p *Postgres) HasEngagementForEntry(ctx context.Context, entryID int64) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var exists bool
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM engagements WHERE entry_id = $1 AND status <> 'cancelled'
)`, entryID).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "engagements_exists_for_entry", "engagements", start, err)
	return exists, err
}

// LastPlannedFireAt возвращает самое позднее время запуска среди
// неотменённых вовлечений пользователя.
func (p *Postgres) LastPlannedFireAt(ctx context.Context, userID int64) (time.Time, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var last sql.NullTime
	err := p.pool.QueryRow(ctx, `
SELECT MAX(fire_at) FROM engagements
WHERE user_id = $1 AND status <> 'cancelled'`, userID).Scan(&last)
	metrics.ObserveNetworkRequest("postgres", "engagements_last_fire_at", "engagements", start, err)
	if err != nil {
		return time.Time{}, false, err
	}
	return last.Time, last.Valid, nil
}

// ExpireStalePending отменяет pending-вовлечения старше olderThan.
func (p *Postgres) ExpireStalePending(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE engagements SET status = 'cancelled'
WHERE status = 'pending' AND created_at < $1`, olderThan)
	metrics.ObserveNetworkRequest("postgres", "engagements_expire_stale", "engagements", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CancelPendingForDisabled отменяет pending-вовлечения пользователей,
// выключивших ИИ после планирования.
func (p *Postgres) CancelPendingForDisabled(ctx context.Context) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE engagements e SET status = 'cancelled'
FROM users u
WHERE e.user_id = u.id AND e.status = 'pending' AND u.ai_preference = 'disabled'`)
	metrics.ObserveNetworkRequest("postgres", "engagements_cancel_disabled", "engagements", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// GetDailyUsage возвращает суточный счётчик пользователя. Отсутствие строки
// означает нулевое использование.
func (p *Postgres) GetDailyUsage(ctx context.Context, userID int64, day time.Time) (domain.DailyUsage, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	u := domain.DailyUsage{UserID: userID, Day: day.UTC().Truncate(24 * time.Hour)}
	var last sql.NullTime
	err := p.pool.QueryRow(ctx, `
SELECT delivered, last_delivered_at FROM daily_usage
WHERE user_id = $1 AND day = $2`, userID, u.Day).Scan(&u.Delivered, &last)
	metrics.ObserveNetworkRequest("postgres", "daily_usage_get", "daily_usage", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return u, nil
	}
	if err != nil {
		return domain.DailyUsage{}, err
	}
	if last.Valid {
		u.LastDeliveredAt = last.Time
	}
	return u, nil
}

// IncrementDelivered атомарно увеличивает суточный счётчик.
func (p *Postgres) IncrementDelivered(ctx context.Context, userID int64, at time.Time) (domain.DailyUsage, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	day := at.UTC().Truncate(24 * time.Hour)
	start := time.Now()
	u := domain.DailyUsage{UserID: userID, Day: day}
	err := p.pool.QueryRow(ctx, `
INSERT INTO daily_usage (user_id, day, delivered, last_delivered_at)
VALUES ($1, $2, 1, $3)
ON CONFLICT (user_id, day) DO UPDATE
SET delivered = daily_usage.delivered + 1,
    last_delivered_at = GREATEST(daily_usage.last_delivered_at, EXCLUDED.last_delivered_at)
RETURNING delivered, last_delivered_at`, userID, day, at).
		Scan(&u.Delivered, &u.LastDeliveredAt)
	metrics.ObserveNetworkRequest("postgres", "daily_usage_increment", "daily_usage", start, err)
	if err != nil {
		return domain.DailyUsage{}, err
	}
	return u, nil
}

// PurgeBefore удаляет суточные счётчики старше указанного дня.
func (p *Postgres) PurgeBefore(ctx context.Context, day time.Time) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
DELETE FROM daily_usage WHERE day < $1`, day.UTC().Truncate(24*time.Hour))
	metrics.ObserveNetworkRequest("postgres", "daily_usage_purge", "daily_usage", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SaveOutcomeEvent добавляет событие исхода.
func (p *Postgres) SaveOutcomeEvent(ctx context.Context, event domain.OutcomeEvent) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO outcome_events (user_id, kind, topic, reaction_delay_ms, occurred_at)
VALUES ($1, $2, $3, $4, $5)`,
		event.UserID, string(event.Kind), string(event.Topic), event.ReactionDelay.Milliseconds(), event.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "outcome_events_insert", "outcome_events", start, err)
	return err
}

// ListOutcomeEvents возвращает события исходов после указанного момента.
// Используется для прогрева трекера при старте.
func (p *Postgres) ListOutcomeEvents(ctx context.Context, since time.Time) ([]domain.OutcomeEvent, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT user_id, kind, topic, reaction_delay_ms, occurred_at
FROM outcome_events
WHERE occurred_at > $1
ORDER BY occurred_at`, since)
	metrics.ObserveNetworkRequest("postgres", "outcome_events_list", "outcome_events", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.OutcomeEvent
	for rows.Next() {
		var e domain.OutcomeEvent
		var kind, topic string
		var delayMs int64
		if err := rows.Scan(&e.UserID, &kind, &topic, &delayMs, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Kind = domain.OutcomeKind(kind)
		e.Topic = domain.Topic(topic)
		e.ReactionDelay = time.Duration(delayMs) * time.Millisecond
		events = append(events, e)
	}
	return events, rows.Err()
}

// SaveResponse добавляет доставленный ответ.
func (p *Postgres) SaveResponse(ctx context.Context, record domain.ResponseRecord) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO response_records (id, engagement_id, persona_id, body, outcome, delivered_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID, record.EngagementID, string(record.PersonaID), record.Text, string(record.Outcome), record.DeliveredAt)
	metrics.ObserveNetworkRequest("postgres", "response_records_insert", "response_records", start, err)
	return err
}
