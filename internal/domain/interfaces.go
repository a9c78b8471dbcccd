package domain

import (
	"context"
	"time"
)

// EntryStore читает записи дневника. Хранение записей — внешняя зона ответственности.
type EntryStore interface {
	GetEntry(ctx context.Context, id int64) (JournalEntry, error)
	GetRecentEntriesForUser(ctx context.Context, userID int64, since time.Time) ([]JournalEntry, error)
}

// UserStore читает профили пользователей. Тариф и режим ИИ только наблюдаются.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (User, error)
	ListUsersActiveSince(ctx context.Context, since time.Time, limit, offset int) ([]User, error)
}

// CompletionProvider — внешняя генерация текста. Вызов обязан быть безопасен для повтора.
type CompletionProvider interface {
	Generate(ctx context.Context, persona Persona, entry JournalEntry, profile EngagementProfile) (string, error)
}

// ResponseStore добавляет доставленные ответы. Только запись.
type ResponseStore interface {
	SaveResponse(ctx context.Context, record ResponseRecord) error
}

// EngagementRepo управляет запланированными вовлечениями.
type EngagementRepo interface {
	// AcquireEngagement вставляет черновик и возвращает true, если запись создана.
	// Для пары (entry_id, persona_id) в неотменённом статусе конфликт
	// разрешается молча — это и есть гарантия идемпотентности планирования.
	AcquireEngagement(ctx context.Context, draft ScheduledEngagement) (bool, error)
	GetEngagement(ctx context.Context, id string) (ScheduledEngagement, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]ScheduledEngagement, error)
	// MarkInFlight выполняет переход pending→in_flight и возвращает false,
	// если статус уже изменил кто-то другой.
	MarkInFlight(ctx context.Context, id string) (bool, error)
	MarkDelivered(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) (bool, error)
	HasEngagementForEntry(ctx context.Context, entryID int64) (bool, error)
	// LastPlannedFireAt возвращает самое позднее время запуска среди
	// неотменённых вовлечений пользователя.
	LastPlannedFireAt(ctx context.Context, userID int64) (time.Time, bool, error)
	ExpireStalePending(ctx context.Context, olderThan time.Time) (int64, error)
	CancelPendingForDisabled(ctx context.Context) (int64, error)
}

// UsageRepo управляет суточными счётчиками доставок.
type UsageRepo interface {
	GetDailyUsage(ctx context.Context, userID int64, day time.Time) (DailyUsage, error)
	// IncrementDelivered атомарно увеличивает счётчик и возвращает новое значение.
	IncrementDelivered(ctx context.Context, userID int64, at time.Time) (DailyUsage, error)
	PurgeBefore(ctx context.Context, day time.Time) (int64, error)
}

// OutcomeRepo хранит события для трекера паттернов между перезапусками.
type OutcomeRepo interface {
	SaveOutcomeEvent(ctx context.Context, event OutcomeEvent) error
	ListOutcomeEvents(ctx context.Context, since time.Time) ([]OutcomeEvent, error)
}

// Cache используется для простых TTL-хранилищ и дедупликации по ключу.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}

// Notifier отправляет служебные оповещения дежурному. Пользователей не касается.
type Notifier interface {
	Alert(text string)
}
