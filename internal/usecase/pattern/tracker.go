package pattern

import (
	"context"
	"sync"
	"time"

	"journal-companion/internal/domain"
)

const shardCount = 64

// Config задаёт границы скользящего окна статистики.
type Config struct {
	// Window — горизонт, за который события учитываются в профиле.
	Window time.Duration
	// MaxEvents ограничивает память на пользователя.
	MaxEvents int
	// MinPositive — порог положительных реакций для пассивного вовлечения.
	MinPositive int
	// RecentWindow определяет признак «недавно активен».
	RecentWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 14 * 24 * time.Hour
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = 200
	}
	if c.MinPositive <= 0 {
		c.MinPositive = 2
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = 48 * time.Hour
	}
	return c
}

// Tracker ведёт скользящую статистику вовлечённости по пользователям.
// Состояние шардировано по идентификатору, глобального замка нет.
// Это единственное место, где пользователь получает право на пассивное
// вовлечение — порог нигде больше не проверяется.
type Tracker struct {
	cfg    Config
	now    func() time.Time
	shards [shardCount]*shard
}

type shard struct {
	mu    sync.Mutex
	users map[int64][]domain.OutcomeEvent
}

// NewTracker создаёт трекер.
func NewTracker(cfg Config) *Tracker {
	t := &Tracker{cfg: cfg.withDefaults(), now: func() time.Time { return time.Now().UTC() }}
	for i := range t.shards {
		t.shards[i] = &shard{users: make(map[int64][]domain.OutcomeEvent)}
	}
	return t
}

// SetNowFunc подменяет источник времени в тестах.
func (t *Tracker) SetNowFunc(now func() time.Time) { t.now = now }

func (t *Tracker) shardFor(userID int64) *shard {
	idx := userID % shardCount
	if idx < 0 {
		idx = -idx
	}
	return t.shards[idx]
}

// RecordOutcome добавляет событие в окно пользователя. Амортизированно O(1):
// усечение отбрасывает устаревший префикс, новые события всегда в хвосте.
func (t *Tracker) RecordOutcome(userID int64, event domain.OutcomeEvent) {
	event.UserID = userID
	if event.OccurredAt.IsZero() {
		event.OccurredAt = t.now()
	}
	s := t.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	events := append(s.users[userID], event)
	cutoff := t.now().Add(-t.cfg.Window)
	drop := 0
	for drop < len(events) && events[drop].OccurredAt.Before(cutoff) {
		drop++
	}
	events = events[drop:]
	if len(events) > t.cfg.MaxEvents {
		events = events[len(events)-t.cfg.MaxEvents:]
	}
	s.users[userID] = events
}

// Snapshot строит профиль по текущему окну. O(k), где k — размер окна.
func (t *Tracker) Snapshot(userID int64) domain.EngagementProfile {
	s := t.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := t.now()
	cutoff := now.Add(-t.cfg.Window)
	recentCutoff := now.Add(-t.cfg.RecentWindow)

	profile := domain.EngagementProfile{TopicCounts: make(map[domain.Topic]int)}
	var delaySum time.Duration
	var delayCount int
	for _, ev := range s.users[userID] {
		if ev.OccurredAt.Before(cutoff) {
			continue
		}
		if ev.OccurredAt.After(recentCutoff) {
			profile.RecentlyActive = true
		}
		if ev.Kind.Positive() {
			profile.PositiveReactions++
		}
		if ev.Kind == domain.OutcomeEventEntryCreated {
			profile.EntriesInWindow++
			if ev.Topic != "" {
				profile.TopicCounts[ev.Topic]++
			}
		}
		if ev.ReactionDelay > 0 {
			delaySum += ev.ReactionDelay
			delayCount++
		}
	}
	if delayCount > 0 {
		profile.AvgReactionDelay = delaySum / time.Duration(delayCount)
	}
	profile.QualifiesPassive = profile.PositiveReactions >= t.cfg.MinPositive
	return profile
}

// LoadHistory прогревает трекер сохранёнными событиями после перезапуска.
func (t *Tracker) LoadHistory(ctx context.Context, repo domain.OutcomeRepo) error {
	events, err := repo.ListOutcomeEvents(ctx, t.now().Add(-t.cfg.Window))
	if err != nil {
		return err
	}
	for _, ev := range events {
		t.RecordOutcome(ev.UserID, ev)
	}
	return nil
}
