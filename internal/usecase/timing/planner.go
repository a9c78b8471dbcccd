package timing

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"journal-companion/internal/domain"
)

// Config задаёт окна задержек и интервалы.
type Config struct {
	// MinDelay и MaxDelay — глобальные границы задержки ответа.
	MinDelay time.Duration
	MaxDelay time.Duration
	// Fast-диапазон для недавно активных пользователей, Slow — для остальных.
	FastDelayMin time.Duration
	FastDelayMax time.Duration
	SlowDelayMin time.Duration
	SlowDelayMax time.Duration
	// MinSpacing — минимальный интервал между ответами одному пользователю.
	MinSpacing time.Duration
}

// Planner вычисляет время доставки и создаёт черновики вовлечений.
type Planner struct {
	engagements domain.EngagementRepo
	usage       domain.UsageRepo
	limits      domain.TierLimits
	cfg         Config
	override    *domain.TestingOverride
	now         func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewPlanner создаёт планировщик времени.
func NewPlanner(engagements domain.EngagementRepo, usage domain.UsageRepo, limits domain.TierLimits, cfg Config, override *domain.TestingOverride) *Planner {
	return &Planner{
		engagements: engagements,
		usage:       usage,
		limits:      limits,
		cfg:         cfg,
		override:    override,
		now:         func() time.Time { return time.Now().UTC() },
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetNowFunc подменяет источник времени в тестах.
func (p *Planner) SetNowFunc(now func() time.Time) { p.now = now }

// Seed фиксирует генератор задержек в тестах.
func (p *Planner) Seed(seed int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rnd = rand.New(rand.NewSource(seed))
}

// Plan строит черновики для выбранных персон. Суточный лимит проверяется
// здесь повторно: параллельный проход мог успеть доставить ответ между
// оценкой детектора и планированием.
func (p *Planner) Plan(ctx context.Context, opp domain.Opportunity, profile domain.EngagementProfile, personaIDs []domain.PersonaID) ([]domain.ScheduledEngagement, error) {
	if !opp.Eligible || len(personaIDs) == 0 {
		return nil, nil
	}
	now := p.now()
	usage, err := p.usage.GetDailyUsage(ctx, opp.User.ID, now)
	if err != nil {
		return nil, fmt.Errorf("счётчик доставок: %w", err)
	}
	remaining := p.limits.DailyLimit(opp.User.Tier, opp.User.AIPreference) - usage.Delivered
	if remaining <= 0 {
		return nil, nil
	}
	if len(personaIDs) > remaining {
		personaIDs = personaIDs[:remaining]
	}

	spacing := p.cfg.MinSpacing
	first := now
	if p.override.Enabled() {
		// Диагностический режим: немедленно и без интервалов.
		spacing = 0
	} else {
		first = now.Add(p.drawDelay(profile.RecentlyActive))
		floor, err := p.spacingFloor(ctx, opp.User.ID, usage)
		if err != nil {
			return nil, err
		}
		if !floor.IsZero() {
			earliest := floor.Add(spacing)
			if first.Before(earliest) {
				first = earliest
			}
		}
	}

	drafts := make([]domain.ScheduledEngagement, 0, len(personaIDs))
	for i, personaID := range personaIDs {
		drafts = append(drafts, domain.ScheduledEngagement{
			ID:        uuid.NewString(),
			EntryID:   opp.Entry.ID,
			UserID:    opp.User.ID,
			PersonaID: personaID,
			// Коллаборативные ответы разводим тем же интервалом, что и
			// обычные: совместный режим не должен ощущаться бомбардировкой.
			FireAt:    first.Add(time.Duration(i) * spacing),
			Status:    domain.EngagementPending,
			CreatedAt: now,
		})
	}
	return drafts, nil
}

// spacingFloor возвращает позднейшее из запланированного и доставленного.
func (p *Planner) spacingFloor(ctx context.Context, userID int64, usage domain.DailyUsage) (time.Time, error) {
	floor := usage.LastDeliveredAt
	planned, ok, err := p.engagements.LastPlannedFireAt(ctx, userID)
	if err != nil {
		return time.Time{}, fmt.Errorf("последнее запланированное время: %w", err)
	}
	if ok && planned.After(floor) {
		floor = planned
	}
	return floor, nil
}

func (p *Planner) drawDelay(recentlyActive bool) time.Duration {
	lo, hi := p.cfg.SlowDelayMin, p.cfg.SlowDelayMax
	if recentlyActive {
		lo, hi = p.cfg.FastDelayMin, p.cfg.FastDelayMax
	}
	delay := p.randBetween(lo, hi)
	if delay < p.cfg.MinDelay {
		delay = p.cfg.MinDelay
	}
	if p.cfg.MaxDelay > 0 && delay > p.cfg.MaxDelay {
		delay = p.cfg.MaxDelay
	}
	return delay
}

func (p *Planner) randBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return lo + time.Duration(p.rnd.Int63n(int64(hi-lo)+1))
}
