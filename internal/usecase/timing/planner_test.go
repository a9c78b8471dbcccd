package timing

import (
	"context"
	"testing"
	"time"

	"journal-companion/internal/domain"
)

type stubEngagements struct {
	lastPlanned time.Time
	hasPlanned  bool
}

func (s *stubEngagements) AcquireEngagement(context.Context, domain.ScheduledEngagement) (bool, error) {
	return true, nil
}
func (s *stubEngagements) GetEngagement(context.Context, string) (domain.ScheduledEngagement, error) {
	return domain.ScheduledEngagement{}, nil
}
func (s *stubEngagements) ListDue(context.Context, time.Time, int) ([]domain.ScheduledEngagement, error) {
	return nil, nil
}
func (s *stubEngagements) MarkInFlight(context.Context, string) (bool, error)         { return true, nil }
func (s *stubEngagements) MarkDelivered(context.Context, string) error                { return nil }
func (s *stubEngagements) MarkFailed(context.Context, string) error                   { return nil }
func (s *stubEngagements) Cancel(context.Context, string) (bool, error)               { return true, nil }
func (s *stubEngagements) HasEngagementForEntry(context.Context, int64) (bool, error) { return false, nil }
func (s *stubEngagements) LastPlannedFireAt(context.Context, int64) (time.Time, bool, error) {
	return s.lastPlanned, s.hasPlanned, nil
}
func (s *stubEngagements) ExpireStalePending(context.Context, time.Time) (int64, error) {
	return 0, nil
}
func (s *stubEngagements) CancelPendingForDisabled(context.Context) (int64, error) { return 0, nil }

type stubUsage struct {
	usage domain.DailyUsage
}

func (s *stubUsage) GetDailyUsage(context.Context, int64, time.Time) (domain.DailyUsage, error) {
	return s.usage, nil
}
func (s *stubUsage) IncrementDelivered(context.Context, int64, time.Time) (domain.DailyUsage, error) {
	s.usage.Delivered++
	return s.usage, nil
}
func (s *stubUsage) PurgeBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func testNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func testConfig() Config {
	return Config{
		MinDelay:     5 * time.Minute,
		MaxDelay:     time.Hour,
		FastDelayMin: 5 * time.Minute,
		FastDelayMax: 20 * time.Minute,
		SlowDelayMin: 20 * time.Minute,
		SlowDelayMax: time.Hour,
		MinSpacing:   30 * time.Minute,
	}
}

func newPlanner(eng *stubEngagements, usage *stubUsage, override bool) *Planner {
	p := NewPlanner(eng, usage, domain.DefaultTierLimits(), testConfig(), domain.NewTestingOverride(override))
	p.SetNowFunc(testNow)
	p.Seed(1)
	return p
}

func eligibleOpp(tier domain.Tier) domain.Opportunity {
	return domain.Opportunity{
		Eligible: true,
		Entry:    domain.JournalEntry{ID: 10, UserID: 1},
		User:     domain.User{ID: 1, Tier: tier, AIPreference: domain.PreferenceActive},
	}
}

func TestPlanClampsDelayToGlobalWindow(t *testing.T) {
	p := newPlanner(&stubEngagements{}, &stubUsage{}, false)
	drafts, err := p.Plan(context.Background(), eligibleOpp(domain.TierFree), domain.EngagementProfile{}, []domain.PersonaID{"aurora"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("ожидали один черновик, получили %d", len(drafts))
	}
	delay := drafts[0].FireAt.Sub(testNow())
	if delay < 5*time.Minute || delay > time.Hour {
		t.Fatalf("задержка %v вне глобального окна", delay)
	}
	if drafts[0].Status != domain.EngagementPending {
		t.Fatalf("черновик должен быть pending")
	}
}

func TestPlanRespectsSpacingAfterPlanned(t *testing.T) {
	// Вторая запись через 10 минут после первой: её ответ обязан отстоять
	// от уже запланированного минимум на интервал.
	firstFire := testNow().Add(10 * time.Minute)
	p := newPlanner(&stubEngagements{lastPlanned: firstFire, hasPlanned: true}, &stubUsage{}, false)
	drafts, err := p.Plan(context.Background(), eligibleOpp(domain.TierFree), domain.EngagementProfile{}, []domain.PersonaID{"aurora"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got := drafts[0].FireAt.Sub(firstFire); got < 30*time.Minute {
		t.Fatalf("интервал %v меньше минимального", got)
	}
}

func TestPlanStaggersCollaborativePersonas(t *testing.T) {
	p := newPlanner(&stubEngagements{}, &stubUsage{}, false)
	drafts, err := p.Plan(context.Background(), eligibleOpp(domain.TierPremium), domain.EngagementProfile{}, []domain.PersonaID{"marta", "sova", "aurora"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(drafts) != 3 {
		t.Fatalf("ожидали 3 черновика, получили %d", len(drafts))
	}
	for i := 1; i < len(drafts); i++ {
		gap := drafts[i].FireAt.Sub(drafts[i-1].FireAt)
		if gap < 30*time.Minute {
			t.Fatalf("коллаборативные ответы должны быть разведены: интервал %v", gap)
		}
	}
}

func TestPlanTruncatesToRemainingQuota(t *testing.T) {
	usage := &stubUsage{usage: domain.DailyUsage{Delivered: 11}}
	p := newPlanner(&stubEngagements{}, usage, false)
	drafts, err := p.Plan(context.Background(), eligibleOpp(domain.TierPremium), domain.EngagementProfile{}, []domain.PersonaID{"marta", "sova"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	// Premium active = 12, доставлено 11 — остаётся место ровно под одну.
	if len(drafts) != 1 {
		t.Fatalf("ожидали усечение до одной персоны, получили %d", len(drafts))
	}
}

func TestPlanReturnsNothingAtCap(t *testing.T) {
	usage := &stubUsage{usage: domain.DailyUsage{Delivered: 12}}
	p := newPlanner(&stubEngagements{}, usage, false)
	drafts, err := p.Plan(context.Background(), eligibleOpp(domain.TierPremium), domain.EngagementProfile{}, []domain.PersonaID{"marta"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(drafts) != 0 {
		t.Fatalf("при исчерпанном лимите черновиков быть не должно")
	}
}

func TestPlanOverrideZeroDelayNoSpacing(t *testing.T) {
	firstFire := testNow().Add(10 * time.Minute)
	p := newPlanner(&stubEngagements{lastPlanned: firstFire, hasPlanned: true}, &stubUsage{}, true)
	drafts, err := p.Plan(context.Background(), eligibleOpp(domain.TierPremium), domain.EngagementProfile{}, []domain.PersonaID{"marta", "sova"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(drafts) != 2 {
		t.Fatalf("ожидали 2 черновика")
	}
	for _, d := range drafts {
		if d.FireAt.After(firstFire) {
			t.Fatalf("в диагностическом режиме задержка практически нулевая, получили %v", d.FireAt)
		}
	}
}

func TestPlanFastRangeForActiveUsers(t *testing.T) {
	p := newPlanner(&stubEngagements{}, &stubUsage{}, false)
	for i := 0; i < 50; i++ {
		drafts, err := p.Plan(context.Background(), eligibleOpp(domain.TierFree), domain.EngagementProfile{RecentlyActive: true}, []domain.PersonaID{"aurora"})
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		delay := drafts[0].FireAt.Sub(testNow())
		if delay < 5*time.Minute || delay > 20*time.Minute {
			t.Fatalf("задержка %v вне быстрого диапазона", delay)
		}
	}
}
