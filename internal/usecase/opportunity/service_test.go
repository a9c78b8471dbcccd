package opportunity

import (
	"context"
	"testing"
	"time"

	"journal-companion/internal/domain"
)

type stubEngagements struct {
	engaged bool
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
func (s *stubEngagements) MarkInFlight(context.Context, string) (bool, error) { return true, nil }
func (s *stubEngagements) MarkDelivered(context.Context, string) error        { return nil }
func (s *stubEngagements) MarkFailed(context.Context, string) error           { return nil }
func (s *stubEngagements) Cancel(context.Context, string) (bool, error)       { return true, nil }
func (s *stubEngagements) HasEngagementForEntry(context.Context, int64) (bool, error) {
	return s.engaged, nil
}
func (s *stubEngagements) LastPlannedFireAt(context.Context, int64) (time.Time, bool, error) {
	return time.Time{}, false, nil
}
func (s *stubEngagements) ExpireStalePending(context.Context, time.Time) (int64, error) {
	return 0, nil
}
func (s *stubEngagements) CancelPendingForDisabled(context.Context) (int64, error) { return 0, nil }

func testNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newDetector(engaged bool, override bool) *Detector {
	d := NewDetector(&stubEngagements{engaged: engaged}, domain.DefaultTierLimits(), 5*time.Minute, domain.NewTestingOverride(override))
	d.SetNowFunc(testNow)
	return d
}

func matureEntry() domain.JournalEntry {
	return domain.JournalEntry{ID: 7, UserID: 1, Text: "сегодня был хороший день", CreatedAt: testNow().Add(-10 * time.Minute)}
}

func activeUser() domain.User {
	return domain.User{ID: 1, Tier: domain.TierFree, AIPreference: domain.PreferenceActive}
}

func TestEvaluateDisabledPreference(t *testing.T) {
	d := newDetector(false, false)
	user := activeUser()
	user.AIPreference = domain.PreferenceDisabled
	opp, err := d.Evaluate(context.Background(), matureEntry(), user, domain.EngagementProfile{}, domain.DailyUsage{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if opp.Eligible || opp.Reason != domain.RejectionPreferenceDisabled {
		t.Fatalf("ожидали отказ preference_disabled, получили %+v", opp)
	}
}

func TestEvaluateTooFresh(t *testing.T) {
	d := newDetector(false, false)
	entry := matureEntry()
	entry.CreatedAt = testNow().Add(-time.Minute)
	opp, _ := d.Evaluate(context.Background(), entry, activeUser(), domain.EngagementProfile{}, domain.DailyUsage{})
	if opp.Eligible || opp.Reason != domain.RejectionEntryTooFresh {
		t.Fatalf("ожидали отказ entry_too_fresh, получили %+v", opp)
	}
}

func TestEvaluateOverrideBypassesMaturation(t *testing.T) {
	d := newDetector(false, true)
	entry := matureEntry()
	entry.CreatedAt = testNow()
	opp, _ := d.Evaluate(context.Background(), entry, activeUser(), domain.EngagementProfile{}, domain.DailyUsage{})
	if !opp.Eligible {
		t.Fatalf("в диагностическом режиме выдержка не проверяется, получили %+v", opp)
	}
}

func TestEvaluatePassiveNeedsPattern(t *testing.T) {
	d := newDetector(false, false)
	user := activeUser()
	user.AIPreference = domain.PreferencePassive
	opp, _ := d.Evaluate(context.Background(), matureEntry(), user, domain.EngagementProfile{QualifiesPassive: false}, domain.DailyUsage{})
	if opp.Eligible || opp.Reason != domain.RejectionNoPattern {
		t.Fatalf("ожидали отказ no_engagement_pattern, получили %+v", opp)
	}
	opp, _ = d.Evaluate(context.Background(), matureEntry(), user, domain.EngagementProfile{QualifiesPassive: true}, domain.DailyUsage{})
	if !opp.Eligible {
		t.Fatalf("пользователь с паттерном должен проходить, получили %+v", opp)
	}
}

func TestEvaluateDailyCap(t *testing.T) {
	d := newDetector(false, false)
	usage := domain.DailyUsage{Delivered: domain.DefaultTierLimits().DailyLimit(domain.TierFree, domain.PreferenceActive)}
	opp, _ := d.Evaluate(context.Background(), matureEntry(), activeUser(), domain.EngagementProfile{}, usage)
	if opp.Eligible || opp.Reason != domain.RejectionDailyCapReached {
		t.Fatalf("ожидали отказ daily_cap_reached, получили %+v", opp)
	}
}

func TestEvaluateAlreadyEngaged(t *testing.T) {
	d := newDetector(true, false)
	opp, _ := d.Evaluate(context.Background(), matureEntry(), activeUser(), domain.EngagementProfile{}, domain.DailyUsage{})
	if opp.Eligible || opp.Reason != domain.RejectionAlreadyEngaged {
		t.Fatalf("ожидали отказ already_engaged, получили %+v", opp)
	}
}

func TestEvaluateEmptyEntry(t *testing.T) {
	d := newDetector(false, false)
	entry := matureEntry()
	entry.Text = "   "
	opp, _ := d.Evaluate(context.Background(), entry, activeUser(), domain.EngagementProfile{}, domain.DailyUsage{})
	if opp.Eligible || opp.Reason != domain.RejectionEntryEmpty {
		t.Fatalf("ожидали отказ entry_empty, получили %+v", opp)
	}
}
