package pattern

import (
	"testing"
	"time"

	"journal-companion/internal/domain"
)

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newTestTracker() *Tracker {
	t := NewTracker(Config{Window: 14 * 24 * time.Hour, MaxEvents: 5, MinPositive: 2, RecentWindow: 48 * time.Hour})
	t.SetNowFunc(fixedNow)
	return t
}

func TestQualifiesPassiveAfterThreshold(t *testing.T) {
	tr := newTestTracker()
	tr.RecordOutcome(1, domain.OutcomeEvent{Kind: domain.OutcomeEventReaction, OccurredAt: fixedNow().Add(-time.Hour)})
	if tr.Snapshot(1).QualifiesPassive {
		t.Fatalf("одной реакции недостаточно для пассивного режима")
	}
	tr.RecordOutcome(1, domain.OutcomeEvent{Kind: domain.OutcomeEventReply, OccurredAt: fixedNow().Add(-time.Hour)})
	profile := tr.Snapshot(1)
	if !profile.QualifiesPassive {
		t.Fatalf("две положительные реакции должны давать право на пассивный режим")
	}
	if profile.PositiveReactions != 2 {
		t.Fatalf("ожидали 2 положительные реакции, получили %d", profile.PositiveReactions)
	}
}

func TestDismissalIsNotPositive(t *testing.T) {
	tr := newTestTracker()
	for i := 0; i < 3; i++ {
		tr.RecordOutcome(1, domain.OutcomeEvent{Kind: domain.OutcomeEventDismissal, OccurredAt: fixedNow().Add(-time.Hour)})
	}
	if tr.Snapshot(1).QualifiesPassive {
		t.Fatalf("отклонения не должны открывать пассивный режим")
	}
}

func TestWindowEviction(t *testing.T) {
	tr := newTestTracker()
	tr.RecordOutcome(1, domain.OutcomeEvent{Kind: domain.OutcomeEventReaction, OccurredAt: fixedNow().Add(-15 * 24 * time.Hour)})
	tr.RecordOutcome(1, domain.OutcomeEvent{Kind: domain.OutcomeEventReaction, OccurredAt: fixedNow().Add(-time.Hour)})
	profile := tr.Snapshot(1)
	if profile.PositiveReactions != 1 {
		t.Fatalf("событие за пределами окна должно быть отброшено, получили %d", profile.PositiveReactions)
	}
}

func TestMaxEventsCap(t *testing.T) {
	tr := newTestTracker()
	for i := 0; i < 20; i++ {
		tr.RecordOutcome(1, domain.OutcomeEvent{Kind: domain.OutcomeEventEntryCreated, Topic: domain.TopicDaily, OccurredAt: fixedNow().Add(-time.Hour)})
	}
	profile := tr.Snapshot(1)
	if profile.EntriesInWindow != 5 {
		t.Fatalf("ожидали усечение до 5 событий, получили %d", profile.EntriesInWindow)
	}
}

func TestRecentlyActive(t *testing.T) {
	tr := newTestTracker()
	tr.RecordOutcome(1, domain.OutcomeEvent{Kind: domain.OutcomeEventEntryCreated, OccurredAt: fixedNow().Add(-3 * 24 * time.Hour)})
	if tr.Snapshot(1).RecentlyActive {
		t.Fatalf("событие трёхдневной давности не делает пользователя активным")
	}
	tr.RecordOutcome(1, domain.OutcomeEvent{Kind: domain.OutcomeEventEntryCreated, OccurredAt: fixedNow().Add(-time.Hour)})
	if !tr.Snapshot(1).RecentlyActive {
		t.Fatalf("свежее событие должно давать признак активности")
	}
}

func TestTopicHistogramAndDelay(t *testing.T) {
	tr := newTestTracker()
	tr.RecordOutcome(1, domain.OutcomeEvent{Kind: domain.OutcomeEventEntryCreated, Topic: domain.TopicWork, OccurredAt: fixedNow().Add(-time.Hour)})
	tr.RecordOutcome(1, domain.OutcomeEvent{Kind: domain.OutcomeEventEntryCreated, Topic: domain.TopicWork, OccurredAt: fixedNow().Add(-time.Hour)})
	tr.RecordOutcome(1, domain.OutcomeEvent{Kind: domain.OutcomeEventReaction, ReactionDelay: 10 * time.Minute, OccurredAt: fixedNow().Add(-time.Hour)})
	tr.RecordOutcome(1, domain.OutcomeEvent{Kind: domain.OutcomeEventReaction, ReactionDelay: 20 * time.Minute, OccurredAt: fixedNow().Add(-time.Hour)})
	profile := tr.Snapshot(1)
	if profile.TopicCounts[domain.TopicWork] != 2 {
		t.Fatalf("ожидали 2 записи по теме work")
	}
	if profile.AvgReactionDelay != 15*time.Minute {
		t.Fatalf("ожидали среднюю задержку 15m, получили %v", profile.AvgReactionDelay)
	}
}
