package engage

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"journal-companion/internal/domain"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []string
}

func (n *recordingNotifier) Alert(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, text)
}

func TestWorkerAcksDeliveredJob(t *testing.T) {
	f := newFixture(Config{MinSpacing: 30 * time.Minute})
	job := f.seed(1, 10, domain.PreferenceActive)
	w := NewWorker(nil, f.engine, nil, zerolog.Nop())

	var acked *bool
	w.handle(context.Background(), job, func(success bool) error {
		acked = &success
		return nil
	})
	if acked == nil || !*acked {
		t.Fatal("успешная задача должна подтверждаться")
	}
}

func TestWorkerRequeuesNotDueJob(t *testing.T) {
	f := newFixture(Config{MinSpacing: 30 * time.Minute})
	job := f.seed(2, 20, domain.PreferenceActive)
	job.FireAt = fixedNow.Add(time.Hour)
	w := NewWorker(nil, f.engine, nil, zerolog.Nop())

	var acked *bool
	w.handle(context.Background(), job, func(success bool) error {
		acked = &success
		return nil
	})
	if acked == nil || *acked {
		t.Fatal("не готовая задача должна возвращаться в очередь")
	}
	if got := f.engagements.status(job.EngagementID); got != domain.EngagementPending {
		t.Errorf("статус не должен меняться, получен %s", got)
	}
}

func TestWorkerAcksCancelledJob(t *testing.T) {
	f := newFixture(Config{MinSpacing: 30 * time.Minute})
	job := f.seed(3, 30, domain.PreferenceDisabled)
	w := NewWorker(nil, f.engine, nil, zerolog.Nop())

	var acked *bool
	w.handle(context.Background(), job, func(success bool) error {
		acked = &success
		return nil
	})
	if acked == nil || !*acked {
		t.Fatal("отменённая задача подтверждается, повтор не нужен")
	}
}

func TestWorkerAlertsOnFallback(t *testing.T) {
	f := newFixture(Config{MinSpacing: 30 * time.Minute})
	f.provider.failures = 2
	job := f.seed(4, 40, domain.PreferenceActive)
	notifier := &recordingNotifier{}
	w := NewWorker(nil, f.engine, notifier, zerolog.Nop())

	w.handle(context.Background(), job, func(bool) error { return nil })
	if len(notifier.alerts) != 1 {
		t.Fatalf("ожидалось одно оповещение дежурному, получено %d", len(notifier.alerts))
	}
	if !strings.Contains(notifier.alerts[0], job.EngagementID) {
		t.Errorf("оповещение должно называть вовлечение: %q", notifier.alerts[0])
	}
}
