package engage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"journal-companion/internal/domain"
	"journal-companion/internal/infra/metrics"
)

// Worker читает задачи вовлечений из очереди и передаёт их движку.
// Несколько экземпляров Run могут работать параллельно над одной очередью.
type Worker struct {
	queue    domain.EngagementQueue
	engine   *Engine
	notifier domain.Notifier
	log      zerolog.Logger
	// requeueDelay — пауза перед возвратом не готовой задачи, чтобы не
	// крутить очередь вхолостую.
	requeueDelay time.Duration
}

// NewWorker создаёт воркера очереди вовлечений.
func NewWorker(queue domain.EngagementQueue, engine *Engine, notifier domain.Notifier, logger zerolog.Logger) *Worker {
	return &Worker{
		queue:        queue,
		engine:       engine,
		notifier:     notifier,
		log:          logger,
		requeueDelay: 5 * time.Second,
	}
}

// Run крутит цикл потребления до отмены контекста.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			w.engine.sleep(ctx, time.Second)
			continue
		}
		w.handle(ctx, job, ack)
	}
}

func (w *Worker) handle(ctx context.Context, job domain.EngagementJob, ack domain.EngagementAckFunc) {
	record, err := w.engine.Run(ctx, job)
	switch {
	case err == nil:
		if record.Outcome == domain.OutcomeFallbackUsed && w.notifier != nil {
			w.notifier.Alert(fmt.Sprintf("Провайдер генерации недоступен: вовлечение %s ушло с заготовкой персоны %s", job.EngagementID, job.PersonaID))
		}
		w.ack(ack, true)
	case errors.Is(err, ErrAlreadyHandled), errors.Is(err, ErrCancelled):
		w.ack(ack, true)
	case errors.Is(err, ErrNotDue):
		metrics.EngagementsRequeuedTotal.Inc()
		w.engine.sleep(ctx, w.requeueDelay)
		w.ack(ack, false)
	default:
		w.log.Error().Err(err).Str("engagement", job.EngagementID).Msg("worker: задача не обработана, возвращаем в очередь")
		w.engine.sleep(ctx, w.requeueDelay)
		w.ack(ack, false)
	}
}

func (w *Worker) ack(ack domain.EngagementAckFunc, success bool) {
	if err := ack(success); err != nil {
		w.log.Error().Err(err).Msg("worker: не удалось подтвердить задачу")
	}
}
