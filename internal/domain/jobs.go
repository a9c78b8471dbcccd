package domain

import (
	"context"
	"time"
)

// EngagementJobCause описывает источник задачи на вовлечение.
type EngagementJobCause string

const (
	// EngagementCauseSweep — задача поставлена периодическим проходом.
	EngagementCauseSweep EngagementJobCause = "sweep"
	// EngagementCauseEvent — задача поставлена push-событием о новой записи.
	EngagementCauseEvent EngagementJobCause = "event"
	// EngagementCauseManual — задача поставлена оператором для диагностики.
	EngagementCauseManual EngagementJobCause = "manual"
)

// EngagementJob содержит информацию о задаче исполнения вовлечения.
type EngagementJob struct {
	ID           string             `json:"job_id"`
	EngagementID string             `json:"engagement_id"`
	UserID       int64              `json:"user_id"`
	EntryID      int64              `json:"entry_id"`
	PersonaID    PersonaID          `json:"persona_id"`
	FireAt       time.Time          `json:"fire_at"`
	EnqueuedAt   time.Time          `json:"enqueued_at"`
	Cause        EngagementJobCause `json:"cause"`
}

// EngagementAckFunc подтверждает обработку либо возвращает задачу в очередь.
type EngagementAckFunc func(success bool) error

// EngagementQueue описывает очередь задач на исполнение вовлечений.
type EngagementQueue interface {
	Enqueue(ctx context.Context, job EngagementJob) error
	Receive(ctx context.Context) (EngagementJob, EngagementAckFunc, error)
}
