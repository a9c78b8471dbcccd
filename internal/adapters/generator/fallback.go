package generator

import (
	"context"

	"journal-companion/internal/domain"
)

// FallbackProvider отдаёт детерминированные заготовки персон. Используется,
// когда ключ внешнего провайдера не задан, и в локальных окружениях.
type FallbackProvider struct{}

// NewFallbackProvider создаёт провайдера заготовок.
func NewFallbackProvider() *FallbackProvider { return &FallbackProvider{} }

// Generate возвращает заготовку персоны для записи. Не ошибается никогда.
func (FallbackProvider) Generate(_ context.Context, persona domain.Persona, entry domain.JournalEntry, _ domain.EngagementProfile) (string, error) {
	return persona.FallbackText(entry.ID), nil
}
