package opportunity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"journal-companion/internal/domain"
)

// Detector решает, пригодна ли запись для автоматического ответа.
// Отказ — не ошибка: причина возвращается в Opportunity, ошибки
// зарезервированы за сбоями хранилищ.
type Detector struct {
	engagements domain.EngagementRepo
	limits      domain.TierLimits
	minEntryAge time.Duration
	override    *domain.TestingOverride
	now         func() time.Time
}

// NewDetector создаёт детектор.
func NewDetector(engagements domain.EngagementRepo, limits domain.TierLimits, minEntryAge time.Duration, override *domain.TestingOverride) *Detector {
	return &Detector{
		engagements: engagements,
		limits:      limits,
		minEntryAge: minEntryAge,
		override:    override,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc подменяет источник времени в тестах.
func (d *Detector) SetNowFunc(now func() time.Time) { d.now = now }

func rejected(entry domain.JournalEntry, user domain.User, reason domain.RejectionReason) domain.Opportunity {
	return domain.Opportunity{Eligible: false, Reason: reason, Entry: entry, User: user}
}

// Evaluate проверяет запись по всем правилам допуска.
func (d *Detector) Evaluate(ctx context.Context, entry domain.JournalEntry, user domain.User, profile domain.EngagementProfile, usage domain.DailyUsage) (domain.Opportunity, error) {
	if user.AIPreference == domain.PreferenceDisabled {
		return rejected(entry, user, domain.RejectionPreferenceDisabled), nil
	}
	if strings.TrimSpace(entry.Text) == "" {
		return rejected(entry, user, domain.RejectionEntryEmpty), nil
	}
	// Выдержка защищает от ответа на запись, которую автор ещё редактирует.
	if !d.override.Enabled() && d.now().Sub(entry.CreatedAt) < d.minEntryAge {
		return rejected(entry, user, domain.RejectionEntryTooFresh), nil
	}
	if user.AIPreference == domain.PreferencePassive && !profile.QualifiesPassive {
		return rejected(entry, user, domain.RejectionNoPattern), nil
	}
	if usage.Delivered >= d.limits.DailyLimit(user.Tier, user.AIPreference) {
		return rejected(entry, user, domain.RejectionDailyCapReached), nil
	}
	if entry.HasResponse {
		return rejected(entry, user, domain.RejectionAlreadyEngaged), nil
	}
	engaged, err := d.engagements.HasEngagementForEntry(ctx, entry.ID)
	if err != nil {
		return domain.Opportunity{}, fmt.Errorf("проверка существующих вовлечений: %w", err)
	}
	if engaged {
		return rejected(entry, user, domain.RejectionAlreadyEngaged), nil
	}
	return domain.Opportunity{Eligible: true, Entry: entry, User: user}, nil
}
