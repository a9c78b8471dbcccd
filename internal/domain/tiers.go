package domain

import "strings"

// Tier описывает тариф пользователя.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// ParseTier приводит строку к известному тарифу. Неизвестное значение трактуется как free.
func ParseTier(raw string) Tier {
	if Tier(strings.ToLower(strings.TrimSpace(raw))) == TierPremium {
		return TierPremium
	}
	return TierFree
}

// AIPreference описывает выбранный пользователем режим ИИ-ответов.
type AIPreference string

const (
	PreferenceDisabled AIPreference = "disabled"
	PreferencePassive  AIPreference = "passive"
	PreferenceActive   AIPreference = "active"
)

// ParseAIPreference приводит строку к известному режиму. По умолчанию passive.
func ParseAIPreference(raw string) AIPreference {
	switch AIPreference(strings.ToLower(strings.TrimSpace(raw))) {
	case PreferenceDisabled:
		return PreferenceDisabled
	case PreferenceActive:
		return PreferenceActive
	}
	return PreferencePassive
}

// TierLimits задаёт суточные лимиты вовлечений. Значения приходят из конфига:
// в исходных описаниях продукта единой таблицы лимитов нет.
type TierLimits struct {
	FreeDaily    int
	PremiumDaily int
	ActiveBonus  int
	CollabMax    int
}

// DefaultTierLimits возвращает лимиты по умолчанию.
func DefaultTierLimits() TierLimits {
	return TierLimits{FreeDaily: 3, PremiumDaily: 10, ActiveBonus: 2, CollabMax: 3}
}

// DailyLimit возвращает суточный предел для тарифа и режима.
func (l TierLimits) DailyLimit(tier Tier, pref AIPreference) int {
	if pref == PreferenceDisabled {
		return 0
	}
	limit := l.FreeDaily
	if tier == TierPremium {
		limit = l.PremiumDaily
	}
	if pref == PreferenceActive {
		limit += l.ActiveBonus
	}
	return limit
}

// CollabPersonaMax возвращает максимум персон на одну запись.
func (l TierLimits) CollabPersonaMax(tier Tier) int {
	if tier != TierPremium {
		return 1
	}
	if l.CollabMax < 1 {
		return 1
	}
	return l.CollabMax
}
