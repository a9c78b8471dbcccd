package domain

import "testing"

func TestPersonasForTierFiltersPremium(t *testing.T) {
	free := PersonasForTier(TierFree)
	for _, p := range free {
		if p.Tier == TierPremium {
			t.Fatalf("персона %s недоступна тарифу free", p.ID)
		}
	}
	premium := PersonasForTier(TierPremium)
	if len(premium) <= len(free) {
		t.Fatalf("premium должен видеть больше персон: %d против %d", len(premium), len(free))
	}
}

func TestPersonasSortedByID(t *testing.T) {
	all := AllPersonas()
	for i := 1; i < len(all); i++ {
		if all[i-1].ID >= all[i].ID {
			t.Fatalf("каталог не отсортирован: %s перед %s", all[i-1].ID, all[i].ID)
		}
	}
}

func TestFallbackTextDeterministic(t *testing.T) {
	p, ok := PersonaByID("aurora")
	if !ok {
		t.Fatalf("персона aurora должна существовать")
	}
	first := p.FallbackText(42)
	second := p.FallbackText(42)
	if first != second {
		t.Fatalf("заготовка должна быть детерминированной")
	}
	if p.FallbackText(-42) == "" {
		t.Fatalf("отрицательный идентификатор не должен ломать выбор")
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []EngagementStatus{EngagementDelivered, EngagementFailed, EngagementCancelled} {
		if !s.Terminal() {
			t.Fatalf("статус %s должен быть терминальным", s)
		}
	}
	if EngagementPending.Terminal() || EngagementInFlight.Terminal() {
		t.Fatalf("pending и in_flight не терминальны")
	}
}
