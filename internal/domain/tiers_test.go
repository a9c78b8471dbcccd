package domain

import "testing"

func TestDailyLimit(t *testing.T) {
	limits := DefaultTierLimits()
	tests := []struct {
		name string
		tier Tier
		pref AIPreference
		want int
	}{
		{name: "free passive", tier: TierFree, pref: PreferencePassive, want: 3},
		{name: "free active", tier: TierFree, pref: PreferenceActive, want: 5},
		{name: "premium passive", tier: TierPremium, pref: PreferencePassive, want: 10},
		{name: "premium active", tier: TierPremium, pref: PreferenceActive, want: 12},
		{name: "disabled always zero", tier: TierPremium, pref: PreferenceDisabled, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := limits.DailyLimit(tt.tier, tt.pref); got != tt.want {
				t.Fatalf("DailyLimit(%v, %v) = %d, ожидали %d", tt.tier, tt.pref, got, tt.want)
			}
		})
	}
}

func TestCollabPersonaMax(t *testing.T) {
	limits := DefaultTierLimits()
	if got := limits.CollabPersonaMax(TierFree); got != 1 {
		t.Fatalf("free всегда получает одну персону, получили %d", got)
	}
	if got := limits.CollabPersonaMax(TierPremium); got != 3 {
		t.Fatalf("ожидали 3 персоны для premium, получили %d", got)
	}
}

func TestParseAIPreference(t *testing.T) {
	if got := ParseAIPreference("DISABLED"); got != PreferenceDisabled {
		t.Fatalf("ожидали disabled, получили %v", got)
	}
	if got := ParseAIPreference("что-то"); got != PreferencePassive {
		t.Fatalf("неизвестное значение должно стать passive, получили %v", got)
	}
}
