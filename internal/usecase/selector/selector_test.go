package selector

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"journal-companion/internal/domain"
)

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (c *memoryCache) Once(key string, ttl time.Duration, fn func() error) error {
	c.mu.Lock()
	if _, ok := c.data[key]; ok {
		c.mu.Unlock()
		return nil
	}
	c.data[key] = []byte("1")
	c.mu.Unlock()
	return fn()
}

func (c *memoryCache) Set(key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memoryCache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

func TestClassifyTopics(t *testing.T) {
	topics := ClassifyTopics("Сегодня на работе был жёсткий дедлайн, проект едва не сорвался")
	if topics[domain.TopicWork] == 0 {
		t.Fatalf("ожидали тему work, получили %v", topics)
	}
	topics = ClassifyTopics("просто день")
	if topics[domain.TopicDaily] != 1 {
		t.Fatalf("запись без ключевых слов должна попадать в daily, получили %v", topics)
	}
}

func TestSelectDeterministic(t *testing.T) {
	s := New(nil)
	entry := domain.JournalEntry{ID: 1, UserID: 5, Text: "очень благодарна за этот счастливый день"}
	profile := domain.EngagementProfile{}
	first := s.SelectPersonas(entry, profile, domain.TierFree, 1)
	second := s.SelectPersonas(entry, profile, domain.TierFree, 1)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("повторный выбор отличается: %v против %v", first, second)
	}
	if len(first) != 1 {
		t.Fatalf("free получает ровно одну персону, получили %d", len(first))
	}
}

func TestFreeTierNeverSeesPremiumPersona(t *testing.T) {
	s := New(nil)
	entry := domain.JournalEntry{ID: 1, UserID: 5, Text: "дедлайн по проекту, работа и встречи весь день"}
	ids := s.SelectPersonas(entry, domain.EngagementProfile{}, domain.TierFree, 3)
	for _, id := range ids {
		p, _ := domain.PersonaByID(id)
		if p.Tier == domain.TierPremium {
			t.Fatalf("free не должен получать премиальную персону %s", id)
		}
	}
}

func TestOverlapSuppression(t *testing.T) {
	// Две персоны с почти совпадающими профилями тем: выбрана должна быть одна.
	twinA := domain.Persona{ID: "a-twin", Tier: domain.TierFree, Affinity: map[domain.Topic]float64{domain.TopicStress: 0.9, domain.TopicGrowth: 0.5}}
	twinB := domain.Persona{ID: "b-twin", Tier: domain.TierFree, Affinity: map[domain.Topic]float64{domain.TopicStress: 0.85, domain.TopicGrowth: 0.55}}
	other := domain.Persona{ID: "c-other", Tier: domain.TierFree, Affinity: map[domain.Topic]float64{domain.TopicGratitude: 0.9}}
	s := New(nil, twinA, twinB, other)

	entry := domain.JournalEntry{ID: 2, UserID: 9, Text: "сплошной стресс и тревога, но учусь с этим жить"}
	ids := s.SelectPersonas(entry, domain.EngagementProfile{}, domain.TierPremium, 2)
	if len(ids) != 2 {
		t.Fatalf("ожидали двух персон, получили %v", ids)
	}
	if ids[0] != "a-twin" {
		t.Fatalf("первой должна быть a-twin, получили %v", ids)
	}
	if ids[1] == "b-twin" {
		t.Fatalf("близнец должен быть подавлен порогом схожести, получили %v", ids)
	}
}

func TestTieBreakByLowestID(t *testing.T) {
	a := domain.Persona{ID: "aaa", Tier: domain.TierFree, Affinity: map[domain.Topic]float64{domain.TopicDaily: 0.5}}
	b := domain.Persona{ID: "bbb", Tier: domain.TierFree, Affinity: map[domain.Topic]float64{domain.TopicDaily: 0.5}}
	s := New(nil, b, a)
	ids := s.SelectPersonas(domain.JournalEntry{ID: 3, UserID: 1, Text: "обычный день"}, domain.EngagementProfile{}, domain.TierFree, 1)
	if len(ids) != 1 || ids[0] != "aaa" {
		t.Fatalf("при равном счёте побеждает меньший идентификатор, получили %v", ids)
	}
}

func TestExplorationAvoidsRecentPersona(t *testing.T) {
	a := domain.Persona{ID: "aaa", Tier: domain.TierFree, Affinity: map[domain.Topic]float64{domain.TopicDaily: 0.5}}
	b := domain.Persona{ID: "bbb", Tier: domain.TierFree, Affinity: map[domain.Topic]float64{domain.TopicDaily: 0.5}}
	cache := newMemoryCache()
	s := New(cache, a, b)
	entry := domain.JournalEntry{ID: 4, UserID: 2, Text: "обычный день"}

	ids := s.SelectPersonas(entry, domain.EngagementProfile{}, domain.TierFree, 1)
	if ids[0] != "aaa" {
		t.Fatalf("до отметки об использовании побеждает aaa, получили %v", ids)
	}
	s.MarkUsed(2, "aaa")
	ids = s.SelectPersonas(entry, domain.EngagementProfile{}, domain.TierFree, 1)
	if ids[0] != "bbb" {
		t.Fatalf("недавно использованная персона должна уступить, получили %v", ids)
	}
}

func TestProfileHistoryBiasesSelection(t *testing.T) {
	a := domain.Persona{ID: "aaa", Tier: domain.TierFree, Affinity: map[domain.Topic]float64{domain.TopicDaily: 0.5}}
	b := domain.Persona{ID: "bbb", Tier: domain.TierFree, Affinity: map[domain.Topic]float64{domain.TopicDaily: 0.5, domain.TopicCreativity: 0.5}}
	s := New(nil, a, b)
	entry := domain.JournalEntry{ID: 5, UserID: 3, Text: "просто день"}

	ids := s.SelectPersonas(entry, domain.EngagementProfile{}, domain.TierFree, 1)
	if ids[0] != "aaa" {
		t.Fatalf("без истории при ничьей побеждает aaa, получили %v", ids)
	}

	profile := domain.EngagementProfile{
		EntriesInWindow: 10,
		TopicCounts:     map[domain.Topic]int{domain.TopicCreativity: 10},
	}
	ids = s.SelectPersonas(entry, profile, domain.TierFree, 1)
	if ids[0] != "bbb" {
		t.Fatalf("история творческих записей должна подтолкнуть bbb, получили %v", ids)
	}
}
