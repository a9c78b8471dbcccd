package selector

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"journal-companion/internal/domain"
)

// topicKeywords — фиксированная таксономия: лексический скоринг без
// обращения к модели, детерминированный и дешёвый.
var topicKeywords = map[domain.Topic][]string{
	domain.TopicGratitude: {
		"благодар", "спасибо", "рад", "счаст", "ценю", "повезло", "подарок",
	},
	domain.TopicStress: {
		"стресс", "тревог", "устал", "волну", "страх", "паник", "нервн", "выгор", "бессонниц",
	},
	domain.TopicWork: {
		"работ", "проект", "коллег", "начальник", "дедлайн", "встреч", "карьер", "собеседован", "зарплат",
	},
	domain.TopicRelationships: {
		"семь", "друг", "подруг", "мама", "папа", "отношен", "ссор", "любов", "партн", "дет",
	},
	domain.TopicHealth: {
		"здоров", "болит", "врач", "сон", "спорт", "трениров", "питан", "болезн", "самочувств",
	},
	domain.TopicCreativity: {
		"рису", "пишу", "музык", "идея", "творч", "вдохнов", "стих", "роман", "проза",
	},
	domain.TopicGrowth: {
		"цел", "привычк", "развит", "учусь", "курс", "книг", "медитац", "рефлекс", "план",
	},
}

// ClassifyTopics строит карту тема→уверенность по ключевым словам.
// Записи без совпадений относятся к теме daily.
func ClassifyTopics(text string) map[domain.Topic]float64 {
	lower := strings.ToLower(text)
	hits := make(map[domain.Topic]float64)
	total := 0.0
	for topic, words := range topicKeywords {
		for _, w := range words {
			n := strings.Count(lower, w)
			if n > 0 {
				hits[topic] += float64(n)
				total += float64(n)
			}
		}
	}
	if total == 0 {
		return map[domain.Topic]float64{domain.TopicDaily: 1}
	}
	for topic := range hits {
		hits[topic] /= total
	}
	return hits
}

// Selector подбирает персону (или несколько для premium) под запись.
type Selector struct {
	personas         []domain.Persona
	cache            domain.Cache
	overlapThreshold float64
	explorationBonus float64
	historyWeight    float64
	recentTTL        time.Duration
}

// New создаёт селектор над каталогом персон. Кэш допускает nil — тогда
// поощрение новизны не работает.
func New(cache domain.Cache, personas ...domain.Persona) *Selector {
	if len(personas) == 0 {
		personas = domain.AllPersonas()
	}
	sorted := append([]domain.Persona(nil), personas...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Selector{
		personas:         sorted,
		cache:            cache,
		overlapThreshold: 0.75,
		explorationBonus: 0.15,
		historyWeight:    0.1,
		recentTTL:        72 * time.Hour,
	}
}

type scoredPersona struct {
	persona domain.Persona
	score   float64
}

// SelectPersonas возвращает упорядоченный список персон: одну для free,
// до maxPersonas для premium. Одинаковые входы дают одинаковый результат;
// ничья решается наименьшим идентификатором. Персоны отвечают только на
// исходную запись — цепочки «персона отвечает персоне» запрещены.
func (s *Selector) SelectPersonas(entry domain.JournalEntry, profile domain.EngagementProfile, tier domain.Tier, maxPersonas int) []domain.PersonaID {
	confidences := ClassifyTopics(entry.Text)
	// Частые темы пользователя слегка подталкивают профильных персон.
	if profile.EntriesInWindow > 0 {
		for topic, count := range profile.TopicCounts {
			confidences[topic] += s.historyWeight * float64(count) / float64(profile.EntriesInWindow)
		}
	}

	recent := s.recentPersonas(entry.UserID)
	scored := make([]scoredPersona, 0, len(s.personas))
	for _, p := range s.personas {
		if p.Tier == domain.TierPremium && tier != domain.TierPremium {
			continue
		}
		score := dot(confidences, p.Affinity)
		if !recent[p.ID] {
			score += s.explorationBonus
		}
		scored = append(scored, scoredPersona{persona: p, score: score})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].persona.ID < scored[j].persona.ID
	})

	if maxPersonas < 1 {
		maxPersonas = 1
	}
	if tier != domain.TierPremium {
		maxPersonas = 1
	}

	chosen := make([]domain.Persona, 0, maxPersonas)
	for _, sc := range scored {
		if len(chosen) == maxPersonas {
			break
		}
		if tooSimilar(sc.persona, chosen, s.overlapThreshold) {
			continue
		}
		chosen = append(chosen, sc.persona)
	}

	out := make([]domain.PersonaID, 0, len(chosen))
	for _, p := range chosen {
		out = append(out, p.ID)
	}
	return out
}

// MarkUsed запоминает, что персона недавно отвечала пользователю.
func (s *Selector) MarkUsed(userID int64, personaID domain.PersonaID) {
	if s.cache == nil {
		return
	}
	ids := s.recentList(userID)
	for _, id := range ids {
		if id == personaID {
			return
		}
	}
	ids = append(ids, personaID)
	payload, err := json.Marshal(ids)
	if err != nil {
		return
	}
	_ = s.cache.Set(recentKey(userID), payload, s.recentTTL)
}

func (s *Selector) recentPersonas(userID int64) map[domain.PersonaID]bool {
	out := make(map[domain.PersonaID]bool)
	for _, id := range s.recentList(userID) {
		out[id] = true
	}
	return out
}

func (s *Selector) recentList(userID int64) []domain.PersonaID {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(recentKey(userID))
	if err != nil || len(raw) == 0 {
		return nil
	}
	var ids []domain.PersonaID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil
	}
	return ids
}

func recentKey(userID int64) string {
	return fmt.Sprintf("personas:recent:%d", userID)
}

func dot(confidences map[domain.Topic]float64, affinity map[domain.Topic]float64) float64 {
	sum := 0.0
	for topic, conf := range confidences {
		sum += conf * affinity[topic]
	}
	return sum
}

// tooSimilar отбрасывает персону, чей профиль тем почти совпадает с уже
// выбранной: две похожие персоны скажут одно и то же.
func tooSimilar(candidate domain.Persona, chosen []domain.Persona, threshold float64) bool {
	for _, p := range chosen {
		if cosine(candidate.Affinity, p.Affinity) >= threshold {
			return true
		}
	}
	return false
}

func cosine(a, b map[domain.Topic]float64) float64 {
	var dotSum, normA, normB float64
	for _, topic := range domain.Topics() {
		dotSum += a[topic] * b[topic]
		normA += a[topic] * a[topic]
		normB += b[topic] * b[topic]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotSum / (math.Sqrt(normA) * math.Sqrt(normB))
}
