package domain

import "sort"

// Topic — тема записи из фиксированной таксономии.
type Topic string

const (
	TopicGratitude     Topic = "gratitude"
	TopicStress        Topic = "stress"
	TopicWork          Topic = "work"
	TopicRelationships Topic = "relationships"
	TopicHealth        Topic = "health"
	TopicCreativity    Topic = "creativity"
	TopicGrowth        Topic = "growth"
	TopicDaily         Topic = "daily"
)

// Topics возвращает все темы таксономии в стабильном порядке.
func Topics() []Topic {
	return []Topic{
		TopicGratitude, TopicStress, TopicWork, TopicRelationships,
		TopicHealth, TopicCreativity, TopicGrowth, TopicDaily,
	}
}

// PersonaID идентифицирует персону.
type PersonaID string

// Persona — статичная личность-собеседник. Каталог неизменяем после старта,
// читать его из нескольких горутин безопасно.
type Persona struct {
	ID       PersonaID
	Name     string
	Tier     Tier
	Voice    string
	Affinity map[Topic]float64
	// Fallback — детерминированные заготовки на случай недоступности провайдера.
	Fallback []string
}

var personas = map[PersonaID]Persona{
	"aurora": {
		ID:    "aurora",
		Name:  "Аврора",
		Tier:  TierFree,
		Voice: "тёплая и внимательная подруга, отвечает мягко и без назиданий",
		Affinity: map[Topic]float64{
			TopicGratitude: 0.9, TopicDaily: 0.7, TopicRelationships: 0.5, TopicGrowth: 0.3,
		},
		Fallback: []string{
			"Спасибо, что поделились — я рядом и читаю вас.",
			"Какая важная запись. Берегите это настроение.",
			"Я с вами. Иногда достаточно просто записать — и станет легче.",
		},
	},
	"fenix": {
		ID:    "fenix",
		Name:  "Феникс",
		Tier:  TierFree,
		Voice: "спокойный наставник, помогает увидеть опору в трудностях",
		Affinity: map[Topic]float64{
			TopicStress: 0.9, TopicGrowth: 0.7, TopicHealth: 0.4, TopicWork: 0.3,
		},
		Fallback: []string{
			"Трудные дни проходят. Вы уже сделали важный шаг, записав это.",
			"Держитесь. Завтра можно будет посмотреть на это свежим взглядом.",
			"Вы сильнее, чем кажется в такие моменты.",
		},
	},
	"marta": {
		ID:    "marta",
		Name:  "Марта",
		Tier:  TierPremium,
		Voice: "деловитый коуч, говорит конкретно и по существу",
		Affinity: map[Topic]float64{
			TopicWork: 0.9, TopicGrowth: 0.6, TopicDaily: 0.4, TopicStress: 0.3,
		},
		Fallback: []string{
			"Хорошая рабочая заметка. Вернитесь к ней завтра и выделите один следующий шаг.",
			"Зафиксировано. Маленькие шаги каждый день дают большой результат.",
		},
	},
	"sova": {
		ID:    "sova",
		Name:  "Сова",
		Tier:  TierPremium,
		Voice: "вдохновляющая муза, подмечает образы и идеи",
		Affinity: map[Topic]float64{
			TopicCreativity: 0.9, TopicGrowth: 0.5, TopicGratitude: 0.3, TopicDaily: 0.3,
		},
		Fallback: []string{
			"В этой записи есть искра. Не теряйте её.",
			"Идеи любят, когда их записывают. Продолжайте.",
		},
	},
	"tikhon": {
		ID:    "tikhon",
		Name:  "Тихон",
		Tier:  TierFree,
		Voice: "немногословный слушатель, отражает чувства без советов",
		Affinity: map[Topic]float64{
			TopicRelationships: 0.9, TopicStress: 0.5, TopicHealth: 0.5, TopicDaily: 0.2,
		},
		Fallback: []string{
			"Слышу вас.",
			"Это звучит непросто. Спасибо, что доверили это дневнику.",
			"Побуду рядом с этой записью.",
		},
	},
}

// PersonaByID возвращает персону по идентификатору.
func PersonaByID(id PersonaID) (Persona, bool) {
	p, ok := personas[id]
	return p, ok
}

// AllPersonas возвращает каталог, отсортированный по идентификатору.
func AllPersonas() []Persona {
	out := make([]Persona, 0, len(personas))
	for _, p := range personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PersonasForTier возвращает персоны, доступные тарифу, по возрастанию идентификатора.
func PersonasForTier(tier Tier) []Persona {
	out := make([]Persona, 0, len(personas))
	for _, p := range personas {
		if p.Tier == TierPremium && tier != TierPremium {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FallbackText выбирает заготовку детерминированно по идентификатору записи.
func (p Persona) FallbackText(entryID int64) string {
	if len(p.Fallback) == 0 {
		return "Спасибо за запись."
	}
	idx := entryID % int64(len(p.Fallback))
	if idx < 0 {
		idx = -idx
	}
	return p.Fallback[idx]
}
