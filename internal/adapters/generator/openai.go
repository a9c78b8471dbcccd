package generator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"journal-companion/internal/domain"
	"journal-companion/internal/infra/openai"
)

// maxEntryRunes ограничивает цитируемый фрагмент записи в промпте.
const maxEntryRunes = 2000

// OpenAIProvider генерирует ответ персоны через Chat Completions.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider создаёт провайдера генерации.
func NewOpenAIProvider(client *openai.Client, model string) *OpenAIProvider {
	return &OpenAIProvider{client: client, model: model}
}

// Generate строит промпт из голоса персоны и профиля пользователя и
// возвращает текст ответа. Пустой ответ модели считается ошибкой.
func (p *OpenAIProvider) Generate(ctx context.Context, persona domain.Persona, entry domain.JournalEntry, profile domain.EngagementProfile) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: systemPrompt(persona, profile)},
			{Role: openai.RoleUser, Content: userPrompt(entry)},
		},
		Temperature: 0.8,
		MaxTokens:   400,
	}
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("генерация ответа персоны %s: %w", persona.ID, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("генерация ответа персоны %s: пустой ответ модели", persona.ID)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("генерация ответа персоны %s: модель вернула пустой текст", persona.ID)
	}
	return text, nil
}

func systemPrompt(persona domain.Persona, profile domain.EngagementProfile) string {
	var b strings.Builder
	b.WriteString("Ты — ")
	b.WriteString(persona.Name)
	b.WriteString(", компаньон в приложении личного дневника. ")
	b.WriteString(persona.Voice)
	b.WriteString("\nОтветь на запись пользователя коротко, тепло и по существу, 2-4 предложения.")
	b.WriteString("\nНе давай медицинских и юридических советов, не оценивай автора.")
	if topics := dominantTopics(profile.TopicCounts, 3); len(topics) > 0 {
		b.WriteString("\nПользователь чаще всего пишет о темах: ")
		b.WriteString(strings.Join(topics, ", "))
		b.WriteString(".")
	}
	return b.String()
}

func userPrompt(entry domain.JournalEntry) string {
	text := entry.Text
	if runes := []rune(text); len(runes) > maxEntryRunes {
		text = string(runes[:maxEntryRunes])
	}
	return "Запись дневника:\n" + text
}

// dominantTopics возвращает не более limit самых частых тем профиля.
func dominantTopics(counts map[domain.Topic]int, limit int) []string {
	if len(counts) == 0 {
		return nil
	}
	type tc struct {
		topic domain.Topic
		n     int
	}
	sorted := make([]tc, 0, len(counts))
	for t, n := range counts {
		sorted = append(sorted, tc{t, n})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].n != sorted[j].n {
			return sorted[i].n > sorted[j].n
		}
		return sorted[i].topic < sorted[j].topic
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]string, 0, len(sorted))
	for _, t := range sorted {
		out = append(out, string(t.topic))
	}
	return out
}
