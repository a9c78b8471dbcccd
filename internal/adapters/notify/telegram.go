package notify

import (
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"journal-companion/internal/infra/metrics"
)

// TelegramNotifier отправляет служебные оповещения дежурному в чат.
// Пользовательских сообщений через него не проходит.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

// NewTelegramNotifier создаёт нотификатор. При пустом токене возвращает nil:
// вызывающая сторона обязана переживать отсутствие оповещений.
func NewTelegramNotifier(token string, chatID int64, logger zerolog.Logger) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &TelegramNotifier{bot: bot, chatID: chatID, log: logger}, nil
}

// Alert отправляет текст дежурному. Ошибка отправки только логируется:
// оповещения не должны влиять на основной контур.
func (n *TelegramNotifier) Alert(text string) {
	if n == nil || n.bot == nil {
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	start := time.Now()
	_, err := n.bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram", "send_message", "ops_alert", start, err)
	if err != nil {
		n.log.Error().Err(err).Msg("notify: оповещение дежурному не доставлено")
	}
}
