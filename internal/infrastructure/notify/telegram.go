package notify

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const queueSize = 64

type sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Telegram pushes messages to one chat from a background goroutine. Notify
// never blocks; messages are dropped while the queue is full.
type Telegram struct {
	bot    sender
	chatID int64
	prefix string
	queue  chan string
	logger *zap.Logger
}

func NewTelegram(token string, chatID int64, prefix string, logger *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newTelegram(b, chatID, prefix, logger), nil
}

func newTelegram(bot sender, chatID int64, prefix string, logger *zap.Logger) *Telegram {
	return &Telegram{
		bot:    bot,
		chatID: chatID,
		prefix: prefix,
		queue:  make(chan string, queueSize),
		logger: logger,
	}
}

func (t *Telegram) Notify(text string) {
	if t.prefix != "" {
		text = t.prefix + " " + text
	}
	select {
	case t.queue <- text:
	default:
		t.logger.Warn("telegram queue full, message dropped", zap.String("text", text))
	}
}

// Run sends queued messages until ctx is done.
func (t *Telegram) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-t.queue:
			if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, text)); err != nil {
				t.logger.Warn("telegram send failed", zap.Error(err))
			}
		}
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Notify(string) {}
