package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// retryDelay is the rate-limit backoff unit.
var retryDelay = 3 * time.Second

// botSender is the part of *tgbotapi.BotAPI the alerter uses.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers alerts to one or more Telegram chats through a bot.
type Telegram struct {
	bot     botSender
	chatIDs []int64
	logger  *slog.Logger
}

type TelegramConfig struct {
	Token   string
	ChatIDs []string
	Logger  *slog.Logger
}

// NewTelegram connects the bot. Chat IDs that are not integers are rejected.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	ids, err := parseChatIDs(cfg.ChatIDs)
	if err != nil {
		return nil, err
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	cfg.Logger.Info("telegram alerts enabled", "username", bot.Self.UserName, "chats", len(ids))
	return newTelegram(bot, ids, cfg.Logger), nil
}

func newTelegram(bot botSender, chatIDs []int64, logger *slog.Logger) *Telegram {
	return &Telegram{bot: bot, chatIDs: chatIDs, logger: logger}
}

func parseChatIDs(raw []string) ([]int64, error) {
	if len(raw) == 0 {
		return nil, errors.New("telegram: no chat IDs configured")
	}
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("telegram: invalid chat ID %q", s)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Alert sends text to every configured chat. Delivery continues past a
// failing chat; the joined errors are returned.
func (t *Telegram) Alert(text string) error {
	var errs []error
	for _, id := range t.chatIDs {
		for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
			if err := t.sendChunk(id, chunk); err != nil {
				errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
				break
			}
		}
	}
	return errors.Join(errs...)
}

// sendChunk sends one message, backing off when Telegram rate limits.
func (t *Telegram) sendChunk(chatID int64, text string) error {
	var err error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		if _, err = t.bot.Send(tgbotapi.NewMessage(chatID, text)); err == nil {
			return nil
		}
		errStr := err.Error()
		if !strings.Contains(errStr, "Too Many Requests") && !strings.Contains(errStr, "429") {
			return err
		}
		wait := time.Duration(attempt+1) * retryDelay
		t.logger.Warn("telegram rate limited, backing off", "retry_after", wait, "attempt", attempt+1)
		time.Sleep(wait)
	}
	return err
}

// splitMessage cuts text into chunks of at most maxLen bytes, preferring
// line breaks in the second half of a chunk.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > maxLen {
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
