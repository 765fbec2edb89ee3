// internal/notify/notify.go
package notify

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Notifier delivers free-text status messages. Implementations are
// best-effort: a delivery failure must never affect trade or position logic.
type Notifier interface {
	Notify(message string)
}

// Telegram sends messages through the Bot API, fire-and-forget.
type Telegram struct {
	token  string
	chatID string
	client *http.Client
	logger *zap.Logger
}

func NewTelegram(token, chatID string, logger *zap.Logger) *Telegram {
	return &Telegram{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger.Named("telegram"),
	}
}

// Notify ships the message on a background goroutine; failures are logged
// and dropped.
func (t *Telegram) Notify(message string) {
	go func() {
		apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
		resp, err := t.client.PostForm(apiURL, url.Values{
			"chat_id": {t.chatID},
			"text":    {message},
		})
		if err != nil {
			t.logger.Warn("telegram send failed", zap.Error(err))
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.logger.Warn("telegram send rejected", zap.String("status", resp.Status))
		}
	}()
}

// Nop discards all messages; used when no notifier is configured.
type Nop struct{}

func (Nop) Notify(string) {}
