// Package alerting is the operator-facing notification channel (A4):
// Telegram messages on the failures §7 says "terminate the process" or
// otherwise need a human's attention (fatal indexer decode errors,
// repeated auction-cache rebuild failures).
//
// Grounded on internal/bot/telegram.go's Bot — api *tgbotapi.BotAPI plus
// a handful of sendX(chatID, text) helpers around tgbotapi.NewMessage —
// generalized from prediction/trade alerts to process-health alerts, and
// narrowed to a send-only notifier (no command listener; this process
// has no chat commands to answer).
package alerting

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Notifier sends operator alerts over Telegram. A nil *Notifier (no token
// configured) is valid and every method becomes a no-op, so callers never
// need a presence check.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

func New(token string, chatID int64) (*Notifier, error) {
	if token == "" {
		return nil, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("alerting: create telegram bot: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("alerting: telegram bot connected")
	return &Notifier{api: api, chatID: chatID}, nil
}

// IndexerFatal reports a decode error that terminated the indexer process,
// per §7's "fatal (decoder/schema) errors terminate the process".
func (n *Notifier) IndexerFatal(err error) {
	n.sendMarkdown(fmt.Sprintf(`🔴 *indexer: fatal decode error*

%s

_process is terminating; supervisor restart expected_`, escapeMarkdown(err.Error())))
}

// RebuildFailed reports an auction-cache rebuild failure. Rebuild failures
// are not fatal — the previous snapshot keeps serving — but repeated
// failures mean the snapshot is going stale.
func (n *Notifier) RebuildFailed(err error, consecutiveFailures int) {
	if consecutiveFailures < 3 {
		return
	}
	n.sendMarkdown(fmt.Sprintf(`🟡 *auction cache: %d consecutive rebuild failures*

%s

_%s_`, consecutiveFailures, escapeMarkdown(err.Error()), time.Now().UTC().Format(time.RFC3339)))
}

func (n *Notifier) sendMarkdown(text string) {
	if n == nil || n.api == nil || n.chatID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = "Markdown"
	msg.DisableWebPagePreview = true
	if _, err := n.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("alerting: send failed")
	}
}

func escapeMarkdown(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '_', '*', '`', '[':
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}
