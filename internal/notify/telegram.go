package notify

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

const telegramTextLimit = 4096

// Telegram posts operator messages to one chat (optionally a forum thread).
type Telegram struct {
	bot      *tele.Bot
	chat     *tele.Chat
	threadID int
}

// NewTelegram builds the bot offline; nothing is sent to Telegram until the
// first message.
func NewTelegram(token string, chatID int64, threadID int) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chat: &tele.Chat{ID: chatID}, threadID: threadID}, nil
}

// SendText sends text as HTML, split into several messages when it exceeds
// the Telegram limit.
func (t *Telegram) SendText(ctx context.Context, text string) error {
	for _, chunk := range splitText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := t.bot.Send(t.chat, chunk, &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
			ThreadID:              t.threadID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// splitText cuts s into chunks of at most limit runes, preferring line breaks.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
