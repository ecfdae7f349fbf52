package channels

import (
	"context"
	"errors"
	"strconv"

	"github.com/mymmrac/telego"
)

// ErrThreadsUnsupported is returned by Telegram.CreateThread: the plain
// Bot API has no thread primitive equivalent to Discord's — callers that
// need Auto-Thread Discovery on Telegram should route through a fixed
// per-project chat id instead (spec.md §1: chat-platform primitives are
// assumed, not dictated; Telegram's channel in this hub is a flat
// fallback sink, not a thread-capable one).
var ErrThreadsUnsupported = errors.New("telegram: thread creation unsupported")

// Telegram wraps a telego.Bot as a throttle.Executor/autothread.Sender
// for the fallback chat channel.
type Telegram struct {
	bot *telego.Bot
}

// NewTelegram creates a bot client for token.
func NewTelegram(token string) (*Telegram, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: bot}, nil
}

// Execute implements throttle.Executor.
func (t *Telegram) Execute(ctx context.Context, channelID, payload string) error {
	chatID, err := parseChatID(channelID)
	if err != nil {
		return err
	}
	_, err = t.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: chatID,
		Text:   payload,
	})
	return err
}

// SendText implements autothread.Sender.
func (t *Telegram) SendText(ctx context.Context, channelID, text string) error {
	return t.Execute(ctx, channelID, text)
}

// CreateThread implements autothread.ThreadCreator but always fails;
// Telegram sessions route through a single configured chat id instead of
// per-session threads.
func (t *Telegram) CreateThread(ctx context.Context, parentChannelID, name string) (string, error) {
	return "", ErrThreadsUnsupported
}

// SendEmbed degrades to a plain text send (Telegram has no embed concept).
func (t *Telegram) SendEmbed(ctx context.Context, threadID, title, body string) error {
	return t.Execute(ctx, threadID, title+"\n\n"+body)
}

func parseChatID(channelID string) (telego.ChatID, error) {
	id, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return telego.ChatID{Username: channelID}, nil
	}
	return telego.ChatID{ID: id}, nil
}
