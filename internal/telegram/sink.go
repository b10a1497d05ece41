// Package telegram adapts the Telegram Bot API to the dispatch sink contract.
package telegram

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/user/githubrelay/internal/dispatch"
	"github.com/user/githubrelay/pkg/logger"
)

// Sink delivers rendered messages into Telegram chats.
type Sink struct {
	api *tgbotapi.BotAPI
}

// NewSink authorizes against the Bot API and returns the sink.
func NewSink(token string, debug bool) (*Sink, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	api.Debug = debug

	logger.Info().Str("username", api.Self.UserName).Msg("Telegram sink authorized")
	return &Sink{api: api}, nil
}

// Send posts the text into the chat and classifies the outcome for the
// dispatcher. The Bot API client is not context-aware, so cancellation is
// honored at the boundary and by the dispatcher's attempt timeout.
func (s *Sink) Send(ctx context.Context, channelID int64, text string) dispatch.SinkResult {
	if err := ctx.Err(); err != nil {
		return dispatch.SinkResult{Status: dispatch.SinkTransportError, Err: err}
	}

	msg := tgbotapi.NewMessage(channelID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	if _, err := s.api.Send(msg); err != nil {
		return classify(err)
	}
	return dispatch.SinkResult{Status: dispatch.SinkOK}
}

// classify maps Bot API errors onto sink statuses.
func classify(err error) dispatch.SinkResult {
	apiErr, ok := err.(*tgbotapi.Error)
	if !ok {
		return dispatch.SinkResult{Status: dispatch.SinkTransportError, Err: err}
	}

	switch {
	case apiErr.Code == 429:
		retryAfter := time.Duration(apiErr.ResponseParameters.RetryAfter) * time.Second
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return dispatch.SinkResult{Status: dispatch.SinkRateLimited, RetryAfter: retryAfter, Err: err}
	case apiErr.Code == 403:
		// Bot was blocked or kicked from the chat.
		return dispatch.SinkResult{Status: dispatch.SinkPermissionDenied, Err: err}
	case apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "chat not found"):
		return dispatch.SinkResult{Status: dispatch.SinkChannelUnavailable, Err: err}
	default:
		return dispatch.SinkResult{Status: dispatch.SinkTransportError, Err: err}
	}
}
