// Package telegram is the chat-bot channel adapter. Recipients are chat ids;
// metas carry the message text and formatting flags.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ignite/fanout"
	"github.com/ignite/fanout/channel"
	"github.com/ignite/fanout/job"
	"github.com/ignite/fanout/ratelimit"
)

// Error key for a meta with no message text.
const ErrMissingText = "MISSING_TEXT"

// DefaultParseMode applies when the meta does not override formatting.
const DefaultParseMode = "HTML"

// Defaults sized to the Bot API's broadcast limit of ~30 messages/second.
const (
	DefaultRate        = 25
	DefaultConcurrency = 5
)

// Config configures the adapter.
type Config struct {
	// Token is the bot token. Required unless Transport is supplied.
	Token string
	// Transport overrides the Bot API HTTP transport.
	Transport Transport
	// Rate caps message starts per second. Default 25.
	Rate int
	// Concurrency caps in-flight sends. Default 5.
	Concurrency int
}

// Adapter sends chat messages through a bot.
type Adapter struct {
	cfg     Config
	limiter *ratelimit.MinTime
	logger  *zap.Logger
}

// New builds a chat adapter with its own rate limiter.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if cfg.Transport == nil {
		if cfg.Token == "" {
			return nil, fmt.Errorf("%w: bot token required", fanout.ErrConfig)
		}
		cfg.Transport = NewHTTPTransport(cfg.Token)
	}
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		cfg:     cfg,
		limiter: ratelimit.NewMinTime(cfg.Concurrency, cfg.Rate, time.Second),
		logger:  logger.With(zap.String("component", "telegram-adapter")),
	}, nil
}

// Name implements channel.Adapter.
func (a *Adapter) Name() string { return job.ChannelTelegram }

// Send implements channel.Adapter.
func (a *Adapter) Send(ctx context.Context, recipients []string, metas []job.Meta, logger *zap.Logger) []channel.Result {
	if logger == nil {
		logger = a.logger
	}
	return channel.SendBatch(ctx, recipients, metas, a.limiter, a.sendOne, a.cfg.Concurrency, logger)
}

// Close releases the rate limiter; pending sends fail as skipped.
func (a *Adapter) Close() {
	a.limiter.Close()
}

func (a *Adapter) sendOne(ctx context.Context, _ int, chatID string, meta job.Meta, logger *zap.Logger) channel.Result {
	m := meta.Telegram
	if m == nil {
		return channel.Failure(chatID, channel.ErrMissingMeta)
	}
	if m.Text == "" {
		return channel.Failure(chatID, ErrMissingText)
	}

	req := &sendMessageRequest{
		ChatID:                chatID,
		Text:                  m.Text,
		ParseMode:             m.ParseMode,
		DisableWebPagePreview: m.DisableWebPagePreview,
		DisableNotification:   m.DisableNotification,
		ProtectContent:        m.ProtectContent,
	}
	if req.ParseMode == "" {
		req.ParseMode = DefaultParseMode
	}

	sent, err := a.cfg.Transport.SendMessage(ctx, req)
	if err != nil {
		logger.Debug("chat send failed", zap.Error(err))
		return channel.Failure(chatID, classify(err))
	}
	return channel.Success(chatID, sent)
}

// classify maps a delivery failure to its tracking key, keyed by the Bot API
// error code when the server answered.
func classify(err error) string {
	var api *apiError
	if errors.As(err, &api) {
		return channel.ErrorKey(strconv.Itoa(api.Code), api.Description)
	}
	return channel.ErrorKey("N/A", err.Error())
}
