// Package email is the SMTP-backed channel adapter. Recipients are email
// addresses; metas carry subject, body, and attachments.
package email

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ignite/fanout"
	"github.com/ignite/fanout/channel"
	"github.com/ignite/fanout/job"
	"github.com/ignite/fanout/ratelimit"
)

// Error key for a meta with no subject line.
const ErrMissingSubject = "MISSING_SUBJECT"

// Defaults tuned for a single upstream relay.
const (
	DefaultRate        = 10
	DefaultConcurrency = 3
)

// Config configures the adapter.
type Config struct {
	// From is the envelope and header sender. Required.
	From string
	// Transport delivers built messages. Required.
	Transport Transport
	// Rate caps message starts per second. Default 10.
	Rate int
	// Concurrency caps in-flight sends. Default 3.
	Concurrency int
}

// Adapter sends email notifications.
type Adapter struct {
	cfg     Config
	limiter *ratelimit.MinTime
	logger  *zap.Logger
}

// New builds an email adapter with its own rate limiter.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if cfg.From == "" {
		return nil, fmt.Errorf("%w: email sender address required", fanout.ErrConfig)
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("%w: email transport required", fanout.ErrConfig)
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
		logger:  logger.With(zap.String("component", "email-adapter")),
	}, nil
}

// Name implements channel.Adapter.
func (a *Adapter) Name() string { return job.ChannelEmail }

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

func (a *Adapter) sendOne(ctx context.Context, _ int, recipient string, meta job.Meta, logger *zap.Logger) channel.Result {
	m := meta.Email
	if m == nil {
		return channel.Failure(recipient, channel.ErrMissingMeta)
	}
	if m.Subject == "" {
		return channel.Failure(recipient, ErrMissingSubject)
	}

	msg := &Message{
		From:    a.cfg.From,
		To:      recipient,
		Subject: m.Subject,
	}
	// HTML wins over text; a message never carries both bodies.
	if m.HTML != "" {
		msg.HTML = m.HTML
	} else {
		msg.Text = m.Text
	}
	for _, att := range m.Attachments {
		msg.Attachments = append(msg.Attachments, Attachment{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Content:     att.Content,
		})
	}

	receipt, err := a.cfg.Transport.Send(ctx, msg)
	if err != nil {
		logger.Debug("smtp send failed", zap.Error(err))
		return channel.Failure(recipient, classify(err))
	}
	return channel.Success(recipient, receipt)
}
