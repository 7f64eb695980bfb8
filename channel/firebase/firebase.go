package firebase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ignite/fanout"
	"github.com/ignite/fanout/channel"
	"github.com/ignite/fanout/job"
	"github.com/ignite/fanout/ratelimit"
)

// Error key and response for a message with no content.
const (
	ErrInvalidPayload      = "INVALID_PAYLOAD"
	invalidPayloadResponse = "Message must contain notification or data"
)

// Defaults for the FCM endpoint, which tolerates high request rates.
const (
	DefaultRate        = 500
	DefaultConcurrency = 5
)

// Config configures the adapter.
type Config struct {
	// Handle is the initialized push client state. Required.
	Handle *Handle
	// Transport overrides the FCM HTTP transport. Default built from Handle.
	Transport Transport
	// Rate caps message starts per second. Default 500.
	Rate int
	// Concurrency caps in-flight sends. Default 5.
	Concurrency int
}

// Adapter sends mobile push notifications, one message per device token.
type Adapter struct {
	cfg     Config
	limiter *ratelimit.MinTime
	logger  *zap.Logger
}

// New builds a push adapter from an initialized handle.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if cfg.Handle == nil {
		return nil, fmt.Errorf("%w: push handle required, call Init first", fanout.ErrConfig)
	}
	if cfg.Transport == nil {
		cfg.Transport = NewHTTPTransport(cfg.Handle, nil)
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
		logger:  logger.With(zap.String("component", "push-adapter")),
	}, nil
}

// Name implements channel.Adapter.
func (a *Adapter) Name() string { return job.ChannelFirebase }

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

func (a *Adapter) sendOne(ctx context.Context, _ int, token string, meta job.Meta, logger *zap.Logger) channel.Result {
	m := meta.Push
	if m == nil {
		return channel.Failure(token, channel.ErrMissingMeta)
	}

	msg := assemble(token, m)
	if len(msg.Notification) == 0 && len(msg.Data) == 0 {
		return channel.FailureWithResponse(token, ErrInvalidPayload, invalidPayloadResponse)
	}

	id, err := a.cfg.Transport.Send(ctx, msg)
	if err != nil {
		logger.Debug("push send failed", zap.Error(err))
		return channel.Failure(token, classify(err))
	}
	return channel.Success(token, id)
}

// assemble builds the wire message. An explicit notification map wins over
// the title/body shorthand.
func assemble(token string, m *job.PushMeta) *message {
	msg := &message{
		Token:      token,
		Data:       m.Data,
		Android:    m.Android,
		APNS:       m.APNS,
		Webpush:    m.Webpush,
		FCMOptions: m.FCMOptions,
	}
	switch {
	case len(m.Notification) > 0:
		msg.Notification = m.Notification
	case m.Title != "" || m.Body != "":
		msg.Notification = map[string]string{}
		if m.Title != "" {
			msg.Notification["title"] = m.Title
		}
		if m.Body != "" {
			msg.Notification["body"] = m.Body
		}
	}
	return msg
}

// classify maps a push failure to its tracking key. Push errors carry no
// numeric HTTP status worth keying on, so the key leads with "N/A" followed
// by the upstream error code.
func classify(err error) string {
	var se *sendError
	if errors.As(err, &se) {
		return channel.ErrorKey("N/A:"+se.Code, se.Message)
	}
	return channel.ErrorKey("N/A:UNKNOWN", err.Error())
}
