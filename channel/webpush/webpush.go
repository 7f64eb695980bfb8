package webpush

import (
	"context"
	"encoding/json"
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

// Error key for a recipient string that is not a valid subscription.
const ErrInvalidSubscription = "INVALID_SUBSCRIPTION_STRING"

// DefaultTitle is substituted when a meta carries no content at all.
const DefaultTitle = "Notification"

// DefaultTTL is four weeks, the common push service maximum.
const DefaultTTL = 2419200

// Defaults for the major browser push services.
const (
	DefaultRate        = 50
	DefaultConcurrency = 5
)

// Config configures the adapter.
type Config struct {
	// Transport overrides the push service HTTP transport.
	Transport Transport
	// Rate caps message starts per second. Default 50.
	Rate int
	// Concurrency caps in-flight sends. Default 5.
	Concurrency int
}

// Adapter sends browser push notifications.
type Adapter struct {
	cfg     Config
	limiter *ratelimit.MinTime
	logger  *zap.Logger
}

// New builds a web-push adapter. SetVAPID must have succeeded first.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if !VAPIDConfigured() {
		return nil, fmt.Errorf("%w: vapid details must be set before building the web-push adapter", fanout.ErrConfig)
	}
	if cfg.Transport == nil {
		cfg.Transport = NewHTTPTransport()
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
		logger:  logger.With(zap.String("component", "webpush-adapter")),
	}, nil
}

// Name implements channel.Adapter.
func (a *Adapter) Name() string { return job.ChannelWeb }

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

// notification is the payload the service worker receives.
type notification struct {
	Title string          `json:"title"`
	Body  string          `json:"body,omitempty"`
	Icon  string          `json:"icon,omitempty"`
	Image string          `json:"image,omitempty"`
	Badge string          `json:"badge,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (a *Adapter) sendOne(ctx context.Context, index int, recipient string, meta job.Meta, logger *zap.Logger) channel.Result {
	m := meta.WebPush
	if m == nil {
		return channel.Failure(recipient, channel.ErrMissingMeta)
	}

	sub, err := parseSubscription(recipient)
	if err != nil {
		logger.Debug("unparseable subscription", zap.Int("index", index), zap.Error(err))
		return channel.Result{
			Status:    channel.StatusError,
			Recipient: fmt.Sprintf("unparseable_sub_at_index_%d", index),
			Error:     ErrInvalidSubscription,
		}
	}

	n := &notification{
		Title: m.Title,
		Body:  m.Body,
		Icon:  m.Icon,
		Image: m.Image,
		Badge: m.Badge,
		Data:  m.Data,
	}
	if n.Title == "" && n.Body == "" && len(n.Data) == 0 {
		logger.Warn("web-push meta has no content, sending default title", zap.Int("index", index))
		n.Title = DefaultTitle
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return channel.Failure(recipient, channel.ErrorKey("N/A", err.Error()))
	}

	opts := &DeliverOptions{TTL: m.TTL, Headers: m.Headers}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}

	status, err := a.cfg.Transport.Deliver(ctx, sub, payload, opts)
	if err != nil {
		logger.Debug("web push failed", zap.Error(err))
		return channel.Failure(recipient, classify(err))
	}
	return channel.Success(recipient, status)
}

// classify maps a delivery failure to its tracking key, keyed by the push
// service status code when one was received.
func classify(err error) string {
	var pe *pushError
	if errors.As(err, &pe) {
		return channel.ErrorKey(strconv.Itoa(pe.StatusCode), pe.Body)
	}
	return channel.ErrorKey("N/A", err.Error())
}
