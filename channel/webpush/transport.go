package webpush

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Subscription is the browser-side push registration, as serialized into the
// recipient string.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// parseSubscription decodes and structurally validates a recipient string.
func parseSubscription(recipient string) (*Subscription, error) {
	var sub Subscription
	if err := json.Unmarshal([]byte(recipient), &sub); err != nil {
		return nil, err
	}
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return nil, fmt.Errorf("subscription missing endpoint or keys")
	}
	if !strings.HasPrefix(sub.Endpoint, "https://") && !strings.HasPrefix(sub.Endpoint, "http://") {
		return nil, fmt.Errorf("subscription endpoint is not a URL")
	}
	return &sub, nil
}

// DeliverOptions carry per-message request parameters.
type DeliverOptions struct {
	// TTL is how long the push service may queue the message, in seconds.
	TTL int
	// Headers are passed through onto the request.
	Headers map[string]string
}

// pushError is a push service rejection.
type pushError struct {
	StatusCode int
	Body       string
}

func (e *pushError) Error() string {
	return fmt.Sprintf("push service: status %d: %s", e.StatusCode, e.Body)
}

// Transport delivers an encrypted payload to a subscription's endpoint and
// returns the push service status code.
type Transport interface {
	Deliver(ctx context.Context, sub *Subscription, payload []byte, opts *DeliverOptions) (int, error)
}

// HTTPTransport encrypts and posts directly to push service endpoints.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport builds the production transport.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{client: &http.Client{Timeout: 30 * time.Second}}
}

func (t *HTTPTransport) Deliver(ctx context.Context, sub *Subscription, payload []byte, opts *DeliverOptions) (int, error) {
	v := currentVAPID()
	if v == nil {
		return 0, fmt.Errorf("vapid details not configured")
	}

	body, err := encrypt(payload, sub.Keys.P256dh, sub.Keys.Auth)
	if err != nil {
		return 0, fmt.Errorf("encrypt payload: %w", err)
	}

	authorization, err := v.authorizationFor(sub.Endpoint)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Encoding", "aes128gcm")
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("TTL", strconv.Itoa(opts.TTL))
	req.Header.Set("Authorization", authorization)
	for k, val := range opts.Headers {
		req.Header.Set(k, val)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, &pushError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp.StatusCode, nil
}
