package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// sendMessageRequest is the Bot API sendMessage body.
type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
	DisableNotification   bool   `json:"disable_notification,omitempty"`
	ProtectContent        bool   `json:"protect_content,omitempty"`
}

// SentMessage is the Bot API message object for a delivered message. Fields
// beyond the id are kept raw; callers only rely on message_id.
type SentMessage struct {
	MessageID int64           `json:"message_id"`
	Raw       json.RawMessage `json:"-"`
}

// apiError is a Bot API rejection.
type apiError struct {
	Code        int
	Description string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("telegram: %d: %s", e.Code, e.Description)
}

// Transport delivers one chat message.
type Transport interface {
	SendMessage(ctx context.Context, req *sendMessageRequest) (*SentMessage, error)
}

// HTTPTransport talks to the Bot API.
type HTTPTransport struct {
	token   string
	client  *http.Client
	baseURL string
}

// NewHTTPTransport builds the production transport for a bot token.
func NewHTTPTransport(token string) *HTTPTransport {
	return &HTTPTransport{
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: "https://api.telegram.org",
	}
}

func (t *HTTPTransport) SendMessage(ctx context.Context, req *sendMessageRequest) (*SentMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var envelope struct {
		OK          bool            `json:"ok"`
		Result      json.RawMessage `json:"result"`
		ErrorCode   int             `json:"error_code"`
		Description string          `json:"description"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("malformed bot api response: %w", err)
	}
	if !envelope.OK {
		return nil, &apiError{Code: envelope.ErrorCode, Description: envelope.Description}
	}

	sent := &SentMessage{Raw: envelope.Result}
	if err := json.Unmarshal(envelope.Result, sent); err != nil {
		return nil, fmt.Errorf("malformed message object: %w", err)
	}
	return sent, nil
}
