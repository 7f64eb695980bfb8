package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/fanout"
	"github.com/ignite/fanout/channel"
	"github.com/ignite/fanout/job"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []*sendMessageRequest
	fail map[string]error
}

func (f *fakeTransport) SendMessage(ctx context.Context, req *sendMessageRequest) (*SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fail[req.ChatID]; ok {
		return nil, err
	}
	f.sent = append(f.sent, req)
	return &SentMessage{MessageID: int64(len(f.sent))}, nil
}

func newTestAdapter(t *testing.T, transport Transport) *Adapter {
	t.Helper()
	a, err := New(Config{Transport: transport, Rate: 1000, Concurrency: 5}, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func tgMeta(m job.TelegramMeta) job.Meta { return job.Meta{Telegram: &m} }

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{}, nil)
	require.ErrorIs(t, err, fanout.ErrConfig)

	a, err := New(Config{Token: "123:abc"}, nil)
	require.NoError(t, err)
	a.Close()
}

func TestSendSuccessExposesMessageID(t *testing.T) {
	transport := &fakeTransport{}
	a := newTestAdapter(t, transport)

	results := a.Send(context.Background(),
		[]string{"42"},
		[]job.Meta{tgMeta(job.TelegramMeta{Text: "hello"})}, nil)

	require.Len(t, results, 1)
	assert.Equal(t, channel.StatusSuccess, results[0].Status)
	sent, ok := results[0].Response.(*SentMessage)
	require.True(t, ok)
	assert.EqualValues(t, 1, sent.MessageID)
}

func TestSendMissingText(t *testing.T) {
	transport := &fakeTransport{}
	a := newTestAdapter(t, transport)

	results := a.Send(context.Background(),
		[]string{"42"},
		[]job.Meta{tgMeta(job.TelegramMeta{})}, nil)

	require.Len(t, results, 1)
	assert.Equal(t, ErrMissingText, results[0].Error)
	assert.Empty(t, transport.sent)
}

func TestSendDefaultParseMode(t *testing.T) {
	transport := &fakeTransport{}
	a := newTestAdapter(t, transport)

	a.Send(context.Background(),
		[]string{"1", "2"},
		[]job.Meta{
			tgMeta(job.TelegramMeta{Text: "x"}),
			tgMeta(job.TelegramMeta{Text: "y", ParseMode: "MarkdownV2"}),
		}, nil)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Len(t, transport.sent, 2)
	modes := map[string]string{}
	for _, req := range transport.sent {
		modes[req.ChatID] = req.ParseMode
	}
	assert.Equal(t, "HTML", modes["1"], "default parse mode")
	assert.Equal(t, "MarkdownV2", modes["2"], "explicit parse mode wins")
}

func TestSendAPIErrorKey(t *testing.T) {
	transport := &fakeTransport{fail: map[string]error{
		"404": &apiError{Code: 400, Description: "Bad Request: chat not found"},
	}}
	a := newTestAdapter(t, transport)

	results := a.Send(context.Background(),
		[]string{"404"},
		[]job.Meta{tgMeta(job.TelegramMeta{Text: "x"})}, nil)

	require.Len(t, results, 1)
	assert.Equal(t, "400:Bad_Request_chat_not_found", results[0].Error)
}

func TestHTTPTransportSendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/bot123:abc/sendMessage"))
		var req sendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "42", req.ChatID)
		w.Write([]byte(`{"ok":true,"result":{"message_id":777,"chat":{"id":42}}}`))
	}))
	defer srv.Close()

	transport := NewHTTPTransport("123:abc")
	transport.baseURL = srv.URL

	sent, err := transport.SendMessage(context.Background(), &sendMessageRequest{ChatID: "42", Text: "hi"})
	require.NoError(t, err)
	assert.EqualValues(t, 777, sent.MessageID)
}

func TestHTTPTransportAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	transport := NewHTTPTransport("123:abc")
	transport.baseURL = srv.URL

	_, err := transport.SendMessage(context.Background(), &sendMessageRequest{ChatID: "42", Text: "hi"})
	var api *apiError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, 400, api.Code)
	assert.Equal(t, "Bad Request: chat not found", api.Description)
}
