package firebase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/fanout/channel"
	"github.com/ignite/fanout/job"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []*message
	fail map[string]*sendError
}

func (f *fakeTransport) Send(ctx context.Context, msg *message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if se, ok := f.fail[msg.Token]; ok {
		return "", se
	}
	f.sent = append(f.sent, msg)
	return "projects/p/messages/" + msg.Token, nil
}

func newTestAdapter(t *testing.T, transport Transport) *Adapter {
	t.Helper()
	a, err := New(Config{
		Handle:      &Handle{ProjectID: "p", ClientEmail: "sa@p.iam", PrivateKey: "k"},
		Transport:   transport,
		Rate:        1000,
		Concurrency: 5,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func pushMeta(m job.PushMeta) job.Meta { return job.Meta{Push: &m} }

func TestInitRequiresStructurallyValidCredentials(t *testing.T) {
	resetInit()
	t.Cleanup(resetInit)

	_, err := Init(Credentials{})
	assert.ErrorIs(t, err, ErrInit)

	_, err = Init(Credentials{JSON: []byte(`{not json`)})
	assert.ErrorIs(t, err, ErrInit)

	_, err = Init(Credentials{JSON: []byte(`{"project_id":"p"}`)})
	assert.ErrorIs(t, err, ErrInit, "missing client_email and private_key")
}

func TestInitIsProcessGlobalAndIdempotent(t *testing.T) {
	resetInit()
	t.Cleanup(resetInit)

	valid := []byte(`{"project_id":"p","client_email":"sa@p.iam","private_key":"k"}`)
	h1, err := Init(Credentials{JSON: valid})
	require.NoError(t, err)
	assert.Equal(t, "p", h1.ProjectID)
	assert.True(t, Initialized())

	// A second Init attaches to the existing handle even with different
	// (or invalid) credentials.
	h2, err := Init(Credentials{JSON: []byte(`garbage`)})
	require.NoError(t, err)
	assert.Same(t, h1, h2)
}

func TestSendSuccessReturnsMessageID(t *testing.T) {
	transport := &fakeTransport{}
	a := newTestAdapter(t, transport)

	results := a.Send(context.Background(),
		[]string{"tok-1"},
		[]job.Meta{pushMeta(job.PushMeta{Title: "hi", Body: "there"})}, nil)

	require.Len(t, results, 1)
	assert.Equal(t, channel.StatusSuccess, results[0].Status)
	assert.Equal(t, "projects/p/messages/tok-1", results[0].Response)
}

func TestSendOneMessagePerToken(t *testing.T) {
	transport := &fakeTransport{}
	a := newTestAdapter(t, transport)

	tokens := []string{"t1", "t2", "t3"}
	metas := make([]job.Meta, len(tokens))
	for i := range metas {
		metas[i] = pushMeta(job.PushMeta{Title: "x"})
	}

	results := a.Send(context.Background(), tokens, metas, nil)
	require.Len(t, results, 3)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Len(t, transport.sent, 3, "no multicast: one request per token")
}

func TestSendRejectsEmptyPayload(t *testing.T) {
	transport := &fakeTransport{}
	a := newTestAdapter(t, transport)

	results := a.Send(context.Background(),
		[]string{"tok-1"},
		[]job.Meta{pushMeta(job.PushMeta{})}, nil)

	require.Len(t, results, 1)
	assert.Equal(t, ErrInvalidPayload, results[0].Error)
	assert.Equal(t, "Message must contain notification or data", results[0].Response)
	assert.Empty(t, transport.sent)
}

func TestSendDataOnlyPayloadIsValid(t *testing.T) {
	transport := &fakeTransport{}
	a := newTestAdapter(t, transport)

	results := a.Send(context.Background(),
		[]string{"tok-1"},
		[]job.Meta{pushMeta(job.PushMeta{Data: map[string]string{"k": "v"}})}, nil)

	require.Len(t, results, 1)
	assert.Equal(t, channel.StatusSuccess, results[0].Status)
}

func TestSendErrorKeyFormat(t *testing.T) {
	transport := &fakeTransport{fail: map[string]*sendError{
		"dead-token": {Code: "UNREGISTERED", Message: "Requested entity was not found."},
	}}
	a := newTestAdapter(t, transport)

	results := a.Send(context.Background(),
		[]string{"dead-token"},
		[]job.Meta{pushMeta(job.PushMeta{Title: "x"})}, nil)

	require.Len(t, results, 1)
	assert.Equal(t, "N/A:UNREGISTERED:Requested_entity_was_not_found", results[0].Error)
}

func TestAssemblePrefersExplicitNotification(t *testing.T) {
	msg := assemble("tok", &job.PushMeta{
		Title:        "shorthand",
		Notification: map[string]string{"title": "explicit", "image": "i.png"},
	})
	assert.Equal(t, "explicit", msg.Notification["title"])
	assert.Equal(t, "i.png", msg.Notification["image"])
}

type staticTokens struct{ token string }

func (s staticTokens) Token(ctx context.Context) (string, error) { return s.token, nil }

func TestHTTPTransportSendAndErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-abc", r.Header.Get("Authorization"))
		assert.Equal(t, "/v1/projects/p/messages:send", r.URL.Path)
		w.Write([]byte(`{"name":"projects/p/messages/0:1"}`))
	}))
	defer srv.Close()

	transport := NewHTTPTransport(&Handle{ProjectID: "p"}, staticTokens{token: "tok-abc"})
	transport.baseURL = srv.URL

	id, err := transport.Send(context.Background(), &message{Token: "t"})
	require.NoError(t, err)
	assert.Equal(t, "projects/p/messages/0:1", id)
}

func TestHTTPTransportAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"status":"UNREGISTERED","message":"Requested entity was not found."}}`))
	}))
	defer srv.Close()

	transport := NewHTTPTransport(&Handle{ProjectID: "p"}, staticTokens{token: "tok"})
	transport.baseURL = srv.URL

	_, err := transport.Send(context.Background(), &message{Token: "t"})
	require.Error(t, err)
	se, ok := err.(*sendError)
	require.True(t, ok)
	assert.Equal(t, "UNREGISTERED", se.Code)
	assert.Equal(t, "Requested entity was not found.", se.Message)
}
