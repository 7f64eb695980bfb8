package firebase

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// message is the FCM HTTP v1 request body.
type message struct {
	Token        string            `json:"token"`
	Notification map[string]string `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	Android      json.RawMessage   `json:"android,omitempty"`
	APNS         json.RawMessage   `json:"apns,omitempty"`
	Webpush      json.RawMessage   `json:"webpush,omitempty"`
	FCMOptions   json.RawMessage   `json:"fcm_options,omitempty"`
}

// sendError is a push delivery failure with the upstream classification.
type sendError struct {
	// Code is the FCM error status, e.g. UNREGISTERED or INVALID_ARGUMENT.
	Code    string
	Message string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("fcm: %s: %s", e.Code, e.Message)
}

// Transport delivers one assembled push message and returns the upstream
// message id.
type Transport interface {
	Send(ctx context.Context, msg *message) (string, error)
}

// TokenSource supplies OAuth2 bearer tokens for the FCM API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// HTTPTransport talks to the FCM HTTP v1 endpoint.
type HTTPTransport struct {
	projectID string
	tokens    TokenSource
	client    *http.Client
	baseURL   string
}

// NewHTTPTransport builds the production transport from an initialized
// handle. A nil tokens falls back to the handle's service account.
func NewHTTPTransport(handle *Handle, tokens TokenSource) *HTTPTransport {
	if tokens == nil {
		tokens = newJWTTokenSource(handle)
	}
	return &HTTPTransport{
		projectID: handle.ProjectID,
		tokens:    tokens,
		client:    &http.Client{Timeout: 30 * time.Second},
		baseURL:   "https://fcm.googleapis.com",
	}
}

func (t *HTTPTransport) Send(ctx context.Context, msg *message) (string, error) {
	token, err := t.tokens.Token(ctx)
	if err != nil {
		return "", &sendError{Code: "AUTH_ERROR", Message: err.Error()}
	}

	body, err := json.Marshal(map[string]interface{}{"message": msg})
	if err != nil {
		return "", &sendError{Code: "INTERNAL", Message: err.Error()}
	}

	endpoint := fmt.Sprintf("%s/v1/projects/%s/messages:send", t.baseURL, t.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &sendError{Code: "INTERNAL", Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", &sendError{Code: "UNAVAILABLE", Message: err.Error()}
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Status  string `json:"status"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error.Status != "" {
			return "", &sendError{Code: apiErr.Error.Status, Message: apiErr.Error.Message}
		}
		return "", &sendError{Code: fmt.Sprintf("HTTP_%d", resp.StatusCode), Message: string(payload)}
	}

	var ok struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(payload, &ok); err != nil || ok.Name == "" {
		return "", &sendError{Code: "INTERNAL", Message: "malformed send response"}
	}
	return ok.Name, nil
}

// jwtTokenSource mints OAuth2 access tokens via the JWT bearer grant and
// caches them until shortly before expiry.
type jwtTokenSource struct {
	handle *Handle
	client *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newJWTTokenSource(handle *Handle) *jwtTokenSource {
	return &jwtTokenSource{
		handle: handle,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *jwtTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && time.Now().Before(s.expires) {
		return s.token, nil
	}

	assertion, err := s.buildAssertion()
	if err != nil {
		return "", err
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.handle.TokenURI,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange: status %d: %s", resp.StatusCode, payload)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(payload, &tok); err != nil || tok.AccessToken == "" {
		return "", fmt.Errorf("token exchange: malformed response")
	}

	s.token = tok.AccessToken
	s.expires = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return s.token, nil
}

func (s *jwtTokenSource) buildAssertion() (string, error) {
	block, _ := pem.Decode([]byte(s.handle.PrivateKey))
	if block == nil {
		return "", fmt.Errorf("service account private key is not PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		if key1, err1 := x509.ParsePKCS1PrivateKey(block.Bytes); err1 == nil {
			key = key1
		} else {
			return "", fmt.Errorf("parse private key: %w", err)
		}
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return "", fmt.Errorf("service account key is not RSA")
	}

	now := time.Now()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	claims, err := json.Marshal(map[string]interface{}{
		"iss":   s.handle.ClientEmail,
		"scope": "https://www.googleapis.com/auth/firebase.messaging",
		"aud":   s.handle.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	if err != nil {
		return "", err
	}
	signingInput := header + "." + base64.RawURLEncoding.EncodeToString(claims)

	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, rsaKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}
