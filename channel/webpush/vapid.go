// Package webpush is the browser-push channel adapter. A recipient is a
// JSON-serialized push subscription; payloads are encrypted per RFC 8291 and
// requests signed with VAPID per RFC 8292.
package webpush

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ignite/fanout"
)

// vapidDetails is the process-wide signing identity. All adapters share it;
// it must be set once before the first send.
type vapidDetails struct {
	publicKey  string
	privateKey *ecdsa.PrivateKey
	subject    string
}

var (
	vapidMu sync.Mutex
	vapid   *vapidDetails
)

// SetVAPID installs the process-wide VAPID identity. Keys are base64url
// (raw, unpadded): the public key a 65-byte uncompressed P-256 point, the
// private key a 32-byte scalar. The first successful call wins; later calls
// are no-ops so every adapter signs with one identity.
func SetVAPID(publicKey, privateKey, contactEmail string) error {
	if publicKey == "" || privateKey == "" || contactEmail == "" {
		return fmt.Errorf("%w: vapid public key, private key and contact email are all required", fanout.ErrConfig)
	}

	vapidMu.Lock()
	defer vapidMu.Unlock()
	if vapid != nil {
		return nil
	}

	pub, err := base64.RawURLEncoding.DecodeString(publicKey)
	if err != nil || len(pub) != 65 || pub[0] != 4 {
		return fmt.Errorf("%w: vapid public key must be a base64url uncompressed P-256 point", fanout.ErrConfig)
	}
	priv, err := base64.RawURLEncoding.DecodeString(privateKey)
	if err != nil || len(priv) != 32 {
		return fmt.Errorf("%w: vapid private key must be a base64url 32-byte scalar", fanout.ErrConfig)
	}

	key := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: elliptic.P256()},
		D:         new(big.Int).SetBytes(priv),
	}
	key.PublicKey.X, key.PublicKey.Y = key.Curve.ScalarBaseMult(priv)

	subject := contactEmail
	if !strings.HasPrefix(subject, "mailto:") {
		subject = "mailto:" + subject
	}

	vapid = &vapidDetails{publicKey: publicKey, privateKey: key, subject: subject}
	return nil
}

// VAPIDConfigured reports whether SetVAPID has succeeded in this process.
func VAPIDConfigured() bool {
	vapidMu.Lock()
	defer vapidMu.Unlock()
	return vapid != nil
}

// resetVAPID clears the process-wide identity. Test-only.
func resetVAPID() {
	vapidMu.Lock()
	defer vapidMu.Unlock()
	vapid = nil
}

func currentVAPID() *vapidDetails {
	vapidMu.Lock()
	defer vapidMu.Unlock()
	return vapid
}

// authorizationFor builds the RFC 8292 Authorization header value for a push
// service endpoint: an ES256 JWT over the endpoint origin plus our public key.
func (v *vapidDetails) authorizationFor(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	audience := u.Scheme + "://" + u.Host

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"typ":"JWT","alg":"ES256"}`))
	claims, err := json.Marshal(map[string]interface{}{
		"aud": audience,
		"exp": time.Now().Add(12 * time.Hour).Unix(),
		"sub": v.subject,
	})
	if err != nil {
		return "", err
	}
	signingInput := header + "." + base64.RawURLEncoding.EncodeToString(claims)

	digest := sha256.Sum256([]byte(signingInput))
	r, s, err := ecdsa.Sign(rand.Reader, v.privateKey, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign vapid token: %w", err)
	}

	// JWS wants the raw r||s pair, each left-padded to 32 bytes.
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])

	jwt := signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
	return fmt.Sprintf("vapid t=%s, k=%s", jwt, v.publicKey), nil
}
