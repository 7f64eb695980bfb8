package webpush

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/hkdf"
)

// decryptRecord undoes encrypt using the browser-side private key, following
// the same RFC 8291 key schedule.
func decryptRecord(t *testing.T, body []byte, uaKey *ecdh.PrivateKey, authSecret []byte) []byte {
	t.Helper()
	require.Greater(t, len(body), 86, "header too short")

	salt := body[:16]
	recordSize := binary.BigEndian.Uint32(body[16:20])
	keyLen := int(body[20])
	require.Equal(t, 65, keyLen)
	asPublicRaw := body[21 : 21+keyLen]
	ciphertext := body[21+keyLen:]
	require.EqualValues(t, recordSize, len(ciphertext))

	asPublic, err := ecdh.P256().NewPublicKey(asPublicRaw)
	require.NoError(t, err)
	sharedSecret, err := uaKey.ECDH(asPublic)
	require.NoError(t, err)

	info := append([]byte("WebPush: info\x00"), uaKey.PublicKey().Bytes()...)
	info = append(info, asPublicRaw...)
	ikm := make([]byte, 32)
	_, err = io.ReadFull(hkdf.New(sha256.New, sharedSecret, authSecret, info), ikm)
	require.NoError(t, err)

	cek := make([]byte, 16)
	_, err = io.ReadFull(hkdf.New(sha256.New, ikm, salt, []byte("Content-Encoding: aes128gcm\x00")), cek)
	require.NoError(t, err)
	nonce := make([]byte, 12)
	_, err = io.ReadFull(hkdf.New(sha256.New, ikm, salt, []byte("Content-Encoding: nonce\x00")), nonce)
	require.NoError(t, err)

	block, err := aes.NewCipher(cek)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)

	record, err := gcm.Open(nil, nonce, ciphertext, nil)
	require.NoError(t, err)
	require.Equal(t, byte(0x02), record[len(record)-1], "last-record delimiter")
	return record[:len(record)-1]
}

func TestEncryptRoundTrip(t *testing.T) {
	uaKey, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	authSecret := make([]byte, 16)
	_, err = rand.Read(authSecret)
	require.NoError(t, err)

	plaintext := []byte(`{"title":"hello","body":"world"}`)
	body, err := encrypt(plaintext,
		base64.RawURLEncoding.EncodeToString(uaKey.PublicKey().Bytes()),
		base64.RawURLEncoding.EncodeToString(authSecret))
	require.NoError(t, err)

	got := decryptRecord(t, body, uaKey, authSecret)
	assert.Equal(t, plaintext, got)
}

func TestEncryptUniqueSaltAndKeyPerMessage(t *testing.T) {
	uaKey, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	p256dh := base64.RawURLEncoding.EncodeToString(uaKey.PublicKey().Bytes())
	auth := base64.RawURLEncoding.EncodeToString(make([]byte, 16))

	one, err := encrypt([]byte("x"), p256dh, auth)
	require.NoError(t, err)
	two, err := encrypt([]byte("x"), p256dh, auth)
	require.NoError(t, err)

	assert.NotEqual(t, one[:16], two[:16], "fresh salt per message")
	assert.NotEqual(t, one[21:86], two[21:86], "fresh ephemeral key per message")
}

func TestEncryptRejectsBadKeys(t *testing.T) {
	_, err := encrypt([]byte("x"), "!!!", "AAAA")
	require.Error(t, err)

	// Valid base64 but not a curve point.
	bogus := base64.RawURLEncoding.EncodeToString(make([]byte, 65))
	_, err = encrypt([]byte("x"), bogus, "AAAA")
	require.Error(t, err)
}
