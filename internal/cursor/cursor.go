// Package cursor implements the stateless pagination token. A token carries
// the position of the last emitted row plus a binding to the query that
// produced it, encrypted so that a leaked token discloses nothing beyond
// that position and cannot be replayed against a different query.
package cursor

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/scrypt"

	"kipgate/internal/logging"
)

// Payload is the decrypted content of a cursor token. The JSON key names are
// part of the token format and must not change.
type Payload struct {
	LastID    int64  `json:"lastId"`
	Offset    int64  `json:"offset"`
	QueryHash string `json:"queryHash"`
	IssuedAt  int64  `json:"issuedAt"`
}

// Token format parameters. Interoperability depends on every one of these,
// so they are constants rather than configuration.
const (
	scryptN    = 16384
	scryptR    = 8
	scryptP    = 1
	keyLen     = 32
	ivLen      = aes.BlockSize
	DefaultTTL = time.Hour
)

var scryptSalt = []byte("kipgate-cursor-v1")

// Manager encrypts and decrypts cursor tokens with a key derived once from
// the configured secret. It is safe for concurrent use; the key is read-only
// after construction.
type Manager struct {
	key []byte
	ttl time.Duration
}

// NewManager derives the encryption key from secret. A zero ttl falls back
// to DefaultTTL.
func NewManager(secret string, ttl time.Duration) (*Manager, error) {
	if secret == "" {
		return nil, fmt.Errorf("cursor secret must not be empty")
	}
	key, err := scrypt.Key([]byte(secret), scryptSalt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving cursor key: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{key: key, ttl: ttl}, nil
}

// Issue encodes a fresh token for the given position and query binding.
func (m *Manager) Issue(lastID, offset int64, queryHash string) (string, error) {
	return m.Encode(Payload{
		LastID:    lastID,
		Offset:    offset,
		QueryHash: queryHash,
		IssuedAt:  time.Now().UnixMilli(),
	})
}

// Encode serializes and encrypts a payload. Each call draws a fresh IV, so
// identical payloads produce distinct tokens.
func (m *Manager) Encode(p Payload) (string, error) {
	plain, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding cursor payload: %w", err)
	}

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating cursor IV: %w", err)
	}

	block, err := aes.NewCipher(m.key)
	if err != nil {
		return "", fmt.Errorf("initializing cursor cipher: %w", err)
	}

	padded := pkcs7Pad(plain, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	inner := hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct)
	return base64.StdEncoding.EncodeToString([]byte(inner)), nil
}

// Decode reverses Encode. Any structural, cryptographic, or expiry failure
// reports ok=false; the caller treats that as "no cursor" and serves the
// request from the start. Decode never returns an error to surface to a
// client.
func (m *Manager) Decode(token string) (Payload, bool) {
	if token == "" {
		return Payload{}, false
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		logging.CursorDebug("Rejecting cursor: bad base64")
		return Payload{}, false
	}

	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		logging.CursorDebug("Rejecting cursor: missing IV separator")
		return Payload{}, false
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivLen {
		logging.CursorDebug("Rejecting cursor: bad IV")
		return Payload{}, false
	}
	ct, err := hex.DecodeString(parts[1])
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		logging.CursorDebug("Rejecting cursor: bad ciphertext")
		return Payload{}, false
	}

	block, err := aes.NewCipher(m.key)
	if err != nil {
		return Payload{}, false
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	plain, ok := pkcs7Unpad(plain, aes.BlockSize)
	if !ok {
		logging.CursorDebug("Rejecting cursor: bad padding")
		return Payload{}, false
	}

	var p Payload
	if err := json.Unmarshal(plain, &p); err != nil {
		logging.CursorDebug("Rejecting cursor: payload is not valid JSON")
		return Payload{}, false
	}

	if age := time.Since(time.UnixMilli(p.IssuedAt)); age > m.ttl {
		logging.CursorDebug("Rejecting cursor: expired %s ago", (age - m.ttl).Round(time.Second))
		return Payload{}, false
	}
	return p, true
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
