// Package cursor seals pagination continuation state into opaque tokens.
package cursor

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	apperrors "github.com/nestpulse/presence-api/internal/errors"
)

const keySize = 32

// envelope is the sealed payload. Scope binds the token to the query shape
// that produced it: a cursor minted for one query cannot be replayed against
// another.
type envelope struct {
	Scope string          `json:"scope"`
	State json.RawMessage `json:"state"`
}

// Codec encrypts and decrypts continuation tokens with AES-256-GCM.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a Codec from a base64-encoded 32-byte key.
func NewCodec(encodedKey string) (*Codec, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode cursor key: %w", err)
	}

	if len(key) != keySize {
		return nil, fmt.Errorf("cursor key must be %d bytes, got %d", keySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cursor cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init cursor aead: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// Encode seals state under the given scope and returns an opaque token.
func (c *Codec) Encode(scope string, state any) (string, error) {
	rawState, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encode cursor state: %w", err)
	}

	plaintext, err := json.Marshal(envelope{Scope: scope, State: rawState})
	if err != nil {
		return "", fmt.Errorf("encode cursor envelope: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate cursor nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)

	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode opens a token and unmarshals its state into out. Any tampering,
// truncation, or scope mismatch fails closed with an InvalidCursor error.
func (c *Codec) Decode(token, scope string, out any) error {
	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return apperrors.NewInvalidCursor(err)
	}

	nonceSize := c.aead.NonceSize()
	if len(sealed) <= nonceSize {
		return apperrors.NewInvalidCursor(fmt.Errorf("token too short: %d bytes", len(sealed)))
	}

	plaintext, err := c.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return apperrors.NewInvalidCursor(err)
	}

	var env envelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return apperrors.NewInvalidCursor(err)
	}

	if env.Scope != scope {
		return apperrors.NewInvalidCursor(fmt.Errorf("cursor scope %q does not match query %q", env.Scope, scope))
	}

	if err := json.Unmarshal(env.State, out); err != nil {
		return apperrors.NewInvalidCursor(err)
	}

	return nil
}
