package cursor

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/nestpulse/presence-api/internal/errors"
)

type searchState struct {
	Prefix       string `json:"prefix"`
	LastUsername string `json:"last_username"`
}

func testCodec(t *testing.T) *Codec {
	t.Helper()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	codec, err := NewCodec(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)

	return codec
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := testCodec(t)

	in := searchState{Prefix: "al", LastUsername: "alice"}
	token, err := codec.Encode("search", in)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	var out searchState
	err = codec.Decode(token, "search", &out)
	assert.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCodec_TokensAreOpaque(t *testing.T) {
	codec := testCodec(t)

	token, err := codec.Encode("search", searchState{Prefix: "bob"})
	require.NoError(t, err)

	assert.NotContains(t, token, "bob")
}

func TestCodec_CorruptedTokenFailsClosed(t *testing.T) {
	codec := testCodec(t)

	token, err := codec.Encode("search", searchState{Prefix: "al", LastUsername: "alice"})
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.RawURLEncoding.EncodeToString(raw)

	var out searchState
	err = codec.Decode(tampered, "search", &out)
	assert.ErrorIs(t, err, &apperrors.AppError{Kind: apperrors.KindInvalidCursor})
}

func TestCodec_ScopeMismatchFailsClosed(t *testing.T) {
	codec := testCodec(t)

	token, err := codec.Encode("search", searchState{Prefix: "al"})
	require.NoError(t, err)

	var out searchState
	err = codec.Decode(token, "followers", &out)
	assert.ErrorIs(t, err, &apperrors.AppError{Kind: apperrors.KindInvalidCursor})
}

func TestCodec_GarbageInputs(t *testing.T) {
	codec := testCodec(t)

	var out searchState
	assert.Error(t, codec.Decode("", "search", &out))
	assert.Error(t, codec.Decode("not base64 ???", "search", &out))
	assert.Error(t, codec.Decode("dG9vc2hvcnQ", "search", &out))
}

func TestCodec_ForeignKeyCannotDecode(t *testing.T) {
	codecA := testCodec(t)
	codecB := testCodec(t)

	token, err := codecA.Encode("search", searchState{Prefix: "al"})
	require.NoError(t, err)

	var out searchState
	err = codecB.Decode(token, "search", &out)
	assert.ErrorIs(t, err, &apperrors.AppError{Kind: apperrors.KindInvalidCursor})
}

func TestNewCodec_RejectsBadKeys(t *testing.T) {
	_, err := NewCodec("not-base64!!!")
	assert.Error(t, err)

	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	_, err = NewCodec(short)
	assert.Error(t, err)
}
