package middleware_test

import (
	"context"
	"crypto/rand"
	"io"
	"testing"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/persistence/middleware"
	"github.com/aretw0/concierge/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func secretState(key string) *domain.SessionState {
	state := domain.NewSessionState(key, "Order Placement Agent")
	state.Seq = 4
	state.Transcript = domain.Transcript{domain.UserMessage{Text: "my card is 4111 1111 1111 1111"}}
	return state
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlying := NewMockStore()
	secure := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlying)
	ctx := context.Background()

	require.NoError(t, secure.Save(ctx, "s", secretState("s")))

	stored, err := underlying.Load(ctx, "s")
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Sealed)
	assert.Empty(t, stored.Transcript, "transcript must not be stored in the clear")
	assert.Empty(t, stored.ActiveAgent)
	assert.Equal(t, uint64(4), stored.Seq)

	loaded, err := secure.Load(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "Order Placement Agent", loaded.ActiveAgent)
	assert.Equal(t, secretState("s").Transcript, loaded.Transcript)
	assert.Nil(t, loaded.Sealed)
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlying := NewMockStore()
	oldKey, newKey := generateKey(t), generateKey(t)
	ctx := context.Background()

	oldStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlying)
	require.NoError(t, oldStore.Save(ctx, "r", secretState("r")))

	newStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlying)

	loaded, err := newStore.Load(ctx, "r")
	require.NoError(t, err, "fallback key decrypts old data")

	loaded.ActiveAgent = "Triage Agent"
	require.NoError(t, newStore.Save(ctx, "r", loaded))

	_, err = oldStore.Load(ctx, "r")
	assert.Error(t, err, "data written with the new key is unreadable with only the old one")
}

func TestEncryptionMiddleware_RejectsPlaintext(t *testing.T) {
	underlying := NewMockStore()
	require.NoError(t, underlying.Save(context.Background(), "p", secretState("p")))

	secure := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlying)
	_, err := secure.Load(context.Background(), "p")
	assert.ErrorContains(t, err, "missing encrypted data envelope")
}

func TestEncryptionMiddleware_ForwardsCommit(t *testing.T) {
	inner := CommittingStore{NewMockStore()}
	secure := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(inner)

	c, ok := secure.(ports.Committer)
	require.True(t, ok)
	require.NoError(t, c.Commit(context.Background(), secretState("c"), ports.Scope{SessionKey: "c", Seq: 3}))

	stored, err := inner.Load(context.Background(), "c")
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Sealed)

	_, plain := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(NewMockStore()).(ports.Committer)
	assert.False(t, plain, "no Commit when the inner store cannot commit")
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	assert.Panics(t, func() {
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
	})
}
