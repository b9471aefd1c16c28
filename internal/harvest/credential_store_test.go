package harvest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) CredentialStore {
	t.Helper()
	store, err := NewCredentialStore(filepath.Join(t.TempDir(), "test_credentials.db"))
	require.NoError(t, err, "Failed to create store")
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Logf("Failed to close store: %v", err)
		}
	})
	return store
}

func TestCredentialStore_StoresAndRetrievesCredentials_When_UserIDIsValid(t *testing.T) {
	store := newTestStore(t)

	creds := Credentials{
		AccessToken:  "access-token-12345",
		RefreshToken: "refresh-token-67890",
		ClientID:     "client-abc",
		ClientSecret: "secret-def",
		AccountID:    "424242",
	}
	require.NoError(t, store.Store("test_user_123", creds))

	got, err := store.Retrieve("test_user_123")
	require.NoError(t, err)
	assert.Equal(t, creds, got)
}

func TestCredentialStore_UpdatesCredentials_When_StoringForExistingUser(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Store("test_user_123", Credentials{AccessToken: "old-token"}))
	require.NoError(t, store.Store("test_user_123", Credentials{
		AccessToken:  "new-token",
		RefreshToken: "new-refresh",
	}))

	got, err := store.Retrieve("test_user_123")
	require.NoError(t, err)
	assert.Equal(t, "new-token", got.AccessToken)
	assert.Equal(t, "new-refresh", got.RefreshToken)
}

func TestCredentialStore_UpdatesOnlyAccessToken_When_TokenIsRotated(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Store("test_user_123", Credentials{
		AccessToken:  "old-token",
		RefreshToken: "keep-refresh",
		ClientID:     "keep-client",
		ClientSecret: "keep-secret",
		AccountID:    "424242",
	}))

	require.NoError(t, store.UpdateAccessToken("test_user_123", "rotated-token"))

	got, err := store.Retrieve("test_user_123")
	require.NoError(t, err)
	assert.Equal(t, "rotated-token", got.AccessToken)
	assert.Equal(t, "keep-refresh", got.RefreshToken)
	assert.Equal(t, "keep-client", got.ClientID)
	assert.Equal(t, "keep-secret", got.ClientSecret)
	assert.Equal(t, "424242", got.AccountID)
}

func TestCredentialStore_ReturnsError_When_UserIsUnknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Retrieve("nobody")
	assert.Error(t, err)

	err = store.UpdateAccessToken("nobody", "token")
	assert.Error(t, err)
}

func TestCredentialStore_RemovesCredentials_When_Deleted(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Store("test_user_123", Credentials{AccessToken: "token"}))
	require.NoError(t, store.Delete("test_user_123"))

	_, err := store.Retrieve("test_user_123")
	assert.Error(t, err)
}

func TestCredentialStore_EncryptsAtRest(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Store("test_user_123", Credentials{AccessToken: "plaintext-token"}))

	// Round-trip through the concrete store's cipher helpers to confirm the
	// column value is not the plaintext.
	sqlite, ok := store.(*SQLiteCredentialStore)
	require.True(t, ok)

	encrypted, err := sqlite.encrypt("plaintext-token")
	require.NoError(t, err)
	assert.NotEqual(t, "plaintext-token", encrypted)

	decrypted, err := sqlite.decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "plaintext-token", decrypted)
}
