package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/models"
)

func newTestStore(t *testing.T) *FileSessionStore {
	t.Helper()
	store, err := NewFileSessionStore(t.TempDir(), arbor.NewNoOpLogger())
	require.NoError(t, err)
	return store
}

func TestFileSessionStore_LoadMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load("alice")
	assert.ErrorIs(t, err, models.ErrNoSession)

	info, err := store.Info("alice")
	require.NoError(t, err)
	assert.False(t, info.Exists)
}

func TestFileSessionStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	cookies := []*models.Cookie{
		{Name: "web_session", Value: "abc", Domain: ".xiaohongshu.com", Path: "/", Expiry: 1700000000, Secure: true, HTTPOnly: true},
		{Name: "a1", Value: "xyz", Domain: ".xiaohongshu.com", Path: "/"},
	}
	require.NoError(t, store.Save("alice", cookies))

	session, err := store.Load("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", session.Account)
	assert.True(t, session.Valid)
	require.Len(t, session.Cookies, 2)
	// expiry is stored verbatim
	assert.Equal(t, int64(1700000000), session.Cookies[0].Expiry)

	info, err := store.Info("alice")
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Equal(t, 2, info.CookieCount)

	// the file is a plain JSON array of cookie objects
	path, err := store.Path("alice")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "web_session", raw[0]["name"])
	assert.Equal(t, true, raw[0]["httpOnly"])
}

func TestFileSessionStore_SaveOverwrites(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save("alice", []*models.Cookie{{Name: "old", Value: "1"}}))
	require.NoError(t, store.Save("alice", []*models.Cookie{{Name: "new", Value: "2"}}))

	session, err := store.Load("alice")
	require.NoError(t, err)
	require.Len(t, session.Cookies, 1)
	assert.Equal(t, "new", session.Cookies[0].Name)

	// accounts are isolated
	_, err = store.Load("bob")
	assert.ErrorIs(t, err, models.ErrNoSession)
}

func TestFileSessionStore_EmptyOrCorrupt(t *testing.T) {
	store := newTestStore(t)

	assert.Error(t, store.Save("alice", nil))

	path, err := store.Path("alice")
	require.NoError(t, err)

	for _, content := range []string{"[]", "not json", "[{\"value\":\"no name\"}]"} {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		_, err := store.Load("alice")
		assert.ErrorIs(t, err, models.ErrNoSession, content)
	}
}

func TestFileSessionStore_FailedSaveKeepsPreviousFile(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}
	store := newTestStore(t)
	require.NoError(t, store.Save("alice", []*models.Cookie{{Name: "keep", Value: "1"}}))

	// a read-only directory makes the temp file creation fail
	require.NoError(t, os.Chmod(store.dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(store.dir, 0o700) })

	assert.Error(t, store.Save("alice", []*models.Cookie{{Name: "lost", Value: "2"}}))

	require.NoError(t, os.Chmod(store.dir, 0o700))
	session, err := store.Load("alice")
	require.NoError(t, err)
	assert.Equal(t, "keep", session.Cookies[0].Name)
}

func TestFileSessionStore_Delete(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Save("alice", []*models.Cookie{{Name: "a", Value: "1"}}))
	require.NoError(t, store.Delete("alice"))
	require.NoError(t, store.Delete("alice"))

	_, err := store.Load("alice")
	assert.ErrorIs(t, err, models.ErrNoSession)
}

func TestFileSessionStore_RejectsUnsafeAccount(t *testing.T) {
	store := newTestStore(t)

	for _, account := range []string{"", "..", "a/b", `a\b`} {
		_, err := store.Path(account)
		assert.Error(t, err, account)
	}

	path, err := store.Path("xiaohongshu")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.dir, "xiaohongshu.json"), path)
}
