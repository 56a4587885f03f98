package session

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_Lifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	s := New(path)

	_, err := s.Token()
	require.ErrorIs(t, err, ErrNotLoggedIn)
	assert.False(t, s.LoggedIn())

	require.NoError(t, s.Set("tok-1", "test@example.com"))
	token, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.Equal(t, "test@example.com", s.Email())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	restored, err := Load(path)
	require.NoError(t, err)
	token, err = restored.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	require.NoError(t, s.Clear())
	assert.False(t, s.LoggedIn())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSession_RejectsBlankToken(t *testing.T) {
	s := New("")
	assert.Error(t, s.Set("   ", ""))
	assert.False(t, s.LoggedIn())
}

func TestSession_LoadMissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.False(t, s.LoggedIn())
}

func TestSession_LoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSession_ConcurrentReads(t *testing.T) {
	s := New("")
	require.NoError(t, s.Set("tok", ""))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := s.Token()
			assert.NoError(t, err)
			assert.Equal(t, "tok", token)
		}()
	}
	wg.Wait()
}
