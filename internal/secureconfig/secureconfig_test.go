package secureconfig

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewStore_CreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secure.json")
	s, err := NewStore(path)
	require.NoError(t, err)
	require.False(t, s.SecureCookies())
}

func TestStore_SaveTogglesFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secure.json")
	s, err := NewStore(path)
	require.NoError(t, err)

	require.NoError(t, s.Save(Domain{SecureCookies: true}))
	require.True(t, s.SecureCookies())

	reloaded, err := NewStore(path)
	require.NoError(t, err)
	require.True(t, reloaded.SecureCookies())
}
