package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManagerServesInitialConfig(t *testing.T) {
	path := writeConfig(t, `
limits:
  auth:
    window_ms: 15000
    max_requests: 7
    block_duration_min: 5
`)
	m, err := NewManager(path)
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, 7, m.Get().Limits["auth"].MaxRequests)
	require.NoError(t, m.LastError())
}

func TestManagerReloadsOnFileChange(t *testing.T) {
	path := writeConfig(t, `
limits:
  auth:
    window_ms: 60000
    max_requests: 20
    block_duration_min: 30
`)
	m, err := NewManager(path)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, os.WriteFile(path, []byte(`
limits:
  auth:
    window_ms: 60000
    max_requests: 5
    block_duration_min: 30
`), 0o600))

	require.Eventually(t, func() bool {
		return m.Get().Limits["auth"].MaxRequests == 5
	}, 3*time.Second, 20*time.Millisecond)
}

func TestManagerKeepsOldConfigOnInvalidEdit(t *testing.T) {
	path := writeConfig(t, `
limits:
  auth:
    window_ms: 60000
    max_requests: 20
    block_duration_min: 30
`)
	m, err := NewManager(path)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, os.WriteFile(path, []byte(`
limits:
  auth:
    window_ms: 60000
    max_requests: 0
    block_duration_min: 30
`), 0o600))

	require.Eventually(t, func() bool {
		return m.LastError() != nil
	}, 3*time.Second, 20*time.Millisecond)
	require.Equal(t, 20, m.Get().Limits["auth"].MaxRequests)
}

func TestManagerWithoutPathSkipsWatcher(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)
	require.NotNil(t, m.Get())
	require.NoError(t, m.Close())
}
