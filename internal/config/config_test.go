package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaultsRunID(t *testing.T) {
	path := writeSeed(t, `
[[service]]
sheriff_id = 1
command = "/bin/sleep 100"
nickname = "sleeper"
`)
	f, err := Load(path)
	require.NoError(t, err)
	require.Len(t, f.Services, 1)
	assert.Equal(t, int32(1), f.Services[0].DesiredRunID)
}

func TestLoadRejectsMissingCommand(t *testing.T) {
	path := writeSeed(t, `
[[service]]
sheriff_id = 1
nickname = "no command here"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMultipleServices(t *testing.T) {
	path := writeSeed(t, `
[[service]]
sheriff_id = 1
command = "/bin/sleep 100"
desired_runid = 3

[[service]]
sheriff_id = 2
command = "/bin/true"
`)
	f, err := Load(path)
	require.NoError(t, err)
	require.Len(t, f.Services, 2)
	assert.Equal(t, int32(3), f.Services[0].DesiredRunID)
	assert.Equal(t, int32(1), f.Services[1].DesiredRunID)
}
