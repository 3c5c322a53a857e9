package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDotEnv(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDotEnv(t *testing.T) {
	t.Setenv("PILOT_TEST_KEY", "")
	os.Unsetenv("PILOT_TEST_KEY")
	t.Setenv("PILOT_TEST_QUOTED", "")
	os.Unsetenv("PILOT_TEST_QUOTED")

	path := writeDotEnv(t, `
# comment line
PILOT_TEST_KEY=secret-value

PILOT_TEST_QUOTED="quoted value"
malformed line without equals
`)

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "secret-value", os.Getenv("PILOT_TEST_KEY"))
	assert.Equal(t, "quoted value", os.Getenv("PILOT_TEST_QUOTED"))
}

func TestLoadDotEnv_ExistingEnvironmentWins(t *testing.T) {
	t.Setenv("PILOT_TEST_EXISTING", "from-shell")

	path := writeDotEnv(t, "PILOT_TEST_EXISTING=from-file\n")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-shell", os.Getenv("PILOT_TEST_EXISTING"))
}

func TestLoadDotEnv_MissingFileIsNotAnError(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "does-not-exist.env")))
}
