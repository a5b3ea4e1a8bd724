package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMask(t *testing.T) {
	assert.Equal(t, "", mask(""))
	assert.Equal(t, "****", mask("abc"))
	assert.Equal(t, "****wxyz", mask("sk-abcdwxyz"))
}

func TestLoadEnvFiles_KeepsExistingValues(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".talkingavatar")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TALKINGAVATAR_TEST_KEY=from-file\nTALKINGAVATAR_TEST_SET=from-file\n"), 0644))

	t.Setenv("TALKINGAVATAR_TEST_SET", "from-env")
	t.Setenv("TALKINGAVATAR_TEST_KEY", "")
	require.NoError(t, os.Unsetenv("TALKINGAVATAR_TEST_KEY"))

	require.NoError(t, loadEnvFiles())
	assert.Equal(t, "from-file", os.Getenv("TALKINGAVATAR_TEST_KEY"))
	assert.Equal(t, "from-env", os.Getenv("TALKINGAVATAR_TEST_SET"))
}

func TestConfigInit_WritesConfigAndCatalog(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	rootCmd.SetArgs([]string{"config", "init"})
	require.NoError(t, rootCmd.Execute())
	assert.FileExists(t, filepath.Join(home, ".talkingavatar", "config.yaml"))
	assert.FileExists(t, filepath.Join(home, ".talkingavatar", "voices.yaml"))

	rootCmd.SetArgs([]string{"config", "init"})
	assert.Error(t, rootCmd.Execute(), "refuses to overwrite without --force")
}
