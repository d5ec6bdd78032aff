package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	s, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, "data", s.DataDir)
	assert.Equal(t, []string{"yt-dlp", "ffmpeg", "ffprobe"}, s.AllowedPrograms)
	assert.Equal(t, ":8080", s.ServerAddr)
	assert.True(t, s.JournalEnabled)
	assert.Equal(t, 2*time.Second, s.ProgressMinInterval)
	assert.Equal(t, 24*time.Hour, s.CleanupMaxAge)
}

func TestSettingsFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
data_dir: /var/lib/plugin-jobs
allowed_programs: [yt-dlp, ffmpeg]
progress:
  min_interval: 500ms
`), 0o644))
	t.Setenv("PLUGINJOBS_SERVER_ADDR", "127.0.0.1:9000")
	t.Setenv("PLUGINJOBS_ALLOWED_PROGRAMS", "yt-dlp,whisper ffprobe")

	s, err := Load(NewViper(), path)
	require.NoError(t, err)

	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, "/var/lib/plugin-jobs", s.DataDir)
	assert.Equal(t, 500*time.Millisecond, s.ProgressMinInterval)
	assert.Equal(t, "127.0.0.1:9000", s.ServerAddr)
	assert.Equal(t, []string{"yt-dlp", "whisper", "ffprobe"}, s.AllowedPrograms)
}

func TestLoadMissingSettingsFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsEmptyAllowList(t *testing.T) {
	v := NewViper()
	v.Set(KeyAllowedPrograms, []string{})
	v.Set(KeyDataDir, "")
	_, err := Load(v, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), KeyAllowedPrograms)
	assert.Contains(t, err.Error(), KeyDataDir)
}

func TestLoadEnvFilesFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.env")
	require.NoError(t, os.WriteFile(path, []byte("PLUGINJOBS_TEST_ONLY_KEY=from-file\n"), 0o644))
	t.Setenv("ENV_FILE", path)
	t.Setenv("PLUGINJOBS_TEST_ONLY_KEY", "")
	require.NoError(t, os.Unsetenv("PLUGINJOBS_TEST_ONLY_KEY"))

	require.NoError(t, LoadEnvFiles())
	assert.Equal(t, "from-file", os.Getenv("PLUGINJOBS_TEST_ONLY_KEY"))
}
