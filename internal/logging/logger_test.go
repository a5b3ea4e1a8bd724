package logging

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesFileAndHistory(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(&Config{LogDir: dir, Level: "debug", MaxHistory: 10})
	require.NoError(t, err)

	speech := logger.Component("speech")
	speech.Info().Str("session", "abc").Int("spoken", 2).Msg("Speech session ended")
	speech.Warn().Err(errors.New("device lost")).Msg("Playback failed")

	entries := logger.GetHistory(2)
	require.Len(t, entries, 2)

	assert.Equal(t, "info", entries[0].Level)
	assert.Equal(t, "speech", entries[0].Component)
	assert.Equal(t, "Speech session ended", entries[0].Message)
	assert.Equal(t, "session=abc, spoken=2", entries[0].Data)

	assert.Equal(t, "warn", entries[1].Level)
	assert.Equal(t, "error=device lost", entries[1].Data)

	require.NoError(t, logger.Close())
	data, err := os.ReadFile(logger.GetLogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"Speech session ended"`)
	assert.True(t, strings.HasPrefix(logger.GetLogPath(), dir))
}

func TestNew_LevelFilters(t *testing.T) {
	logger, err := New(&Config{Level: "warn"})
	require.NoError(t, err)

	z := logger.Zerolog()
	z.Info().Msg("dropped")
	z.Error().Msg("kept")

	entries := logger.GetHistory(0)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].Message)
	assert.Empty(t, logger.GetLogPath())
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(&Config{Level: "chatty"})
	assert.Error(t, err)
}

func TestHistory_BoundedAndStreamed(t *testing.T) {
	h := NewHistory(3)
	streamed := make(chan LogEntry, 8)
	h.SetOnLog(func(e LogEntry) { streamed <- e })

	for _, msg := range []string{"a", "b", "c", "d"} {
		_, err := h.Write([]byte(`{"level":"info","message":"` + msg + `"}`))
		require.NoError(t, err)
	}
	_, _ = h.Write([]byte("plain text line\n"))

	got := h.Get(0)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].Message)
	assert.Equal(t, "d", got[1].Message)
	assert.Equal(t, "plain text line", got[2].Message)

	assert.Len(t, h.Get(1), 1)
	assert.Len(t, h.Get(99), 3)

	require.Eventually(t, func() bool { return len(streamed) == 5 }, time.Second, 5*time.Millisecond)
}
