package voice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/talkingavatar/internal/bus"
)

const sayOutput = `Albert              en_US    # Hello! My name is Albert.
Amélie              fr_CA    # Bonjour, je m’appelle Amélie.
Bad News            en_US    # Hello! My name is Bad News.
Eddy (English (UK)) en_GB    # Hello! My name is Eddy.
not a voice line
`

const espeakOutput = `Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  af              --/M      Afrikaans          gmw/af
 5  en-gb           --/M      English_(Great_Britain) gmw/en            (en 2)
 5  en-us           --/M      English_(America)  gmw/en-US            (en 3)
`

func TestParseSayVoices(t *testing.T) {
	voices := parseSayVoices([]byte(sayOutput))

	require.Len(t, voices, 4)
	assert.Equal(t, Profile{Name: "Albert", Lang: "en-US"}, voices[0])
	assert.Equal(t, Profile{Name: "Bad News", Lang: "en-US"}, voices[2])
	assert.Equal(t, Profile{Name: "Eddy (English (UK))", Lang: "en-GB"}, voices[3])
}

func TestParseEspeakVoices(t *testing.T) {
	voices := parseEspeakVoices([]byte(espeakOutput))

	require.Len(t, voices, 3)
	assert.Equal(t, Profile{Name: "en-gb", Lang: "en-gb"}, voices[1])
}

func TestCommandSource_PopulatesLate(t *testing.T) {
	release := make(chan struct{})
	src := NewSaySource("Albert", nil, zerolog.Nop())
	src.SetRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		assert.Equal(t, "say", name)
		assert.Equal(t, []string{"-v", "?"}, args)
		<-release
		return []byte(sayOutput), nil
	})

	assert.Empty(t, src.Voices(), "first read starts the listing")
	close(release)

	require.Eventually(t, func() bool { return len(src.Voices()) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, src.Voices()[0].Default)
}

func TestCommandSource_RefreshPublishesChange(t *testing.T) {
	eventBus := bus.NewEventBus()
	changed := make(chan bus.Event, 4)
	eventBus.Subscribe(bus.EventTypeVoicesChanged, func(e bus.Event) { changed <- e })

	var calls atomic.Int32
	src := NewSaySource("", eventBus, zerolog.Nop())
	src.SetRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if calls.Add(1) == 1 {
			return nil, nil
		}
		return []byte(sayOutput), nil
	})

	src.Voices()
	select {
	case e := <-changed:
		assert.Equal(t, 0, e.Data["count"])
	case <-time.After(2 * time.Second):
		t.Fatal("no change event after first listing")
	}
	assert.Empty(t, src.Voices(), "an empty listing is not retried on read")

	src.Refresh()
	select {
	case e := <-changed:
		assert.Equal(t, "say", e.Data["source"])
		assert.Equal(t, 4, e.Data["count"])
	case <-time.After(2 * time.Second):
		t.Fatal("no change event after refresh")
	}
	assert.Len(t, src.Voices(), 4)
}

func TestCommandSource_RetriesAfterFailure(t *testing.T) {
	var calls atomic.Int32
	src := NewEspeakSource("", nil, zerolog.Nop())
	src.SetRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("not installed")
		}
		return []byte(espeakOutput), nil
	})

	require.Eventually(t, func() bool {
		return len(src.Voices()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestFileSource_LoadAndMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voices.yaml")

	src, err := NewFileSource(path, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, src.Voices())

	require.NoError(t, os.WriteFile(path, []byte("voices:\n  - name: Daniel\n    lang: en-GB\n    default: true\n"), 0o644))
	require.NoError(t, src.Reload())
	assert.Equal(t, []Profile{{Name: "Daniel", Lang: "en-GB", Default: true}}, src.Voices())

	require.NoError(t, os.WriteFile(path, []byte("voices: [unclosed"), 0o644))
	assert.Error(t, src.Reload())
}

func TestFileSource_WatchPublishesChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voices.yaml")
	require.NoError(t, os.WriteFile(path, []byte("voices: []\n"), 0o644))

	eventBus := bus.NewEventBus()
	changed := make(chan bus.Event, 4)
	eventBus.Subscribe(bus.EventTypeVoicesChanged, func(e bus.Event) { changed <- e })

	src, err := NewFileSource(path, eventBus, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- src.Watch(ctx) }()

	// Give the watcher a moment to register.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("voices:\n  - name: Karen\n    lang: en-AU\n"), 0o644))

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("no change event")
	}
	require.Eventually(t, func() bool { return len(src.Voices()) == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestEnsureCatalog_WritesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "voices.yaml")

	wrote, err := EnsureCatalog(path)
	require.NoError(t, err)
	assert.True(t, wrote)

	src, err := NewFileSource(path, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, DefaultCatalog(), src.Voices())

	require.NoError(t, WriteCatalog(path, []Profile{{Name: "Daniel", Lang: "en-GB"}}))
	wrote, err = EnsureCatalog(path)
	require.NoError(t, err)
	assert.False(t, wrote, "existing catalog is kept")
	require.NoError(t, src.Reload())
	assert.Equal(t, []Profile{{Name: "Daniel", Lang: "en-GB"}}, src.Voices())
}
