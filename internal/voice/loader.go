package voice

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/loop"
	"github.com/normanking/talkingavatar/internal/metrics"
	"github.com/normanking/talkingavatar/internal/resilience"
)

// LoaderConfig controls polling and selection.
type LoaderConfig struct {
	RetryInterval time.Duration
	MaxAttempts   int
	Languages     []string
	// Allow limits the offered voices to names containing one of these
	// substrings. Empty offers every voice.
	Allow []string
}

// DefaultLoaderConfig polls every 200ms, ten times, preferring English.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		RetryInterval: 200 * time.Millisecond,
		MaxAttempts:   10,
		Languages:     []string{"en-*"},
	}
}

// Loader resolves voices with bounded retry on the event loop.
type Loader struct {
	loop   *loop.Loop
	source Source
	cfg    LoaderConfig
	logger zerolog.Logger
}

// NewLoader creates a loader over source.
func NewLoader(l *loop.Loop, source Source, cfg LoaderConfig, logger zerolog.Logger) *Loader {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Loader{
		loop:   l,
		source: source,
		cfg:    cfg,
		logger: logger.With().Str("component", "voice").Logger(),
	}
}

// Acquire polls the source until it yields a voice or the attempts run out.
// done runs exactly once on the loop unless cancel is called first. The first
// poll happens before Acquire returns.
func (ld *Loader) Acquire(preferred string, done func(Profile, error)) (cancel func()) {
	var chosen Profile

	attempt := func(n int) bool {
		metrics.VoiceAcquireAttempts.Inc()
		voices := ld.Voices()
		v, ok := Select(voices, preferred, ld.cfg.Languages)
		if !ok {
			ld.logger.Debug().Int("attempt", n).Msg("Voice list empty, will retry")
			return false
		}
		chosen = v
		return true
	}

	cfg := resilience.FixedInterval(ld.cfg.RetryInterval, ld.cfg.MaxAttempts)
	return resilience.Poll(ld.loop, cfg, attempt, func(err error) {
		if err != nil {
			metrics.VoiceAcquireFailures.Inc()
			uerr := &UnavailableError{Preferred: preferred, Attempts: ld.cfg.MaxAttempts, cause: err}
			ld.logger.Warn().Err(uerr).Msg("Voice acquisition failed")
			if r, ok := ld.source.(Refresher); ok {
				r.Refresh()
			}
			done(Profile{}, uerr)
			return
		}
		ld.logger.Info().
			Str("voice", chosen.Name).
			Str("lang", chosen.Lang).
			Str("preferred", preferred).
			Msg("Voice resolved")
		done(chosen, nil)
	})
}

// Voices returns the source's current allowed list without retrying.
func (ld *Loader) Voices() []Profile {
	return Allowed(ld.source.Voices(), ld.cfg.Allow)
}

// Cache remembers resolved voices per preferred name until invalidated.
// It must be used on the loop.
type Cache struct {
	loader   *Loader
	resolved map[string]Profile
}

// NewCache wraps a loader.
func NewCache(loader *Loader) *Cache {
	return &Cache{loader: loader, resolved: make(map[string]Profile)}
}

// Acquire answers from the cache when possible, calling done before
// returning; otherwise it delegates to the loader.
func (c *Cache) Acquire(preferred string, done func(Profile, error)) (cancel func()) {
	if p, ok := c.resolved[preferred]; ok {
		done(p, nil)
		return func() {}
	}
	return c.loader.Acquire(preferred, func(p Profile, err error) {
		if err == nil {
			c.resolved[preferred] = p
		}
		done(p, err)
	})
}

// Invalidate drops every cached resolution.
func (c *Cache) Invalidate() {
	if len(c.resolved) > 0 {
		c.loader.logger.Debug().Int("entries", len(c.resolved)).Msg("Voice cache invalidated")
	}
	c.resolved = make(map[string]Profile)
}

// Voices lists the underlying source.
func (c *Cache) Voices() []Profile {
	return c.loader.Voices()
}
