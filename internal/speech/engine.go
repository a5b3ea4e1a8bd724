// Package speech orchestrates speech sessions: it plays sentence units in
// order through a playback engine while driving the avatar's animation and
// mouth motion.
package speech

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/loop"
	"github.com/normanking/talkingavatar/internal/voice"
)

// Utterance is one unit handed to a playback engine.
type Utterance struct {
	Text    string
	Ordinal int
	Voice   voice.Profile
}

// Engine plays utterances. done must be called exactly once, from any
// goroutine, when playback ends or fails. Cancelling ctx stops playback.
type Engine interface {
	Speak(ctx context.Context, u Utterance, done func(error))
}

// afterOrCancel calls done(nil) after d on clock, or done(ctx.Err()) if ctx
// ends first.
func afterOrCancel(ctx context.Context, clock loop.Clock, d time.Duration, done func(error)) {
	fired := make(chan struct{})
	stop := clock.AfterFunc(d, func() {
		close(fired)
		done(nil)
	})

	go func() {
		select {
		case <-fired:
		case <-ctx.Done():
			if stop() {
				done(ctx.Err())
			}
		}
	}()
}

// TimedEngine simulates speech by estimating its duration from the word
// count. It is used headless and when the renderer does its own audio.
type TimedEngine struct {
	clock          loop.Clock
	wordsPerMinute int
	minimum        time.Duration
}

// NewTimedEngine creates an engine speaking at wordsPerMinute.
func NewTimedEngine(clock loop.Clock, wordsPerMinute int) *TimedEngine {
	if wordsPerMinute <= 0 {
		wordsPerMinute = 165
	}
	return &TimedEngine{clock: clock, wordsPerMinute: wordsPerMinute, minimum: 300 * time.Millisecond}
}

// Duration estimates how long text takes to say.
func (e *TimedEngine) Duration(text string) time.Duration {
	words := len(strings.Fields(text))
	d := time.Duration(words) * time.Minute / time.Duration(e.wordsPerMinute)
	if d < e.minimum {
		d = e.minimum
	}
	return d
}

// Speak implements Engine.
func (e *TimedEngine) Speak(ctx context.Context, u Utterance, done func(error)) {
	afterOrCancel(ctx, e.clock, e.Duration(u.Text), done)
}

// CommandFunc runs an external command to completion.
type CommandFunc func(ctx context.Context, name string, args ...string) error

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil && len(out) > 0 {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return err
}

// ExecEngine speaks through a system TTS command such as macOS `say`.
type ExecEngine struct {
	command string
	args    func(u Utterance) []string
	run     CommandFunc
	logger  zerolog.Logger
}

// NewSayEngine speaks with macOS `say`. A rate of 0 keeps the system rate.
func NewSayEngine(rate int, logger zerolog.Logger) *ExecEngine {
	return &ExecEngine{
		command: "say",
		args: func(u Utterance) []string {
			var args []string
			if u.Voice.Name != "" {
				args = append(args, "-v", u.Voice.Name)
			}
			if rate > 0 {
				args = append(args, "-r", strconv.Itoa(rate))
			}
			return append(args, u.Text)
		},
		run:    runCommand,
		logger: logger.With().Str("component", "speech-engine").Str("engine", "say").Logger(),
	}
}

// NewEspeakEngine speaks with espeak-ng.
func NewEspeakEngine(rate int, logger zerolog.Logger) *ExecEngine {
	return &ExecEngine{
		command: "espeak-ng",
		args: func(u Utterance) []string {
			var args []string
			if u.Voice.Name != "" {
				args = append(args, "-v", u.Voice.Name)
			}
			if rate > 0 {
				args = append(args, "-s", strconv.Itoa(rate))
			}
			return append(args, "--", u.Text)
		},
		run:    runCommand,
		logger: logger.With().Str("component", "speech-engine").Str("engine", "espeak-ng").Logger(),
	}
}

// SetCommandFunc replaces the command runner.
func (e *ExecEngine) SetCommandFunc(run CommandFunc) {
	e.run = run
}

// Speak implements Engine.
func (e *ExecEngine) Speak(ctx context.Context, u Utterance, done func(error)) {
	args := e.args(u)
	e.logger.Debug().
		Str("voice", u.Voice.Name).
		Int("ordinal", u.Ordinal).
		Int("textLen", len(u.Text)).
		Msg("Speaking utterance")

	go func() {
		err := e.run(ctx, e.command, args...)
		if ctx.Err() != nil {
			done(ctx.Err())
			return
		}
		if err != nil {
			done(fmt.Errorf("%s failed: %w", e.command, err))
			return
		}
		done(nil)
	}()
}
