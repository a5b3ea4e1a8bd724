package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/loop"
)

// ErrUnsupportedAudio is returned for formats a player cannot handle.
var ErrUnsupportedAudio = errors.New("unsupported audio format")

// Audio is pre-rendered speech.
type Audio struct {
	Data   []byte
	Format string // mp3, wav, m4a
}

// AudioPlayer plays pre-rendered audio and signals completion through done,
// exactly once, from any goroutine.
type AudioPlayer interface {
	Play(ctx context.Context, a Audio, done func(error))
}

// MP3Duration decodes enough of an mp3 stream to compute its length.
func MP3Duration(data []byte) (time.Duration, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode mp3: %w", err)
	}
	rate := dec.SampleRate()
	if rate <= 0 {
		return 0, fmt.Errorf("decode mp3: invalid sample rate %d", rate)
	}
	// Decoded output is 16-bit stereo: four bytes per sample frame.
	frames := dec.Length() / 4
	return time.Duration(frames) * time.Second / time.Duration(rate), nil
}

// TimedAudioPlayer does not produce sound; it holds the session for the
// audio's duration while the renderer plays the bytes it was sent.
type TimedAudioPlayer struct {
	clock loop.Clock
}

// NewTimedAudioPlayer creates a player on clock.
func NewTimedAudioPlayer(clock loop.Clock) *TimedAudioPlayer {
	return &TimedAudioPlayer{clock: clock}
}

// Play implements AudioPlayer.
func (p *TimedAudioPlayer) Play(ctx context.Context, a Audio, done func(error)) {
	if a.Format != "" && a.Format != "mp3" {
		done(fmt.Errorf("%w: %s", ErrUnsupportedAudio, a.Format))
		return
	}
	d, err := MP3Duration(a.Data)
	if err != nil {
		done(err)
		return
	}
	afterOrCancel(ctx, p.clock, d, done)
}

// ExecAudioPlayer plays audio through a command-line player such as afplay
// or mpg123.
type ExecAudioPlayer struct {
	command string
	run     CommandFunc
	logger  zerolog.Logger
}

// NewExecAudioPlayer plays with command, which receives a file path.
func NewExecAudioPlayer(command string, logger zerolog.Logger) *ExecAudioPlayer {
	return &ExecAudioPlayer{
		command: command,
		run:     runCommand,
		logger:  logger.With().Str("component", "audio-player").Str("command", command).Logger(),
	}
}

// SetCommandFunc replaces the command runner.
func (p *ExecAudioPlayer) SetCommandFunc(run CommandFunc) {
	p.run = run
}

// Play implements AudioPlayer.
func (p *ExecAudioPlayer) Play(ctx context.Context, a Audio, done func(error)) {
	format := a.Format
	if format == "" {
		format = "mp3"
	}

	tmpFile, err := os.CreateTemp("", "avatar-*."+format)
	if err != nil {
		done(fmt.Errorf("create temp file: %w", err))
		return
	}
	tmpPath := tmpFile.Name()
	if _, err := tmpFile.Write(a.Data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		done(fmt.Errorf("write audio: %w", err))
		return
	}
	tmpFile.Close()

	go func() {
		defer os.Remove(tmpPath)

		p.logger.Debug().Int("audioBytes", len(a.Data)).Msg("Playing audio")
		err := p.run(ctx, p.command, tmpPath)
		if ctx.Err() != nil {
			done(ctx.Err())
			return
		}
		if err != nil {
			done(fmt.Errorf("%s failed: %w", p.command, err))
			return
		}
		done(nil)
	}()
}
