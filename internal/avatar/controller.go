// Package avatar wires the animation machine, morph engine, voice loader and
// speech orchestrator behind a controller that is safe to call from any
// goroutine.
package avatar

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/animation"
	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/loop"
	"github.com/normanking/talkingavatar/internal/morph"
	"github.com/normanking/talkingavatar/internal/scene"
	"github.com/normanking/talkingavatar/internal/speech"
	"github.com/normanking/talkingavatar/internal/voice"
)

// ErrNotSpeaking is returned by Speak when the request was rejected because
// another session is active.
var ErrNotSpeaking = errors.New("request ignored, avatar is already speaking")

// Options configures a Controller. Zero-valued configs fall back to the
// package defaults.
type Options struct {
	// Loop runs the controller. When nil a loop on the wall clock is created
	// and the caller must run it with Run.
	Loop *loop.Loop

	Scene     *scene.Avatar
	Animation *animation.Config
	Morph     *morph.Config
	Speech    *speech.Config
	Voice     *voice.LoaderConfig

	VoiceSource  voice.Source
	DefaultVoice string
	Engine       speech.Engine
	AudioPlayer  speech.AudioPlayer

	Bus    *bus.EventBus
	Rand   *rand.Rand
	Logger zerolog.Logger
}

// Controller is the avatar. Exported methods marshal onto the loop.
type Controller struct {
	loop   *loop.Loop
	bus    *bus.EventBus
	logger zerolog.Logger

	avatar  *scene.Avatar
	rig     *morph.Rig
	clips   *animation.ClipPlayer
	machine *animation.Machine
	morphs  *morph.Engine
	voices  *voice.Cache
	speaker *speech.Speaker

	// loop-owned
	voice string
	last  *speech.Outcome
}

// New builds a controller and schedules its start-up on the loop: Idle begins
// playing, blinking starts and the smile bias is applied.
func New(opts Options) (*Controller, error) {
	if opts.Engine == nil {
		return nil, errors.New("avatar: speech engine is required")
	}
	if opts.VoiceSource == nil {
		return nil, errors.New("avatar: voice source is required")
	}

	l := opts.Loop
	if l == nil {
		l = loop.New(nil)
	}
	av := opts.Scene
	if av == nil {
		av = scene.Default()
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	animCfg := animation.DefaultConfig()
	if opts.Animation != nil {
		animCfg = *opts.Animation
	}
	morphCfg := morph.DefaultConfig()
	if opts.Morph != nil {
		morphCfg = *opts.Morph
	}
	speechCfg := speech.DefaultConfig()
	if opts.Speech != nil {
		speechCfg = *opts.Speech
	}
	voiceCfg := voice.DefaultLoaderConfig()
	if opts.Voice != nil {
		voiceCfg = *opts.Voice
	}

	c := &Controller{
		loop:   l,
		bus:    opts.Bus,
		logger: opts.Logger.With().Str("component", "avatar").Logger(),
		avatar: av,
		voice:  opts.DefaultVoice,
	}

	c.rig = morph.NewRig(av)
	c.clips = animation.NewClipPlayer(l, av)
	c.machine = animation.NewMachine(l, c.clips, animCfg, rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64())), opts.Logger)
	c.morphs = morph.NewEngine(l, c.rig, morphCfg, rand.New(rand.NewPCG(rng.Uint64(), rng.Uint64())), opts.Logger)
	c.voices = voice.NewCache(voice.NewLoader(l, opts.VoiceSource, voiceCfg, opts.Logger))
	c.speaker = speech.NewSpeaker(l, speech.Deps{
		Voices:   c.voices,
		Engine:   opts.Engine,
		Player:   opts.AudioPlayer,
		Animator: c.machine,
		Mouth:    c.morphs,
		Bus:      opts.Bus,
	}, speechCfg, opts.Logger)

	c.machine.OnChange(func(s animation.State) {
		c.publish(bus.EventTypeAnimationChanged, map[string]any{"state": s.String(), "clip": c.clips.Current()})
	})

	if c.bus != nil {
		c.bus.Subscribe(bus.EventTypeVoicesChanged, func(bus.Event) {
			c.loop.Post(c.voices.Invalidate)
		})
	}

	if !l.Post(c.start) {
		return nil, loop.ErrClosed
	}
	return c, nil
}

func (c *Controller) start() {
	c.machine.Start()
	c.morphs.StartBlink()
	c.morphs.ApplySmileBias()

	c.logger.Info().
		Str("model", c.avatar.Source).
		Strs("clips", c.avatar.ClipNames()).
		Int("meshes", len(c.avatar.Meshes)).
		Msg("Avatar started")
}

// Loop returns the controller's event loop.
func (c *Controller) Loop() *loop.Loop {
	return c.loop
}

// Scene returns the loaded model description.
func (c *Controller) Scene() *scene.Avatar {
	return c.avatar
}

// Run processes the controller's loop until ctx ends or Shutdown is called.
func (c *Controller) Run(ctx context.Context) error {
	err := c.loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Start begins speaking text and returns immediately. An empty voice uses
// the selected voice. accepted is false when a session is already active.
func (c *Controller) Start(ctx context.Context, text, voiceName string) (sessionID string, accepted bool, err error) {
	err = c.loop.Call(ctx, func() {
		sess, ok := c.speaker.Start(text, c.voiceFor(voiceName), c.record)
		if ok {
			sessionID, accepted = sess.ID, true
		}
	})
	return sessionID, accepted, err
}

// Speak starts a session and waits for it to end. If ctx ends first the
// session is cancelled. A rejected request returns ErrNotSpeaking.
func (c *Controller) Speak(ctx context.Context, text, voiceName string) (speech.Outcome, error) {
	return c.await(ctx, func(done func(speech.Outcome)) (*speech.Session, bool, error) {
		sess, ok := c.speaker.Start(text, c.voiceFor(voiceName), done)
		return sess, ok, nil
	})
}

// SpeakAudio plays pre-rendered audio as a session and waits for it to end.
func (c *Controller) SpeakAudio(ctx context.Context, text string, audio speech.Audio) (speech.Outcome, error) {
	return c.await(ctx, func(done func(speech.Outcome)) (*speech.Session, bool, error) {
		return c.speaker.StartAudio(text, audio, done)
	})
}

// StartAudio begins playing pre-rendered audio and returns immediately.
func (c *Controller) StartAudio(ctx context.Context, text string, audio speech.Audio) (sessionID string, accepted bool, err error) {
	callErr := c.loop.Call(ctx, func() {
		var sess *speech.Session
		sess, accepted, err = c.speaker.StartAudio(text, audio, c.record)
		if accepted {
			sessionID = sess.ID
		}
	})
	if callErr != nil {
		return "", false, callErr
	}
	return sessionID, accepted, err
}

type starter func(done func(speech.Outcome)) (*speech.Session, bool, error)

func (c *Controller) await(ctx context.Context, start starter) (speech.Outcome, error) {
	result := make(chan speech.Outcome, 1)
	var (
		sess     *speech.Session
		accepted bool
		err      error
	)

	callErr := c.loop.Call(ctx, func() {
		sess, accepted, err = start(func(o speech.Outcome) {
			c.record(o)
			result <- o
		})
	})
	if callErr != nil {
		return speech.Outcome{}, callErr
	}
	if err != nil {
		return speech.Outcome{}, err
	}
	if !accepted {
		return speech.Outcome{}, ErrNotSpeaking
	}

	select {
	case o := <-result:
		return o, nil
	case <-ctx.Done():
		c.loop.Post(sess.Cancel)
		return speech.Outcome{}, ctx.Err()
	}
}

func (c *Controller) record(o speech.Outcome) {
	c.last = &o
}

func (c *Controller) voiceFor(name string) string {
	if name != "" {
		return name
	}
	return c.voice
}

// Cancel aborts the active session, if any.
func (c *Controller) Cancel(ctx context.Context) error {
	return c.loop.Call(ctx, c.speaker.Cancel)
}

// IsSpeaking reports whether a session is active.
func (c *Controller) IsSpeaking(ctx context.Context) (bool, error) {
	var speaking bool
	err := c.loop.Call(ctx, func() { speaking = c.speaker.Speaking() })
	return speaking, err
}

// SetVoice selects the voice used when a request names none. Sessions in
// flight keep their voice.
func (c *Controller) SetVoice(ctx context.Context, name string) error {
	return c.loop.Call(ctx, func() {
		if c.voice == name {
			return
		}
		c.voice = name
		c.logger.Info().Str("voice", name).Msg("Voice selected")
		c.publish(bus.EventTypeVoiceSelected, map[string]any{"voice": name})
	})
}

// Voice returns the selected voice name.
func (c *Controller) Voice(ctx context.Context) (string, error) {
	var name string
	err := c.loop.Call(ctx, func() { name = c.voice })
	return name, err
}

// Voices lists the voices the source currently offers.
func (c *Controller) Voices(ctx context.Context) ([]voice.Profile, error) {
	var list []voice.Profile
	err := c.loop.Call(ctx, func() { list = c.voices.Voices() })
	return list, err
}

// Snapshot returns the current state.
func (c *Controller) Snapshot(ctx context.Context) (State, error) {
	var st State
	err := c.loop.Call(ctx, func() { st = c.snapshot() })
	return st, err
}

// Shutdown aborts any session, stops every timer and closes the loop. The
// avatar is left Idle with all morph channels at 0.
func (c *Controller) Shutdown(ctx context.Context) error {
	err := c.loop.Call(ctx, c.teardown)
	c.loop.Close()
	if errors.Is(err, loop.ErrClosed) {
		return nil
	}
	return err
}

func (c *Controller) teardown() {
	c.speaker.Shutdown()
	c.machine.Reset()
	c.morphs.Reset()
	c.logger.Info().Msg("Avatar stopped")
}

func (c *Controller) publish(t bus.EventType, data map[string]any) {
	if c.bus != nil {
		c.bus.Publish(bus.Event{Type: t, Data: data})
	}
}
