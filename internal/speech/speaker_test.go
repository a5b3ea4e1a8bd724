package speech

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/talkingavatar/internal/animation"
	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/loop/looptest"
	"github.com/normanking/talkingavatar/internal/morph"
	"github.com/normanking/talkingavatar/internal/scene"
	"github.com/normanking/talkingavatar/internal/voice"
)

// fakeEngine records utterances and lets the test finish them.
type fakeEngine struct {
	mu    sync.Mutex
	calls []Utterance
	ctxs  []context.Context
	dones []func(error)
}

func (e *fakeEngine) Speak(ctx context.Context, u Utterance, done func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, u)
	e.ctxs = append(e.ctxs, ctx)
	e.dones = append(e.dones, done)
}

func (e *fakeEngine) texts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	for i, c := range e.calls {
		out[i] = c.Text
	}
	return out
}

func (e *fakeEngine) finish(i int, err error) {
	e.mu.Lock()
	done := e.dones[i]
	e.mu.Unlock()
	done(err)
}

type fakePlayer struct {
	audio []Audio
	dones []func(error)
}

func (p *fakePlayer) Play(ctx context.Context, a Audio, done func(error)) {
	p.audio = append(p.audio, a)
	p.dones = append(p.dones, done)
}

type rig struct {
	h        *looptest.Harness
	engine   *fakeEngine
	player   *fakePlayer
	machine  *animation.Machine
	morphs   *morph.Engine
	mouth    *morph.Rig
	speaker  *Speaker
	states   []animation.State
	outcomes []Outcome
}

func newRig(t *testing.T, source voice.Source, maxAttempts int) *rig {
	t.Helper()
	h := looptest.New()
	avatar := scene.Default()

	r := &rig{h: h, engine: &fakeEngine{}, player: &fakePlayer{}}
	r.machine = animation.NewMachine(h.Loop, animation.NewClipPlayer(h.Loop, avatar), animation.DefaultConfig(),
		rand.New(rand.NewPCG(3, 4)), zerolog.Nop())
	r.machine.OnChange(func(s animation.State) { r.states = append(r.states, s) })
	r.machine.Start()

	r.mouth = morph.NewRig(avatar)
	r.morphs = morph.NewEngine(h.Loop, r.mouth, morph.DefaultConfig(), rand.New(rand.NewPCG(5, 6)), zerolog.Nop())

	lcfg := voice.DefaultLoaderConfig()
	lcfg.MaxAttempts = maxAttempts
	voices := voice.NewCache(voice.NewLoader(h.Loop, source, lcfg, zerolog.Nop()))

	r.speaker = NewSpeaker(h.Loop, Deps{
		Voices:   voices,
		Engine:   r.engine,
		Player:   r.player,
		Animator: r.machine,
		Mouth:    r.morphs,
	}, DefaultConfig(), zerolog.Nop())
	return r
}

func defaultVoices() voice.Source {
	return voice.StaticSource{{Name: "Daniel", Lang: "en-GB"}, {Name: "Google UK English Male", Lang: "en-GB"}}
}

func (r *rig) start(t *testing.T, text, hint string) *Session {
	t.Helper()
	sess, ok := r.speaker.Start(text, hint, func(o Outcome) { r.outcomes = append(r.outcomes, o) })
	require.True(t, ok)
	r.h.Flush()
	return sess
}

func (r *rig) assertAtRest(t *testing.T) {
	t.Helper()
	assert.Equal(t, animation.Idle, r.machine.State())
	assert.False(t, r.morphs.Jittering())
	assert.False(t, r.speaker.Speaking())
	for _, mesh := range []string{scene.MeshHead, scene.MeshTeeth} {
		v, _ := r.mouth.Get(mesh, scene.MorphMouthOpen)
		assert.Equal(t, float32(0), v, mesh)
	}
}

func TestSpeaker_PlaysSentencesInOrder(t *testing.T) {
	r := newRig(t, defaultVoices(), 10)

	sess := r.start(t, "Hello! How are you?", "Google UK English Male")
	assert.True(t, r.speaker.Speaking())
	assert.Equal(t, []string{"Hello!"}, r.engine.texts())
	assert.Equal(t, "Google UK English Male", r.engine.calls[0].Voice.Name)
	assert.Equal(t, animation.TalkingA, r.machine.State())
	assert.True(t, r.morphs.Jittering())

	r.h.Advance(150 * time.Millisecond)
	assert.NotZero(t, mouthValue(r), "jitter moves the mouth while talking")

	r.engine.finish(0, nil)
	r.h.Flush()
	assert.Len(t, r.engine.calls, 1, "next sentence waits for the pause")
	assert.Equal(t, 1, sess.Current())

	r.h.Advance(99 * time.Millisecond)
	assert.Len(t, r.engine.calls, 1)
	r.h.Advance(time.Millisecond)
	assert.Equal(t, []string{"Hello!", "How are you?"}, r.engine.texts())
	assert.Equal(t, 1, r.engine.calls[1].Ordinal)
	assert.Equal(t, animation.TalkingA, r.machine.State())

	r.engine.finish(1, nil)
	r.h.Flush()

	require.Len(t, r.outcomes, 1)
	o := r.outcomes[0]
	assert.Equal(t, Completed, o.Status)
	assert.NoError(t, o.Err)
	assert.False(t, o.Failed())
	assert.Equal(t, 2, o.Spoken)
	assert.Equal(t, sess.ID, o.SessionID)
	assert.Equal(t, Completed, sess.Status())
	r.assertAtRest(t)
}

func mouthValue(r *rig) float32 {
	var total float32
	for _, mesh := range []string{scene.MeshHead, scene.MeshTeeth} {
		v, _ := r.mouth.Get(mesh, scene.MorphMouthOpen)
		total += v
	}
	return total
}

func TestSpeaker_DuplicateStartIgnored(t *testing.T) {
	r := newRig(t, defaultVoices(), 10)
	first := r.start(t, "One. Two.", "")

	second, ok := r.speaker.Start("Something else.", "", func(Outcome) {
		t.Fatal("rejected request must not complete")
	})
	r.h.Flush()

	assert.False(t, ok)
	assert.Nil(t, second)
	assert.Equal(t, first, r.speaker.Active())
	assert.Equal(t, []string{"One."}, r.engine.texts())
}

func TestSpeaker_AtRestAfterAnySentenceCount(t *testing.T) {
	for _, text := range []string{"", "   ", "Only one.", "One. Two! Three? Four."} {
		t.Run(text, func(t *testing.T) {
			r := newRig(t, defaultVoices(), 10)
			r.start(t, text, "")

			for i := 0; ; i++ {
				if len(r.outcomes) > 0 {
					break
				}
				require.Less(t, i, 10, "session did not finish")
				r.engine.finish(i, nil)
				r.h.Advance(100 * time.Millisecond)
			}

			require.Len(t, r.outcomes, 1)
			assert.Equal(t, Completed, r.outcomes[0].Status)
			r.assertAtRest(t)
		})
	}
}

func TestSpeaker_VoiceUnavailable(t *testing.T) {
	r := newRig(t, voice.StaticSource{}, 3)
	r.start(t, "Hello there.", "")

	assert.True(t, r.speaker.Speaking())
	r.h.Advance(time.Second)

	require.Len(t, r.outcomes, 1)
	o := r.outcomes[0]
	assert.Equal(t, Aborted, o.Status)
	assert.ErrorIs(t, o.Err, voice.ErrNoVoice)
	assert.Empty(t, r.engine.calls)
	r.assertAtRest(t)
	assert.Equal(t, 0, r.h.Clock.Pending())
}

func TestSpeaker_EngineErrorAbortsSession(t *testing.T) {
	r := newRig(t, defaultVoices(), 10)
	r.start(t, "First. Second. Third.", "")

	r.engine.finish(0, nil)
	r.h.Advance(100 * time.Millisecond)
	boom := errors.New("audio device lost")
	r.engine.finish(1, boom)
	r.h.Flush()

	require.Len(t, r.outcomes, 1)
	o := r.outcomes[0]
	assert.Equal(t, Aborted, o.Status)
	assert.True(t, o.Failed())
	assert.ErrorIs(t, o.Err, boom)
	var engErr *EngineError
	require.ErrorAs(t, o.Err, &engErr)
	assert.Equal(t, 1, engErr.Ordinal)
	assert.Equal(t, 1, o.Spoken)
	assert.Len(t, r.engine.calls, 2, "third sentence never dispatched")
	r.assertAtRest(t)
}

func TestSpeaker_CancelIsIdempotentAndStopsPlayback(t *testing.T) {
	r := newRig(t, defaultVoices(), 10)
	sess := r.start(t, "Long sentence here. Another one.", "")

	sess.Cancel()
	sess.Cancel()
	r.speaker.Cancel()
	r.h.Flush()

	require.Len(t, r.outcomes, 1)
	assert.Equal(t, Aborted, r.outcomes[0].Status)
	assert.NoError(t, r.outcomes[0].Err)
	assert.Error(t, r.engine.ctxs[0].Err(), "in-flight playback cancelled")
	r.assertAtRest(t)

	// A late completion from the cancelled utterance changes nothing.
	r.engine.finish(0, context.Canceled)
	r.h.Flush()
	assert.Len(t, r.outcomes, 1)
}

func TestSpeaker_CancelThenImmediateStart(t *testing.T) {
	r := newRig(t, defaultVoices(), 10)
	old := r.start(t, "Old text. More old text.", "")
	r.h.Advance(4 * time.Second)

	r.states = nil
	r.speaker.Cancel()
	fresh := r.start(t, "New text.", "")

	assert.NotEqual(t, old.ID, fresh.ID)
	assert.Equal(t, Active, fresh.Status())
	assert.Equal(t, []animation.State{animation.Idle, animation.TalkingA}, r.states)
	assert.Equal(t, []string{"Old text.", "New text."}, r.engine.texts())

	// The cancelled session's engine callback must not advance the new one.
	r.engine.finish(0, nil)
	r.h.Advance(time.Second)
	assert.Equal(t, 0, fresh.Current())
	assert.Len(t, r.engine.calls, 2)

	r.engine.finish(1, nil)
	r.h.Flush()
	require.Len(t, r.outcomes, 2)
	assert.Equal(t, Aborted, r.outcomes[0].Status)
	assert.Equal(t, Completed, r.outcomes[1].Status)
}

func TestSpeaker_CancelDuringPauseLeavesNoTimers(t *testing.T) {
	r := newRig(t, defaultVoices(), 10)
	r.start(t, "A. B.", "")
	r.engine.finish(0, nil)
	r.h.Flush()

	r.speaker.Cancel()
	r.h.Advance(time.Second)

	assert.Len(t, r.engine.calls, 1)
	assert.Equal(t, 0, r.h.Clock.Pending())
	r.assertAtRest(t)
}

func TestSpeaker_CancelDuringVoiceAcquisition(t *testing.T) {
	r := newRig(t, voice.StaticSource{}, 10)
	r.start(t, "Hello.", "")
	r.h.Advance(300 * time.Millisecond)

	r.speaker.Cancel()
	r.h.Advance(10 * time.Second)

	require.Len(t, r.outcomes, 1)
	assert.Equal(t, Aborted, r.outcomes[0].Status)
	assert.NoError(t, r.outcomes[0].Err)
	assert.Equal(t, 0, r.h.Clock.Pending())
}

func TestSpeaker_DoubleCompletionReportsOnce(t *testing.T) {
	r := newRig(t, defaultVoices(), 10)
	r.start(t, "Once.", "")

	r.engine.finish(0, nil)
	r.engine.finish(0, nil)
	r.h.Flush()

	assert.Len(t, r.outcomes, 1)
}

func TestSpeaker_AudioMode(t *testing.T) {
	r := newRig(t, voice.StaticSource{}, 1)

	sess, ok, err := r.speaker.StartAudio("Pre-rendered reply. Two sentences.", Audio{Data: []byte("mp3"), Format: "mp3"},
		func(o Outcome) { r.outcomes = append(r.outcomes, o) })
	require.NoError(t, err)
	require.True(t, ok)
	r.h.Flush()

	assert.Equal(t, ModeAudio, sess.Mode)
	assert.Len(t, r.player.audio, 1)
	assert.Empty(t, r.engine.calls, "audio mode bypasses the speech engine")
	assert.Equal(t, animation.TalkingA, r.machine.State())
	assert.True(t, r.morphs.Jittering())

	_, ok = r.speaker.Start("ignored", "", nil)
	assert.False(t, ok)

	r.player.dones[0](nil)
	r.h.Flush()

	require.Len(t, r.outcomes, 1)
	assert.Equal(t, Completed, r.outcomes[0].Status)
	assert.Equal(t, ModeAudio, r.outcomes[0].Mode)
	assert.Equal(t, 1, r.outcomes[0].Spoken)
	r.assertAtRest(t)
}

func TestSpeaker_AudioWithoutPlayer(t *testing.T) {
	h := looptest.New()
	s := NewSpeaker(h.Loop, Deps{}, DefaultConfig(), zerolog.Nop())

	_, ok, err := s.StartAudio("x", Audio{}, nil)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNoAudioPlayer)
	assert.False(t, s.Speaking())
}

func TestSpeaker_PublishesLifecycleEvents(t *testing.T) {
	r := newRig(t, defaultVoices(), 10)
	eventBus := bus.NewEventBus()
	r.speaker.deps.Bus = eventBus

	events := make(chan bus.Event, 16)
	eventBus.SubscribeAll(func(e bus.Event) { events <- e })

	r.start(t, "Hi.", "")
	r.engine.finish(0, nil)
	r.h.Flush()

	seen := map[bus.EventType]bool{}
	require.Eventually(t, func() bool {
		for {
			select {
			case e := <-events:
				seen[e.Type] = true
			default:
				return seen[bus.EventTypeSessionStarted] && seen[bus.EventTypeSpeakingStarted] &&
					seen[bus.EventTypeSentenceEnded] && seen[bus.EventTypeSessionCompleted]
			}
		}
	}, time.Second, 10*time.Millisecond)
}
