package speech

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/loop"
	"github.com/normanking/talkingavatar/internal/metrics"
	"github.com/normanking/talkingavatar/internal/sentence"
	"github.com/normanking/talkingavatar/internal/voice"
)

// ErrNoAudioPlayer is returned by StartAudio when no player is configured.
var ErrNoAudioPlayer = errors.New("no audio player configured")

// VoiceResolver acquires a voice, calling done once on the loop.
type VoiceResolver interface {
	Acquire(preferred string, done func(voice.Profile, error)) (cancel func())
}

// Animator is the gross animation state machine.
type Animator interface {
	EnterTalking()
	ExitTalking()
}

// Mouth gates mouth motion.
type Mouth interface {
	SetTalking(talking bool)
}

// Config tunes session pacing.
type Config struct {
	SentencePause time.Duration
}

// DefaultConfig pauses 100ms between sentences.
func DefaultConfig() Config {
	return Config{SentencePause: 100 * time.Millisecond}
}

// Deps are the collaborators a Speaker drives.
type Deps struct {
	Voices   VoiceResolver
	Engine   Engine
	Player   AudioPlayer
	Animator Animator
	Mouth    Mouth
	Bus      *bus.EventBus
}

// Speaker runs at most one session at a time. All methods must be called on
// the loop.
type Speaker struct {
	loop   *loop.Loop
	deps   Deps
	cfg    Config
	logger zerolog.Logger

	active *Session
}

// NewSpeaker creates a speaker.
func NewSpeaker(l *loop.Loop, deps Deps, cfg Config, logger zerolog.Logger) *Speaker {
	return &Speaker{
		loop:   l,
		deps:   deps,
		cfg:    cfg,
		logger: logger.With().Str("component", "speech").Logger(),
	}
}

// Speaking reports whether a session is active.
func (s *Speaker) Speaking() bool {
	return s.active != nil
}

// Active returns the active session, or nil.
func (s *Speaker) Active() *Session {
	return s.active
}

// Start begins speaking text. If a session is already active the request is
// ignored and ok is false. onDone runs exactly once for accepted sessions,
// possibly before Start returns.
func (s *Speaker) Start(text, voiceHint string, onDone func(Outcome)) (*Session, bool) {
	sess, ok := s.open(ModeSpeech, text, onDone)
	if !ok {
		return nil, false
	}

	sess.dispatch = func(ctx context.Context, u sentence.Unit, done func(error)) {
		s.deps.Engine.Speak(ctx, Utterance{Text: u.Text, Ordinal: u.Ordinal, Voice: sess.Voice}, done)
	}

	sess.cancelVoice = s.deps.Voices.Acquire(voiceHint, func(p voice.Profile, err error) {
		if sess.status != Active {
			return
		}
		sess.cancelVoice = nil
		if err != nil {
			s.finish(sess, Aborted, err)
			return
		}
		sess.Voice = p
		sess.Units = sentence.Split(text)
		s.logger.Debug().
			Str("session", sess.ID).
			Str("voice", p.Name).
			Int("sentences", len(sess.Units)).
			Str("text", sentence.Join(sess.Units)).
			Msg("Text split")
		s.advance(sess)
	})

	return sess, true
}

// StartAudio plays pre-rendered audio as a single-unit session with no voice
// resolution or splitting. text is what the audio says.
func (s *Speaker) StartAudio(text string, audio Audio, onDone func(Outcome)) (*Session, bool, error) {
	if s.deps.Player == nil {
		return nil, false, ErrNoAudioPlayer
	}

	sess, ok := s.open(ModeAudio, text, onDone)
	if !ok {
		return nil, false, nil
	}

	sess.Units = []sentence.Unit{{Text: text, Ordinal: 0}}
	sess.dispatch = func(ctx context.Context, _ sentence.Unit, done func(error)) {
		s.deps.Player.Play(ctx, audio, done)
	}
	s.advance(sess)

	return sess, true, nil
}

// Cancel aborts the active session, if any.
func (s *Speaker) Cancel() {
	if s.active != nil {
		s.finish(s.active, Aborted, nil)
	}
}

// Shutdown aborts the active session.
func (s *Speaker) Shutdown() {
	s.Cancel()
}

func (s *Speaker) open(mode Mode, text string, onDone func(Outcome)) (*Session, bool) {
	if s.active != nil {
		metrics.DuplicateRequests.Inc()
		s.logger.Debug().Str("active", s.active.ID).Msg("Speech request ignored, session active")
		s.publish(bus.EventTypeSessionRejected, map[string]any{"active_session": s.active.ID})
		return nil, false
	}

	sess := &Session{
		ID:      uuid.NewString(),
		Mode:    mode,
		Text:    text,
		Started: s.loop.Now(),
		speaker: s,
		status:  Active,
		onDone:  onDone,
	}
	s.active = sess

	metrics.ActiveSessions.Inc()
	s.logger.Info().
		Str("session", sess.ID).
		Str("mode", string(mode)).
		Int("textLen", len(text)).
		Msg("Speech session started")
	s.publish(bus.EventTypeSessionStarted, map[string]any{"session_id": sess.ID, "mode": string(mode)})

	return sess, true
}

// advance plays the unit at the cursor, or completes the session when none
// remain.
func (s *Speaker) advance(sess *Session) {
	if sess.status != Active {
		return
	}
	if sess.current >= len(sess.Units) {
		s.finish(sess, Completed, nil)
		return
	}

	unit := sess.Units[sess.current]

	s.deps.Animator.EnterTalking()
	s.deps.Mouth.SetTalking(true)

	if sess.current == 0 {
		s.publish(bus.EventTypeSpeakingStarted, map[string]any{"session_id": sess.ID})
	}
	s.publish(bus.EventTypeSentenceStarted, map[string]any{
		"session_id": sess.ID,
		"ordinal":    unit.Ordinal,
		"text":       unit.Text,
	})

	ctx, cancel := context.WithCancel(context.Background())
	sess.cancelUnit = cancel
	sess.token++
	token := sess.token

	sess.dispatch(ctx, unit, func(err error) {
		s.loop.Post(func() { s.unitDone(sess, token, err) })
	})
}

func (s *Speaker) unitDone(sess *Session, token int, err error) {
	if sess.status != Active || token != sess.token {
		return
	}
	sess.cancelUnit()
	sess.cancelUnit = nil

	unit := sess.Units[sess.current]
	if err != nil {
		s.finish(sess, Aborted, &EngineError{Ordinal: unit.Ordinal, Err: err})
		return
	}

	metrics.SentencesSpoken.Inc()
	s.publish(bus.EventTypeSentenceEnded, map[string]any{"session_id": sess.ID, "ordinal": unit.Ordinal})

	sess.current++
	if sess.current >= len(sess.Units) {
		s.finish(sess, Completed, nil)
		return
	}

	sess.pause = s.loop.AfterFunc(s.cfg.SentencePause, func() {
		sess.pause = nil
		s.advance(sess)
	})
}

// finish ends the session and runs cleanup unconditionally. Later calls for
// the same session do nothing.
func (s *Speaker) finish(sess *Session, status Status, err error) {
	if sess.status != Active {
		return
	}
	sess.status = status

	if sess.cancelVoice != nil {
		sess.cancelVoice()
		sess.cancelVoice = nil
	}
	sess.pause.Stop()
	sess.pause = nil
	if sess.cancelUnit != nil {
		sess.cancelUnit()
		sess.cancelUnit = nil
	}

	s.deps.Mouth.SetTalking(false)
	s.deps.Animator.ExitTalking()

	if s.active == sess {
		s.active = nil
	}

	outcome := Outcome{
		SessionID: sess.ID,
		Mode:      sess.Mode,
		Status:    status,
		Err:       err,
		Spoken:    sess.current,
		Total:     len(sess.Units),
		Duration:  s.loop.Now().Sub(sess.Started),
	}

	metrics.ActiveSessions.Dec()
	metrics.SessionsTotal.WithLabelValues(status.String()).Inc()
	metrics.SessionDuration.Observe(outcome.Duration.Seconds())

	event := s.logger.Info()
	if outcome.Failed() {
		event = s.logger.Warn().Err(err)
	}
	event.
		Str("session", sess.ID).
		Str("status", status.String()).
		Int("spoken", outcome.Spoken).
		Int("total", outcome.Total).
		Dur("duration", outcome.Duration).
		Msg("Speech session ended")

	data := map[string]any{
		"session_id": sess.ID,
		"status":     status.String(),
		"spoken":     outcome.Spoken,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	s.publish(bus.EventTypeSpeakingStopped, map[string]any{"session_id": sess.ID})
	s.publish(bus.EventTypeSessionCompleted, data)

	if sess.onDone != nil {
		sess.onDone(outcome)
	}
}

func (s *Speaker) publish(t bus.EventType, data map[string]any) {
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(bus.Event{Type: t, Data: data})
	}
}
