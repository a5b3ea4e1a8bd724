package speech

import (
	"context"
	"fmt"
	"time"

	"github.com/normanking/talkingavatar/internal/loop"
	"github.com/normanking/talkingavatar/internal/sentence"
	"github.com/normanking/talkingavatar/internal/voice"
)

// Status is a session's lifecycle stage.
type Status int

const (
	Active Status = iota
	Completed
	Aborted
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Mode says how a session produces sound.
type Mode string

const (
	// ModeSpeech synthesizes each sentence with a playback engine.
	ModeSpeech Mode = "speech"
	// ModeAudio plays one pre-rendered clip.
	ModeAudio Mode = "audio"
)

// EngineError reports a playback failure partway through a session.
type EngineError struct {
	Ordinal int
	Err     error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("playback failed at sentence %d: %v", e.Ordinal, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Outcome is delivered once when a session ends. A cancelled session is
// Aborted with a nil Err; failures carry a *voice.UnavailableError or an
// *EngineError.
type Outcome struct {
	SessionID string        `json:"session_id"`
	Mode      Mode          `json:"mode"`
	Status    Status        `json:"status"`
	Err       error         `json:"-"`
	Spoken    int           `json:"spoken"`
	Total     int           `json:"total"`
	Duration  time.Duration `json:"duration"`
}

// Failed reports whether the session ended with an error.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Session is one accepted speech request. Its fields are owned by the loop.
type Session struct {
	ID      string
	Mode    Mode
	Text    string
	Units   []sentence.Unit
	Voice   voice.Profile
	Started time.Time

	speaker *Speaker
	status  Status
	current int
	token   int
	onDone  func(Outcome)

	dispatch    func(ctx context.Context, u sentence.Unit, done func(error))
	cancelVoice func()
	cancelUnit  context.CancelFunc
	pause       *loop.Timer
}

// Status returns the lifecycle stage.
func (s *Session) Status() Status {
	return s.status
}

// Current is the index of the unit being played; it only moves forward.
func (s *Session) Current() int {
	return s.current
}

// Cancel aborts the session. It is a no-op once the session has ended.
func (s *Session) Cancel() {
	s.speaker.finish(s, Aborted, nil)
}
