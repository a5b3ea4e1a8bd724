package animation

import (
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/loop"
	"github.com/normanking/talkingavatar/internal/metrics"
	"github.com/normanking/talkingavatar/internal/scene"
)

// State is the avatar's gross animation state.
type State int

const (
	Idle State = iota
	TalkingA
	TalkingB
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case TalkingA:
		return "talking_a"
	case TalkingB:
		return "talking_b"
	default:
		return "unknown"
	}
}

// Talking reports whether s is a talking variant.
func (s State) Talking() bool {
	return s == TalkingA || s == TalkingB
}

func (s State) other() State {
	if s == TalkingA {
		return TalkingB
	}
	return TalkingA
}

// Config names the clips and sets transition timing.
type Config struct {
	IdleClip     string
	TalkingAClip string
	TalkingBClip string

	Blend    time.Duration
	DwellMin time.Duration
	DwellMax time.Duration
}

// DefaultConfig returns the standard clip names and timings.
func DefaultConfig() Config {
	return Config{
		IdleClip:     scene.ClipIdle,
		TalkingAClip: scene.ClipTalkingOne,
		TalkingBClip: scene.ClipTalkingTwo,
		Blend:        100 * time.Millisecond,
		DwellMin:     1 * time.Second,
		DwellMax:     3 * time.Second,
	}
}

// Machine transitions between Idle and two alternating talking variants.
// All methods must be called on the loop.
type Machine struct {
	loop   *loop.Loop
	player Player
	cfg    Config
	rng    *rand.Rand
	logger zerolog.Logger

	state    State
	talking  bool
	dwell    *loop.Timer
	gen      uint64
	onChange func(State)
}

// NewMachine creates a machine in Idle. Call Start once assets are loaded.
func NewMachine(l *loop.Loop, player Player, cfg Config, rng *rand.Rand, logger zerolog.Logger) *Machine {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.DwellMax < cfg.DwellMin {
		cfg.DwellMax = cfg.DwellMin
	}
	return &Machine{
		loop:   l,
		player: player,
		cfg:    cfg,
		rng:    rng,
		logger: logger.With().Str("component", "animation").Logger(),
	}
}

// OnChange registers a callback invoked after every transition.
func (m *Machine) OnChange(fn func(State)) {
	m.onChange = fn
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// DwellPending reports whether a variant switch is scheduled.
func (m *Machine) DwellPending() bool {
	return m.dwell.Active()
}

// Start enters Idle and begins looping the idle clip.
func (m *Machine) Start() {
	m.transition(Idle)
}

// EnterTalking moves from Idle to the first talking variant. It is a no-op
// when already talking.
func (m *Machine) EnterTalking() {
	m.talking = true
	if m.state.Talking() {
		return
	}
	m.transition(TalkingA)
}

// ExitTalking drops any pending variant switch and returns to Idle.
func (m *Machine) ExitTalking() {
	m.talking = false
	m.dwell.Stop()
	m.dwell = nil
	if m.state != Idle {
		m.transition(Idle)
	}
}

// Reset stops everything and forces Idle without playing a clip.
func (m *Machine) Reset() {
	m.talking = false
	m.dwell.Stop()
	m.dwell = nil
	m.player.Stop()
	m.gen++
	m.state = Idle
}

func (m *Machine) clipFor(s State) string {
	switch s {
	case TalkingA:
		return m.cfg.TalkingAClip
	case TalkingB:
		return m.cfg.TalkingBClip
	default:
		return m.cfg.IdleClip
	}
}

func (m *Machine) transition(to State) {
	m.player.Stop()
	m.gen++
	gen := m.gen
	from := m.state
	m.state = to

	clip := m.clipFor(to)
	looping := to == Idle

	var onEnd func()
	if !looping {
		onEnd = func() { m.clipEnded(gen) }
	}

	if !m.player.Play(clip, looping, m.cfg.Blend, onEnd) {
		m.logger.Warn().Str("clip", clip).Str("state", to.String()).Msg("Animation clip missing")
	}

	metrics.AnimationTransitions.WithLabelValues(to.String()).Inc()
	m.logger.Debug().
		Str("from", from.String()).
		Str("to", to.String()).
		Str("clip", clip).
		Msg("Animation transition")

	if m.onChange != nil {
		m.onChange(to)
	}
}

// clipEnded schedules the switch to the other variant after a random dwell.
func (m *Machine) clipEnded(gen uint64) {
	if gen != m.gen || !m.talking || !m.state.Talking() {
		return
	}

	delay := m.dwellDelay()
	m.dwell.Stop()
	m.dwell = m.loop.AfterFunc(delay, func() {
		m.dwell = nil
		if !m.talking || !m.state.Talking() {
			return
		}
		m.transition(m.state.other())
	})
}

func (m *Machine) dwellDelay() time.Duration {
	span := m.cfg.DwellMax - m.cfg.DwellMin
	if span <= 0 {
		return m.cfg.DwellMin
	}
	return m.cfg.DwellMin + time.Duration(m.rng.Int64N(int64(span)+1))
}
