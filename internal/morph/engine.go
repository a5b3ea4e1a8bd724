package morph

import (
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/loop"
	"github.com/normanking/talkingavatar/internal/scene"
)

// Config tunes the engine's timers and the channels it drives.
type Config struct {
	BlinkChannel string
	MouthChannel string
	SmileChannel string

	BlinkPeriod    time.Duration
	BlinkHold      time.Duration
	JitterInterval time.Duration
	JitterMax      float32
	SmileBias      float32

	// SpeakingMeshes receive mouth jitter.
	SpeakingMeshes []string
}

// DefaultConfig returns the standard timings for a Ready Player Me rig.
func DefaultConfig() Config {
	return Config{
		BlinkChannel:   scene.MorphEyesClosed,
		MouthChannel:   scene.MorphMouthOpen,
		SmileChannel:   scene.MorphMouthSmile,
		BlinkPeriod:    5 * time.Second,
		BlinkHold:      200 * time.Millisecond,
		JitterInterval: 100 * time.Millisecond,
		JitterMax:      0.8,
		SmileBias:      0.5,
		SpeakingMeshes: []string{scene.MeshHead, scene.MeshTeeth},
	}
}

// Engine runs blink and mouth-jitter timers over a Rig. All methods must be
// called on the loop.
type Engine struct {
	loop   *loop.Loop
	rig    *Rig
	cfg    Config
	rng    *rand.Rand
	logger zerolog.Logger

	blinkTimer  *loop.Timer
	holdTimer   *loop.Timer
	jitterTimer *loop.Timer
	talking     bool
	warnedMouth bool
}

// NewEngine creates an engine. A nil rng draws from a randomly seeded source.
func NewEngine(l *loop.Loop, rig *Rig, cfg Config, rng *rand.Rand, logger zerolog.Logger) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Engine{
		loop:   l,
		rig:    rig,
		cfg:    cfg,
		rng:    rng,
		logger: logger.With().Str("component", "morph").Logger(),
	}
}

// StartBlink begins periodic blinking. Calling it again restarts the cycle.
func (e *Engine) StartBlink() {
	e.StopBlink()

	meshes := e.rig.MeshesWith(e.cfg.BlinkChannel)
	if len(meshes) == 0 {
		e.logger.Warn().Str("channel", e.cfg.BlinkChannel).Msg("Blink channel missing, blinking disabled")
		return
	}

	e.blinkTimer = e.loop.Every(e.cfg.BlinkPeriod, func() {
		e.holdTimer.Stop()
		e.setAll(meshes, e.cfg.BlinkChannel, 1)
		e.holdTimer = e.loop.AfterFunc(e.cfg.BlinkHold, func() {
			e.setAll(meshes, e.cfg.BlinkChannel, 0)
		})
	})

	e.logger.Debug().
		Strs("meshes", meshes).
		Dur("period", e.cfg.BlinkPeriod).
		Msg("Blink started")
}

// StopBlink cancels blinking and opens the eyes.
func (e *Engine) StopBlink() {
	e.blinkTimer.Stop()
	e.holdTimer.Stop()
	e.blinkTimer, e.holdTimer = nil, nil
	e.setAll(e.rig.MeshesWith(e.cfg.BlinkChannel), e.cfg.BlinkChannel, 0)
}

// Blinking reports whether the blink cycle is running.
func (e *Engine) Blinking() bool {
	return e.blinkTimer.Active()
}

// SetTalking gates mouth jitter. Turning it off stops the timer and closes
// every speaking mesh's mouth before returning.
func (e *Engine) SetTalking(talking bool) {
	e.talking = talking
	if !talking {
		e.jitterTimer.Stop()
		e.jitterTimer = nil
		e.setAll(e.mouthMeshes(false), e.cfg.MouthChannel, 0)
		return
	}

	if e.jitterTimer.Active() {
		return
	}

	meshes := e.mouthMeshes(!e.warnedMouth)
	if len(meshes) < len(e.cfg.SpeakingMeshes) && !e.warnedMouth {
		e.warnedMouth = true
		if len(meshes) == 0 {
			e.logger.Warn().Str("channel", e.cfg.MouthChannel).Msg("No speaking mesh has a mouth channel, jitter disabled")
		}
	}
	if len(meshes) == 0 {
		return
	}

	e.jitterTimer = e.loop.Every(e.cfg.JitterInterval, func() {
		for _, m := range meshes {
			e.rig.Set(m, e.cfg.MouthChannel, e.rng.Float32()*e.cfg.JitterMax)
		}
	})
}

// Talking reports the current gate value.
func (e *Engine) Talking() bool {
	return e.talking
}

// Jittering reports whether the mouth timer is live.
func (e *Engine) Jittering() bool {
	return e.jitterTimer.Active()
}

// ApplySmileBias sets the resting smile on every mesh that supports it.
func (e *Engine) ApplySmileBias() {
	meshes := e.rig.MeshesWith(e.cfg.SmileChannel)
	if len(meshes) == 0 {
		e.logger.Warn().Str("channel", e.cfg.SmileChannel).Msg("Smile channel missing, bias skipped")
		return
	}
	e.setAll(meshes, e.cfg.SmileChannel, e.cfg.SmileBias)
}

// Reset stops every timer and zeroes the whole rig.
func (e *Engine) Reset() {
	e.StopBlink()
	e.SetTalking(false)
	e.rig.Zero()
}

// mouthMeshes returns the speaking meshes that expose the mouth channel,
// optionally warning about each one that does not.
func (e *Engine) mouthMeshes(warn bool) []string {
	var out []string
	for _, m := range e.cfg.SpeakingMeshes {
		if e.rig.Has(m, e.cfg.MouthChannel) {
			out = append(out, m)
			continue
		}
		if warn {
			e.logger.Warn().
				Str("mesh", m).
				Str("channel", e.cfg.MouthChannel).
				Msg("Mouth channel missing on speaking mesh")
		}
	}
	return out
}

func (e *Engine) setAll(meshes []string, channel string, v float32) {
	for _, m := range meshes {
		e.rig.Set(m, channel, v)
	}
}
