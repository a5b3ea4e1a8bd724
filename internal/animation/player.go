// Package animation owns the avatar's gross animation state and the clip
// timeline that plays it.
package animation

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/normanking/talkingavatar/internal/loop"
	"github.com/normanking/talkingavatar/internal/scene"
)

// Player plays one clip at a time.
type Player interface {
	// Play stops whatever is playing and starts clip, fading in over blend.
	// onEnd is called on natural completion of a non-looping clip. It returns
	// false if the clip does not exist.
	Play(clip string, loop bool, blend time.Duration, onEnd func()) bool
	// Stop halts the current clip without signalling completion.
	Stop()
}

// ClipPlayer is a virtual timeline. It tracks which clip is playing and
// signals completion after the clip's duration; the renderer mirrors it.
type ClipPlayer struct {
	loop  *loop.Loop
	clips map[string]scene.Clip

	current  string
	looping  bool
	started  time.Time
	blend    time.Duration
	endTimer *loop.Timer
}

// NewClipPlayer creates a player over the avatar's clips.
func NewClipPlayer(l *loop.Loop, avatar *scene.Avatar) *ClipPlayer {
	return &ClipPlayer{loop: l, clips: avatar.Clips}
}

// Play implements Player.
func (p *ClipPlayer) Play(name string, looping bool, blend time.Duration, onEnd func()) bool {
	p.Stop()

	clip, ok := p.clips[name]
	if !ok {
		return false
	}

	p.current = name
	p.looping = looping
	p.started = p.loop.Now()
	p.blend = blend

	if !looping && onEnd != nil {
		p.endTimer = p.loop.AfterFunc(clip.Duration, func() {
			p.endTimer = nil
			p.current = ""
			onEnd()
		})
	}
	return true
}

// Stop implements Player.
func (p *ClipPlayer) Stop() {
	p.endTimer.Stop()
	p.endTimer = nil
	p.current = ""
}

// Current returns the playing clip, or "".
func (p *ClipPlayer) Current() string {
	return p.current
}

// Looping reports whether the current clip loops.
func (p *ClipPlayer) Looping() bool {
	return p.current != "" && p.looping
}

// Weight is the current clip's fade-in progress in [0,1].
func (p *ClipPlayer) Weight() float32 {
	if p.current == "" {
		return 0
	}
	if p.blend <= 0 {
		return 1
	}
	elapsed := p.loop.Now().Sub(p.started)
	return mgl32.Clamp(float32(elapsed)/float32(p.blend), 0, 1)
}

// Elapsed is the time since the current clip started.
func (p *ClipPlayer) Elapsed() time.Duration {
	if p.current == "" {
		return 0
	}
	return p.loop.Now().Sub(p.started)
}
