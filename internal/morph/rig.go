// Package morph drives blend-shape influences on the avatar's meshes: blink
// pulses, mouth jitter while talking, and a resting smile bias.
package morph

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/normanking/talkingavatar/internal/scene"
)

// Rig holds the influence of every morph channel on every mesh. It is owned by
// the event loop; readers take a Snapshot from the loop.
type Rig struct {
	meshes  []string
	weights map[string]map[string]float32
}

// NewRig builds a rig with all channels at 0.
func NewRig(avatar *scene.Avatar) *Rig {
	r := &Rig{weights: make(map[string]map[string]float32)}
	for _, m := range avatar.Meshes {
		if _, dup := r.weights[m.Name]; dup {
			continue
		}
		channels := make(map[string]float32, len(m.Targets))
		for _, t := range m.Targets {
			channels[t] = 0
		}
		r.meshes = append(r.meshes, m.Name)
		r.weights[m.Name] = channels
	}
	return r
}

// Has reports whether mesh exposes channel.
func (r *Rig) Has(mesh, channel string) bool {
	_, ok := r.weights[mesh][channel]
	return ok
}

// Set assigns an influence clamped to [0,1]. It returns false when the
// channel does not exist.
func (r *Rig) Set(mesh, channel string, v float32) bool {
	channels, ok := r.weights[mesh]
	if !ok {
		return false
	}
	if _, ok := channels[channel]; !ok {
		return false
	}
	channels[channel] = mgl32.Clamp(v, 0, 1)
	return true
}

// Get returns a channel's influence.
func (r *Rig) Get(mesh, channel string) (float32, bool) {
	v, ok := r.weights[mesh][channel]
	return v, ok
}

// MeshesWith lists meshes exposing channel, in model order.
func (r *Rig) MeshesWith(channel string) []string {
	var out []string
	for _, m := range r.meshes {
		if r.Has(m, channel) {
			out = append(out, m)
		}
	}
	return out
}

// Zero resets every channel on every mesh.
func (r *Rig) Zero() {
	for _, channels := range r.weights {
		for name := range channels {
			channels[name] = 0
		}
	}
}

// Snapshot copies all non-empty meshes' influences.
func (r *Rig) Snapshot() map[string]map[string]float32 {
	out := make(map[string]map[string]float32, len(r.weights))
	for mesh, channels := range r.weights {
		if len(channels) == 0 {
			continue
		}
		c := make(map[string]float32, len(channels))
		for name, v := range channels {
			c[name] = v
		}
		out[mesh] = c
	}
	return out
}
