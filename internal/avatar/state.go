package avatar

import (
	"time"

	"github.com/normanking/talkingavatar/internal/speech"
)

// State is a point-in-time view of the avatar, as streamed to renderers.
type State struct {
	Animation string  `json:"animation"`
	Clip      string  `json:"clip"`
	Weight    float32 `json:"weight"`
	// ClipTime is milliseconds since the clip started, for renderers that
	// join mid-clip.
	ClipTime int64 `json:"clipTime"`

	IsSpeaking bool   `json:"isSpeaking"`
	SessionID  string `json:"sessionId,omitempty"`
	Mode       string `json:"mode,omitempty"`
	Sentence   int    `json:"sentence"`
	Sentences  int    `json:"sentences"`
	Text       string `json:"text,omitempty"`

	Voice    string `json:"voice,omitempty"`
	Blinking bool   `json:"blinking"`

	// Morphs maps mesh name to channel influences.
	Morphs map[string]map[string]float32 `json:"morphs"`

	LastOutcome *speech.Outcome `json:"lastOutcome,omitempty"`
	Time        time.Time       `json:"time"`
}

// snapshot must run on the loop.
func (c *Controller) snapshot() State {
	st := State{
		Animation: c.machine.State().String(),
		Clip:      c.clips.Current(),
		Weight:    c.clips.Weight(),
		ClipTime:  c.clips.Elapsed().Milliseconds(),
		Voice:     c.voice,
		Blinking:  c.morphs.Blinking(),
		Morphs:    c.rig.Snapshot(),
		Time:      c.loop.Now(),
	}

	if sess := c.speaker.Active(); sess != nil {
		st.IsSpeaking = true
		st.SessionID = sess.ID
		st.Mode = string(sess.Mode)
		st.Sentence = sess.Current()
		st.Sentences = len(sess.Units)
		if st.Sentence < len(sess.Units) {
			st.Text = sess.Units[st.Sentence].Text
		}
	}

	if c.last != nil {
		o := *c.last
		st.LastOutcome = &o
	}
	return st
}
