// Package voice resolves the speech voice used for a session from a platform
// voice list that may populate late.
package voice

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNoVoice means the voice list stayed empty for every attempt.
var ErrNoVoice = errors.New("no speech voice available")

// Profile is a resolved voice.
type Profile struct {
	Name    string `json:"name" yaml:"name"`
	Lang    string `json:"lang" yaml:"lang"`
	Default bool   `json:"default,omitempty" yaml:"default,omitempty"`
}

// Source reads the current voice list. An empty result means "not ready yet".
type Source interface {
	Voices() []Profile
}

// Refresher is a Source that can re-read its list on request.
type Refresher interface {
	Refresh()
}

// UnavailableError is returned when acquisition gives up.
type UnavailableError struct {
	Preferred string
	Attempts  int
	cause     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("voice unavailable after %d attempts (preferred %q)", e.Attempts, e.Preferred)
}

// Unwrap exposes ErrNoVoice and the retry exhaustion cause.
func (e *UnavailableError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrNoVoice}
	}
	return []error{ErrNoVoice, e.cause}
}

// Select picks a voice: exact name, then the first voice whose language
// matches a pattern such as "en-*", then the platform default, then the
// first voice.
func Select(voices []Profile, preferred string, langPatterns []string) (Profile, bool) {
	if len(voices) == 0 {
		return Profile{}, false
	}

	if preferred != "" {
		for _, v := range voices {
			if v.Name == preferred {
				return v, true
			}
		}
	}

	for _, pattern := range langPatterns {
		pattern = strings.ToLower(pattern)
		for _, v := range voices {
			if ok, _ := path.Match(pattern, strings.ToLower(v.Lang)); ok {
				return v, true
			}
		}
	}

	for _, v := range voices {
		if v.Default {
			return v, true
		}
	}

	return voices[0], true
}

// Allowed keeps the voices whose name contains one of names, ignoring case.
// An empty names list keeps every voice.
func Allowed(voices []Profile, names []string) []Profile {
	if len(names) == 0 {
		return voices
	}
	var out []Profile
	for _, v := range voices {
		lower := strings.ToLower(v.Name)
		for _, n := range names {
			if n != "" && strings.Contains(lower, strings.ToLower(n)) {
				out = append(out, v)
				break
			}
		}
	}
	return out
}

// StaticSource is a fixed voice list.
type StaticSource []Profile

// Voices implements Source.
func (s StaticSource) Voices() []Profile {
	out := make([]Profile, len(s))
	copy(out, s)
	return out
}

// SourceFunc adapts a function to Source.
type SourceFunc func() []Profile

// Voices implements Source.
func (f SourceFunc) Voices() []Profile {
	return f()
}
