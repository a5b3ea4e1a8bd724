// Package tts provides cloud text-to-speech synthesis for pre-rendered
// replies.
package tts

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrProviderUnavailable = errors.New("TTS provider unavailable")
	ErrEmptyText           = errors.New("text is empty")
)

// Synthesizer turns text into encoded audio.
type Synthesizer interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize renders text in the provider's configured voice.
	Synthesize(ctx context.Context, text string) (*Audio, error)
}

// Audio is a synthesis result.
type Audio struct {
	Data           []byte        `json:"data"`
	Format         string        `json:"format"` // mp3
	VoiceID        string        `json:"voice_id"`
	Provider       string        `json:"provider"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// APIError is a non-200 response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}
