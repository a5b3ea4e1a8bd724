// Package chat produces conversational replies for the avatar to speak.
package chat

import (
	"context"
	"errors"
)

// Common errors
var (
	ErrEmptyMessage = errors.New("message cannot be empty")
	ErrEmptyReply   = errors.New("model returned an empty reply")
)

// Mode says how a reply should be voiced.
type Mode string

const (
	// ModePlatformTTS asks the avatar to speak the text with its own engine.
	ModePlatformTTS Mode = "platform_tts"
	// ModeAudio carries pre-rendered audio.
	ModeAudio Mode = "audio"
)

// Reply is the assistant's answer to one message.
type Reply struct {
	Text   string `json:"text"`
	Mode   Mode   `json:"mode"`
	Audio  []byte `json:"-"`
	Format string `json:"format,omitempty"`
}

// Client sends a user's message and returns the reply.
type Client interface {
	Send(ctx context.Context, userID, message string) (*Reply, error)
}

// DefaultUserID is used when a request names no user.
const DefaultUserID = "default"

func userOrDefault(userID string) string {
	if userID == "" {
		return DefaultUserID
	}
	return userID
}
