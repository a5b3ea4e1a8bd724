package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewElevenLabsProvider(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("with default config", func(t *testing.T) {
		t.Setenv("ELEVEN_LABS_API_KEY", "")
		t.Setenv("ELEVENLABS_API_KEY", "")
		provider := NewElevenLabsProvider(logger, nil)

		assert.Equal(t, "elevenlabs", provider.Name())
		assert.Equal(t, ElevenLabsDefaultVoice, provider.config.VoiceID)
		assert.Equal(t, "eleven_multilingual_v2", provider.config.ModelID)
		assert.Equal(t, 0.5, provider.config.Stability)
		assert.Equal(t, 0.75, provider.config.Similarity)
		assert.False(t, provider.IsAvailable())
	})

	t.Run("key from environment", func(t *testing.T) {
		t.Setenv("ELEVEN_LABS_API_KEY", "env-key")
		provider := NewElevenLabsProvider(logger, &ElevenLabsConfig{VoiceID: "custom"})

		assert.True(t, provider.IsAvailable())
		assert.Equal(t, "custom", provider.config.VoiceID)
		assert.Equal(t, ElevenLabsDefaultModel, provider.config.ModelID)
	})
}

func TestElevenLabsProvider_Synthesize(t *testing.T) {
	var gotPath, gotKey, gotAccept string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		gotAccept = r.Header.Get("Accept")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3 audio bytes"))
	}))
	defer server.Close()

	provider := NewElevenLabsProvider(zerolog.Nop(), &ElevenLabsConfig{
		APIKey:     "secret",
		BaseURL:    server.URL + "/v1",
		Stability:  0.5,
		Similarity: 0.75,
	})

	audio, err := provider.Synthesize(context.Background(), "  You are doing great.  ")
	require.NoError(t, err)

	assert.Equal(t, "/v1/text-to-speech/"+ElevenLabsDefaultVoice, gotPath)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "audio/mpeg", gotAccept)
	assert.Equal(t, "You are doing great.", gotBody["text"])
	assert.Equal(t, map[string]any{"stability": 0.5, "similarity_boost": 0.75}, gotBody["voice_settings"])

	assert.Equal(t, []byte("ID3 audio bytes"), audio.Data)
	assert.Equal(t, "mp3", audio.Format)
	assert.Equal(t, "elevenlabs", audio.Provider)
}

func TestElevenLabsProvider_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"quota exceeded"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	tests := []struct {
		name    string
		apiKey  string
		text    string
		wantErr error
		wantAPI int
	}{
		{name: "no key", apiKey: "", text: "hi", wantErr: ErrProviderUnavailable},
		{name: "empty text", apiKey: "k", text: "   ", wantErr: ErrEmptyText},
		{name: "api error", apiKey: "k", text: "hi", wantAPI: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ELEVEN_LABS_API_KEY", "")
			t.Setenv("ELEVENLABS_API_KEY", "")
			provider := NewElevenLabsProvider(zerolog.Nop(), &ElevenLabsConfig{APIKey: tt.apiKey, BaseURL: server.URL})

			_, err := provider.Synthesize(context.Background(), tt.text)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantAPI != 0 {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, tt.wantAPI, apiErr.StatusCode)
				assert.Contains(t, apiErr.Body, "quota exceeded")
			}
		})
	}
}
