package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/normanking/talkingavatar/internal/resilience"
	"github.com/normanking/talkingavatar/internal/tts"
)

func TestHistory_TrimsAndExpires(t *testing.T) {
	h := NewHistory(HistoryConfig{MaxExchanges: 2, InactivityTimeout: time.Minute})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	h.Add("u1", "First", "Response 1")
	h.Add("u1", "Second", "Response 2")
	h.Add("u1", "Third", "Response 3")
	h.Add("u2", "Other", "Reply")

	got := h.Exchanges("u1")
	require.Len(t, got, 2)
	assert.Equal(t, "Second", got[0].UserText)
	assert.Equal(t, "Third", got[1].UserText)
	assert.Equal(t, 2, h.Users())

	now = now.Add(2 * time.Minute)
	assert.Empty(t, h.Exchanges("u1"))
	assert.Equal(t, 0, h.Users())

	h.Add("u1", "Back again", "Welcome back")
	assert.Len(t, h.Exchanges("u1"), 1)

	h.Clear("u1")
	assert.Empty(t, h.Exchanges("u1"))
}

func TestNewHistory_InvalidConfig(t *testing.T) {
	h := NewHistory(HistoryConfig{})
	assert.Equal(t, DefaultHistoryConfig(), h.config)
}

type fakeGenerator struct {
	calls  [][]*genai.Content
	config *genai.GenerateContentConfig
	model  string
	reply  string
	err    error
}

func (g *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	g.calls = append(g.calls, contents)
	g.config = config
	g.model = model
	if g.err != nil {
		return nil, g.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(g.reply, genai.RoleModel)}},
	}, nil
}

type fakeSynth struct {
	audio *tts.Audio
	err   error
	texts []string
}

func (s *fakeSynth) Name() string { return "fake" }

func (s *fakeSynth) Synthesize(ctx context.Context, text string) (*tts.Audio, error) {
	s.texts = append(s.texts, text)
	return s.audio, s.err
}

func TestGeminiClient_SendCarriesHistory(t *testing.T) {
	gen := &fakeGenerator{reply: "  You've got this.  "}
	client := NewGeminiClientWithGenerator(gen, DefaultGeminiConfig(), nil, nil, zerolog.Nop())
	ctx := context.Background()

	reply, err := client.Send(ctx, "", "I had a rough day")
	require.NoError(t, err)
	assert.Equal(t, "You've got this.", reply.Text)
	assert.Equal(t, ModePlatformTTS, reply.Mode)
	assert.Nil(t, reply.Audio)

	_, err = client.Send(ctx, "", "Thanks")
	require.NoError(t, err)

	require.Len(t, gen.calls, 2)
	second := gen.calls[1]
	require.Len(t, second, 3)
	assert.Equal(t, string(genai.RoleUser), second[0].Role)
	assert.Equal(t, "I had a rough day", second[0].Parts[0].Text)
	assert.Equal(t, string(genai.RoleModel), second[1].Role)
	assert.Equal(t, "Thanks", second[2].Parts[0].Text)

	assert.Equal(t, "gemini-2.0-flash", gen.model)
	require.NotNil(t, gen.config.SystemInstruction)
	assert.Contains(t, gen.config.SystemInstruction.Parts[0].Text, "therapist")
	assert.Equal(t, float32(0), *gen.config.Temperature)
	assert.Len(t, gen.config.SafetySettings, 4)
	assert.Len(t, client.History().Exchanges(DefaultUserID), 2)
}

func TestGeminiClient_SynthesisAndFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("audio reply", func(t *testing.T) {
		synth := &fakeSynth{audio: &tts.Audio{Data: []byte("mp3"), Format: "mp3"}}
		client := NewGeminiClientWithGenerator(&fakeGenerator{reply: "Hello."}, GeminiConfig{}, nil, synth, zerolog.Nop())

		reply, err := client.Send(ctx, "u", "hi")
		require.NoError(t, err)
		assert.Equal(t, ModeAudio, reply.Mode)
		assert.Equal(t, []byte("mp3"), reply.Audio)
		assert.Equal(t, []string{"Hello."}, synth.texts)
	})

	t.Run("synthesis failure falls back", func(t *testing.T) {
		synth := &fakeSynth{err: errors.New("quota")}
		client := NewGeminiClientWithGenerator(&fakeGenerator{reply: "Hello."}, GeminiConfig{}, nil, synth, zerolog.Nop())

		reply, err := client.Send(ctx, "u", "hi")
		require.NoError(t, err)
		assert.Equal(t, ModePlatformTTS, reply.Mode)
		assert.Equal(t, "Hello.", reply.Text)
	})
}

func TestGeminiClient_Errors(t *testing.T) {
	ctx := context.Background()

	client := NewGeminiClientWithGenerator(&fakeGenerator{}, GeminiConfig{}, nil, nil, zerolog.Nop())
	_, err := client.Send(ctx, "u", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = client.Send(ctx, "u", "hi")
	assert.ErrorIs(t, err, ErrEmptyReply)
	assert.Empty(t, client.History().Exchanges("u"), "failed turns are not remembered")

	boom := errors.New("unavailable")
	client = NewGeminiClientWithGenerator(&fakeGenerator{err: boom}, GeminiConfig{}, nil, nil, zerolog.Nop())
	_, err = client.Send(ctx, "u", "hi")
	assert.ErrorIs(t, err, boom)
}

func TestNewGeminiClient_RequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), GeminiConfig{}, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}
}

func TestBackendClient_Send(t *testing.T) {
	tests := []struct {
		name     string
		response backendResponse
		wantMode Mode
		wantData []byte
	}{
		{
			name:     "audio blob",
			response: backendResponse{Response: "Stay strong.", AudioBlob: base64.StdEncoding.EncodeToString([]byte("mp3data"))},
			wantMode: ModeAudio,
			wantData: []byte("mp3data"),
		},
		{
			name:     "browser tts",
			response: backendResponse{Response: "Stay strong.", UseBrowserTTS: true},
			wantMode: ModePlatformTTS,
		},
		{
			name:     "bad blob",
			response: backendResponse{Response: "Stay strong.", AudioBlob: "***"},
			wantMode: ModePlatformTTS,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got backendRequest
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				json.NewEncoder(w).Encode(tt.response)
			}))
			defer server.Close()

			client := NewBackendClient(BackendConfig{URL: server.URL, Retry: fastRetry()}, zerolog.Nop())
			reply, err := client.Send(context.Background(), "", "hello")
			require.NoError(t, err)

			assert.Equal(t, backendRequest{Message: "hello", UserID: DefaultUserID}, got)
			assert.Equal(t, "Stay strong.", reply.Text)
			assert.Equal(t, tt.wantMode, reply.Mode)
			assert.Equal(t, tt.wantData, reply.Audio)
		})
	}
}

func TestBackendClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(backendResponse{Error: "Internal Server Error"})
			return
		}
		json.NewEncoder(w).Encode(backendResponse{Response: "Third time lucky."})
	}))
	defer server.Close()

	client := NewBackendClient(BackendConfig{URL: server.URL, Retry: fastRetry()}, zerolog.Nop())
	reply, err := client.Send(context.Background(), "u", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Third time lucky.", reply.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestBackendClient_Failures(t *testing.T) {
	var calls atomic.Int32
	badRequest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(backendResponse{Error: "Message cannot be empty"})
	}))
	defer badRequest.Close()

	client := NewBackendClient(BackendConfig{URL: badRequest.URL, Retry: fastRetry()}, zerolog.Nop())
	_, err := client.Send(context.Background(), "u", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Message cannot be empty")
	assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	client = NewBackendClient(BackendConfig{URL: down.URL, Retry: fastRetry()}, zerolog.Nop())
	_, err = client.Send(context.Background(), "u", "hello")
	assert.ErrorIs(t, err, resilience.ErrExhausted)

	_, err = client.Send(context.Background(), "u", "")
	assert.ErrorIs(t, err, ErrEmptyMessage)
}
