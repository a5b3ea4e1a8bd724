package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	ElevenLabsAPIEndpoint  = "https://api.elevenlabs.io/v1"
	ElevenLabsDefaultVoice = "GBv7mTt0atIp3Br8iCZE"
	ElevenLabsDefaultModel = "eleven_multilingual_v2"
)

// ElevenLabsProvider synthesizes speech with the ElevenLabs REST API.
type ElevenLabsProvider struct {
	apiKey string
	logger zerolog.Logger
	config *ElevenLabsConfig
	client *http.Client
}

type ElevenLabsConfig struct {
	APIKey     string        `json:"api_key"`
	BaseURL    string        `json:"base_url"`
	VoiceID    string        `json:"voice_id"`
	ModelID    string        `json:"model_id"`
	Stability  float64       `json:"stability"`
	Similarity float64       `json:"similarity_boost"`
	Timeout    time.Duration `json:"timeout"`
}

func DefaultElevenLabsConfig() *ElevenLabsConfig {
	return &ElevenLabsConfig{
		BaseURL:    ElevenLabsAPIEndpoint,
		VoiceID:    ElevenLabsDefaultVoice,
		ModelID:    ElevenLabsDefaultModel,
		Stability:  0.5,
		Similarity: 0.75,
		Timeout:    30 * time.Second,
	}
}

// NewElevenLabsProvider creates a provider. When the config carries no key,
// ELEVEN_LABS_API_KEY and then ELEVENLABS_API_KEY are read from the
// environment.
func NewElevenLabsProvider(logger zerolog.Logger, config *ElevenLabsConfig) *ElevenLabsProvider {
	if config == nil {
		config = DefaultElevenLabsConfig()
	}
	defaults := DefaultElevenLabsConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.VoiceID == "" {
		config.VoiceID = defaults.VoiceID
	}
	if config.ModelID == "" {
		config.ModelID = defaults.ModelID
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ELEVEN_LABS_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("ELEVENLABS_API_KEY")
	}

	return &ElevenLabsProvider{
		apiKey: apiKey,
		logger: logger.With().Str("provider", "elevenlabs-tts").Logger(),
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

func (p *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

func (p *ElevenLabsProvider) IsAvailable() bool {
	return p.apiKey != ""
}

func (p *ElevenLabsProvider) SetAPIKey(key string) {
	p.apiKey = key
}

// Synthesize implements Synthesizer.
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text string) (*Audio, error) {
	if !p.IsAvailable() {
		return nil, fmt.Errorf("%w: ElevenLabs API key not set", ErrProviderUnavailable)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	startTime := time.Now()

	payload := map[string]any{
		"text":     text,
		"model_id": p.config.ModelID,
		"voice_settings": map[string]float64{
			"stability":        p.config.Stability,
			"similarity_boost": p.config.Similarity,
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", strings.TrimSuffix(p.config.BaseURL, "/"), p.config.VoiceID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", p.apiKey)
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Provider: "ElevenLabs", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	processingTime := time.Since(startTime)

	p.logger.Info().
		Str("voice", p.config.VoiceID).
		Int("audioBytes", len(audioData)).
		Dur("processingTime", processingTime).
		Msg("ElevenLabs TTS synthesis complete")

	return &Audio{
		Data:           audioData,
		Format:         "mp3",
		VoiceID:        p.config.VoiceID,
		Provider:       p.Name(),
		ProcessingTime: processingTime,
	}, nil
}
