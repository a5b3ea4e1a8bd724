package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/normanking/talkingavatar/internal/metrics"
	"github.com/normanking/talkingavatar/internal/tts"
)

// DefaultSystemInstruction is the assistant persona.
const DefaultSystemInstruction = `You are Mike, a therapist chatbot whose primary goal is to comfort and motivate the user. ` +
	`Whenever the user shares negative feelings or bad news, respond with positivity, empathy, and encouragement. ` +
	`Always aim to uplift the user's mood and reassure them. Your responses must not exceed 200 words. ` +
	`If the user asks about topics unrelated to providing emotional support or therapy, you should politely refuse to answer. ` +
	`Stay within your role as a supportive, motivational therapist at all times.`

// Generator is the subset of *genai.Models the client uses.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey            string
	Model             string
	SystemInstruction string
	Temperature       float32
	TopP              float32
	TopK              float32
	MaxOutputTokens   int32
}

// DefaultGeminiConfig returns the persona and sampling settings.
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		Model:             "gemini-2.0-flash",
		SystemInstruction: DefaultSystemInstruction,
		Temperature:       0,
		TopP:              0.95,
		TopK:              64,
		MaxOutputTokens:   8192,
	}
}

// GeminiClient answers with a Gemini model, keeping history per user. When a
// synthesizer is set, replies carry audio; a synthesis failure downgrades the
// reply to platform TTS rather than failing it.
type GeminiClient struct {
	models  Generator
	config  GeminiConfig
	history *History
	synth   tts.Synthesizer
	logger  zerolog.Logger
}

// NewGeminiClient connects to the Gemini API.
func NewGeminiClient(ctx context.Context, config GeminiConfig, history *History, synth tts.Synthesizer, logger zerolog.Logger) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return NewGeminiClientWithGenerator(client.Models, config, history, synth, logger), nil
}

// NewGeminiClientWithGenerator builds a client over an existing generator.
func NewGeminiClientWithGenerator(models Generator, config GeminiConfig, history *History, synth tts.Synthesizer, logger zerolog.Logger) *GeminiClient {
	if config.Model == "" {
		config.Model = DefaultGeminiConfig().Model
	}
	if config.SystemInstruction == "" {
		config.SystemInstruction = DefaultSystemInstruction
	}
	if history == nil {
		history = NewHistory(DefaultHistoryConfig())
	}
	return &GeminiClient{
		models:  models,
		config:  config,
		history: history,
		synth:   synth,
		logger:  logger.With().Str("component", "chat").Str("provider", "gemini").Logger(),
	}
}

// History exposes the per-user conversation store.
func (c *GeminiClient) History() *History {
	return c.history
}

// Send implements Client.
func (c *GeminiClient) Send(ctx context.Context, userID, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	userID = userOrDefault(userID)

	contents := c.contents(userID, message)
	resp, err := c.models.GenerateContent(ctx, c.config.Model, contents, c.generateConfig())
	if err != nil {
		metrics.ChatRequests.WithLabelValues("gemini", "error").Inc()
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	text := strings.TrimSpace(responseText(resp))
	if text == "" {
		metrics.ChatRequests.WithLabelValues("gemini", "error").Inc()
		return nil, ErrEmptyReply
	}
	c.history.Add(userID, message, text)

	reply := &Reply{Text: text, Mode: ModePlatformTTS}
	if c.synth != nil {
		audio, err := c.synth.Synthesize(ctx, text)
		if err != nil {
			c.logger.Warn().Err(err).Str("synth", c.synth.Name()).Msg("Synthesis failed, switching to platform TTS")
		} else {
			reply.Mode = ModeAudio
			reply.Audio = audio.Data
			reply.Format = audio.Format
		}
	}

	metrics.ChatRequests.WithLabelValues("gemini", string(reply.Mode)).Inc()
	c.logger.Info().
		Str("user", userID).
		Int("replyLen", len(text)).
		Str("mode", string(reply.Mode)).
		Msg("Chat reply")
	return reply, nil
}

func (c *GeminiClient) contents(userID, message string) []*genai.Content {
	exchanges := c.history.Exchanges(userID)
	contents := make([]*genai.Content, 0, 2*len(exchanges)+1)
	for _, ex := range exchanges {
		contents = append(contents,
			genai.NewContentFromText(ex.UserText, genai.RoleUser),
			genai.NewContentFromText(ex.AssistantText, genai.RoleModel),
		)
	}
	return append(contents, genai.NewContentFromText(message, genai.RoleUser))
}

func (c *GeminiClient) generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(c.config.SystemInstruction)}},
		Temperature:       genai.Ptr(c.config.Temperature),
		TopP:              genai.Ptr(c.config.TopP),
		TopK:              genai.Ptr(c.config.TopK),
		MaxOutputTokens:   c.config.MaxOutputTokens,
		ResponseMIMEType:  "text/plain",
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
		},
	}
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
