// Package config provides configuration management for the talking avatar
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/normanking/talkingavatar/internal/animation"
	"github.com/normanking/talkingavatar/internal/chat"
	"github.com/normanking/talkingavatar/internal/logging"
	"github.com/normanking/talkingavatar/internal/morph"
	"github.com/normanking/talkingavatar/internal/resilience"
	"github.com/normanking/talkingavatar/internal/scene"
	"github.com/normanking/talkingavatar/internal/server"
	"github.com/normanking/talkingavatar/internal/speech"
	"github.com/normanking/talkingavatar/internal/tts"
	"github.com/normanking/talkingavatar/internal/voice"
)

// EnvPrefix prefixes environment overrides, e.g. TALKINGAVATAR_SERVER_ADDR.
const EnvPrefix = "TALKINGAVATAR"

const dirName = ".talkingavatar"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Avatar    AvatarConfig    `mapstructure:"avatar" yaml:"avatar"`
	Animation AnimationConfig `mapstructure:"animation" yaml:"animation"`
	Morph     MorphConfig     `mapstructure:"morph" yaml:"morph"`
	Speech    SpeechConfig    `mapstructure:"speech" yaml:"speech"`
	Voice     VoiceConfig     `mapstructure:"voice" yaml:"voice"`
	Chat      ChatConfig      `mapstructure:"chat" yaml:"chat"`
	TTS       TTSConfig       `mapstructure:"tts" yaml:"tts"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig configures the HTTP and WebSocket surface
type ServerConfig struct {
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	FrameInterval  time.Duration `mapstructure:"frame_interval" yaml:"frame_interval"` // state push period on /ws
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	SendTimeout    time.Duration `mapstructure:"send_timeout" yaml:"send_timeout"` // upper bound for /api/v1/send
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	StaticDir      string        `mapstructure:"static_dir" yaml:"static_dir"` // optional renderer front-end
}

// AvatarConfig selects the model
type AvatarConfig struct {
	Model string `mapstructure:"model" yaml:"model"` // .glb path; empty uses the built-in rig
}

// AnimationConfig names clips and sets transition timing
type AnimationConfig struct {
	IdleClip     string        `mapstructure:"idle_clip" yaml:"idle_clip"`
	TalkingAClip string        `mapstructure:"talking_a_clip" yaml:"talking_a_clip"`
	TalkingBClip string        `mapstructure:"talking_b_clip" yaml:"talking_b_clip"`
	Blend        time.Duration `mapstructure:"blend" yaml:"blend"`
	DwellMin     time.Duration `mapstructure:"dwell_min" yaml:"dwell_min"`
	DwellMax     time.Duration `mapstructure:"dwell_max" yaml:"dwell_max"`
}

// MorphConfig configures blink and mouth motion
type MorphConfig struct {
	BlinkChannel   string        `mapstructure:"blink_channel" yaml:"blink_channel"`
	MouthChannel   string        `mapstructure:"mouth_channel" yaml:"mouth_channel"`
	SmileChannel   string        `mapstructure:"smile_channel" yaml:"smile_channel"`
	BlinkPeriod    time.Duration `mapstructure:"blink_period" yaml:"blink_period"`
	BlinkHold      time.Duration `mapstructure:"blink_hold" yaml:"blink_hold"`
	JitterInterval time.Duration `mapstructure:"jitter_interval" yaml:"jitter_interval"`
	JitterMax      float32       `mapstructure:"jitter_max" yaml:"jitter_max"`
	SmileBias      float32       `mapstructure:"smile_bias" yaml:"smile_bias"`
	SpeakingMeshes []string      `mapstructure:"speaking_meshes" yaml:"speaking_meshes"`
}

// SpeechConfig configures playback
type SpeechConfig struct {
	Engine         string        `mapstructure:"engine" yaml:"engine"` // timed, say, espeak
	Rate           int           `mapstructure:"rate" yaml:"rate"`     // engine rate; 0 keeps the system default
	WordsPerMinute int           `mapstructure:"words_per_minute" yaml:"words_per_minute"`
	SentencePause  time.Duration `mapstructure:"sentence_pause" yaml:"sentence_pause"`
	AudioPlayer    string        `mapstructure:"audio_player" yaml:"audio_player"` // timed, or a command such as afplay
}

// VoiceConfig configures voice discovery
type VoiceConfig struct {
	Source        string        `mapstructure:"source" yaml:"source"` // catalog, say, espeak
	CatalogPath   string        `mapstructure:"catalog_path" yaml:"catalog_path"`
	Default       string        `mapstructure:"default" yaml:"default"`
	RetryInterval time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	MaxAttempts   int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Languages     []string      `mapstructure:"languages" yaml:"languages"`
	Allow         []string      `mapstructure:"allow" yaml:"allow,omitempty"` // name substrings; empty allows all
}

// ChatConfig configures reply generation
type ChatConfig struct {
	Provider string        `mapstructure:"provider" yaml:"provider"` // gemini, backend, none
	Gemini   GeminiConfig  `mapstructure:"gemini" yaml:"gemini"`
	Backend  BackendConfig `mapstructure:"backend" yaml:"backend"`
	History  HistoryConfig `mapstructure:"history" yaml:"history"`
}

// GeminiConfig configures the Gemini model
type GeminiConfig struct {
	APIKey            string  `mapstructure:"api_key" yaml:"api_key"`
	Model             string  `mapstructure:"model" yaml:"model"`
	SystemInstruction string  `mapstructure:"system_instruction" yaml:"system_instruction"`
	Temperature       float32 `mapstructure:"temperature" yaml:"temperature"`
	TopP              float32 `mapstructure:"top_p" yaml:"top_p"`
	TopK              float32 `mapstructure:"top_k" yaml:"top_k"`
	MaxOutputTokens   int32   `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
}

// BackendConfig points at an existing chat backend
type BackendConfig struct {
	URL         string        `mapstructure:"url" yaml:"url"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff" yaml:"backoff"`
}

// HistoryConfig bounds per-user conversation memory
type HistoryConfig struct {
	MaxExchanges      int           `mapstructure:"max_exchanges" yaml:"max_exchanges"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout" yaml:"inactivity_timeout"`
}

// TTSConfig configures cloud synthesis of chat replies
type TTSConfig struct {
	Provider   string        `mapstructure:"provider" yaml:"provider"` // elevenlabs, none
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	VoiceID    string        `mapstructure:"voice_id" yaml:"voice_id"`
	ModelID    string        `mapstructure:"model_id" yaml:"model_id"`
	Stability  float64       `mapstructure:"stability" yaml:"stability"`
	Similarity float64       `mapstructure:"similarity_boost" yaml:"similarity_boost"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LoggingConfig configures log output
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Dir        string `mapstructure:"dir" yaml:"dir"` // empty disables the log file
	Console    bool   `mapstructure:"console" yaml:"console"`
	MaxHistory int    `mapstructure:"max_history" yaml:"max_history"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	anim := animation.DefaultConfig()
	mc := morph.DefaultConfig()
	vc := voice.DefaultLoaderConfig()
	gem := chat.DefaultGeminiConfig()
	hist := chat.DefaultHistoryConfig()
	el := tts.DefaultElevenLabsConfig()

	logDir := ""
	if dir, err := GetConfigDir(); err == nil {
		logDir = filepath.Join(dir, "logs")
	}

	return &Config{
		Server: ServerConfig{
			Addr:           "127.0.0.1:8765",
			FrameInterval:  33 * time.Millisecond,
			ReadTimeout:    15 * time.Second,
			SendTimeout:    5 * time.Minute,
			AllowedOrigins: []string{"*"},
		},
		Animation: AnimationConfig{
			IdleClip:     anim.IdleClip,
			TalkingAClip: anim.TalkingAClip,
			TalkingBClip: anim.TalkingBClip,
			Blend:        anim.Blend,
			DwellMin:     anim.DwellMin,
			DwellMax:     anim.DwellMax,
		},
		Morph: MorphConfig{
			BlinkChannel:   mc.BlinkChannel,
			MouthChannel:   mc.MouthChannel,
			SmileChannel:   mc.SmileChannel,
			BlinkPeriod:    mc.BlinkPeriod,
			BlinkHold:      mc.BlinkHold,
			JitterInterval: mc.JitterInterval,
			JitterMax:      mc.JitterMax,
			SmileBias:      mc.SmileBias,
			SpeakingMeshes: []string{scene.MeshHead, scene.MeshTeeth},
		},
		Speech: SpeechConfig{
			Engine:         "timed",
			WordsPerMinute: 165,
			SentencePause:  speech.DefaultConfig().SentencePause,
			AudioPlayer:    "timed",
		},
		Voice: VoiceConfig{
			Source:        "catalog",
			CatalogPath:   "voices.yaml",
			Default:       "Google UK English Male",
			RetryInterval: vc.RetryInterval,
			MaxAttempts:   vc.MaxAttempts,
			Languages:     vc.Languages,
		},
		Chat: ChatConfig{
			Provider: "none",
			Gemini: GeminiConfig{
				Model:           gem.Model,
				Temperature:     gem.Temperature,
				TopP:            gem.TopP,
				TopK:            gem.TopK,
				MaxOutputTokens: gem.MaxOutputTokens,
			},
			Backend: BackendConfig{
				URL:         "http://localhost:5000/chat",
				Timeout:     60 * time.Second,
				MaxAttempts: 3,
				Backoff:     500 * time.Millisecond,
			},
			History: HistoryConfig{
				MaxExchanges:      hist.MaxExchanges,
				InactivityTimeout: hist.InactivityTimeout,
			},
		},
		TTS: TTSConfig{
			Provider:   "none",
			VoiceID:    el.VoiceID,
			ModelID:    el.ModelID,
			Stability:  el.Stability,
			Similarity: el.Similarity,
			Timeout:    el.Timeout,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        logDir,
			Console:    true,
			MaxHistory: 1000,
		},
	}
}

// Load reads configuration from path, or from config.yaml in the config
// directory and then the working directory. Environment variables override
// file values. When no path is given and no file exists, the defaults are
// written to the config directory.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := setDefaults(v, cfg); err != nil {
		return cfg, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		configDir, err := GetConfigDir()
		if err != nil {
			return cfg, err
		}
		v.SetConfigName("config")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and create one
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment variables can override
// values that no file mentions.
func setDefaults(v *viper.Viper, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}
	flatten("", tree, v.SetDefault)
	return nil
}

func flatten(prefix string, tree map[string]any, set func(string, any)) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			flatten(key, sub, set)
			continue
		}
		set(key, val)
	}
}

// Validate rejects settings the runtime cannot honour.
func (c *Config) Validate() error {
	var errs []error
	switch c.Speech.Engine {
	case "timed", "say", "espeak":
	default:
		errs = append(errs, fmt.Errorf("speech.engine: unknown engine %q", c.Speech.Engine))
	}
	switch c.Voice.Source {
	case "catalog", "say", "espeak":
	default:
		errs = append(errs, fmt.Errorf("voice.source: unknown source %q", c.Voice.Source))
	}
	switch c.Chat.Provider {
	case "gemini", "backend", "none", "":
	default:
		errs = append(errs, fmt.Errorf("chat.provider: unknown provider %q", c.Chat.Provider))
	}
	switch c.TTS.Provider {
	case "elevenlabs", "none", "":
	default:
		errs = append(errs, fmt.Errorf("tts.provider: unknown provider %q", c.TTS.Provider))
	}
	if c.Voice.MaxAttempts <= 0 {
		errs = append(errs, errors.New("voice.max_attempts must be positive"))
	}
	if c.Animation.DwellMax < c.Animation.DwellMin {
		errs = append(errs, errors.New("animation.dwell_max must not be below dwell_min"))
	}
	periods := []struct {
		key string
		d   time.Duration
	}{
		{"server.frame_interval", c.Server.FrameInterval},
		{"morph.blink_period", c.Morph.BlinkPeriod},
		{"morph.blink_hold", c.Morph.BlinkHold},
		{"morph.jitter_interval", c.Morph.JitterInterval},
		{"voice.retry_interval", c.Voice.RetryInterval},
		{"speech.sentence_pause", c.Speech.SentencePause},
	}
	for _, p := range periods {
		if p.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", p.key, p.d))
		}
	}
	if c.Morph.BlinkHold >= c.Morph.BlinkPeriod {
		errs = append(errs, errors.New("morph.blink_hold must be shorter than blink_period"))
	}
	return errors.Join(errs...)
}

// Save writes the configuration to config.yaml in the config directory
func Save(cfg *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}
	return SaveTo(cfg, filepath.Join(configDir, "config.yaml"))
}

// SaveTo writes the configuration to path
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, dirName), nil
}

// AnimationOptions converts to the animation machine's config.
func (c *Config) AnimationOptions() animation.Config {
	a := c.Animation
	return animation.Config{
		IdleClip:     a.IdleClip,
		TalkingAClip: a.TalkingAClip,
		TalkingBClip: a.TalkingBClip,
		Blend:        a.Blend,
		DwellMin:     a.DwellMin,
		DwellMax:     a.DwellMax,
	}
}

// MorphOptions converts to the morph engine's config.
func (c *Config) MorphOptions() morph.Config {
	m := c.Morph
	return morph.Config{
		BlinkChannel:   m.BlinkChannel,
		MouthChannel:   m.MouthChannel,
		SmileChannel:   m.SmileChannel,
		BlinkPeriod:    m.BlinkPeriod,
		BlinkHold:      m.BlinkHold,
		JitterInterval: m.JitterInterval,
		JitterMax:      m.JitterMax,
		SmileBias:      m.SmileBias,
		SpeakingMeshes: m.SpeakingMeshes,
	}
}

// LoggingOptions converts to the logger's config.
func (c *Config) LoggingOptions() *logging.Config {
	return &logging.Config{
		LogDir:     c.Logging.Dir,
		Level:      c.Logging.Level,
		MaxHistory: c.Logging.MaxHistory,
		Console:    c.Logging.Console,
	}
}

// CatalogPath resolves the voice catalog path. Relative paths are taken
// from the config directory.
func (c *Config) CatalogPath() (string, error) {
	p := c.Voice.CatalogPath
	if p == "" || filepath.IsAbs(p) {
		return p, nil
	}
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, p), nil
}

// ServerOptions converts to the HTTP server's config.
func (c *Config) ServerOptions() server.Config {
	return server.Config{
		Addr:           c.Server.Addr,
		FrameInterval:  c.Server.FrameInterval,
		ReadTimeout:    c.Server.ReadTimeout,
		SendTimeout:    c.Server.SendTimeout,
		AllowedOrigins: c.Server.AllowedOrigins,
		StaticDir:      c.Server.StaticDir,
	}
}

// SpeechOptions converts to the speaker's config.
func (c *Config) SpeechOptions() speech.Config {
	return speech.Config{SentencePause: c.Speech.SentencePause}
}

// VoiceOptions converts to the voice loader's config.
func (c *Config) VoiceOptions() voice.LoaderConfig {
	return voice.LoaderConfig{
		RetryInterval: c.Voice.RetryInterval,
		MaxAttempts:   c.Voice.MaxAttempts,
		Languages:     c.Voice.Languages,
		Allow:         c.Voice.Allow,
	}
}

// GeminiOptions converts to the Gemini client's config.
func (c *Config) GeminiOptions() chat.GeminiConfig {
	g := c.Chat.Gemini
	key := g.APIKey
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	return chat.GeminiConfig{
		APIKey:            key,
		Model:             g.Model,
		SystemInstruction: g.SystemInstruction,
		Temperature:       g.Temperature,
		TopP:              g.TopP,
		TopK:              g.TopK,
		MaxOutputTokens:   g.MaxOutputTokens,
	}
}

// BackendOptions converts to the backend chat client's config.
func (c *Config) BackendOptions() chat.BackendConfig {
	b := c.Chat.Backend
	retry := resilience.DefaultRetryConfig()
	if b.MaxAttempts > 0 {
		retry.MaxAttempts = b.MaxAttempts
	}
	if b.Backoff > 0 {
		retry.InitialBackoff = b.Backoff
	}
	return chat.BackendConfig{URL: b.URL, Timeout: b.Timeout, Retry: retry}
}

// HistoryOptions converts to the chat history's config.
func (c *Config) HistoryOptions() chat.HistoryConfig {
	return chat.HistoryConfig{
		MaxExchanges:      c.Chat.History.MaxExchanges,
		InactivityTimeout: c.Chat.History.InactivityTimeout,
	}
}

// ElevenLabsOptions converts to the ElevenLabs provider's config.
func (c *Config) ElevenLabsOptions() *tts.ElevenLabsConfig {
	t := c.TTS
	return &tts.ElevenLabsConfig{
		APIKey:     t.APIKey,
		VoiceID:    t.VoiceID,
		ModelID:    t.ModelID,
		Stability:  t.Stability,
		Similarity: t.Similarity,
		Timeout:    t.Timeout,
	}
}
