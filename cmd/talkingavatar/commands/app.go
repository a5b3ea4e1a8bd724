package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/avatar"
	"github.com/normanking/talkingavatar/internal/bus"
	"github.com/normanking/talkingavatar/internal/chat"
	"github.com/normanking/talkingavatar/internal/config"
	"github.com/normanking/talkingavatar/internal/logging"
	"github.com/normanking/talkingavatar/internal/loop"
	"github.com/normanking/talkingavatar/internal/scene"
	"github.com/normanking/talkingavatar/internal/speech"
	"github.com/normanking/talkingavatar/internal/tts"
	"github.com/normanking/talkingavatar/internal/voice"
)

// app is the assembled runtime shared by serve and say.
type app struct {
	cfg    *config.Config
	logs   *logging.Logger
	logger zerolog.Logger
	bus    *bus.EventBus

	avatar  *avatar.Controller
	catalog *voice.FileSource // nil unless voice.source is catalog
	chat    chat.Client       // nil when chat.provider is none
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logOpts := cfg.LoggingOptions()
	if verbose {
		logOpts.Level = "debug"
	}
	logs, err := logging.New(logOpts)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logs:   logs,
		logger: logs.Zerolog(),
		bus:    bus.NewEventBus(),
	}

	model := scene.Default()
	if cfg.Avatar.Model != "" {
		if model, err = scene.Load(cfg.Avatar.Model); err != nil {
			logs.Close()
			return nil, err
		}
	}

	source, err := a.voiceSource()
	if err != nil {
		logs.Close()
		return nil, err
	}

	l := loop.New(loop.RealClock{})
	animCfg := cfg.AnimationOptions()
	morphCfg := cfg.MorphOptions()
	speechCfg := cfg.SpeechOptions()
	voiceCfg := cfg.VoiceOptions()

	a.avatar, err = avatar.New(avatar.Options{
		Loop:         l,
		Scene:        model,
		Animation:    &animCfg,
		Morph:        &morphCfg,
		Speech:       &speechCfg,
		Voice:        &voiceCfg,
		VoiceSource:  source,
		DefaultVoice: cfg.Voice.Default,
		Engine:       a.engine(),
		AudioPlayer:  a.audioPlayer(),
		Bus:          a.bus,
		Logger:       a.logger,
	})
	if err != nil {
		logs.Close()
		return nil, err
	}

	if a.chat, err = a.chatClient(ctx); err != nil {
		logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) voiceSource() (voice.Source, error) {
	switch a.cfg.Voice.Source {
	case "say":
		return voice.NewSaySource(a.cfg.Voice.Default, a.bus, a.logger), nil
	case "espeak":
		return voice.NewEspeakSource(a.cfg.Voice.Default, a.bus, a.logger), nil
	default:
		path, err := a.cfg.CatalogPath()
		if err != nil {
			return nil, err
		}
		if wrote, err := voice.EnsureCatalog(path); err != nil {
			return nil, err
		} else if wrote {
			a.logger.Info().Str("path", path).Msg("Wrote default voice catalog")
		}
		catalog, err := voice.NewFileSource(path, a.bus, a.logger)
		if err != nil {
			return nil, fmt.Errorf("voice catalog: %w", err)
		}
		a.catalog = catalog
		return catalog, nil
	}
}

func (a *app) engine() speech.Engine {
	switch a.cfg.Speech.Engine {
	case "say":
		return speech.NewSayEngine(a.cfg.Speech.Rate, a.logger)
	case "espeak":
		return speech.NewEspeakEngine(a.cfg.Speech.Rate, a.logger)
	default:
		return speech.NewTimedEngine(loop.RealClock{}, a.cfg.Speech.WordsPerMinute)
	}
}

func (a *app) audioPlayer() speech.AudioPlayer {
	player := strings.TrimSpace(a.cfg.Speech.AudioPlayer)
	if player == "" || player == "timed" {
		return speech.NewTimedAudioPlayer(loop.RealClock{})
	}
	return speech.NewExecAudioPlayer(player, a.logger)
}

func (a *app) chatClient(ctx context.Context) (chat.Client, error) {
	switch a.cfg.Chat.Provider {
	case "gemini":
		var synth tts.Synthesizer
		if a.cfg.TTS.Provider == "elevenlabs" {
			el := tts.NewElevenLabsProvider(a.logger, a.cfg.ElevenLabsOptions())
			if el.IsAvailable() {
				synth = el
			} else {
				a.logger.Warn().Msg("ElevenLabs selected but no API key is set, using platform TTS")
			}
		}
		history := chat.NewHistory(a.cfg.HistoryOptions())
		client, err := chat.NewGeminiClient(ctx, a.cfg.GeminiOptions(), history, synth, a.logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "backend":
		return chat.NewBackendClient(a.cfg.BackendOptions(), a.logger), nil
	default:
		return nil, nil
	}
}

// close stops the avatar and flushes the log file. The loop must still be
// running so teardown can execute on it.
func (a *app) close(ctx context.Context) {
	if err := a.avatar.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Avatar shutdown incomplete")
	}
	a.logs.Close()
}
