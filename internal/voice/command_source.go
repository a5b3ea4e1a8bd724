package voice

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/talkingavatar/internal/bus"
)

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// CommandSource lists the platform's installed voices by running a command.
// The first read starts the command in the background and returns an empty
// list; later reads see the result once it is in. Each successful listing
// publishes EventTypeVoicesChanged.
type CommandSource struct {
	command     string
	args        []string
	parse       func([]byte) []Profile
	defaultName string
	run         Runner
	bus         *bus.EventBus
	logger      zerolog.Logger

	mu      sync.Mutex
	voices  []Profile
	loaded  bool
	loading bool
}

// NewSaySource lists macOS voices with `say -v ?`.
func NewSaySource(defaultName string, eventBus *bus.EventBus, logger zerolog.Logger) *CommandSource {
	return newCommandSource("say", []string{"-v", "?"}, parseSayVoices, defaultName, eventBus, logger)
}

// NewEspeakSource lists espeak-ng voices.
func NewEspeakSource(defaultName string, eventBus *bus.EventBus, logger zerolog.Logger) *CommandSource {
	return newCommandSource("espeak-ng", []string{"--voices"}, parseEspeakVoices, defaultName, eventBus, logger)
}

func newCommandSource(command string, args []string, parse func([]byte) []Profile, defaultName string, eventBus *bus.EventBus, logger zerolog.Logger) *CommandSource {
	return &CommandSource{
		command:     command,
		args:        args,
		parse:       parse,
		defaultName: defaultName,
		run:         execRunner,
		bus:         eventBus,
		logger:      logger.With().Str("component", "voice-list").Str("command", command).Logger(),
	}
}

// SetRunner replaces the command runner.
func (s *CommandSource) SetRunner(run Runner) {
	s.mu.Lock()
	s.run = run
	s.mu.Unlock()
}

// Voices implements Source.
func (s *CommandSource) Voices() []Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded && !s.loading {
		s.loading = true
		go s.load()
	}

	out := make([]Profile, len(s.voices))
	copy(out, s.voices)
	return out
}

// Refresh runs the listing command again in the background. The current list
// is served until the new one is in.
func (s *CommandSource) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loading {
		return
	}
	s.loading = true
	go s.load()
}

func (s *CommandSource) load() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.mu.Lock()
	run := s.run
	s.mu.Unlock()

	out, err := run(ctx, s.command, s.args...)
	if err != nil {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
		// Leave loaded unset so the next read tries again.
		s.logger.Warn().Err(err).Msg("Listing voices failed")
		return
	}

	voices := s.parse(out)
	for i := range voices {
		if voices[i].Name == s.defaultName {
			voices[i].Default = true
		}
	}

	s.mu.Lock()
	s.voices = voices
	s.loaded = true
	s.loading = false
	s.mu.Unlock()

	s.logger.Info().Int("voices", len(voices)).Msg("Platform voices loaded")
	if s.bus != nil {
		s.bus.Publish(bus.Event{
			Type: bus.EventTypeVoicesChanged,
			Data: map[string]any{"source": s.command, "count": len(voices)},
		})
	}
}

// sayLine matches "Daniel              en_GB    # Hello, my name is Daniel."
var sayLine = regexp.MustCompile(`^(.*\S)\s+([a-z]{2,3}_[A-Za-z0-9]{2,4})\s+#`)

func parseSayVoices(out []byte) []Profile {
	var voices []Profile
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		m := sayLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		voices = append(voices, Profile{
			Name: strings.TrimSpace(m[1]),
			Lang: strings.ReplaceAll(m[2], "_", "-"),
		})
	}
	return voices
}

// parseEspeakVoices reads the table printed by `espeak-ng --voices`:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  en-gb           --/M      English_(Great_Britain) gmw/en
//
// The language column doubles as the voice name accepted by -v.
func parseEspeakVoices(out []byte) []Profile {
	var voices []Profile
	scanner := bufio.NewScanner(bytes.NewReader(out))
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		voices = append(voices, Profile{Name: fields[1], Lang: fields[1]})
	}
	return voices
}
