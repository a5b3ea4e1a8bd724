package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/normanking/talkingavatar/internal/speech"
)

var (
	sayVoice string
	sayAudio string
)

var sayCmd = &cobra.Command{
	Use:   "say <text>",
	Short: "Speak text once and exit",
	Long: `Speak text through the configured engine, one sentence at a time, and
exit when the session ends. With --audio the given clip is played instead and
the text is only used for the transcript.

Examples:
  talkingavatar say "Hello! How are you?"
  talkingavatar say --voice Daniel "Good morning."
  talkingavatar say --audio reply.mp3 "Here is your reply."`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		text := strings.Join(args, " ")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}

		runDone := make(chan error, 1)
		go func() { runDone <- a.avatar.Run(context.Background()) }()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			a.close(shutdownCtx)
			<-runDone
		}()

		var outcome speech.Outcome
		if sayAudio != "" {
			data, err := os.ReadFile(sayAudio)
			if err != nil {
				return fmt.Errorf("read audio: %w", err)
			}
			format := strings.TrimPrefix(strings.ToLower(filepath.Ext(sayAudio)), ".")
			outcome, err = a.avatar.SpeakAudio(ctx, text, speech.Audio{Data: data, Format: format})
			if err != nil {
				return err
			}
		} else {
			outcome, err = a.avatar.Speak(ctx, text, sayVoice)
			if err != nil {
				return err
			}
		}

		printVerbose("session %s: %s, %d/%d sentences in %s",
			outcome.SessionID, outcome.Status, outcome.Spoken, outcome.Total, outcome.Duration.Round(time.Millisecond))
		if outcome.Err != nil {
			return outcome.Err
		}
		return nil
	},
}

func init() {
	sayCmd.Flags().StringVar(&sayVoice, "voice", "", "voice name (default voice.default)")
	sayCmd.Flags().StringVar(&sayAudio, "audio", "", "play this audio file instead of synthesizing")
	rootCmd.AddCommand(sayCmd)
}
