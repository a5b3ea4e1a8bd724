package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/normanking/talkingavatar/internal/config"
	"github.com/normanking/talkingavatar/internal/voice"
)

var voicesWait time.Duration

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List the voices the configured source offers",
	Long: `List voices from the configured source (voice.source) and mark the one
the avatar would pick for the configured default and language preferences.

Examples:
  talkingavatar voices
  TALKINGAVATAR_VOICE_SOURCE=say talkingavatar voices`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		source, err := listSource(cfg)
		if err != nil {
			return err
		}

		// Command sources fill in the background.
		list := voice.Allowed(source.Voices(), cfg.Voice.Allow)
		for deadline := time.Now().Add(voicesWait); len(list) == 0 && time.Now().Before(deadline); {
			time.Sleep(100 * time.Millisecond)
			list = voice.Allowed(source.Voices(), cfg.Voice.Allow)
		}
		if len(list) == 0 {
			return voice.ErrNoVoice
		}

		chosen, _ := voice.Select(list, cfg.Voice.Default, cfg.Voice.Languages)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\tNAME\tLANG")
		for _, p := range list {
			mark := ""
			if p.Name == chosen.Name {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", mark, p.Name, p.Lang)
		}
		return w.Flush()
	},
}

func listSource(cfg *config.Config) (voice.Source, error) {
	logger := zerolog.Nop()
	switch cfg.Voice.Source {
	case "say":
		return voice.NewSaySource(cfg.Voice.Default, nil, logger), nil
	case "espeak":
		return voice.NewEspeakSource(cfg.Voice.Default, nil, logger), nil
	default:
		path, err := cfg.CatalogPath()
		if err != nil {
			return nil, err
		}
		printVerbose("catalog: %s", path)
		return voice.NewFileSource(path, nil, logger)
	}
}

func init() {
	voicesCmd.Flags().DurationVar(&voicesWait, "wait", 5*time.Second, "how long to wait for a command source to answer")
	rootCmd.AddCommand(voicesCmd)
}
