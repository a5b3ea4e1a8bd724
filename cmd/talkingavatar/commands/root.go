package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/normanking/talkingavatar/internal/config"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "talkingavatar",
	Short: "Animated talking avatar driven by speech",
	Long: `talkingavatar - a 3D avatar that speaks.

The avatar idles, blinks and smiles. When asked to speak it splits the text
into sentences, speaks them one at a time and moves its mouth while sound
plays. A renderer follows along over a WebSocket.

Configuration is read from ~/.talkingavatar/config.yaml (created on first
run) and may be overridden with TALKINGAVATAR_* environment variables.
API keys can also be placed in .env or ~/.talkingavatar/.env.

Examples:
  # Run the API on 127.0.0.1:8765
  talkingavatar serve

  # Speak once with macOS say
  TALKINGAVATAR_SPEECH_ENGINE=say talkingavatar say "Hello! How are you?"

  # See what a model offers
  talkingavatar inspect avatar.glb`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFiles()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.talkingavatar/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadEnvFiles loads .env from the working directory and the config
// directory. Variables already set in the environment win.
func loadEnvFiles() error {
	paths := []string{".env"}
	if dir, err := config.GetConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, ".env"))
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// loadConfig reads the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func printVerbose(format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
