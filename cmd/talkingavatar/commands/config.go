package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/normanking/talkingavatar/internal/config"
	"github.com/normanking/talkingavatar/internal/voice"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or print the configuration file",
	Long: `Manage the configuration.

Configuration is stored in ~/.talkingavatar/config.yaml. Every key can be
overridden with an environment variable: server.addr becomes
TALKINGAVATAR_SERVER_ADDR.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config and voice catalog",
	Long: `Write the default configuration to --config (or ~/.talkingavatar/config.yaml)
and a starter voice catalog next to it.

Examples:
  talkingavatar config init
  talkingavatar config init --force`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			dir, err := config.GetConfigDir()
			if err != nil {
				return err
			}
			path = filepath.Join(dir, "config.yaml")
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		cfg := config.DefaultConfig()
		if err := config.SaveTo(cfg, path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)

		catalog, err := cfg.CatalogPath()
		if err != nil {
			return err
		}
		wrote, err := voice.EnsureCatalog(catalog)
		if err != nil {
			return err
		}
		if wrote {
			fmt.Printf("Wrote %s\n", catalog)
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after file values and environment overrides are
applied. API keys are masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		shown := *cfg
		shown.Chat.Gemini.APIKey = mask(shown.Chat.Gemini.APIKey)
		shown.TTS.APIKey = mask(shown.TTS.APIKey)

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(&shown)
	},
}

// mask keeps the last four characters of a secret.
func mask(secret string) string {
	if len(secret) <= 4 {
		if secret == "" {
			return ""
		}
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
