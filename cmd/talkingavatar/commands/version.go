package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/normanking/talkingavatar/internal/server"
)

// Set with -ldflags "-X github.com/normanking/talkingavatar/cmd/talkingavatar/commands.version=..."
var (
	version = "dev"
	commit  = "none"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("talkingavatar %s (%s)\n", version, commit)
		if verbose {
			fmt.Printf("  go:     %s\n", runtime.Version())
			fmt.Printf("  os:     %s/%s\n", runtime.GOOS, runtime.GOARCH)
		}
	},
}

func init() {
	server.Version = version
	rootCmd.AddCommand(versionCmd)
}
