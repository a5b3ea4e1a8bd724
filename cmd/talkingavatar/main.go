// Package main is the entry point for the talkingavatar CLI.
//
// Usage:
//
//	talkingavatar [flags] <command> [args]
//
// Commands:
//
//	serve    - Run the avatar with its HTTP and WebSocket API
//	say      - Speak text once and exit
//	voices   - List the voices the configured source offers
//	inspect  - Describe the clips and morph targets of a .glb model
//	config   - Create or print the configuration file
//	version  - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/normanking/talkingavatar/cmd/talkingavatar/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
