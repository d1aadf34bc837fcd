// Package main is the entry point for the guildkeeper CLI.
package main

import (
	"os"

	"github.com/KafClaw/guildkeeper/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
