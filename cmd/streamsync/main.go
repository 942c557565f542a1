package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/user/streamsync/internal/cli"
	"github.com/user/streamsync/internal/config"
)

const quickStart = `streamsync - resumable event-stream client for agent sessions

Quick start:
  streamsync status -S SESSION_ID       Show run position and local cursor
  streamsync attach -S SESSION_ID       Attach and stream events
  streamsync send -S SESSION_ID "hi"    Send a message, stream the reply

For help:
  streamsync --help                     All commands and flags
`

func main() {
	// Show quick start if no args provided
	if len(os.Args) == 1 {
		fmt.Print(quickStart)
		return
	}

	// Load configuration from files/environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c cli.CLI

	// Config defaults feed flag defaults; CLI flags win when specified.
	vars := kong.Vars{
		"config_format": cfg.Format,
		"config_server": cfg.Server.BaseURL,
	}

	ctx := kong.Parse(&c,
		kong.Name("streamsync"),
		kong.Description("streamsync: attach to resumable agent session streams\n\nSurvives reconnects and reloads without losing or duplicating events"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		vars,
	)

	globals := cli.NewGlobalsWithConfig(&c, cfg)
	err = ctx.Run(globals)
	if err != nil {
		os.Exit(1)
	}
}
