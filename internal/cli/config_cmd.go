package cli

import (
	"encoding/json"
	"fmt"
)

// ConfigCmd groups configuration subcommands.
type ConfigCmd struct {
	Show ConfigShowCmd `cmd:"" help:"Show effective configuration"`
}

// ConfigShowCmd prints the resolved configuration.
type ConfigShowCmd struct{}

// Run executes the config show command
func (c *ConfigShowCmd) Run(globals *Globals) error {
	if globals.Format == "ndjson" {
		enc := json.NewEncoder(globals.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(globals.Config)
	}

	cfg := globals.Config
	fmt.Fprintf(globals.Stdout, "format: %s\n", cfg.Format)
	fmt.Fprintf(globals.Stdout, "server.base_url: %s\n", cfg.Server.BaseURL)
	if cfg.Server.SocketURL != "" {
		fmt.Fprintf(globals.Stdout, "server.socket_url: %s\n", cfg.Server.SocketURL)
	}
	fmt.Fprintf(globals.Stdout, "server.http_timeout: %s\n", cfg.Server.HTTPTimeout)
	fmt.Fprintf(globals.Stdout, "stream.backoff_initial: %s\n", cfg.Stream.BackoffInitial)
	fmt.Fprintf(globals.Stdout, "stream.backoff_max: %s\n", cfg.Stream.BackoffMax)
	fmt.Fprintf(globals.Stdout, "stream.max_attempts: %d\n", cfg.Stream.MaxAttempts)
	fmt.Fprintf(globals.Stdout, "stream.slow_after: %s\n", cfg.Stream.SlowAfter)
	fmt.Fprintf(globals.Stdout, "stream.stuck_after: %s\n", cfg.Stream.StuckAfter)
	fmt.Fprintf(globals.Stdout, "stream.flush_interval: %s\n", cfg.Stream.FlushInterval)
	fmt.Fprintf(globals.Stdout, "stream.command_timeout: %s\n", cfg.Stream.CommandTimeout)
	return nil
}

// VersionCmd prints the build version.
type VersionCmd struct{}

// Version is set at build time via -ldflags.
var Version = "dev"

// Run executes the version command
func (c *VersionCmd) Run(globals *Globals) error {
	if globals.Format == "ndjson" {
		return json.NewEncoder(globals.Stdout).Encode(map[string]string{"version": Version})
	}
	fmt.Fprintf(globals.Stdout, "streamsync %s\n", Version)
	return nil
}
