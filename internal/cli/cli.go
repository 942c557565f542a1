package cli

import (
	"io"
	"os"

	"github.com/user/streamsync/internal/config"
)

// CLI is the root command tree.
type CLI struct {
	Format  string `help:"Output format: ndjson or text" enum:"ndjson,text" default:"${config_format}"`
	Server  string `short:"u" help:"Base URL of the event service" default:"${config_server}"`
	Quiet   bool   `short:"q" help:"Suppress informational output"`
	Verbose bool   `short:"v" help:"Enable verbose debug logging"`

	Attach  AttachCmd  `cmd:"" help:"Attach to a session and stream events"`
	Send    SendCmd    `cmd:"" help:"Send a message and stream the reply"`
	Stop    StopCmd    `cmd:"" help:"Request cancellation of the live run"`
	Status  StatusCmd  `cmd:"" help:"Show server snapshot and local cursor for a session"`
	Config  ConfigCmd  `cmd:"" help:"Configuration commands"`
	Version VersionCmd `cmd:"" help:"Print version"`
}

// Globals carries resolved settings and output streams to every command.
type Globals struct {
	Format  string
	Quiet   bool
	Verbose bool
	Stdout  io.Writer
	Stderr  io.Writer
	Config  *config.Config
}

// NewGlobalsWithConfig builds Globals from parsed flags with config fallbacks.
func NewGlobalsWithConfig(c *CLI, cfg *config.Config) *Globals {
	g := &Globals{
		Format:  c.Format,
		Quiet:   c.Quiet || cfg.Quiet,
		Verbose: c.Verbose || cfg.Verbose,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Config:  cfg,
	}
	if g.Format == "" {
		g.Format = cfg.Format
	}
	if c.Server != "" {
		cfg.Server.BaseURL = c.Server
	}
	return g
}
