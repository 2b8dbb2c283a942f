// Package cli implements the pkgsync command-line interface.
//
// The default action, run, ingests queued packages and then recalculates
// contribution scores. It is meant to be started by cron; a failed run exits
// non-zero and the next one picks up whatever is still pending.
package cli

import (
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
	// levelSet is true once the level was forced from the command line, so
	// log.level from the config file does not override it.
	levelSet bool
}

// New creates a CLI logging to w at level.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: log.NewWithOptions(w, log.Options{
			ReportTimestamp: true,
			TimeFormat:      "15:04:05.00",
			Level:           level,
		}),
	}
}

// SetLogLevel updates the logger's level and pins it against config.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
	c.levelSet = true
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	run := c.runCommand()
	root := &cobra.Command{
		Use:          "pkgsync",
		Short:        "pkgsync ingests package metadata from upstream registries",
		Long:         `pkgsync fetches packages requested by users or discovered as dependencies from npm, JSR, NuGet, Docker Hub, Homebrew and Arch Linux, and reconciles their release channels and dependency graph into the database.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         run.RunE,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (yaml, json or toml)")

	root.AddCommand(run)
	root.AddCommand(c.ingestCommand())
	root.AddCommand(c.scoreCommand())
	root.AddCommand(c.schemaCommand())
	root.AddCommand(c.requestCommand())
	root.AddCommand(c.verifyCommand())

	return root
}
