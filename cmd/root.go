package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/teemow/accountbroker/internal/config"
	"github.com/teemow/accountbroker/internal/logging"
)

// rootCmd represents the base command for the accountbroker application
var rootCmd = &cobra.Command{
	Use:   "accountbroker",
	Short: "Brokers OAuth credentials for multiple Google Workspace accounts",
	Long: `accountbroker obtains, stores and refreshes OAuth credentials for any
number of Google Workspace accounts and hands out valid access tokens.

It can run as:
  - An interactive HTTP API with an OAuth callback receiver
  - An MCP (Model Context Protocol) server for AI assistants`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

var debugMode bool

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "accountbroker version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging (overrides LOG_LEVEL)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newAccountsCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of accountbroker",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "accountbroker version %s\n", version)
		},
	}
}

// newLogger builds the process logger. Logs always go to w, which callers
// keep off stdout when stdout carries the MCP stdio protocol.
func newLogger(w io.Writer, cfg config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if debugMode {
		level = slog.LevelDebug
	}
	return logging.New(w, level, cfg.LogFormat)
}
