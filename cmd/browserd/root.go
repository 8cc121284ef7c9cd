package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/browserd/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "browserd",
	Short: "Run natural-language browser tasks behind an HTTP API",
	Long: `browserd accepts natural-language tasks over HTTP and carries them out
in a real browser driven by an LLM agent.

Configuration comes from an optional YAML file named by BROWSERD_CONFIG,
then BROWSERD_* environment variables, then command-line flags.
The model provider credential is read from GOOGLE_API_KEY.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.AddCommand(serveCmd, workerCmd)
}

// loadConfig reads configuration and applies the flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.ListenAddr = serveAddr
	}
	if flags.Changed("db") {
		cfg.DBPath = serveDBPath
	}
	if flags.Changed("mode") {
		cfg.Mode = serveMode
	}
	if flags.Changed("headless") {
		cfg.Headless = serveHeadless
	}
	if flags.Changed("static-dir") {
		cfg.StaticDir = serveStaticDir
	}
	return cfg, nil
}
