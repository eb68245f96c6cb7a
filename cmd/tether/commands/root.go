package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/tether/internal/config"
	redisstore "github.com/gosuda/tether/internal/store/redis"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// cfg is loaded once before any subcommand runs.
var cfg *config.Config //nolint:gochecknoglobals // cobra command state

var rootCmd = &cobra.Command{ //nolint:gochecknoglobals // cobra command tree
	Use:   "tether",
	Short: "tether - resilient agent session runtime",
	Long: `tether runs an agent session over an ordered ring of transports,
failing over between them until the session is told to stop or every
transport is gone.

Run 'tether pack' to build a configuration block from a YAML profile,
'tether run' to start a session from a block, and 'tether controller'
to drive sessions from the other end.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		setupLogging(cfg.Log)
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

func init() { //nolint:gochecknoinits // cobra wiring
	rootCmd.SetVersionTemplate(fmt.Sprintf("tether %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(packCmd)
	rootCmd.AddCommand(controllerCmd)
	rootCmd.AddCommand(watchCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
}

func (e ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

func setupLogging(lc config.LogConfig) {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if lc.Format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func openRedis(ctx context.Context) (*redisstore.PubSub, error) {
	return redisstore.New(ctx, redisstore.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func banner(what string) {
	bold := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(os.Stderr, "%s %s %s\n", bold("tether"), Version, what)
}
