package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/tether/internal/profile"
)

var (
	packProfile string //nolint:gochecknoglobals // flag
	packOut     string //nolint:gochecknoglobals // flag
)

var packCmd = &cobra.Command{ //nolint:gochecknoglobals // cobra command
	Use:   "pack",
	Short: "Build a configuration block from a YAML profile",
	RunE:  runPack,
}

func init() { //nolint:gochecknoinits // cobra wiring
	packCmd.Flags().StringVarP(&packProfile, "profile", "p", "", "YAML profile path")
	packCmd.Flags().StringVarP(&packOut, "out", "o", "-", "Output path (\"-\" for stdout)")
}

func runPack(cmd *cobra.Command, _ []string) error {
	if packProfile == "" {
		return errors.New("--profile is required")
	}

	p, err := profile.Load(packProfile)
	if err != nil {
		return err
	}

	block, err := p.Block()
	if err != nil {
		return err
	}

	if packOut == "-" {
		_, err = cmd.OutOrStdout().Write(block)
		return err
	}
	if err := os.WriteFile(packOut, block, 0o600); err != nil {
		return fmt.Errorf("writing block: %w", err)
	}

	log.Info().
		Str("out", packOut).
		Int("bytes", len(block)).
		Int("transports", len(p.Transports)).
		Int("extensions", len(p.Extensions)).
		Msg("block written")
	return nil
}
