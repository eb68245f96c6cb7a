package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/tether/internal/agent"
	"github.com/gosuda/tether/internal/event"
	"github.com/gosuda/tether/internal/scheduler"
)

var runBlock string //nolint:gochecknoglobals // flag

var runCmd = &cobra.Command{ //nolint:gochecknoglobals // cobra command
	Use:   "run",
	Short: "Run a session from a configuration block",
	Long: `Run a session from a configuration block read from --block,
TETHER_BLOCK_PATH, or stdin when the path is "-".

The process exits with the session's exit code.`,
	RunE: runRun,
}

func init() { //nolint:gochecknoinits // cobra wiring
	runCmd.Flags().StringVarP(&runBlock, "block", "b", "", "Configuration block path (\"-\" for stdin)")
}

func runRun(cmd *cobra.Command, _ []string) error {
	path := runBlock
	if path == "" {
		path = cfg.Agent.BlockPath
	}
	if path == "" {
		return errors.New("no configuration block: pass --block or set TETHER_BLOCK_PATH")
	}

	block, err := readBlock(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sink, closeSink, err := buildSink(ctx)
	if err != nil {
		return err
	}
	defer closeSink()

	sched := scheduler.New()
	if cfg.Agent.Heartbeat > 0 {
		if err := sched.Add(scheduler.HeartbeatName, cfg.Agent.Heartbeat, scheduler.Heartbeat); err != nil {
			return err
		}
	}

	banner("agent")
	code := agent.Setup(ctx, agent.Options{
		Block:     block,
		Scheduler: sched,
		Sink:      sink,
	})
	if code != agent.ExitSuccess {
		return ExitError{Code: int(code)}
	}
	return nil
}

func readBlock(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading block from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading block: %w", err)
	}
	return data, nil
}

// buildSink assembles the configured event sinks.
func buildSink(ctx context.Context) (event.Sink, func(), error) {
	var sinks event.Multi
	closeFn := func() {}

	if cfg.LogEvents() {
		sinks = append(sinks, event.LogSink{})
	}

	if cfg.RedisEvents() {
		pubsub, err := openRedis(ctx)
		if err != nil {
			return nil, nil, err
		}
		sink := event.NewRedisSink(pubsub, cfg.Redis.PublishTimeout)
		sinks = append(sinks, sink)
		closeFn = func() {
			if n := sink.Failures(); n > 0 {
				log.Warn().Int64("failures", n).Msg("some session events were not published")
			}
			if err := pubsub.Close(); err != nil {
				log.Error().Err(err).Msg("closing redis")
			}
		}
	}

	if len(sinks) == 0 {
		return event.Discard{}, closeFn, nil
	}
	return sinks, closeFn, nil
}
