package commands

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/tether/internal/event"
	redisstore "github.com/gosuda/tether/internal/store/redis"
)

var watchSession string //nolint:gochecknoglobals // flag

var watchCmd = &cobra.Command{ //nolint:gochecknoglobals // cobra command
	Use:   "watch",
	Short: "Follow session events published to Redis",
	RunE:  runWatch,
}

func init() { //nolint:gochecknoinits // cobra wiring
	watchCmd.Flags().StringVarP(&watchSession, "session", "s", "", "Session ID (default: all sessions)")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("TETHER_REDIS_ADDR is required for watch")
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pubsub, err := openRedis(ctx)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	var (
		msgs <-chan redisstore.Message
		stop func()
	)
	if watchSession == "" {
		msgs, stop, err = pubsub.SubscribePattern(ctx, redisstore.AllSessions())
	} else {
		id, perr := uuid.Parse(watchSession)
		if perr != nil {
			return fmt.Errorf("--session: %w", perr)
		}
		msgs, stop, err = pubsub.Subscribe(ctx, redisstore.SessionChannel(id))
	}
	if err != nil {
		return err
	}
	defer stop()

	banner("watch")
	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			ev, err := event.Decode(msg.Payload)
			if err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("skipping undecodable event")
				continue
			}
			printEvent(out, ev)
		}
	}
}

func printEvent(out io.Writer, ev event.Event) {
	paint := color.New(color.FgWhite).SprintFunc()
	switch ev.Type {
	case event.Fault, event.TransportInitFailed:
		paint = color.New(color.FgRed).SprintFunc()
	case event.Failover:
		paint = color.New(color.FgYellow).SprintFunc()
	case event.SessionStart, event.Shutdown:
		paint = color.New(color.FgGreen, color.Bold).SprintFunc()
	case event.DispatchStart, event.DispatchEnd:
		paint = color.New(color.FgHiBlack).SprintFunc()
	}

	line := fmt.Sprintf("%s %s %-22s", ev.Time.Format("15:04:05.000"), ev.SessionID, ev.Type)
	if ev.Kind != "" {
		line += " " + ev.Kind
	}
	if ev.URL != "" {
		line += " " + ev.URL
	}
	if ev.Result != "" {
		line += " result=" + ev.Result
	}
	if ev.Detail != "" {
		line += " " + ev.Detail
	}
	fmt.Fprintln(out, paint(line))
}
