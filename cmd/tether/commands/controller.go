package commands

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gosuda/tether/internal/api/ws"
	"github.com/gosuda/tether/internal/controller"
)

var (
	ctrlHTTP    string //nolint:gochecknoglobals // flag
	ctrlTCP     string //nolint:gochecknoglobals // flag
	ctrlDial    string //nolint:gochecknoglobals // flag
	ctrlConsole bool   //nolint:gochecknoglobals // flag
)

var controllerCmd = &cobra.Command{ //nolint:gochecknoglobals // cobra command
	Use:   "controller",
	Short: "Serve the controller end of agent transports",
	Long: `Serve the controller end of agent transports: HTTP polling and
WebSocket on --http, framed TCP on --tcp, or dial an agent listening
in bind mode with --dial. Commands are read from stdin, one per line,
as "method {json args}".`,
	RunE: runController,
}

func init() { //nolint:gochecknoinits // cobra wiring
	controllerCmd.Flags().StringVar(&ctrlHTTP, "http", "", "HTTP listen address (default TETHER_CONTROLLER_ADDR)")
	controllerCmd.Flags().StringVar(&ctrlTCP, "tcp", "", "TCP listen address (default TETHER_CONTROLLER_TCP_ADDR)")
	controllerCmd.Flags().StringVar(&ctrlDial, "dial", "", "Dial an agent listening at this address")
	controllerCmd.Flags().BoolVar(&ctrlConsole, "console", true, "Read commands from stdin")
}

func runController(cmd *cobra.Command, _ []string) error {
	httpAddr := firstNonEmpty(ctrlHTTP, cfg.Controller.Addr)
	tcpAddr := firstNonEmpty(ctrlTCP, cfg.Controller.TCPAddr)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctrl := controller.New()
	ctrl.PollWait = cfg.Controller.PollWait
	ctrl.CallTimeout = cfg.Controller.CallTimeout
	ctrl.CORSOrigins = cfg.Controller.CORSOrigins
	if cfg.Controller.PollRate > 0 {
		ctrl.PollLimit = controller.RateLimitBySession(ctx, float64(cfg.Controller.PollRate), cfg.Controller.PollBurst)
	}

	if cfg.Redis.Addr != "" {
		pubsub, err := openRedis(ctx)
		if err != nil {
			return err
		}
		defer pubsub.Close()
		ctrl.Events = ws.NewHub(pubsub).Routes()
	}

	banner("controller")
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           ctrl.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info().Str("addr", httpAddr).Msg("starting http listener")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if tcpAddr != "" {
		var lc net.ListenConfig
		ln, err := lc.Listen(gctx, "tcp", tcpAddr)
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		log.Info().Str("addr", ln.Addr().String()).Msg("starting tcp listener")
		g.Go(func() error { return ctrl.ServeTCP(gctx, ln) })
	}

	if ctrlDial != "" {
		g.Go(func() error { return ctrl.DialTCP(gctx, ctrlDial) })
	}

	// Console is not part of the group: a read on stdin does not return on cancel.
	if ctrlConsole {
		go func() {
			if err := ctrl.Console(gctx, cmd.InOrStdin(), cmd.OutOrStdout(), cfg.Controller.CallTimeout); err != nil {
				log.Error().Err(err).Msg("console")
			}
			// End of input stops the controller.
			cancel()
		}()
	}

	err := g.Wait()
	log.Info().Msg("stopped")
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
