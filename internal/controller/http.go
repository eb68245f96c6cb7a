package controller

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	v1 "github.com/gosuda/tether/internal/api/v1"
	"github.com/gosuda/tether/internal/transport"
	"github.com/gosuda/tether/internal/wire"
)

// Router serves the HTTP long-poll and WebSocket endpoints, the JSON command
// API under /api/v1 and, when configured, the event stream under /events.
func (c *Controller) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(c.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: c.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}).Handler)
	}

	r.Group(func(r chi.Router) {
		if c.PollLimit != nil {
			r.Use(c.PollLimit)
		}
		r.Post("/poll", c.handlePoll)
	})
	r.Get("/ws", c.handleWS)
	if c.Events != nil {
		r.Mount("/events", c.Events)
	}

	r.Route("/api/v1", func(r chi.Router) {
		apiConfig := huma.DefaultConfig("tether controller API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		v1.RegisterCommandRoutes(api, c, c.CallTimeout)
	})

	return r
}

func (c *Controller) handlePoll(w http.ResponseWriter, r *http.Request) {
	c.touch(r.Header.Get(transport.SessionHeader))

	packets, err := wire.ReadAll(r.Body, 0)
	if err != nil {
		http.Error(w, "bad frames", http.StatusBadRequest)
		return
	}
	for _, p := range packets {
		c.deliver(p)
	}

	var out [][]byte
	if data, ok := c.next(r.Context(), c.PollWait); ok {
		out = append(out, data)
		for {
			more, ok := c.next(r.Context(), 0)
			if !ok {
				break
			}
			out = append(out, more)
		}
	}

	if len(out) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(wire.Join(out)); err != nil {
		log.Debug().Err(err).Msg("poll response write")
	}
}

func (c *Controller) handleWS(w http.ResponseWriter, r *http.Request) {
	c.touch(r.Header.Get(transport.SessionHeader))

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(wire.MaxFrameSize)

	if err := c.serve(r.Context(), wsLink{conn: conn}); err != nil {
		log.Debug().Err(err).Msg("websocket link closed")
	}
}
