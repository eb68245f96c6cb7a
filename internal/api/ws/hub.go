package ws

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	redisstore "github.com/gosuda/tether/internal/store/redis"
)

// Subscriber is the slice of the Redis store the hub needs.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan redisstore.Message, func(), error)
	SubscribePattern(ctx context.Context, pattern string) (<-chan redisstore.Message, func(), error)
}

// Hub manages WebSocket connections backed by Redis pub/sub.
type Hub struct {
	pubsub Subscriber
}

// NewHub creates a new WebSocket hub.
func NewHub(pubsub Subscriber) *Hub {
	return &Hub{pubsub: pubsub}
}

// Routes serves every session on / and one session on /{sessionID}.
func (h *Hub) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.ServeAll)
	r.Get("/{sessionID}", h.ServeSession)
	return r
}

// ServeSession streams events for one session.
// Subscribes to Redis channel "agent:<sessionID>".
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	h.stream(w, r, func(ctx context.Context) (<-chan redisstore.Message, func(), error) {
		return h.pubsub.Subscribe(ctx, redisstore.SessionChannel(sessionID))
	})
}

// ServeAll streams events for every session.
func (h *Hub) ServeAll(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, func(ctx context.Context) (<-chan redisstore.Message, func(), error) {
		return h.pubsub.SubscribePattern(ctx, redisstore.AllSessions())
	})
}

func (h *Hub) stream(w http.ResponseWriter, r *http.Request, subscribe func(context.Context) (<-chan redisstore.Message, func(), error)) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	// Clients only listen; reading here notices when they go away.
	ctx := conn.CloseRead(r.Context())

	messages, cleanup, err := subscribe(ctx)
	if err != nil {
		log.Error().Err(err).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, msgOK := <-messages:
			if !msgOK {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if writeErr := conn.Write(ctx, websocket.MessageText, msg.Payload); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
				return
			}
		}
	}
}
