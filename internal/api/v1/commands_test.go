package v1_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/gosuda/tether/internal/api/v1"
	"github.com/gosuda/tether/internal/command"
)

type mockCaller struct {
	callFunc func(ctx context.Context, method string, args any) (command.Response, error)
	sessions []string
}

func (m *mockCaller) Call(ctx context.Context, method string, args any) (command.Response, error) {
	return m.callFunc(ctx, method, args)
}

func (m *mockCaller) Sessions() []string { return m.sessions }

// ---------------------------------------------------------------------------
// POST /commands
// ---------------------------------------------------------------------------

func TestCallCommand(t *testing.T) {
	t.Parallel()

	t.Run("happy_path", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		caller := &mockCaller{
			callFunc: func(_ context.Context, method string, args any) (command.Response, error) {
				assert.Equal(t, command.MethodPing, method)
				assert.Equal(t, map[string]any{"n": float64(1)}, args)
				return command.Response{ID: "req-1", Result: json.RawMessage(`{"n":1}`)}, nil
			},
		}
		v1.RegisterCommandRoutes(api, caller, time.Second)

		resp := api.Post("/commands", map[string]any{
			"method": command.MethodPing,
			"args":   map[string]any{"n": 1},
		})
		require.Equal(t, http.StatusOK, resp.Code)

		var body v1.CommandResult
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "req-1", body.ID)
		assert.Equal(t, command.MethodPing, body.Method)
		assert.JSONEq(t, `{"n":1}`, string(body.Result))
	})

	t.Run("missing_method", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		v1.RegisterCommandRoutes(api, &mockCaller{}, time.Second)

		resp := api.Post("/commands", map[string]any{"method": ""})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	})

	t.Run("agent_error", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		caller := &mockCaller{
			callFunc: func(context.Context, string, any) (command.Response, error) {
				return command.Response{ID: "req-2", Error: "no alternative transport"},
					errors.New("agent error: no alternative transport")
			},
		}
		v1.RegisterCommandRoutes(api, caller, time.Second)

		resp := api.Post("/commands", map[string]any{"method": command.MethodTransportNext})
		assert.Equal(t, http.StatusBadGateway, resp.Code)
		assert.Contains(t, resp.Body.String(), "no alternative transport")
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		caller := &mockCaller{
			callFunc: func(ctx context.Context, _ string, _ any) (command.Response, error) {
				<-ctx.Done()
				return command.Response{}, fmt.Errorf("wait: %w", ctx.Err())
			},
		}
		v1.RegisterCommandRoutes(api, caller, 10*time.Millisecond)

		resp := api.Post("/commands", map[string]any{"method": command.MethodPing})
		assert.Equal(t, http.StatusGatewayTimeout, resp.Code)
	})

	t.Run("other_failure", func(t *testing.T) {
		t.Parallel()

		_, api := humatest.New(t)
		caller := &mockCaller{
			callFunc: func(context.Context, string, any) (command.Response, error) {
				return command.Response{}, errors.New("encode failed")
			},
		}
		v1.RegisterCommandRoutes(api, caller, time.Second)

		resp := api.Post("/commands", map[string]any{"method": command.MethodPing})
		assert.Equal(t, http.StatusInternalServerError, resp.Code)
	})
}

// ---------------------------------------------------------------------------
// GET /sessions
// ---------------------------------------------------------------------------

func TestListSessions(t *testing.T) {
	t.Parallel()

	_, api := humatest.New(t)
	v1.RegisterCommandRoutes(api, &mockCaller{sessions: []string{"a", "b"}}, time.Second)

	resp := api.Get("/sessions")
	require.Equal(t, http.StatusOK, resp.Code)

	var body []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"a", "b"}, body)
}
