package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

type CallCommandInput struct {
	Body struct {
		Method string `json:"method" minLength:"1" maxLength:"128" doc:"Command method, e.g. core_session_info"`
		Args   any    `json:"args,omitempty" doc:"Method arguments as JSON"`
	}
}

type CommandResult struct {
	ID     string          `json:"id" doc:"Request ID"`
	Method string          `json:"method" doc:"Command method"`
	Result json.RawMessage `json:"result,omitempty" doc:"Method result"`
}

type CallCommandOutput struct {
	Body *CommandResult
}

type ListSessionsInput struct{}

type ListSessionsOutput struct {
	Body []string
}

// RegisterCommandRoutes wires the command endpoints. Each call is bounded by timeout.
func RegisterCommandRoutes(api huma.API, caller Caller, timeout time.Duration) {
	huma.Register(api, huma.Operation{
		OperationID: "call-command",
		Method:      http.MethodPost,
		Path:        "/commands",
		Summary:     "Send a command to the connected agent and wait for its response",
		Tags:        []string{"Commands"},
	}, func(ctx context.Context, input *CallCommandInput) (*CallCommandOutput, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		resp, err := caller.Call(ctx, input.Body.Method, input.Body.Args)
		switch {
		case err == nil:
		case resp.Error != "":
			return nil, huma.Error502BadGateway(resp.Error)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, huma.Error504GatewayTimeout("agent did not respond in time")
		default:
			return nil, huma.Error500InternalServerError("command failed", err)
		}

		return &CallCommandOutput{Body: &CommandResult{
			ID:     resp.ID,
			Method: input.Body.Method,
			Result: resp.Result,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List session IDs seen by the controller",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, _ *ListSessionsInput) (*ListSessionsOutput, error) {
		return &ListSessionsOutput{Body: caller.Sessions()}, nil
	})
}
