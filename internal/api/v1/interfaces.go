package v1

import (
	"context"

	"github.com/gosuda/tether/internal/command"
)

// Caller issues commands to connected agents.
// *controller.Controller satisfies this interface.
type Caller interface {
	Call(ctx context.Context, method string, args any) (command.Response, error)
	Sessions() []string
}
