package command

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Request is a command sent by the controller.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// Response answers a Request. Notices are responses with a fresh ID the
// controller never asked for.
type Response struct {
	ID     string          `json:"id"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// NewRequest builds an encoded request with a fresh ID.
func NewRequest(method string, args any) (Request, []byte, error) {
	req := Request{ID: uuid.NewString(), Method: method}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return req, nil, fmt.Errorf("command.NewRequest(%s): %w", method, err)
		}
		req.Args = raw
	}
	data, err := json.Marshal(req)
	if err != nil {
		return req, nil, fmt.Errorf("command.NewRequest(%s): %w", method, err)
	}
	return req, data, nil
}

// NewNotice encodes an unsolicited message.
func NewNotice(method string, result any) ([]byte, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("command.NewNotice(%s): %w", method, err)
	}
	data, err := json.Marshal(Response{ID: uuid.NewString(), Method: method, Result: raw})
	if err != nil {
		return nil, fmt.Errorf("command.NewNotice(%s): %w", method, err)
	}
	return data, nil
}
