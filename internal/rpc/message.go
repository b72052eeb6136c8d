// Package rpc implements the line-delimited JSON message transport spoken
// with the editor: every line is one adjacently tagged message.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownMethod = errors.New("unknown method")
	ErrInvalidKind   = errors.New("invalid message kind")
)

type Kind string

const (
	KindRequest  Kind = "Request"
	KindResponse Kind = "Response"
)

// Data is the body of a message. Responses echo ID and Method of the
// request they answer; Error is set instead of Value on failure.
type Data struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Value  json.RawMessage `json:"value,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type Message struct {
	Kind Kind `json:"kind"`
	Data Data `json:"data"`
}

func (m *Message) validate() error {
	switch m.Kind {
	case KindRequest, KindResponse:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, m.Kind)
	}
}

// NewRequest builds a request carrying value.
func NewRequest(id int64, method string, value any) (*Message, error) {
	raw, err := encodeValue(value)
	if err != nil {
		return nil, err
	}
	return &Message{Kind: KindRequest, Data: Data{ID: id, Method: method, Value: raw}}, nil
}

// NewResponse answers req with value.
func NewResponse(req *Message, value any) (*Message, error) {
	raw, err := encodeValue(value)
	if err != nil {
		return nil, err
	}
	return &Message{Kind: KindResponse, Data: Data{ID: req.Data.ID, Method: req.Data.Method, Value: raw}}, nil
}

// NewErrorResponse answers req with err.
func NewErrorResponse(req *Message, err error) *Message {
	return &Message{Kind: KindResponse, Data: Data{ID: req.Data.ID, Method: req.Data.Method, Error: err.Error()}}
}

func encodeValue(value any) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return raw, nil
}
