package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// HandlerFunc answers one request. value is the raw request value and may
// be empty.
type HandlerFunc func(ctx context.Context, value json.RawMessage) (any, error)

// Mux routes requests by method name, case-insensitively.
type Mux struct {
	handlers map[string]HandlerFunc
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[string]HandlerFunc)}
}

func (m *Mux) Handle(method string, fn HandlerFunc) {
	m.handlers[strings.ToLower(method)] = fn
}

// Dispatch runs the handler for req and builds its response.
func (m *Mux) Dispatch(ctx context.Context, req *Message) *Message {
	fn, ok := m.handlers[strings.ToLower(req.Data.Method)]
	if !ok {
		return NewErrorResponse(req, fmt.Errorf("%w: %s", ErrUnknownMethod, req.Data.Method))
	}
	value, err := fn(ctx, req.Data.Value)
	if err != nil {
		return NewErrorResponse(req, err)
	}
	resp, err := NewResponse(req, value)
	if err != nil {
		return NewErrorResponse(req, err)
	}
	return resp
}

// Serve handles requests from conn one at a time until the input ends or
// ctx is done. Undecodable lines are logged and skipped.
func Serve(ctx context.Context, conn *Conn, mux *Mux) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		msg, err := conn.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		var derr *DecodeError
		if errors.As(err, &derr) {
			slog.Warn("skipping malformed message", "err", err)
			continue
		}
		if err != nil {
			return err
		}
		if msg.Kind != KindRequest {
			slog.Debug("ignoring response", "id", msg.Data.ID, "method", msg.Data.Method)
			continue
		}
		if err := conn.Write(mux.Dispatch(ctx, msg)); err != nil {
			return err
		}
	}
}

// Decode unmarshals a request value into T. An empty value is an error.
func Decode[T any](value json.RawMessage) (T, error) {
	var out T
	if len(value) == 0 {
		return out, errors.New("missing request value")
	}
	if err := json.Unmarshal(value, &out); err != nil {
		return out, fmt.Errorf("invalid request value: %w", err)
	}
	return out, nil
}
