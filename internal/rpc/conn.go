package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// MaxMessageSize bounds a single inbound line.
const MaxMessageSize = 16 * 1024 * 1024

// Conn reads messages from r and writes them to w. Reads must come from a
// single goroutine; writes may come from any.
type Conn struct {
	scanner *bufio.Scanner

	mu sync.Mutex
	w  io.Writer

	nextID int64
}

func NewConn(r io.Reader, w io.Writer) *Conn {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), MaxMessageSize)
	return &Conn{scanner: s, w: w}
}

// Read returns the next message. It returns io.EOF when the input ends.
// A line that cannot be decoded is returned as an error without ending
// the stream, so callers may skip it and read again.
func (c *Conn) Read() (*Message, error) {
	for {
		if !c.scanner.Scan() {
			if err := c.scanner.Err(); err != nil {
				return nil, fmt.Errorf("read message: %w", err)
			}
			return nil, io.EOF
		}
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		slog.Debug("received message", "raw", string(line))

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, &DecodeError{Err: err}
		}
		if err := msg.validate(); err != nil {
			return nil, &DecodeError{Err: err}
		}
		return &msg, nil
	}
}

// Write sends msg as one line.
func (c *Conn) Write(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, "%s\n", data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Notify pushes a request that expects no response.
func (c *Conn) Notify(method string, value any) error {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	msg, err := NewRequest(id, method, value)
	if err != nil {
		return err
	}
	return c.Write(msg)
}

// DecodeError marks an inbound line that is not a valid message.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode message: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }
