package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/screen-recorder/screen-recorder/internal/capture"
	"github.com/screen-recorder/screen-recorder/internal/logger"
	"github.com/screen-recorder/screen-recorder/internal/selection"
)

const (
	// DefaultQueryTimeout bounds a whole query, including retries.
	DefaultQueryTimeout = 2 * time.Second
	// DefaultAttempts is how often the client dials before giving up.
	DefaultAttempts = 3
)

// Client queries the main application. Each query uses a fresh
// connection, so a restarted server is picked up transparently.
type Client struct {
	path     string
	timeout  time.Duration
	attempts int
}

// NewClient creates a client for the socket at path.
func NewClient(path string, timeout time.Duration, attempts int) *Client {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	return &Client{path: path, timeout: timeout, attempts: attempts}
}

// QuerySelection asks for the current selection. ok is false for
// no_selection and error replies. Any failure to get an answer within the
// timeout is returned as an ErrIPCUnavailable error.
func (c *Client) QuerySelection(ctx context.Context) (sel selection.Selection, ok bool, err error) {
	log := logger.WithComponent("ipc-client")

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		resp, err := c.roundTrip(ctx, Request{Type: TypeQuerySelection})
		if err == nil {
			if resp.Type == TypeError {
				log.Warn().Str("message", resp.Message).Msg("Main application returned an error")
			}
			return resp.Selection()
		}
		lastErr = err
		log.Debug().Err(err).Int("attempt", attempt).Msg("Selection query failed")

		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return selection.Selection{}, false, capture.NewError(capture.KindIPCUnavailable, c.path, lastErr)
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		}
	}
	return selection.Selection{}, false, capture.NewError(capture.KindIPCUnavailable, c.path, lastErr)
}

func (c *Client) roundTrip(ctx context.Context, req Request) (Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.path)
	if err != nil {
		return Response{}, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("write request: %w", err)
	}

	line, err := readLine(bufio.NewReader(conn))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}
