package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	seekerrors "github.com/driveseek/driveseek/internal/errors"
)

// Client connects to a running daemon over its unix socket. One
// connection serves one request; searches hold theirs open while
// frames stream.
type Client struct {
	socketPath string
	timeout    time.Duration
	requestID  atomic.Uint64
}

// NewClient creates a daemon client.
func NewClient(cfg Config) *Client {
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    cfg.Timeout,
	}
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, seekerrors.New(seekerrors.ErrCodeDaemonUnreachable,
			fmt.Sprintf("failed to connect to daemon at %s", c.socketPath), err)
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) (*PingResult, error) {
	var result PingResult
	if err := c.single(ctx, MethodPing, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Status retrieves daemon and index status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var result StatusResult
	if err := c.single(ctx, MethodStatus, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Index asks the daemon to rebuild drive indexes.
func (c *Client) Index(ctx context.Context, params IndexParams) (*IndexResult, error) {
	var result IndexResult
	if err := c.single(ctx, MethodIndex, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Search runs a streaming search. onBatch is called for each batch
// frame as it arrives, on the calling goroutine; the completion is
// returned once the terminal frame lands. A nil onBatch discards
// batches.
func (c *Client) Search(ctx context.Context, params SearchParams, onBatch func(Batch)) (Completion, error) {
	if err := params.Validate(); err != nil {
		return Completion{}, fmt.Errorf("invalid params: %w", err)
	}

	conn, err := c.Connect()
	if err != nil {
		return Completion{}, err
	}
	defer conn.Close()

	// No deadline while streaming; cancellation closes the
	// connection, which unblocks the decoder.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	req := Request{
		JSONRPC: "2.0",
		Method:  MethodSearch,
		Params:  params,
		ID:      c.nextID(),
	}
	if err := send(conn, req); err != nil {
		return Completion{}, err
	}

	decoder := json.NewDecoder(conn)
	for {
		var frame SearchFrame
		if err := decoder.Decode(&frame); err != nil {
			if ctx.Err() != nil {
				return Completion{}, ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return Completion{}, fmt.Errorf("daemon closed the stream before completing")
			}
			return Completion{}, fmt.Errorf("failed to read search frame: %w", err)
		}

		switch frame.Type {
		case FrameBatch:
			if onBatch != nil {
				onBatch(Batch{Drive: frame.Drive, Seq: frame.Seq, Results: frame.Results})
			}
		case FrameComplete:
			return Completion{
				Total:     frame.Total,
				Truncated: frame.Truncated,
				Drives:    frame.Drives,
				Elapsed:   time.Duration(frame.ElapsedMS) * time.Millisecond,
			}, nil
		case FrameError:
			if frame.Error != nil {
				return Completion{}, clientError(frame.Error)
			}
			return Completion{}, fmt.Errorf("search failed")
		default:
			return Completion{}, fmt.Errorf("unknown search frame type: %q", frame.Type)
		}
	}
}

// single runs one request-response method.
func (c *Client) single(ctx context.Context, method string, params any, out any) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID(),
	}
	if err := send(conn, req); err != nil {
		return err
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("failed to receive response: %w", err)
	}
	if resp.Error != nil {
		return clientError(resp.Error)
	}
	if out == nil {
		return nil
	}
	return decodeParams(resp.Result, out)
}

// clientError surfaces the daemon's coded error when one rode along in
// the RPC error data, so callers branch on codes and see suggestions
// as if the failure were local.
func clientError(rpcErr *Error) error {
	if rpcErr.Data == nil {
		return rpcErr
	}
	payload, err := json.Marshal(rpcErr.Data)
	if err != nil {
		return rpcErr
	}
	se, err := seekerrors.ParseJSON(payload)
	if err != nil {
		return rpcErr
	}
	return se
}

// send encodes and writes a request to the connection.
func send(conn net.Conn, req Request) error {
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

// nextID generates a unique request ID.
func (c *Client) nextID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}
