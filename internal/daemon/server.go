package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	seekerrors "github.com/driveseek/driveseek/internal/errors"
	"github.com/driveseek/driveseek/internal/profiling"
	"github.com/driveseek/driveseek/internal/search"
)

// Handler executes daemon requests. The engine facade satisfies it.
type Handler interface {
	// Search starts a streaming search. The returned channel yields
	// result batches and then a completion; a close without a
	// completion means a newer search in the same session superseded
	// this one.
	Search(ctx context.Context, params SearchParams) (<-chan search.Update, error)

	// Status reports per-drive index state. The server fills in the
	// process fields.
	Status() StatusResult

	// Index rebuilds the named drives, or every configured drive.
	Index(ctx context.Context, params IndexParams) (IndexResult, error)
}

// Server listens on a unix socket and serves RPC requests. It holds
// the data-directory lock and pidfile for its whole run, so only one
// daemon serves a data dir at a time.
type Server struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger
	version string

	mu       sync.Mutex
	listener net.Listener
	shutdown bool
	started  time.Time
	wg       sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server's logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithVersion sets the version string reported by ping and status.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates a daemon server around a request handler.
func NewServer(cfg Config, handler Handler, opts ...ServerOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid daemon config: %w", err)
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	s := &Server{
		cfg:     cfg,
		handler: handler,
		logger:  slog.Default(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ListenAndServe acquires the data-directory lock, writes the
// pidfile, binds the socket and serves until ctx is cancelled or
// Close is called. The lock, pidfile and socket are released on
// return.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.cfg.EnsureDir(); err != nil {
		return err
	}

	lock := NewLock(s.cfg.LockPath)
	acquired, err := lock.TryLock()
	if err != nil {
		return seekerrors.New(seekerrors.ErrCodeSocketFailed, "failed to acquire daemon lock", err)
	}
	if !acquired {
		return seekerrors.New(seekerrors.ErrCodeDaemonRunning,
			fmt.Sprintf("another daemon holds %s", s.cfg.LockPath), nil)
	}
	defer lock.Unlock()

	pidfile := NewPIDFile(s.cfg.PIDPath)
	if err := pidfile.Write(); err != nil {
		return err
	}
	defer pidfile.Remove()

	// A previous daemon that crashed leaves its socket behind; the
	// lock already proved it is gone.
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return seekerrors.New(seekerrors.ErrCodeSocketFailed, "failed to remove stale socket", err)
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return seekerrors.New(seekerrors.ErrCodeSocketFailed,
			fmt.Sprintf("failed to listen on %s", s.cfg.SocketPath), err)
	}

	s.mu.Lock()
	s.listener = listener
	s.started = time.Now()
	s.mu.Unlock()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.cfg.SocketPath)
	}()

	s.logger.Info("daemon_listening",
		slog.String("socket", s.cfg.SocketPath),
		slog.Int("pid", os.Getpid()))

	// Cancellation closes the listener, which unblocks Accept.
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			done := s.shutdown
			s.mu.Unlock()
			if done {
				break
			}
			s.logger.Warn("daemon_accept_failed", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.waitConnections()
	s.logger.Info("daemon_stopped")
	return ctx.Err()
}

// waitConnections waits for in-flight connections up to the shutdown
// grace period.
func (s *Server) waitConnections() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGracePeriod):
		s.logger.Warn("daemon_shutdown_timeout",
			slog.Duration("grace_period", s.cfg.ShutdownGracePeriod))
	}
}

// Close stops accepting connections. Safe to call more than once.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return
	}
	s.shutdown = true
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

// handleConnection serves one request on one connection.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// Bound reading the request. Streaming searches clear this once
	// the request is decoded.
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		s.logger.Warn("daemon_deadline_failed", slog.String("error", err.Error()))
		return
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}
	if req.JSONRPC != "2.0" {
		_ = encoder.Encode(NewErrorResponse(req.ID, ErrCodeInvalidRequest, "jsonrpc must be \"2.0\""))
		return
	}

	s.logger.Debug("daemon_request",
		slog.String("method", req.Method),
		slog.String("id", req.ID))

	switch req.Method {
	case MethodPing:
		_ = encoder.Encode(NewSuccessResponse(req.ID, s.pingResult()))
	case MethodStatus:
		_ = encoder.Encode(NewSuccessResponse(req.ID, s.statusResult()))
	case MethodIndex:
		_ = encoder.Encode(s.handleIndex(ctx, req))
	case MethodSearch:
		s.streamSearch(ctx, conn, encoder, req)
	default:
		_ = encoder.Encode(NewErrorResponse(req.ID, ErrCodeMethodNotFound,
			fmt.Sprintf("unknown method: %s", req.Method)))
	}
}

func (s *Server) pingResult() PingResult {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	return PingResult{
		Version:    s.version,
		PID:        os.Getpid(),
		UptimeSecs: int64(time.Since(started).Seconds()),
	}
}

func (s *Server) statusResult() StatusResult {
	result := s.handler.Status()
	ping := s.pingResult()
	result.Version = ping.Version
	result.PID = ping.PID
	result.UptimeSecs = ping.UptimeSecs
	result.MemoryBytes = profiling.MemStats().HeapAlloc
	return result
}

func (s *Server) handleIndex(ctx context.Context, req Request) Response {
	var params IndexParams
	if err := decodeParams(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	result, err := s.handler.Index(ctx, params)
	if err != nil {
		rpcErr := rpcErrorFor(err)
		return NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message)
	}
	return NewSuccessResponse(req.ID, result)
}

// streamSearch writes a search reply as a stream of frames: zero or
// more batch frames, then one complete or error frame. Errors after
// the stream begins also arrive as frames, so the client decodes
// frames until a terminal one.
func (s *Server) streamSearch(ctx context.Context, conn net.Conn, encoder *json.Encoder, req Request) {
	var params SearchParams
	if err := decodeParams(req.Params, &params); err != nil {
		_ = encoder.Encode(errorFrame(&Error{Code: ErrCodeInvalidParams, Message: err.Error()}))
		return
	}
	if err := params.Validate(); err != nil {
		_ = encoder.Encode(errorFrame(&Error{Code: ErrCodeInvalidParams, Message: err.Error()}))
		return
	}

	// No read deadline while streaming; the engine's batch cadence
	// bounds the stream.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		s.logger.Warn("daemon_deadline_failed", slog.String("error", err.Error()))
		return
	}

	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, err := s.handler.Search(searchCtx, params)
	if err != nil {
		_ = encoder.Encode(errorFrame(rpcErrorFor(err)))
		return
	}

	completed := false
	for update := range updates {
		var frame SearchFrame
		switch {
		case update.Batch != nil:
			frame = batchFrame(update.Batch)
		case update.Completion != nil:
			frame = completeFrame(update.Completion)
			completed = true
		default:
			continue
		}

		if err := encoder.Encode(frame); err != nil {
			// Client went away; stop the engine stream and drain.
			s.logger.Debug("daemon_stream_aborted", slog.String("error", err.Error()))
			cancel()
			for range updates {
			}
			return
		}
		if completed {
			return
		}
	}

	// Stream closed without a completion: a newer search in the same
	// session took over.
	if !completed {
		_ = encoder.Encode(errorFrame(&Error{
			Code:    ErrCodeSuperseded,
			Message: "search superseded by a newer search in the same session",
		}))
	}
}

func batchFrame(b *search.Batch) SearchFrame {
	results := make([]Result, len(b.Results))
	for i, f := range b.Results {
		results[i] = resultFromFile(f)
	}
	return SearchFrame{
		Type:    FrameBatch,
		Drive:   b.Drive,
		Seq:     b.Seq,
		Results: results,
	}
}

func completeFrame(c *search.Completion) SearchFrame {
	drives := make([]DriveOutcome, len(c.Drives))
	for i, d := range c.Drives {
		drives[i] = DriveOutcome{Drive: d.Drive, Count: d.Count, Truncated: d.Truncated}
	}
	return SearchFrame{
		Type:      FrameComplete,
		Total:     c.Total,
		Truncated: c.Truncated,
		Drives:    drives,
		ElapsedMS: c.Elapsed.Milliseconds(),
	}
}

func errorFrame(e *Error) SearchFrame {
	return SearchFrame{Type: FrameError, Error: e}
}

// decodeParams re-marshals the request's params into a typed struct.
func decodeParams(params any, out any) error {
	if params == nil {
		return nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

// rpcErrorFor maps coded engine errors onto JSON-RPC error codes. The
// structured error rides along in the data field so clients can show
// the hint and rebuild the coded error on their side.
func rpcErrorFor(err error) *Error {
	code := ErrCodeInternalError
	switch seekerrors.GetCode(err) {
	case seekerrors.ErrCodeIndexNotReady:
		code = ErrCodeIndexNotReady
	case seekerrors.ErrCodeUnknownDrive, seekerrors.ErrCodeInvalidScope:
		code = ErrCodeUnknownDrive
	case seekerrors.ErrCodeSearchSuperseded:
		code = ErrCodeSuperseded
	case seekerrors.ErrCodeBuildFailed, seekerrors.ErrCodeDriveUnavailable:
		code = ErrCodeBuildFailed
	}

	rpcErr := &Error{Code: code, Message: err.Error()}
	if seekerrors.GetCode(err) != "" {
		if payload, jsonErr := seekerrors.FormatJSON(err); jsonErr == nil {
			rpcErr.Data = json.RawMessage(payload)
		}
	}
	return rpcErr
}
