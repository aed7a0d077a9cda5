package daemon

import (
	"fmt"
	"time"

	"github.com/driveseek/driveseek/internal/store"
)

// JSON-RPC 2.0 method names.
const (
	MethodSearch = "search"
	MethodStatus = "status"
	MethodIndex  = "index"
	MethodPing   = "ping"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Implementation-defined error codes in the JSON-RPC reserved range.
const (
	ErrCodeIndexNotReady = -32001
	ErrCodeUnknownDrive  = -32002
	ErrCodeSuperseded    = -32003
	ErrCodeBuildFailed   = -32004
	ErrCodeShuttingDown  = -32005
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code: %d)", e.Message, e.Code)
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

// SearchParams are the parameters for the search method.
type SearchParams struct {
	// Query is the raw query string (required).
	Query string `json:"query"`

	// Drive restricts the search to one drive root. Empty searches
	// every Ready drive.
	Drive string `json:"drive,omitempty"`

	// SessionKey groups searches whose newer issue supersedes older
	// ones, typically one key per interactive client.
	SessionKey string `json:"session_key,omitempty"`

	// Limit caps results per drive. Zero uses the engine default.
	Limit int `json:"limit,omitempty"`

	// NameOnly restricts matching to file names.
	NameOnly bool `json:"name_only,omitempty"`
}

// Validate checks that required fields are present.
func (p *SearchParams) Validate() error {
	if p.Query == "" {
		return fmt.Errorf("query is required")
	}
	if p.Limit < 0 {
		p.Limit = 0
	}
	return nil
}

// IndexParams are the parameters for the index method.
type IndexParams struct {
	// Drives lists the drive roots to rebuild. Empty rebuilds every
	// configured drive.
	Drives []string `json:"drives,omitempty"`
}

// Result is one file on the wire.
type Result struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
	// MTime is the modification time in unix nanoseconds.
	MTime int64  `json:"mtime"`
	IsDir bool   `json:"is_dir"`
	Ext   string `json:"ext,omitempty"`
}

// ModTime returns the result's modification time.
func (r Result) ModTime() time.Time {
	return time.Unix(0, r.MTime)
}

// resultFromFile converts an indexed file to its wire form.
func resultFromFile(f store.IndexedFile) Result {
	return Result{
		Name:  f.Name,
		Path:  f.Path,
		Size:  f.Size,
		MTime: f.MTime.UnixNano(),
		IsDir: f.IsDir,
		Ext:   f.Ext,
	}
}

// Search frame types. A search response is a stream of frames on the
// connection: zero or more batch frames, then exactly one complete or
// error frame.
const (
	FrameBatch    = "batch"
	FrameComplete = "complete"
	FrameError    = "error"
)

// DriveOutcome summarizes one drive's part in a completed search.
type DriveOutcome struct {
	Drive     string `json:"drive"`
	Count     int    `json:"count"`
	Truncated bool   `json:"truncated,omitempty"`
}

// SearchFrame is one message in a search stream. Type selects which
// fields carry the payload.
type SearchFrame struct {
	Type string `json:"type"`

	// Batch frame fields.
	Drive   string   `json:"drive,omitempty"`
	Seq     int      `json:"seq,omitempty"`
	Results []Result `json:"results,omitempty"`

	// Complete frame fields.
	Total     int            `json:"total,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
	Drives    []DriveOutcome `json:"drives,omitempty"`
	ElapsedMS int64          `json:"elapsed_ms,omitempty"`

	// Error frame field.
	Error *Error `json:"error,omitempty"`
}

// Batch is the client-side view of one batch frame.
type Batch struct {
	Drive   string
	Seq     int
	Results []Result
}

// Completion is the client-side view of the terminal complete frame.
type Completion struct {
	Total     int
	Truncated bool
	Drives    []DriveOutcome
	Elapsed   time.Duration
}

// DriveStatus reports one drive's index state.
type DriveStatus struct {
	Drive      string `json:"drive"`
	State      string `json:"state"`
	Generation uint64 `json:"generation"`
	Files      int    `json:"files"`
	// BuiltAt is the publish time in unix seconds, zero if never built.
	BuiltAt int64  `json:"built_at,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusResult is the response to the status method.
type StatusResult struct {
	Drives      []DriveStatus `json:"drives"`
	ReadyCount  int           `json:"ready_count"`
	TotalDrives int           `json:"total_drives"`
	TotalFiles  int           `json:"total_files"`
	Version     string        `json:"version"`
	PID         int           `json:"pid"`
	UptimeSecs  int64         `json:"uptime_secs"`
	// MemoryBytes is the daemon's live heap, which the resident
	// indexes dominate. Zero when status was answered in-process.
	MemoryBytes uint64 `json:"memory_bytes,omitempty"`
}

// IndexResult is the response to the index method.
type IndexResult struct {
	Built []string `json:"built"`
	// Failed maps a drive root to the reason its build failed.
	Failed    map[string]string `json:"failed,omitempty"`
	ElapsedMS int64             `json:"elapsed_ms"`
}

// PingResult is the response to the ping method.
type PingResult struct {
	Version    string `json:"version"`
	PID        int    `json:"pid"`
	UptimeSecs int64  `json:"uptime_secs"`
}
