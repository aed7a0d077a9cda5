package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForCLI renders an error for terminal display: the message, an
// actionable hint when the error carries one, and the code for bug
// reports. Errors without a code render as a bare message line.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	se, ok := asSeekError(err)
	if !ok {
		return fmt.Sprintf("Error: %s\n", err.Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", se.Message)
	if se.Suggestion != "" {
		fmt.Fprintf(&sb, "  Hint: %s\n", se.Suggestion)
	}
	fmt.Fprintf(&sb, "  Code: %s\n", se.Code)
	return sb.String()
}

// jsonError is the wire shape of a coded error. FormatJSON writes it
// and ParseJSON reads it back.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns the error as a JSON object for machine
// consumption. Errors without a code are wrapped as internal.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	se, ok := asSeekError(err)
	if !ok {
		se = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       se.Code,
		Message:    se.Message,
		Category:   string(se.Category),
		Severity:   string(se.Severity),
		Details:    se.Details,
		Suggestion: se.Suggestion,
		Retryable:  se.Retryable,
	}
	if se.Cause != nil {
		je.Cause = se.Cause.Error()
	}
	return json.Marshal(je)
}

// ParseJSON reconstructs a SeekError from FormatJSON output. Category,
// severity and retryability are rederived from the code; only the
// cause's message survives the round trip, not its chain.
func ParseJSON(data []byte) (*SeekError, error) {
	var je jsonError
	if err := json.Unmarshal(data, &je); err != nil {
		return nil, fmt.Errorf("failed to parse error payload: %w", err)
	}
	if je.Code == "" {
		return nil, stderrors.New("error payload has no code")
	}

	se := New(je.Code, je.Message, nil)
	se.Details = je.Details
	se.Suggestion = je.Suggestion
	if je.Cause != "" {
		se.Cause = stderrors.New(je.Cause)
	}
	return se, nil
}

// FormatForLog flattens an error into structured logging attributes.
// Details are prefixed with "detail_" so they never collide with the
// fixed keys.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	se, ok := asSeekError(err)
	if !ok {
		return map[string]any{"error": err.Error()}
	}

	attrs := map[string]any{
		"error_code": se.Code,
		"message":    se.Message,
		"category":   string(se.Category),
		"severity":   string(se.Severity),
		"retryable":  se.Retryable,
	}
	if se.Cause != nil {
		attrs["cause"] = se.Cause.Error()
	}
	if se.Suggestion != "" {
		attrs["suggestion"] = se.Suggestion
	}
	for k, v := range se.Details {
		attrs["detail_"+k] = v
	}
	return attrs
}
