// Package renderservice performs post-hoc file operations (trim, join,
// addAudio, export) behind a request/response interface, either in-process
// over ffmpeg or through the HTTP render service.
package renderservice

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Operation names a file operation.
type Operation string

const (
	OpTrim     Operation = "trim"
	OpJoin     Operation = "join"
	OpAddAudio Operation = "addAudio"
	OpExport   Operation = "export"
)

// Operations lists every supported operation.
var Operations = []Operation{OpTrim, OpJoin, OpAddAudio, OpExport}

// Error codes carried in a failed Response.
const (
	CodeUnknownOperation = "UNKNOWN_OPERATION"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeOperationFailed  = "OPERATION_FAILED"
)

var (
	// ErrUnknownOperation is returned for an operation outside Operations.
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrInvalidRequest is returned when inputs, output or params are unusable.
	ErrInvalidRequest = errors.New("invalid request")
)

// Request asks the service to produce OutputPath from Inputs.
type Request struct {
	Operation  Operation      `json:"operation"`
	Inputs     []string       `json:"inputs"`
	OutputPath string         `json:"outputPath"`
	Params     map[string]any `json:"params,omitempty"`
}

// Response reports the outcome of a Request.
type Response struct {
	Success    bool   `json:"success"`
	OutputPath string `json:"outputPath,omitempty"`
	Error      string `json:"error,omitempty"`
	Code       string `json:"code,omitempty"`
	JobID      string `json:"jobId,omitempty"`
}

// Service runs file operations. A non-nil error always comes with a
// Response whose Success is false.
type Service interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// Known reports whether op is a supported operation.
func Known(op Operation) bool {
	for _, o := range Operations {
		if o == op {
			return true
		}
	}
	return false
}

// Validate checks the shape of a request for its operation.
func (r Request) Validate() error {
	if !Known(r.Operation) {
		return fmt.Errorf("%w: %q", ErrUnknownOperation, r.Operation)
	}
	if r.OutputPath == "" {
		return fmt.Errorf("%w: outputPath is required", ErrInvalidRequest)
	}
	want := 1
	switch r.Operation {
	case OpJoin:
		if len(r.Inputs) < 2 {
			return fmt.Errorf("%w: join needs at least two inputs", ErrInvalidRequest)
		}
		return nil
	case OpAddAudio:
		want = 2
	}
	if len(r.Inputs) != want {
		return fmt.Errorf("%w: %s takes %d input(s), got %d", ErrInvalidRequest, r.Operation, want, len(r.Inputs))
	}
	return nil
}

// Failure builds the failed Response for err.
func Failure(err error) Response {
	code := CodeOperationFailed
	switch {
	case errors.Is(err, ErrUnknownOperation):
		code = CodeUnknownOperation
	case errors.Is(err, ErrInvalidRequest):
		code = CodeInvalidRequest
	}
	return Response{Success: false, Error: err.Error(), Code: code}
}

// codeError recovers the sentinel for a wire error code.
func codeError(code, msg string) error {
	switch code {
	case CodeUnknownOperation:
		return fmt.Errorf("%w: %s", ErrUnknownOperation, msg)
	case CodeInvalidRequest:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
	}
	return errors.New(msg)
}

// Float reads a numeric param, accepting JSON numbers and numeric strings.
func (r Request) Float(key string, def float64) (float64, error) {
	v, ok := r.Params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: param %s: %v", ErrInvalidRequest, key, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: param %s is %T, want a number", ErrInvalidRequest, key, v)
}

// Int reads an integer param.
func (r Request) Int(key string, def int) (int, error) {
	f, err := r.Float(key, float64(def))
	return int(f), err
}

// Bool reads a boolean param.
func (r Request) Bool(key string, def bool) (bool, error) {
	v, ok := r.Params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("%w: param %s: %v", ErrInvalidRequest, key, err)
		}
		return parsed, nil
	}
	return false, fmt.Errorf("%w: param %s is %T, want a bool", ErrInvalidRequest, key, v)
}

// String reads a string param.
func (r Request) String(key, def string) string {
	if s, ok := r.Params[key].(string); ok && s != "" {
		return s
	}
	return def
}
