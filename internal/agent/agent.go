// Package agent defines the pluggable unit of work invoked by name, the
// registry that resolves names, and the invoker and batch runner that
// execute agents with tracing, metrics and failure isolation.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrNotFound     = errors.New("agent not found")
	ErrInvalidInput = errors.New("invalid agent input")
	ErrDuplicate    = errors.New("agent already registered")
)

type Metadata struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Version     string         `json:"version"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

// Result is the outcome of one Process call. A failed result carries the
// underlying error so callers can classify it; only the message is encoded.
type Result struct {
	Success bool   `json:"success"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`

	err error
}

func Succeeded(output any) Result {
	return Result{Success: true, Output: output}
}

func Failed(err error) Result {
	if err == nil {
		err = errors.New("agent failed without an error")
	}
	return Result{Success: false, Error: err.Error(), err: err}
}

// Err returns the failure cause, or nil for a successful result.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	if r.err != nil {
		return r.err
	}
	if r.Error != "" {
		return errors.New(r.Error)
	}
	return errors.New("agent failed")
}

type Agent interface {
	Metadata() Metadata
	Process(ctx context.Context, input json.RawMessage) Result
}

// ValidateInput checks input against the agent's declared input schema.
// Agents without a schema accept any JSON object.
func ValidateInput(metadata Metadata, input json.RawMessage) error {
	if len(strings.TrimSpace(string(input))) == 0 {
		input = json.RawMessage(`{}`)
	}
	if !json.Valid(input) {
		return fmt.Errorf("%w: body is not valid JSON", ErrInvalidInput)
	}
	if len(metadata.InputSchema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(metadata.InputSchema),
		gojsonschema.NewBytesLoader(input),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(messages, "; "))
	}
	return nil
}

// DecodeInput unmarshals input into target, wrapping failures as ErrInvalidInput.
func DecodeInput(input json.RawMessage, target any) error {
	if len(strings.TrimSpace(string(input))) == 0 {
		input = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(input, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
