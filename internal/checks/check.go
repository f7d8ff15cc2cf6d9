// Package checks defines the data check contract, the registry the API
// serves from, and the built-in checks.
package checks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Status is the outcome of a check run.
type Status string

const (
	StatusSuccess Status = "Success"
	StatusWarning Status = "Warning"
	StatusFailure Status = "Failure"
)

// Valid reports whether s is one of the known outcomes.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusWarning, StatusFailure:
		return true
	}
	return false
}

// Result is what a check reports back.
type Result struct {
	Status  Status          `json:"status"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// ParameterDefinition describes one input a check accepts.
type ParameterDefinition struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Default     *string `json:"default"`
}

// Params are the caller-supplied inputs of a run, decoded from JSON.
type Params map[string]any

// Context gives checks access to shared resources.
type Context interface {
	ConnectionString(ctx context.Context, name string) (string, error)
}

// Check is a runnable data check.
type Check interface {
	ID() string
	Description() string
	Parameters() []ParameterDefinition
	Execute(ctx context.Context, cc Context, params Params) (Result, error)
}

// Kind classifies check errors.
type Kind int

const (
	// KindExecution means the check could not complete its work.
	KindExecution Kind = iota
	// KindConfig means the caller supplied bad or missing parameters.
	KindConfig
)

func (k Kind) String() string {
	if k == KindConfig {
		return "configuration error"
	}
	return "execution error"
}

// Error is returned by Check.Execute.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// ConfigError builds a KindConfig error.
func ConfigError(msg string) error { return &Error{Kind: KindConfig, Msg: msg} }

// ExecutionError builds a KindExecution error wrapping err.
func ExecutionError(msg string, err error) error {
	return &Error{Kind: KindExecution, Msg: msg, Err: err}
}

// IsConfigError reports whether err is a KindConfig check error.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == KindConfig
}
