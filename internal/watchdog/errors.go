// internal/watchdog/errors.go
package watchdog

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies why a run failed.
type Kind int

const (
	KindUsage Kind = iota + 1
	KindNavigationExhausted
	KindReadinessTimeout
	KindURLMismatch
	KindMissingElement
	KindUnexpected
)

var kindNames = map[Kind]string{
	KindUsage:               "UsageError",
	KindNavigationExhausted: "NavigationExhausted",
	KindReadinessTimeout:    "ReadinessTimeout",
	KindURLMismatch:         "URLMismatch",
	KindMissingElement:      "MissingElement",
	KindUnexpected:          "Unexpected",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Sentinels matched by errors.Is against a *FlowError of the same kind.
var (
	ErrUsage               = errors.New("usage error")
	ErrNavigationExhausted = errors.New("navigation retries exhausted")
	ErrReadinessTimeout    = errors.New("page readiness timed out")
	ErrURLMismatch         = errors.New("url mismatch")
	ErrMissingElement      = errors.New("missing page element")
	ErrUnexpected          = errors.New("unexpected failure")
)

var kindSentinels = map[Kind]error{
	KindUsage:               ErrUsage,
	KindNavigationExhausted: ErrNavigationExhausted,
	KindReadinessTimeout:    ErrReadinessTimeout,
	KindURLMismatch:         ErrURLMismatch,
	KindMissingElement:      ErrMissingElement,
	KindUnexpected:          ErrUnexpected,
}

// FlowError is the terminal error of a failed run.
type FlowError struct {
	Kind      Kind
	Stage     string
	Reason    string
	Artifacts []string
	Err       error
}

func (e *FlowError) Error() string {
	msg := e.Kind.String()
	if e.Stage != "" {
		msg += " [" + e.Stage + "]"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FlowError) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *FlowError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// UsageError reports bad invocation, such as a missing log directory.
func UsageError(format string, args ...interface{}) error {
	return &FlowError{Kind: KindUsage, Reason: fmt.Sprintf(format, args...)}
}

// Process exit codes.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitInterrupted = 130
)

// ExitCode maps a run error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, ErrUsage):
		return ExitUsage
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	default:
		return ExitFailure
	}
}
