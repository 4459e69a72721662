// internal/watchdog/outcome.go
package watchdog

import (
	"errors"
	"time"
)

// Status is the terminal result of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Outcome is the single result a run produces.
type Outcome struct {
	Status    Status
	StartedAt time.Time
	// Elapsed runs from browser launch to just before close. Set on success.
	Elapsed  time.Duration
	FinalURL string

	Stage     string
	Reason    string
	Artifacts []string
	Err       error
}

// Succeeded reports whether the login flow completed.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// Kind returns the failure kind, or zero on success.
func (o Outcome) Kind() Kind {
	var fe *FlowError
	if errors.As(o.Err, &fe) {
		return fe.Kind
	}
	return 0
}

func failureOutcome(started time.Time, err error) Outcome {
	out := Outcome{Status: StatusFailure, StartedAt: started, Err: err}
	var fe *FlowError
	if errors.As(err, &fe) {
		out.Stage = fe.Stage
		out.Reason = fe.Reason
		out.Artifacts = fe.Artifacts
	} else if err != nil {
		out.Reason = err.Error()
	}
	return out
}
