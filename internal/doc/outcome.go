package doc

import (
	"github.com/HendryAvila/docket/internal/failure"
)

// OutcomeKind classifies the result of a fetch or a policy decision.
type OutcomeKind string

const (
	Success          OutcomeKind = "success"
	PermanentFailure OutcomeKind = "permanent"
	TransientFailure OutcomeKind = "transient"
	Denied           OutcomeKind = "denied"
)

// Outcome is what a fetcher (or the policy gate) produced for one ref.
type Outcome struct {
	Kind     OutcomeKind `json:"kind"`
	Content  []byte      `json:"-"`
	Reason   string      `json:"reason,omitempty"`
	// Code and Hint come from the classified error behind a failure.
	Code     string      `json:"code,omitempty"`
	Hint     string      `json:"hint,omitempty"`
	Attempts int         `json:"attempts,omitempty"`
}

// Positive reports whether the outcome carries document content.
func (o Outcome) Positive() bool { return o.Kind == Success }

// Cacheable reports whether the outcome may be stored in the session cache.
// Transient failures are soft misses: a later request must try again.
func (o Outcome) Cacheable() bool { return o.Kind != TransientFailure }

// Persistable reports whether the outcome may be written to the persistent
// store. Denials depend on the session's policy and are never persisted.
func (o Outcome) Persistable() bool {
	return o.Kind == Success || o.Kind == PermanentFailure
}

func Succeeded(content []byte, attempts int) Outcome {
	return Outcome{Kind: Success, Content: content, Attempts: attempts}
}

func Permanent(reason string, attempts int) Outcome {
	return Outcome{Kind: PermanentFailure, Reason: reason, Attempts: attempts}
}

func Transient(reason string, attempts int) Outcome {
	return Outcome{Kind: TransientFailure, Reason: reason, Attempts: attempts}
}

func Deny(reason string) Outcome {
	return Outcome{Kind: Denied, Reason: reason}
}

// OutcomeFromError maps a classified error onto an outcome: policy blocks
// become denials, retryable errors transient failures, everything else a
// permanent failure.
func OutcomeFromError(err error, attempts int) Outcome {
	if err == nil {
		return Outcome{Kind: Success, Attempts: attempts}
	}
	o := Outcome{
		Kind:     PermanentFailure,
		Reason:   err.Error(),
		Code:     failure.CodeOf(err),
		Hint:     failure.HintOf(err),
		Attempts: attempts,
	}
	switch {
	case failure.CategoryOf(err) == failure.CategoryPolicyBlocked:
		o.Kind = Denied
	case failure.RetryableOf(err):
		o.Kind = TransientFailure
	}
	return o
}
