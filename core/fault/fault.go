package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind is the closed set of failure categories the reconciler reasons about.
type Kind string

const (
	// Transient failures may succeed if the same operation is repeated shortly.
	Transient Kind = "transient"
	// Permanent failures will not succeed on retry within this pass.
	Permanent Kind = "permanent"
	// Ambiguous failures give no reliable evidence either way.
	Ambiguous Kind = "ambiguous"
	// Fatal failures abort the current pass or sweep.
	Fatal Kind = "fatal"
)

// Action is what the reconciler does with a failure of a given kind.
type Action string

const (
	ActionRetry          Action = "retry"
	ActionRecordAndSkip  Action = "record_and_skip"
	ActionLeaveUntouched Action = "leave_untouched"
	ActionPropagate      Action = "propagate"
)

// Policy maps each Kind to its Action.
var Policy = map[Kind]Action{
	Transient: ActionRetry,
	Permanent: ActionRecordAndSkip,
	Ambiguous: ActionLeaveUntouched,
	Fatal:     ActionPropagate,
}

// ActionFor returns the policy action for k. Unknown kinds propagate.
func ActionFor(k Kind) Action {
	if a, ok := Policy[k]; ok {
		return a
	}
	return ActionPropagate
}

// Error attaches a Kind and the failing operation to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind. A nil err yields nil.
func New(kind Kind, op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Key: key, Err: err}
}

// Classify returns the Kind of err.
// Explicitly tagged errors win; otherwise cancellation is Fatal, network errors are
// Transient and everything else is Permanent.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fatal
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return Transient
	}
	return Permanent
}

// Is reports whether err classifies as k.
func Is(err error, k Kind) bool {
	return err != nil && Classify(err) == k
}
