package recovery

import (
	"errors"
	"fmt"
)

// Kind tags an error with where it came from. The classifier maps kinds to
// categories and strategies.
type Kind string

const (
	KindLock        Kind = "lock"
	KindLockTimeout Kind = "lock_timeout"
	KindLockRelease Kind = "lock_release"
	KindTransaction Kind = "transaction"
	KindInternal    Kind = "internal"
	KindConnection  Kind = "connection"
	KindTimeout     Kind = "timeout"
	KindExternal    Kind = "external"
	KindThrottled   Kind = "throttled"
	KindConstraint  Kind = "constraint"
	KindPermission  Kind = "permission"
	KindValidation  Kind = "validation"
	KindCanceled    Kind = "canceled"
	KindSkip        Kind = "skip"
	KindCompensate  Kind = "compensate"
	KindAbort       Kind = "abort"
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap tags err with kind. It returns nil when err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the outermost kind found in the chain of err.
func KindOf(err error) (Kind, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return "", false
}

// Skip marks an action failure as non fatal for the surrounding join.
func Skip(err error) error {
	return Wrap(KindSkip, "", err)
}

// Compensate asks the runtime to route the execution to its failure transition.
func Compensate(err error) error {
	return Wrap(KindCompensate, "", err)
}

// Abort fails the execution without retrying.
func Abort(err error) error {
	return Wrap(KindAbort, "", err)
}

// External marks err as caused by an unreachable dependency.
func External(err error) error {
	return Wrap(KindExternal, "", err)
}

// Throttled marks err as a dependency asking callers to slow down. It is
// retried after a fixed delay.
func Throttled(err error) error {
	return Wrap(KindThrottled, "", err)
}

func kinds(err error) []Kind {
	var out []Kind
	cur := err
	for cur != nil {
		var re *Error
		if !errors.As(cur, &re) {
			break
		}
		out = append(out, re.Kind)
		cur = re.Err
	}
	return out
}
