package book

import (
	"errors"
	"fmt"
)

var (
	// ErrInconsistent marks a local invariant violation while applying an
	// event. The book must be resynchronized from a snapshot.
	ErrInconsistent = errors.New("book inconsistent")

	// ErrDuplicateOrder is returned when an order id is already resting.
	ErrDuplicateOrder = errors.New("duplicate order id")
)

// Fault describes why an event could not be applied. It matches
// ErrInconsistent with errors.Is.
type Fault struct {
	Op       string // event kind or store operation
	Sequence int64
	OrderID  string
	Reason   string
	Err      error // underlying store error, may be nil
}

func (f *Fault) Error() string {
	msg := fmt.Sprintf("book inconsistent: %s seq=%d order=%s: %s", f.Op, f.Sequence, f.OrderID, f.Reason)
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Fault) Is(target error) bool {
	return target == ErrInconsistent
}

func (f *Fault) Unwrap() error {
	return f.Err
}
