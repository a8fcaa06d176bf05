package game

import (
	"errors"
	"fmt"

	"github.com/walterschell/jaquemate/rules"
)

var (
	ErrNoPendingPromotion = errors.New("no promotion pending")
	ErrResolverBusy       = errors.New("promotion resolver already open")
)

// ConcurrentInconsistencyError is returned when a promotion choice no longer
// matches the position it was requested for. The pending move is dropped.
type ConcurrentInconsistencyError struct {
	Pending PendingPromotion
	Current string
	Err     error
}

func (e *ConcurrentInconsistencyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("promotion %s%s rejected in %s: %v", e.Pending.From, e.Pending.To, e.Current, e.Err)
	}
	return fmt.Sprintf("promotion %s%s requested in %s but position is now %s", e.Pending.From, e.Pending.To, e.Pending.FEN, e.Current)
}

func (e *ConcurrentInconsistencyError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed save of an already applied move.
type PersistenceError struct {
	Move rules.AppliedMove
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist move %s: %v", e.Move.UCI, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
