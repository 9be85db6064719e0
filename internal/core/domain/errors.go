package domain

import (
	"errors"
	"fmt"
)

var (
	ErrItemNotFound = errors.New("queue item not found")
	ErrDuplicate    = errors.New("duplicate queue item")
	ErrInvalidInput = errors.New("invalid input")
	ErrTemporary    = errors.New("temporary failure")

	// ErrClaimConflict means another invocation won the claim race for a
	// candidate. Expected under concurrency; the scheduler moves on.
	ErrClaimConflict = errors.New("claim conflict")

	// ErrUnresolvableSource means no media URL can be derived for an item. The
	// item is marked error immediately without consuming retry budget.
	ErrUnresolvableSource = errors.New("unresolvable media source")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
