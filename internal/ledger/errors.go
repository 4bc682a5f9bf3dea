package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientBalance is returned when a redemption costs more than the balance
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidInput is returned for payloads rejected before any write
	ErrInvalidInput = errors.New("invalid input")

	// ErrPersistence is matched by every storage fault
	ErrPersistence = errors.New("ledger persistence fault")
)

// InsufficientBalanceError carries the numbers behind a failed redemption
type InsufficientBalanceError struct {
	Balance int
	Cost    int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %d points, need %d", e.Balance, e.Cost)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// PersistenceError describes a failed or corrupt storage access
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
