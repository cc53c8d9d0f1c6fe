package models

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrShareNotFound     = fmt.Errorf("share %w", ErrNotFound)
	ErrShareTypeNotFound = fmt.Errorf("share type %w", ErrNotFound)
	ErrStockNotFound     = fmt.Errorf("stock %w", ErrNotFound)
	ErrProductNotFound   = fmt.Errorf("product %w", ErrNotFound)
	ErrStudentNotFound   = fmt.Errorf("student %w", ErrNotFound)
	ErrInstanceNotFound  = fmt.Errorf("instance %w", ErrNotFound)

	ErrNonsufficientFunds      = errors.New("nonsufficient funds")
	ErrWithdrawalLimitExceeded = errors.New("withdrawal limit exceeded")
	ErrInvalidQuantity         = errors.New("invalid quantity")
	ErrInvalidShareQuantity    = errors.New("invalid share quantity")
	ErrUnauthorizedPurchase    = errors.New("unauthorized purchase")
	ErrArgumentOutOfRange      = errors.New("argument out of range")
	ErrDatabase                = errors.New("database error")
	ErrLedgerImmutable         = errors.New("ledger transactions are append-only")
)

// NonsufficientFundsError carries the rejected posting.
type NonsufficientFundsError struct {
	ShareId int
	Amount  Money
	Balance Money
}

func (e *NonsufficientFundsError) Error() string {
	return fmt.Sprintf("nonsufficient funds: share #%d balance %s cannot take %s", e.ShareId, e.Balance, e.Amount)
}

func (e *NonsufficientFundsError) Is(target error) bool {
	return target == ErrNonsufficientFunds
}

// DatabaseError wraps a storage failure surfaced from a commit or write.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error during %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

func (e *DatabaseError) Is(target error) bool {
	return target == ErrDatabase
}

// WrapDatabaseError leaves domain errors untouched and wraps everything else.
func WrapDatabaseError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	return &DatabaseError{Op: op, Err: err}
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrNonsufficientFunds, ErrWithdrawalLimitExceeded, ErrInvalidQuantity,
		ErrInvalidShareQuantity, ErrUnauthorizedPurchase, ErrArgumentOutOfRange, ErrDatabase,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var ce *CompensationError
	return errors.As(err, &ce)
}

// NotFoundOr maps gorm.ErrRecordNotFound to the given sentinel.
func NotFoundOr(err error, notFound error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return err
}

// CompensationError bundles a failed step with the failed attempt to undo the earlier step.
// Both are reachable through errors.Is / errors.As.
type CompensationError struct {
	Original     error
	Compensation error
}

func NewCompensationError(original, compensation error) *CompensationError {
	return &CompensationError{Original: original, Compensation: compensation}
}

func (e *CompensationError) Error() string {
	return "compensation failed: " + multierr.Combine(e.Original, e.Compensation).Error()
}

func (e *CompensationError) Unwrap() []error {
	return multierr.Errors(multierr.Combine(e.Original, e.Compensation))
}
