package models

import (
	"errors"
	"io"
	"strconv"
	"time"
)

type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "D"
	TransactionTypeWithdrawal TransactionType = "W"
	TransactionTypeTransfer   TransactionType = "T"
	TransactionTypeCorrection TransactionType = "C"
	TransactionTypeDividend   TransactionType = "V"
	TransactionTypeFee        TransactionType = "F"
)

func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypeTransfer,
		TransactionTypeCorrection, TransactionTypeDividend, TransactionTypeFee:
		return true
	}
	return false
}

// convert enum to send response
func (t TransactionType) MarshalGQL(w io.Writer) {
	w.Write([]byte(strconv.Quote(string(t))))
}

// convert input to enum type
func (t *TransactionType) UnmarshalGQL(i interface{}) error {
	str, ok := i.(string)
	if !ok {
		return errors.New("transaction type must be string")
	}
	if !TransactionType(str).IsValid() {
		return errors.New("invalid transaction type")
	}
	*t = TransactionType(str)
	return nil
}

// TransactionTypeForAmount: zero is a correction, positive a deposit, negative a withdrawal.
func TransactionTypeForAmount(amount Money) TransactionType {
	switch amount.Sign() {
	case 0:
		return TransactionTypeCorrection
	case 1:
		return TransactionTypeDeposit
	default:
		return TransactionTypeWithdrawal
	}
}

type WithdrawalLimitPeriod string

const (
	WithdrawalLimitPeriodWeekly    WithdrawalLimitPeriod = "Weekly"
	WithdrawalLimitPeriodMonthly   WithdrawalLimitPeriod = "Monthly"
	WithdrawalLimitPeriodQuarterly WithdrawalLimitPeriod = "Quarterly"
	WithdrawalLimitPeriodYearly    WithdrawalLimitPeriod = "Yearly"
)

// convert enum to send response
func (p WithdrawalLimitPeriod) MarshalGQL(w io.Writer) {
	w.Write([]byte(strconv.Quote(string(p))))
}

// convert input to enum type
func (p *WithdrawalLimitPeriod) UnmarshalGQL(i interface{}) error {
	str, ok := i.(string)
	if !ok {
		return errors.New("withdrawal limit period must be string")
	}
	switch str {
	case "Weekly":
		*p = WithdrawalLimitPeriodWeekly
	case "Monthly":
		*p = WithdrawalLimitPeriodMonthly
	case "Quarterly":
		*p = WithdrawalLimitPeriodQuarterly
	case "Yearly":
		*p = WithdrawalLimitPeriodYearly
	default:
		return errors.New("invalid withdrawal limit period")
	}
	return nil
}

// NextReset returns when a counter last reset at `last` is due again.
// Unknown periods behave as monthly.
func (p WithdrawalLimitPeriod) NextReset(last time.Time) time.Time {
	switch p {
	case WithdrawalLimitPeriodWeekly:
		return last.AddDate(0, 0, 7)
	case WithdrawalLimitPeriodQuarterly:
		return last.AddDate(0, 3, 0)
	case WithdrawalLimitPeriodYearly:
		return last.AddDate(1, 0, 0)
	default:
		return last.AddDate(0, 1, 0)
	}
}

type LedgerEventPublishStatus string

const (
	LedgerEventPublishStatusPending    LedgerEventPublishStatus = "PENDING"
	LedgerEventPublishStatusProcessing LedgerEventPublishStatus = "PROCESSING"
	LedgerEventPublishStatusFailed     LedgerEventPublishStatus = "FAILED"
	LedgerEventPublishStatusSent       LedgerEventPublishStatus = "SENT"
	LedgerEventPublishStatusDead       LedgerEventPublishStatus = "DEAD"
)
