package models

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestTransactionTypeForAmount(t *testing.T) {
	cases := []struct {
		amount   string
		expected TransactionType
	}{
		{"0.00", TransactionTypeCorrection},
		{"0.01", TransactionTypeDeposit},
		{"-0.01", TransactionTypeWithdrawal},
	}
	for _, tc := range cases {
		if got := TransactionTypeForAmount(MustParseMoney(tc.amount)); got != tc.expected {
			t.Fatalf("TransactionTypeForAmount(%s) expected %s, got %s", tc.amount, tc.expected, got)
		}
	}
}

func TestTransactionType_GQL(t *testing.T) {
	var buf bytes.Buffer
	TransactionTypeDividend.MarshalGQL(&buf)
	if buf.String() != `"V"` {
		t.Fatalf("unexpected %s", buf.String())
	}
	var tt TransactionType
	if err := tt.UnmarshalGQL("F"); err != nil || tt != TransactionTypeFee {
		t.Fatalf("UnmarshalGQL(F) gave %s, %v", tt, err)
	}
	if err := tt.UnmarshalGQL("Z"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestWithdrawalLimitPeriod_NextReset(t *testing.T) {
	last := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		period   WithdrawalLimitPeriod
		expected time.Time
	}{
		{WithdrawalLimitPeriodWeekly, time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)},
		{WithdrawalLimitPeriodMonthly, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)},
		{WithdrawalLimitPeriodQuarterly, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		{WithdrawalLimitPeriodYearly, time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := tc.period.NextReset(last); !got.Equal(tc.expected) {
			t.Fatalf("%s.NextReset expected %s, got %s", tc.period, tc.expected, got)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	nsf := &NonsufficientFundsError{ShareId: 3, Amount: MustParseMoney("-2.00"), Balance: MustParseMoney("1.00")}
	if !errors.Is(nsf, ErrNonsufficientFunds) {
		t.Fatalf("NonsufficientFundsError should match ErrNonsufficientFunds")
	}
	if WrapDatabaseError("post", nsf) != error(nsf) {
		t.Fatalf("domain errors must not be wrapped")
	}

	raw := errors.New("bad connection")
	wrapped := WrapDatabaseError("post", raw)
	var dbErr *DatabaseError
	if !errors.As(wrapped, &dbErr) || !errors.Is(wrapped, ErrDatabase) || !errors.Is(wrapped, raw) {
		t.Fatalf("expected DatabaseError wrapping the raw error, got %v", wrapped)
	}

	comp := NewCompensationError(nsf, wrapped)
	if !errors.Is(comp, ErrNonsufficientFunds) || !errors.Is(comp, raw) {
		t.Fatalf("compensation error should expose both causes: %v", comp)
	}
	if !errors.Is(ErrStockNotFound, ErrNotFound) {
		t.Fatalf("not-found sentinels should wrap ErrNotFound")
	}
}
