package loan

import (
	"testing"
	"time"

	"loan-engine/internal/pkg/apperrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoan(t *testing.T) {
	l, err := NewLoan("LN-0001", dec("10000"), dec("19"), dec("1"), dec("5000"),
		false, date(2024, time.January, 1), FrequencyMonthly)
	require.NoError(t, err)

	assert.Equal(t, "LN-0001", l.Reference)
	assert.True(t, l.CurrentBalance.Equal(dec("10000")))
	assert.Equal(t, StatusDraft, l.Status)
	assert.Nil(t, l.NextDueDate)
}

func TestNewLoan_Validation(t *testing.T) {
	disbursed := date(2024, time.January, 1)

	testCases := []struct {
		name      string
		reference string
		principal decimal.Decimal
		interest  decimal.Decimal
		feci      decimal.Decimal
		threshold decimal.Decimal
		disbursed time.Time
		frequency PaymentFrequency
		field     string
	}{
		{"missing reference", "", dec("1000"), dec("19"), dec("1"), dec("5000"), disbursed, FrequencyMonthly, "reference"},
		{"zero principal", "LN-1", dec("0"), dec("19"), dec("1"), dec("5000"), disbursed, FrequencyMonthly, "principalAmount"},
		{"negative principal", "LN-1", dec("-100"), dec("19"), dec("1"), dec("5000"), disbursed, FrequencyMonthly, "principalAmount"},
		{"negative interest", "LN-1", dec("1000"), dec("-1"), dec("1"), dec("5000"), disbursed, FrequencyMonthly, "annualInterestRate"},
		{"interest above cap", "LN-1", dec("1000"), dec("201"), dec("1"), dec("5000"), disbursed, FrequencyMonthly, "annualInterestRate"},
		{"negative feci rate", "LN-1", dec("1000"), dec("19"), dec("-1"), dec("5000"), disbursed, FrequencyMonthly, "annualFeciRate"},
		{"negative threshold", "LN-1", dec("1000"), dec("19"), dec("1"), dec("-5000"), disbursed, FrequencyMonthly, "feciThreshold"},
		{"zero disbursement date", "LN-1", dec("1000"), dec("19"), dec("1"), dec("5000"), time.Time{}, FrequencyMonthly, "disbursementDate"},
		{"bad frequency", "LN-1", dec("1000"), dec("19"), dec("1"), dec("5000"), disbursed, PaymentFrequency("quarterly"), "paymentFrequency"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewLoan(tc.reference, tc.principal, tc.interest, tc.feci, tc.threshold,
				false, tc.disbursed, tc.frequency)
			require.Error(t, err)

			var validationErr *apperrors.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tc.field, validationErr.Field)
		})
	}
}

func TestValidFrequency(t *testing.T) {
	assert.True(t, ValidFrequency(FrequencyMonthly))
	assert.True(t, ValidFrequency(FrequencyBiweekly))
	assert.True(t, ValidFrequency(FrequencyWeekly))
	assert.True(t, ValidFrequency(FrequencyDaily))
	assert.False(t, ValidFrequency(PaymentFrequency("quarterly")))
	assert.False(t, ValidFrequency(PaymentFrequency("")))
}

func TestNextDueDateAfter(t *testing.T) {
	testCases := []struct {
		name      string
		payment   time.Time
		frequency PaymentFrequency
		want      time.Time
	}{
		{"monthly plain", date(2024, time.March, 15), FrequencyMonthly, date(2024, time.April, 15)},
		{"monthly clamps to leap february", date(2024, time.January, 31), FrequencyMonthly, date(2024, time.February, 29)},
		{"monthly clamps to short february", date(2023, time.January, 31), FrequencyMonthly, date(2023, time.February, 28)},
		{"monthly clamps 31st to 30-day month", date(2024, time.March, 31), FrequencyMonthly, date(2024, time.April, 30)},
		{"monthly across year end", date(2024, time.December, 15), FrequencyMonthly, date(2025, time.January, 15)},
		{"biweekly is fifteen days", date(2024, time.January, 1), FrequencyBiweekly, date(2024, time.January, 16)},
		{"weekly", date(2024, time.January, 1), FrequencyWeekly, date(2024, time.January, 8)},
		{"daily", date(2024, time.January, 1), FrequencyDaily, date(2024, time.January, 2)},
		{"unknown falls back to monthly", date(2024, time.January, 31), PaymentFrequency("quarterly"), date(2024, time.February, 29)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NextDueDateAfter(tc.payment, tc.frequency))
		})
	}
}

func TestOutstandingPrincipal(t *testing.T) {
	l := newTestLoan(t)
	l.Ledger = []LedgerEntry{
		{CapitalPayment: dec("1000")},
		{CapitalPayment: dec("2500")},
	}

	balance, err := l.OutstandingPrincipal()
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("6500")))
}

func TestOutstandingPrincipal_NegativeIsComputationError(t *testing.T) {
	l := newTestLoan(t)
	l.Ledger = []LedgerEntry{
		{CapitalPayment: dec("10001")},
	}

	_, err := l.OutstandingPrincipal()
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrComputation)
}

func TestRecomputeDerivedState(t *testing.T) {
	today := date(2024, time.June, 15)

	t.Run("active when nothing is due", func(t *testing.T) {
		l := newTestLoan(t)
		due := date(2024, time.July, 1)
		l.NextDueDate = &due

		require.NoError(t, l.RecomputeDerivedState(today))
		assert.Equal(t, StatusActive, l.Status)
	})

	t.Run("active when due today", func(t *testing.T) {
		l := newTestLoan(t)
		due := today
		l.NextDueDate = &due

		require.NoError(t, l.RecomputeDerivedState(today))
		assert.Equal(t, StatusActive, l.Status)
	})

	t.Run("defaulter when due date has passed", func(t *testing.T) {
		l := newTestLoan(t)
		due := date(2024, time.June, 14)
		l.NextDueDate = &due

		require.NoError(t, l.RecomputeDerivedState(today))
		assert.Equal(t, StatusDefaulter, l.Status)
	})

	t.Run("closed wins over defaulter", func(t *testing.T) {
		l := newTestLoan(t)
		due := date(2024, time.January, 2)
		l.NextDueDate = &due
		l.Ledger = []LedgerEntry{{CapitalPayment: dec("10000")}}

		require.NoError(t, l.RecomputeDerivedState(today))
		assert.Equal(t, StatusClosed, l.Status)
		assert.True(t, l.CurrentBalance.IsZero())
	})

	t.Run("active without a due date", func(t *testing.T) {
		l := newTestLoan(t)

		require.NoError(t, l.RecomputeDerivedState(today))
		assert.Equal(t, StatusActive, l.Status)
	})
}

func TestChargePendingBalance(t *testing.T) {
	c := Charge{Amount: dec("200"), AmountPaid: dec("75")}
	assert.True(t, c.PendingBalance().Equal(dec("125")))
}

func TestChargeValidate(t *testing.T) {
	valid := Charge{Amount: dec("200"), AmountPaid: dec("75")}
	assert.NoError(t, valid.Validate())

	negativeAmount := Charge{Amount: dec("-10")}
	assert.Error(t, negativeAmount.Validate())

	negativePaid := Charge{Amount: dec("10"), AmountPaid: dec("-1")}
	assert.Error(t, negativePaid.Validate())

	overpaid := Charge{Amount: dec("10"), AmountPaid: dec("20")}
	err := overpaid.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrComputation)
}
