package loan

import (
	"fmt"
	"time"

	"loan-engine/internal/pkg/apperrors"

	"github.com/shopspring/decimal"
)

const daysPerYear = 365

// ElapsedDays returns the whole days between the last ledger movement and
// the proposed payment date, never negative. With an empty ledger the
// disbursement date is the reference. Ties on movement date resolve to the
// most recently created entry.
func (l *Loan) ElapsedDays(paymentDate time.Time) int {
	reference := l.DisbursementDate
	found := false
	for i := range l.Ledger {
		if !found || !l.Ledger[i].MovementDate.Before(reference) {
			reference = l.Ledger[i].MovementDate
			found = true
		}
	}

	days := daysBetween(reference, paymentDate)
	if days < 0 {
		return 0
	}
	return days
}

// applyCharges sweeps outstanding charges in creation order (the order the
// repository loads them), applying funds until charges are settled or funds
// run out. Mutates AmountPaid in place; the caller owns persisting or
// discarding the mutation.
func (l *Loan) applyCharges(remaining Money) ([]int64, Money, error) {
	applied := make([]int64, 0)
	for i := range l.Charges {
		if !remaining.IsPositive() {
			break
		}
		charge := &l.Charges[i]
		if err := charge.Validate(); err != nil {
			return nil, decimal.Zero, err
		}
		pending := charge.PendingBalance()
		if !pending.IsPositive() {
			continue
		}

		apply := decimal.Min(remaining, pending)
		charge.AmountPaid = charge.AmountPaid.Add(apply)
		remaining = remaining.Sub(apply)
		applied = append(applied, charge.ID)
	}
	return applied, remaining, nil
}

// accrualDue is simple interest on base: base * rate% * days / 365,
// actual/365, non-compounding, rounded to cents.
func accrualDue(base, annualRatePct Money, days int) Money {
	return base.
		Mul(annualRatePct).
		Mul(decimal.NewFromInt(int64(days))).
		Div(decimal.NewFromInt(100 * daysPerYear)).
		Round(2)
}

// calculateFECI pays the regulatory fee accrued on the balance above the
// FECI threshold. Exempt loans and balances under the threshold owe nothing.
func (l *Loan) calculateFECI(principalBalance Money, days int, remaining Money) (Money, Money) {
	if l.FECIExempt || principalBalance.LessThan(l.FECIThreshold) {
		return decimal.Zero, remaining
	}

	base := principalBalance.Sub(l.FECIThreshold)
	due := accrualDue(base, l.AnnualFECIRate, days)
	payment := decimal.Min(remaining, due)
	return payment, remaining.Sub(payment)
}

// calculateInterest pays ordinary interest accrued on the same pre-payment
// balance snapshot used for FECI; charge allocation never changes the base.
func (l *Loan) calculateInterest(principalBalance Money, days int, remaining Money) (Money, Money) {
	due := accrualDue(principalBalance, l.AnnualInterestRate, days)
	payment := decimal.Min(remaining, due)
	return payment, remaining.Sub(payment)
}

// AllocatePayment runs the payment waterfall: outstanding charges, then
// FECI, then ordinary interest, with the residual (including rounding slack)
// absorbed by capital. It mutates the in-memory aggregate only - charges,
// a new ledger entry, and the derived balance and status; persistence and
// its atomicity are the caller's concern.
func (l *Loan) AllocatePayment(paidAmount Money, paymentDate time.Time, notes string, today time.Time) (*LedgerEntry, error) {
	if paymentDate.IsZero() {
		paymentDate = truncateToDay(today)
	}

	if paidAmount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrValidation, apperrors.ErrInvalidPaymentAmount)
	}
	if paymentDate.Before(l.DisbursementDate) {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrValidation, apperrors.ErrPaymentBeforeDisbursement)
	}

	principalBalance, err := l.OutstandingPrincipal()
	if err != nil {
		return nil, err
	}
	days := l.ElapsedDays(paymentDate)

	appliedCharges, remaining, err := l.applyCharges(paidAmount)
	if err != nil {
		return nil, err
	}
	feciPayment, remaining := l.calculateFECI(principalBalance, days, remaining)
	interestPayment, remaining := l.calculateInterest(principalBalance, days, remaining)

	capitalPayment := remaining
	if capitalPayment.IsNegative() {
		capitalPayment = decimal.Zero
	}

	entry := LedgerEntry{
		LoanID:           l.ID,
		MovementDate:     paymentDate,
		PaidAmount:       paidAmount,
		Interest:         interestPayment,
		FECI:             feciPayment,
		CapitalPayment:   capitalPayment,
		PrincipalBalance: principalBalance.Sub(capitalPayment),
		NextDueDate:      NextDueDateAfter(paymentDate, l.PaymentFrequency),
		ChargeIDs:        appliedCharges,
		Notes:            notes,
	}

	l.Ledger = append(l.Ledger, entry)
	nextDue := entry.NextDueDate
	l.NextDueDate = &nextDue

	if err := l.RecomputeDerivedState(today); err != nil {
		return nil, err
	}

	return &l.Ledger[len(l.Ledger)-1], nil
}

func daysBetween(from, to time.Time) int {
	return int(truncateToDay(to).Sub(truncateToDay(from)) / (24 * time.Hour))
}
