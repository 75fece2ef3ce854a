package loan

import (
	"fmt"
	"time"

	"loan-engine/internal/pkg/apperrors"

	"github.com/shopspring/decimal"
)

type Money = decimal.Decimal

const MaxAnnualInterestRate = 200.0

type LoanStatus string

const (
	StatusDraft     LoanStatus = "DRAFT"
	StatusActive    LoanStatus = "ACTIVE"
	StatusClosed    LoanStatus = "CLOSED"
	StatusDefaulter LoanStatus = "DEFAULTER"
)

type PaymentFrequency string

const (
	FrequencyMonthly  PaymentFrequency = "monthly"
	FrequencyBiweekly PaymentFrequency = "biweekly"
	FrequencyWeekly   PaymentFrequency = "weekly"
	FrequencyDaily    PaymentFrequency = "daily"
)

func ValidFrequency(f PaymentFrequency) bool {
	switch f {
	case FrequencyMonthly, FrequencyBiweekly, FrequencyWeekly, FrequencyDaily:
		return true
	}
	return false
}

// Loan is the aggregate root. Terms are immutable after origination;
// CurrentBalance and Status are derived from the ledger and recomputed
// after every ledger mutation.
type Loan struct {
	ID                 int64
	Reference          string
	PrincipalAmount    Money
	AnnualInterestRate Money
	AnnualFECIRate     Money
	FECIThreshold      Money
	FECIExempt         bool
	DisbursementDate   time.Time
	PaymentFrequency   PaymentFrequency
	NextDueDate        *time.Time
	CurrentBalance     Money
	Status             LoanStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Ledger             []LedgerEntry
	Charges            []Charge
}

// Charge is an ancillary fee attached to a loan, settled ahead of interest
// in the payment waterfall. Only the allocator mutates AmountPaid.
type Charge struct {
	ID           int64
	LoanID       int64
	Description  string
	Amount       Money
	AmountPaid   Money
	CreationDate time.Time
	DueDate      *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (c *Charge) PendingBalance() Money {
	return c.Amount.Sub(c.AmountPaid)
}

func (c *Charge) Validate() error {
	if c.Amount.IsNegative() {
		return apperrors.NewValidationError("amount", "charge amount cannot be negative")
	}
	if c.AmountPaid.IsNegative() {
		return apperrors.NewValidationError("amountPaid", "amount paid cannot be negative")
	}
	if c.AmountPaid.GreaterThan(c.Amount) {
		return apperrors.NewComputationError(fmt.Sprintf(
			"amount paid (%s) exceeds total charge amount (%s)", c.AmountPaid, c.Amount))
	}
	return nil
}

// LedgerEntry is one immutable record of a registered payment and its
// allocation breakdown. ChargeIDs lists the charges this payment settled
// against, in application order.
type LedgerEntry struct {
	ID               int64
	LoanID           int64
	MovementDate     time.Time
	PaidAmount       Money
	Interest         Money
	FECI             Money
	CapitalPayment   Money
	PrincipalBalance Money
	NextDueDate      time.Time
	ChargeIDs        []int64
	Notes            string
	CreatedAt        time.Time
}

func NewLoan(reference string, principal, annualInterestRate, annualFECIRate, feciThreshold Money,
	feciExempt bool, disbursementDate time.Time, frequency PaymentFrequency) (*Loan, error) {

	if reference == "" {
		return nil, apperrors.NewValidationError("reference", "loan reference is required")
	}
	if principal.LessThanOrEqual(decimal.Zero) {
		return nil, apperrors.NewValidationError("principalAmount", "principal amount must be greater than zero")
	}
	if annualInterestRate.IsNegative() {
		return nil, apperrors.NewValidationError("annualInterestRate", "annual interest rate cannot be negative")
	}
	if annualInterestRate.GreaterThan(decimal.NewFromFloat(MaxAnnualInterestRate)) {
		return nil, apperrors.NewValidationError("annualInterestRate", "annual interest rate exceeds allowed limit (200%)")
	}
	if annualFECIRate.IsNegative() {
		return nil, apperrors.NewValidationError("annualFeciRate", "FECI rate cannot be negative")
	}
	if feciThreshold.IsNegative() {
		return nil, apperrors.NewValidationError("feciThreshold", "FECI threshold cannot be negative")
	}
	if disbursementDate.IsZero() {
		return nil, apperrors.NewValidationError("disbursementDate", "disbursement date is required")
	}
	if !ValidFrequency(frequency) {
		return nil, apperrors.NewValidationError("paymentFrequency", "the selected payment frequency is not valid")
	}

	return &Loan{
		Reference:          reference,
		PrincipalAmount:    principal,
		AnnualInterestRate: annualInterestRate,
		AnnualFECIRate:     annualFECIRate,
		FECIThreshold:      feciThreshold,
		FECIExempt:         feciExempt,
		DisbursementDate:   disbursementDate,
		PaymentFrequency:   frequency,
		CurrentBalance:     principal,
		Status:             StatusDraft,
	}, nil
}

// OutstandingPrincipal derives the balance from the ledger: original
// principal minus the sum of all capital payments. A zero-valued capital
// field contributes nothing, so partially-read entries degrade to 0 rather
// than crashing.
func (l *Loan) OutstandingPrincipal() (Money, error) {
	totalCapital := decimal.Zero
	for i := range l.Ledger {
		totalCapital = totalCapital.Add(l.Ledger[i].CapitalPayment)
	}
	balance := l.PrincipalAmount.Sub(totalCapital)
	if balance.IsNegative() {
		return decimal.Zero, apperrors.NewComputationError(fmt.Sprintf(
			"outstanding principal is negative (%s) for loan %s", balance, l.Reference))
	}
	return balance, nil
}

// RecomputeDerivedState refreshes CurrentBalance and Status from the ledger.
// Closed takes precedence over defaulter when the balance reaches zero.
func (l *Loan) RecomputeDerivedState(today time.Time) error {
	balance, err := l.OutstandingPrincipal()
	if err != nil {
		return err
	}
	l.CurrentBalance = balance

	switch {
	case balance.IsZero():
		l.Status = StatusClosed
	case l.NextDueDate != nil && l.NextDueDate.Before(truncateToDay(today)):
		l.Status = StatusDefaulter
	default:
		l.Status = StatusActive
	}
	return nil
}

// NextDueDateAfter advances the due-date schedule from a payment date.
// Monthly adds one calendar month with the day clamped to the month's end
// (Jan 31 -> Feb 29 on leap years); an unknown frequency falls back to
// monthly.
func NextDueDateAfter(paymentDate time.Time, frequency PaymentFrequency) time.Time {
	switch frequency {
	case FrequencyBiweekly:
		return paymentDate.AddDate(0, 0, 15)
	case FrequencyWeekly:
		return paymentDate.AddDate(0, 0, 7)
	case FrequencyDaily:
		return paymentDate.AddDate(0, 0, 1)
	case FrequencyMonthly:
		return addMonthClamped(paymentDate)
	default:
		return addMonthClamped(paymentDate)
	}
}

// addMonthClamped adds one month, clamping the day-of-month instead of
// letting time.AddDate normalize Jan 31 into Mar 2/3.
func addMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfNext.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), day, 0, 0, 0, 0, t.Location())
}

func truncateToDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
