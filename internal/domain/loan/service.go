package loan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"loan-engine/internal/event"
	"loan-engine/internal/infrastructure/monitoring"
	"loan-engine/internal/pkg/apperrors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type CreateLoanParams struct {
	Reference          string
	PrincipalAmount    Money
	AnnualInterestRate Money
	AnnualFECIRate     Money
	FECIThreshold      Money
	FECIExempt         bool
	DisbursementDate   time.Time
	PaymentFrequency   PaymentFrequency
	NextDueDate        *time.Time
}

type LoanService interface {
	CreateLoan(ctx context.Context, params CreateLoanParams) (*Loan, error)

	GetLoan(ctx context.Context, loanID int64) (*Loan, error)

	GetBalance(ctx context.Context, loanID int64) (Money, error)

	GetLedger(ctx context.Context, loanID int64) ([]LedgerEntry, error)

	AddCharge(ctx context.Context, loanID int64, description string, amount Money, dueDate *time.Time) (*Charge, error)

	ListCharges(ctx context.Context, loanID int64) ([]Charge, error)

	RegisterPayment(ctx context.Context, loanID int64, paidAmount Money, paymentDate time.Time, notes string) (*LedgerEntry, error)

	DeleteLedgerEntry(ctx context.Context, loanID, entryID int64) error

	RefreshStatus(ctx context.Context, loanID int64) (LoanStatus, bool, error)
}

type loanServiceImpl struct {
	repo   Repository
	pub    event.Publisher
	logger *slog.Logger
	now    func() time.Time
}

func NewLoanService(r Repository, pub event.Publisher, logger *slog.Logger) LoanService {
	if pub == nil {
		pub = event.NoopPublisher{}
	}
	return &loanServiceImpl{repo: r, pub: pub, logger: logger, now: time.Now}
}

func (s *loanServiceImpl) CreateLoan(ctx context.Context, params CreateLoanParams) (*Loan, error) {
	s.logger.Info("Creating new loan", "reference", params.Reference)

	newLoan, err := NewLoan(params.Reference, params.PrincipalAmount, params.AnnualInterestRate,
		params.AnnualFECIRate, params.FECIThreshold, params.FECIExempt,
		params.DisbursementDate, params.PaymentFrequency)
	if err != nil {
		s.logger.Error("Failed to create new loan object", "error", err)
		return nil, err
	}

	if params.NextDueDate != nil {
		if params.NextDueDate.Before(params.DisbursementDate) {
			return nil, apperrors.NewValidationError("nextDueDate", "next due date cannot be before the disbursement date")
		}
		newLoan.NextDueDate = params.NextDueDate
	}

	if err := newLoan.RecomputeDerivedState(s.now()); err != nil {
		s.logger.Error("Failed to compute initial loan state", "error", err)
		return nil, err
	}

	createdLoan, err := s.repo.CreateLoan(ctx, newLoan)
	if err != nil {
		s.logger.Error("Failed to save loan", "error", err)
		return nil, fmt.Errorf("%w: failed to save loan: %v", apperrors.ErrInternalServer, err)
	}
	s.logger.Info("Loan created successfully", "loanID", createdLoan.ID, "reference", createdLoan.Reference)

	return createdLoan, nil
}

func (s *loanServiceImpl) GetLoan(ctx context.Context, loanID int64) (*Loan, error) {
	s.logger.Info("Getting loan details", "loanID", loanID)
	l, err := s.repo.GetLoanByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, apperrors.ErrNotFound) {
			s.logger.Warn("Loan not found", "loanID", loanID)
			return nil, fmt.Errorf("%w: loan with ID %d not found", apperrors.ErrNotFound, loanID)
		}
		s.logger.Error("Failed to get loan", "loanID", loanID, "error", err)
		return nil, fmt.Errorf("%w: failed to get loan %d: %v", apperrors.ErrInternalServer, loanID, err)
	}

	ledger, err := s.repo.GetLedgerByLoanID(ctx, loanID)
	if err != nil {
		s.logger.Error("Failed to get loan ledger", "loanID", loanID, "error", err)
		return nil, fmt.Errorf("%w: failed to get ledger for loan %d: %v", apperrors.ErrInternalServer, loanID, err)
	}
	charges, err := s.repo.GetChargesByLoanID(ctx, loanID)
	if err != nil {
		s.logger.Error("Failed to get loan charges", "loanID", loanID, "error", err)
		return nil, fmt.Errorf("%w: failed to get charges for loan %d: %v", apperrors.ErrInternalServer, loanID, err)
	}

	l.Ledger = ledger
	l.Charges = charges
	return l, nil
}

func (s *loanServiceImpl) GetBalance(ctx context.Context, loanID int64) (Money, error) {
	s.logger.Info("Getting outstanding balance for loan", "loanID", loanID)
	l, err := s.GetLoan(ctx, loanID)
	if err != nil {
		return decimal.Zero, err
	}
	balance, err := l.OutstandingPrincipal()
	if err != nil {
		s.logger.Error("Failed to compute outstanding balance", "loanID", loanID, "error", err)
		return decimal.Zero, err
	}
	return balance, nil
}

func (s *loanServiceImpl) GetLedger(ctx context.Context, loanID int64) ([]LedgerEntry, error) {
	s.logger.Info("Getting loan ledger", "loanID", loanID)
	if _, err := s.repo.GetLoanByID(ctx, loanID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: loan with ID %d not found", apperrors.ErrNotFound, loanID)
		}
		return nil, fmt.Errorf("%w: failed to get loan %d: %v", apperrors.ErrInternalServer, loanID, err)
	}
	ledger, err := s.repo.GetLedgerByLoanID(ctx, loanID)
	if err != nil {
		s.logger.Error("Failed to get ledger", "loanID", loanID, "error", err)
		return nil, fmt.Errorf("%w: failed to get ledger for loan %d: %v", apperrors.ErrInternalServer, loanID, err)
	}
	return ledger, nil
}

func (s *loanServiceImpl) AddCharge(ctx context.Context, loanID int64, description string, amount Money, dueDate *time.Time) (*Charge, error) {
	s.logger.Info("Adding charge to loan", "loanID", loanID, "description", description)

	if description == "" {
		return nil, apperrors.NewValidationError("description", "charge description is required")
	}
	if amount.IsNegative() {
		return nil, apperrors.NewValidationError("amount", "charge amount cannot be negative")
	}

	if _, err := s.repo.GetLoanByID(ctx, loanID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: loan with ID %d not found", apperrors.ErrNotFound, loanID)
		}
		return nil, fmt.Errorf("%w: failed to get loan %d: %v", apperrors.ErrInternalServer, loanID, err)
	}

	charge := &Charge{
		LoanID:       loanID,
		Description:  description,
		Amount:       amount,
		AmountPaid:   decimal.Zero,
		CreationDate: truncateToDay(s.now()),
		DueDate:      dueDate,
	}
	created, err := s.repo.CreateCharge(ctx, charge)
	if err != nil {
		s.logger.Error("Failed to save charge", "loanID", loanID, "error", err)
		return nil, fmt.Errorf("%w: failed to save charge: %v", apperrors.ErrInternalServer, err)
	}
	s.logger.Info("Charge created successfully", "loanID", loanID, "chargeID", created.ID)
	return created, nil
}

func (s *loanServiceImpl) ListCharges(ctx context.Context, loanID int64) ([]Charge, error) {
	s.logger.Info("Listing charges for loan", "loanID", loanID)
	if _, err := s.repo.GetLoanByID(ctx, loanID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: loan with ID %d not found", apperrors.ErrNotFound, loanID)
		}
		return nil, fmt.Errorf("%w: failed to get loan %d: %v", apperrors.ErrInternalServer, loanID, err)
	}
	charges, err := s.repo.GetChargesByLoanID(ctx, loanID)
	if err != nil {
		s.logger.Error("Failed to list charges", "loanID", loanID, "error", err)
		return nil, fmt.Errorf("%w: failed to list charges for loan %d: %v", apperrors.ErrInternalServer, loanID, err)
	}
	return charges, nil
}

// RegisterPayment runs the allocation waterfall inside one transaction: the
// loan row is locked for the duration, so concurrent payments against the
// same loan serialize while other loans proceed. Any failure rolls back the
// charge mutations, the ledger append and the derived-state update together.
func (s *loanServiceImpl) RegisterPayment(ctx context.Context, loanID int64, paidAmount Money, paymentDate time.Time, notes string) (createdEntry *LedgerEntry, err error) {
	s.logger.Info("Registering payment", "loanID", loanID, "amount", paidAmount)

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		s.logger.Error("Failed to begin transaction", "error", err)
		return nil, fmt.Errorf("%w: could not begin transaction: %v", apperrors.ErrInternalServer, err)
	}

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("Panic occurred during payment registration", "loanID", loanID, "error", p)
			_ = s.repo.RollbackTx(ctx, tx)
			panic(p)
		}
		if err != nil {
			status := "failure_internal"
			switch {
			case errors.Is(err, apperrors.ErrInvalidPaymentAmount):
				status = "failure_amount"
			case errors.Is(err, apperrors.ErrPaymentBeforeDisbursement):
				status = "failure_date"
			case errors.Is(err, apperrors.ErrNotFound):
				status = "failure_not_found"
			case errors.Is(err, apperrors.ErrComputation):
				status = "failure_computation"
			}
			monitoring.RecordPayment(status)
			s.logger.Error("Rolling back payment transaction", "loanID", loanID, "error", err)
			_ = s.repo.RollbackTx(ctx, tx)
		}
	}()

	l, err := s.repo.GetLoanForUpdate(ctx, tx, loanID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, apperrors.ErrNotFound) {
			s.logger.Warn("Loan not found for payment", "loanID", loanID)
			return nil, fmt.Errorf("%w: cannot register payment, loan ID %d not found", apperrors.ErrNotFound, loanID)
		}
		s.logger.Error("Failed to load loan for payment", "loanID", loanID, "error", err)
		return nil, fmt.Errorf("%w: could not load loan for payment: %v", apperrors.ErrInternalServer, err)
	}
	previousStatus := l.Status

	entry, err := l.AllocatePayment(paidAmount, paymentDate, notes, s.now())
	if err != nil {
		return nil, err
	}

	for _, chargeID := range entry.ChargeIDs {
		charge := chargeByID(l.Charges, chargeID)
		if charge == nil {
			return nil, apperrors.NewComputationError(fmt.Sprintf("applied charge %d missing from loan %d", chargeID, loanID))
		}
		if err = s.repo.UpdateChargeAmountPaidInTx(ctx, tx, charge); err != nil {
			s.logger.Error("Failed to persist charge allocation", "loanID", loanID, "chargeID", chargeID, "error", err)
			return nil, fmt.Errorf("%w: could not update charge %d: %v", apperrors.ErrInternalServer, chargeID, err)
		}
	}

	createdEntry, err = s.repo.InsertLedgerEntryInTx(ctx, tx, entry)
	if err != nil {
		s.logger.Error("Failed to insert ledger entry", "loanID", loanID, "error", err)
		return nil, fmt.Errorf("%w: could not insert ledger entry: %v", apperrors.ErrInternalServer, err)
	}

	if err = s.repo.UpdateLoanDerivedStateInTx(ctx, tx, l); err != nil {
		s.logger.Error("Failed to update loan derived state", "loanID", loanID, "error", err)
		return nil, fmt.Errorf("%w: could not update loan state: %v", apperrors.ErrInternalServer, err)
	}

	if err = s.repo.CommitTx(ctx, tx); err != nil {
		s.logger.Error("Failed to commit payment transaction", "loanID", loanID, "error", err)
		return nil, fmt.Errorf("%w: could not commit transaction: %v", apperrors.ErrInternalServer, err)
	}

	monitoring.RecordPayment("success")
	recordAllocationSplits(createdEntry)
	s.publishPaymentEvents(ctx, l, createdEntry, previousStatus)

	s.logger.Info("Payment registered successfully",
		"loanID", loanID,
		"entryID", createdEntry.ID,
		"interest", createdEntry.Interest,
		"feci", createdEntry.FECI,
		"capital", createdEntry.CapitalPayment,
	)
	return createdEntry, nil
}

// DeleteLedgerEntry removes an entry that settled no charges; entries with
// applied charges are kept so the charge history stays reconstructible.
func (s *loanServiceImpl) DeleteLedgerEntry(ctx context.Context, loanID, entryID int64) (err error) {
	s.logger.Info("Deleting ledger entry", "loanID", loanID, "entryID", entryID)

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("%w: could not begin transaction: %v", apperrors.ErrInternalServer, err)
	}
	defer func() {
		if err != nil {
			_ = s.repo.RollbackTx(ctx, tx)
		}
	}()

	l, err := s.repo.GetLoanForUpdate(ctx, tx, loanID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("%w: loan with ID %d not found", apperrors.ErrNotFound, loanID)
		}
		return fmt.Errorf("%w: could not load loan: %v", apperrors.ErrInternalServer, err)
	}

	var target *LedgerEntry
	remaining := make([]LedgerEntry, 0, len(l.Ledger))
	for i := range l.Ledger {
		if l.Ledger[i].ID == entryID {
			target = &l.Ledger[i]
			continue
		}
		remaining = append(remaining, l.Ledger[i])
	}
	if target == nil {
		return fmt.Errorf("%w: ledger entry %d not found on loan %d", apperrors.ErrNotFound, entryID, loanID)
	}
	if len(target.ChargeIDs) > 0 {
		s.logger.Warn("Refusing to delete ledger entry with settled charges", "loanID", loanID, "entryID", entryID)
		return fmt.Errorf("%w: %w", apperrors.ErrConflict, apperrors.ErrLedgerEntryHasCharges)
	}

	if err = s.repo.DeleteLedgerEntryInTx(ctx, tx, loanID, entryID); err != nil {
		return fmt.Errorf("%w: could not delete ledger entry: %v", apperrors.ErrInternalServer, err)
	}

	l.Ledger = remaining
	if err = l.RecomputeDerivedState(s.now()); err != nil {
		return err
	}
	if err = s.repo.UpdateLoanDerivedStateInTx(ctx, tx, l); err != nil {
		return fmt.Errorf("%w: could not update loan state: %v", apperrors.ErrInternalServer, err)
	}

	if err = s.repo.CommitTx(ctx, tx); err != nil {
		return fmt.Errorf("%w: could not commit transaction: %v", apperrors.ErrInternalServer, err)
	}
	s.logger.Info("Ledger entry deleted", "loanID", loanID, "entryID", entryID)
	return nil
}

// RefreshStatus recomputes the derived state and reports whether the status
// changed. Used by the nightly defaulter sweep.
func (s *loanServiceImpl) RefreshStatus(ctx context.Context, loanID int64) (status LoanStatus, changed bool, err error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return "", false, fmt.Errorf("%w: could not begin transaction: %v", apperrors.ErrInternalServer, err)
	}
	defer func() {
		if err != nil {
			_ = s.repo.RollbackTx(ctx, tx)
		}
	}()

	l, err := s.repo.GetLoanForUpdate(ctx, tx, loanID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, apperrors.ErrNotFound) {
			return "", false, fmt.Errorf("%w: loan with ID %d not found", apperrors.ErrNotFound, loanID)
		}
		return "", false, fmt.Errorf("%w: could not load loan: %v", apperrors.ErrInternalServer, err)
	}

	previous := l.Status
	if err = l.RecomputeDerivedState(s.now()); err != nil {
		return "", false, err
	}
	if l.Status == previous {
		err = s.repo.RollbackTx(ctx, tx)
		return l.Status, false, err
	}

	if err = s.repo.UpdateLoanDerivedStateInTx(ctx, tx, l); err != nil {
		return "", false, fmt.Errorf("%w: could not update loan state: %v", apperrors.ErrInternalServer, err)
	}
	if err = s.repo.CommitTx(ctx, tx); err != nil {
		return "", false, fmt.Errorf("%w: could not commit transaction: %v", apperrors.ErrInternalServer, err)
	}

	statusEvent := event.LoanStatusChangedEvent{
		LoanID:    l.ID,
		Reference: l.Reference,
		OldStatus: string(previous),
		NewStatus: string(l.Status),
		Timestamp: s.now(),
	}
	if pubErr := s.pub.PublishLoanStatusChanged(ctx, statusEvent); pubErr != nil {
		s.logger.Error("Status updated, but FAILED to publish status change event", "loanID", loanID, "error", pubErr)
	}

	s.logger.Info("Loan status refreshed", "loanID", loanID, "old", previous, "new", l.Status)
	return l.Status, true, nil
}

func (s *loanServiceImpl) publishPaymentEvents(ctx context.Context, l *Loan, entry *LedgerEntry, previousStatus LoanStatus) {
	paymentEvent := event.PaymentRegisteredEvent{
		LoanID:         l.ID,
		LedgerEntryID:  entry.ID,
		Reference:      l.Reference,
		PaidAmount:     entry.PaidAmount.StringFixed(2),
		Interest:       entry.Interest.StringFixed(2),
		FECI:           entry.FECI.StringFixed(2),
		CapitalPayment: entry.CapitalPayment.StringFixed(2),
		MovementDate:   entry.MovementDate,
		NextDueDate:    entry.NextDueDate,
		AppliedCharges: entry.ChargeIDs,
		Timestamp:      s.now(),
	}
	if pubErr := s.pub.PublishPaymentRegistered(ctx, paymentEvent); pubErr != nil {
		s.logger.Error("Payment registered, but FAILED to publish payment event", "loanID", l.ID, "error", pubErr)
	}

	if l.Status != previousStatus {
		statusEvent := event.LoanStatusChangedEvent{
			LoanID:    l.ID,
			Reference: l.Reference,
			OldStatus: string(previousStatus),
			NewStatus: string(l.Status),
			Timestamp: s.now(),
		}
		if pubErr := s.pub.PublishLoanStatusChanged(ctx, statusEvent); pubErr != nil {
			s.logger.Error("Payment registered, but FAILED to publish status change event", "loanID", l.ID, "error", pubErr)
		}
	}
}

func recordAllocationSplits(entry *LedgerEntry) {
	interest, _ := entry.Interest.Float64()
	feci, _ := entry.FECI.Float64()
	capital, _ := entry.CapitalPayment.Float64()
	monitoring.RecordAllocation("interest", interest)
	monitoring.RecordAllocation("feci", feci)
	monitoring.RecordAllocation("capital", capital)
}

func chargeByID(charges []Charge, id int64) *Charge {
	for i := range charges {
		if charges[i].ID == id {
			return &charges[i]
		}
	}
	return nil
}
