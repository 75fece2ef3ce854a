package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"loan-engine/internal/domain/loan"
	"loan-engine/internal/infrastructure/monitoring"
	"loan-engine/internal/pkg/apperrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pashagolub/pgxmock/v4"
)

type DBPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
	Close()
}

type LoanRepository struct {
	db     DBPool
	logger *slog.Logger
}

var _ DBPool = (*pgxpool.Pool)(nil)

var _ DBPool = (pgxmock.PgxPoolIface)(nil)

var _ loan.Repository = (*LoanRepository)(nil)

var errMsgFormat = "%w: %w"

const loanColumns = `id, reference, principal_amount, annual_interest_rate, annual_feci_rate,
        feci_threshold, feci_exempt, disbursement_date, payment_frequency, next_due_date,
        current_balance, status, created_at, updated_at`

const ledgerColumns = `id, loan_id, movement_date, paid_amount, interest, feci, capital_payment,
        principal_balance, next_due_date, charge_ids, notes, created_at`

const chargeColumns = `id, loan_id, description, amount, amount_paid, creation_date, due_date,
        created_at, updated_at`

func NewLoanRepository(db DBPool, logger *slog.Logger) *LoanRepository {
	return &LoanRepository{db: db, logger: logger.With("component", "LoanRepository")}
}

func (r *LoanRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to begin transaction", "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return tx, nil
}

func (r *LoanRepository) CommitTx(ctx context.Context, tx pgx.Tx) error {
	err := tx.Commit(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to commit transaction", "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return nil
}

func (r *LoanRepository) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	err := tx.Rollback(ctx)

	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		r.logger.ErrorContext(ctx, "Failed to rollback transaction", "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return nil
}

func (r *LoanRepository) CreateLoan(ctx context.Context, newLoan *loan.Loan) (*loan.Loan, error) {
	loanSQL := `
        INSERT INTO loans (reference, principal_amount, annual_interest_rate, annual_feci_rate,
            feci_threshold, feci_exempt, disbursement_date, payment_frequency, next_due_date,
            current_balance, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
        RETURNING ` + loanColumns

	var created loan.Loan
	err := r.db.QueryRow(ctx, loanSQL,
		newLoan.Reference, newLoan.PrincipalAmount, newLoan.AnnualInterestRate, newLoan.AnnualFECIRate,
		newLoan.FECIThreshold, newLoan.FECIExempt, newLoan.DisbursementDate, newLoan.PaymentFrequency,
		newLoan.NextDueDate, newLoan.CurrentBalance, newLoan.Status,
	).Scan(loanScanTargets(&created)...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to insert loan", "error", err)
		return nil, translateDBError(err, r.logger)
	}
	r.logger.InfoContext(ctx, "Loan created in DB", "loan_id", created.ID, "reference", created.Reference)

	return &created, nil
}

func (r *LoanRepository) GetLoanByID(ctx context.Context, loanID int64) (*loan.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`
	status := "success"
	startTime := time.Now()

	var l loan.Loan
	err := r.db.QueryRow(ctx, query, loanID).Scan(loanScanTargets(&l)...)

	if err != nil {
		status = "error"
	}
	monitoring.RecordDBQuery("GetLoanByID", status, time.Since(startTime))

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Loan not found", "loan_id", loanID)
			return nil, apperrors.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to get loan by ID", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return &l, nil
}

// GetLoanForUpdate locks the loan row and loads the full aggregate inside
// tx. Ledger and charges come back in creation order, which is the order
// the allocator sweeps.
func (r *LoanRepository) GetLoanForUpdate(ctx context.Context, tx pgx.Tx, loanID int64) (*loan.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1 FOR UPDATE`

	var l loan.Loan
	err := tx.QueryRow(ctx, query, loanID).Scan(loanScanTargets(&l)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Loan not found for update", "loan_id", loanID)
			return nil, apperrors.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to lock loan row", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}

	ledger, err := r.queryLedger(ctx, tx, loanID)
	if err != nil {
		return nil, err
	}
	charges, err := r.queryCharges(ctx, tx, loanID)
	if err != nil {
		return nil, err
	}

	l.Ledger = ledger
	l.Charges = charges
	return &l, nil
}

func (r *LoanRepository) GetLedgerByLoanID(ctx context.Context, loanID int64) ([]loan.LedgerEntry, error) {
	return r.queryLedger(ctx, r.db, loanID)
}

func (r *LoanRepository) GetChargesByLoanID(ctx context.Context, loanID int64) ([]loan.Charge, error) {
	return r.queryCharges(ctx, r.db, loanID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *LoanRepository) queryLedger(ctx context.Context, q querier, loanID int64) ([]loan.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + `
        FROM loan_ledger
        WHERE loan_id = $1
        ORDER BY movement_date ASC, id ASC`

	rows, err := q.Query(ctx, query, loanID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query loan ledger", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	defer rows.Close()

	ledger := make([]loan.LedgerEntry, 0)
	for rows.Next() {
		var entry loan.LedgerEntry
		err := rows.Scan(
			&entry.ID, &entry.LoanID, &entry.MovementDate, &entry.PaidAmount,
			&entry.Interest, &entry.FECI, &entry.CapitalPayment,
			&entry.PrincipalBalance, &entry.NextDueDate, &entry.ChargeIDs,
			&entry.Notes, &entry.CreatedAt,
		)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to scan ledger row", "loan_id", loanID, "error", err)
			return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
		}
		ledger = append(ledger, entry)
	}

	if err = rows.Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error iterating ledger rows", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}

	return ledger, nil
}

func (r *LoanRepository) queryCharges(ctx context.Context, q querier, loanID int64) ([]loan.Charge, error) {
	query := `SELECT ` + chargeColumns + `
        FROM loan_charges
        WHERE loan_id = $1
        ORDER BY created_at ASC, id ASC`

	rows, err := q.Query(ctx, query, loanID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query loan charges", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	defer rows.Close()

	charges := make([]loan.Charge, 0)
	for rows.Next() {
		var c loan.Charge
		err := rows.Scan(
			&c.ID, &c.LoanID, &c.Description, &c.Amount, &c.AmountPaid,
			&c.CreationDate, &c.DueDate, &c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to scan charge row", "loan_id", loanID, "error", err)
			return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
		}
		charges = append(charges, c)
	}

	if err = rows.Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error iterating charge rows", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}

	return charges, nil
}

func (r *LoanRepository) CreateCharge(ctx context.Context, charge *loan.Charge) (*loan.Charge, error) {
	sql := `
        INSERT INTO loan_charges (loan_id, description, amount, amount_paid, creation_date, due_date, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
        RETURNING ` + chargeColumns

	var created loan.Charge
	err := r.db.QueryRow(ctx, sql,
		charge.LoanID, charge.Description, charge.Amount, charge.AmountPaid,
		charge.CreationDate, charge.DueDate,
	).Scan(
		&created.ID, &created.LoanID, &created.Description, &created.Amount, &created.AmountPaid,
		&created.CreationDate, &created.DueDate, &created.CreatedAt, &created.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to insert charge", "loan_id", charge.LoanID, "error", err)
		return nil, translateDBError(err, r.logger)
	}
	r.logger.InfoContext(ctx, "Charge created in DB", "loan_id", created.LoanID, "charge_id", created.ID)
	return &created, nil
}

func (r *LoanRepository) InsertLedgerEntryInTx(ctx context.Context, tx pgx.Tx, entry *loan.LedgerEntry) (*loan.LedgerEntry, error) {
	sql := `
        INSERT INTO loan_ledger (loan_id, movement_date, paid_amount, interest, feci, capital_payment,
            principal_balance, next_due_date, charge_ids, notes, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
        RETURNING ` + ledgerColumns

	var created loan.LedgerEntry
	err := tx.QueryRow(ctx, sql,
		entry.LoanID, entry.MovementDate, entry.PaidAmount, entry.Interest, entry.FECI,
		entry.CapitalPayment, entry.PrincipalBalance, entry.NextDueDate, entry.ChargeIDs, entry.Notes,
	).Scan(
		&created.ID, &created.LoanID, &created.MovementDate, &created.PaidAmount,
		&created.Interest, &created.FECI, &created.CapitalPayment,
		&created.PrincipalBalance, &created.NextDueDate, &created.ChargeIDs,
		&created.Notes, &created.CreatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to insert ledger entry", "loan_id", entry.LoanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	r.logger.InfoContext(ctx, "Ledger entry created in DB", "loan_id", created.LoanID, "entry_id", created.ID)
	return &created, nil
}

func (r *LoanRepository) UpdateChargeAmountPaidInTx(ctx context.Context, tx pgx.Tx, charge *loan.Charge) error {
	sql := `
        UPDATE loan_charges
        SET amount_paid = $1, updated_at = NOW()
        WHERE id = $2 AND loan_id = $3`

	cmdTag, err := tx.Exec(ctx, sql, charge.AmountPaid, charge.ID, charge.LoanID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to update charge amount paid", "charge_id", charge.ID, "loan_id", charge.LoanID, "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	if cmdTag.RowsAffected() != 1 {
		r.logger.ErrorContext(ctx, "Charge update affected zero rows", "charge_id", charge.ID, "loan_id", charge.LoanID)
		return fmt.Errorf("%w: charge update affected zero rows", apperrors.ErrDatabase)
	}
	return nil
}

func (r *LoanRepository) UpdateLoanDerivedStateInTx(ctx context.Context, tx pgx.Tx, l *loan.Loan) error {
	sql := `
        UPDATE loans
        SET next_due_date = $1, current_balance = $2, status = $3, updated_at = NOW()
        WHERE id = $4`

	cmdTag, err := tx.Exec(ctx, sql, l.NextDueDate, l.CurrentBalance, l.Status, l.ID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to update loan derived state", "loan_id", l.ID, "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	if cmdTag.RowsAffected() != 1 {
		r.logger.ErrorContext(ctx, "Loan derived state update affected zero rows", "loan_id", l.ID)
		return fmt.Errorf("%w: loan derived state update affected zero rows", apperrors.ErrDatabase)
	}
	r.logger.InfoContext(ctx, "Loan derived state updated in DB", "loan_id", l.ID, "balance", l.CurrentBalance, "status", l.Status)
	return nil
}

func (r *LoanRepository) DeleteLedgerEntryInTx(ctx context.Context, tx pgx.Tx, loanID, entryID int64) error {
	sql := `DELETE FROM loan_ledger WHERE id = $1 AND loan_id = $2 AND charge_ids = '{}'`

	cmdTag, err := tx.Exec(ctx, sql, entryID, loanID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to delete ledger entry", "entry_id", entryID, "loan_id", loanID, "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	if cmdTag.RowsAffected() != 1 {
		r.logger.ErrorContext(ctx, "Ledger entry delete affected zero rows", "entry_id", entryID, "loan_id", loanID)
		return fmt.Errorf("%w: ledger entry delete affected zero rows", apperrors.ErrDatabase)
	}
	return nil
}

func (r *LoanRepository) GetAllActiveLoanIDs(ctx context.Context) ([]int64, error) {
	logCtx := r.logger.With(slog.String("operation", "GetAllActiveLoanIDs"))
	logCtx.DebugContext(ctx, "Attempting to get all active loan IDs")

	query := `SELECT id FROM loans WHERE status IN ($1, $2) ORDER BY id`

	rows, err := r.db.Query(ctx, query, loan.StatusActive, loan.StatusDefaulter)
	if err != nil {
		logCtx.ErrorContext(ctx, "Failed to query active loan IDs", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to query active loans: %w", apperrors.ErrDatabase, err)
	}
	defer rows.Close()

	loanIDs := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			logCtx.ErrorContext(ctx, "Failed to scan active loan ID row", slog.Any("error", err))
			return nil, fmt.Errorf("%w: failed scanning active loan ID: %w", apperrors.ErrDatabase, err)
		}
		loanIDs = append(loanIDs, id)
	}

	if err = rows.Err(); err != nil {
		logCtx.ErrorContext(ctx, "Error iterating active loan ID rows", slog.Any("error", err))
		return nil, fmt.Errorf("%w: error iterating active loan IDs: %w", apperrors.ErrDatabase, err)
	}

	logCtx.DebugContext(ctx, "Finished getting active loan IDs", slog.Int("count", len(loanIDs)))
	return loanIDs, nil
}

func loanScanTargets(l *loan.Loan) []any {
	return []any{
		&l.ID, &l.Reference, &l.PrincipalAmount, &l.AnnualInterestRate, &l.AnnualFECIRate,
		&l.FECIThreshold, &l.FECIExempt, &l.DisbursementDate, &l.PaymentFrequency, &l.NextDueDate,
		&l.CurrentBalance, &l.Status, &l.CreatedAt, &l.UpdatedAt,
	}
}

func translateDBError(err error, contextLogger *slog.Logger) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {

		if pgErr.Code == "23505" {
			contextLogger.Warn("Database unique constraint violation", "detail", pgErr.Detail, "constraint", pgErr.ConstraintName)
			return fmt.Errorf("%w: %s", apperrors.ErrAlreadyExists, pgErr.ConstraintName)
		}

		contextLogger.Error("PostgreSQL specific error", "code", pgErr.Code, "message", pgErr.Message, "detail", pgErr.Detail)
		return fmt.Errorf("%w: db error code %s", apperrors.ErrDatabase, pgErr.Code)
	}

	contextLogger.Error("Generic database error", "error", err)
	return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
}
