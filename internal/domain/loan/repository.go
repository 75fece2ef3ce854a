package loan

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type Repository interface {
	CreateLoan(ctx context.Context, newLoan *Loan) (*Loan, error)

	GetLoanByID(ctx context.Context, loanID int64) (*Loan, error)

	// GetLoanForUpdate locks the loan row for the duration of tx and returns
	// the full aggregate: terms, ledger in creation order, charges in
	// creation order. Serializes concurrent payments on the same loan.
	GetLoanForUpdate(ctx context.Context, tx pgx.Tx, loanID int64) (*Loan, error)

	GetLedgerByLoanID(ctx context.Context, loanID int64) ([]LedgerEntry, error)

	GetChargesByLoanID(ctx context.Context, loanID int64) ([]Charge, error)

	CreateCharge(ctx context.Context, charge *Charge) (*Charge, error)

	InsertLedgerEntryInTx(ctx context.Context, tx pgx.Tx, entry *LedgerEntry) (*LedgerEntry, error)

	UpdateChargeAmountPaidInTx(ctx context.Context, tx pgx.Tx, charge *Charge) error

	UpdateLoanDerivedStateInTx(ctx context.Context, tx pgx.Tx, l *Loan) error

	DeleteLedgerEntryInTx(ctx context.Context, tx pgx.Tx, loanID, entryID int64) error

	GetAllActiveLoanIDs(ctx context.Context) ([]int64, error)

	BeginTx(ctx context.Context) (pgx.Tx, error)

	CommitTx(ctx context.Context, tx pgx.Tx) error

	RollbackTx(ctx context.Context, tx pgx.Tx) error
}
