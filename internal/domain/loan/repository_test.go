package loan

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRepository struct {
	mock.Mock
}

type TxMock struct {
	pgx.Tx
}

var tx pgx.Tx = &TxMock{}

func (m *MockRepository) CreateLoan(ctx context.Context, newLoan *Loan) (*Loan, error) {
	args := m.Called(ctx, newLoan)
	return args.Get(0).(*Loan), args.Error(1)
}

func (m *MockRepository) GetLoanByID(ctx context.Context, loanID int64) (*Loan, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Loan), args.Error(1)
}

func (m *MockRepository) GetLoanForUpdate(ctx context.Context, tx pgx.Tx, loanID int64) (*Loan, error) {
	args := m.Called(ctx, tx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Loan), args.Error(1)
}

func (m *MockRepository) GetLedgerByLoanID(ctx context.Context, loanID int64) ([]LedgerEntry, error) {
	args := m.Called(ctx, loanID)
	return args.Get(0).([]LedgerEntry), args.Error(1)
}

func (m *MockRepository) GetChargesByLoanID(ctx context.Context, loanID int64) ([]Charge, error) {
	args := m.Called(ctx, loanID)
	return args.Get(0).([]Charge), args.Error(1)
}

func (m *MockRepository) CreateCharge(ctx context.Context, charge *Charge) (*Charge, error) {
	args := m.Called(ctx, charge)
	return args.Get(0).(*Charge), args.Error(1)
}

func (m *MockRepository) InsertLedgerEntryInTx(ctx context.Context, tx pgx.Tx, entry *LedgerEntry) (*LedgerEntry, error) {
	args := m.Called(ctx, tx, entry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*LedgerEntry), args.Error(1)
}

func (m *MockRepository) UpdateChargeAmountPaidInTx(ctx context.Context, tx pgx.Tx, charge *Charge) error {
	args := m.Called(ctx, tx, charge)
	return args.Error(0)
}

func (m *MockRepository) UpdateLoanDerivedStateInTx(ctx context.Context, tx pgx.Tx, l *Loan) error {
	args := m.Called(ctx, tx, l)
	return args.Error(0)
}

func (m *MockRepository) DeleteLedgerEntryInTx(ctx context.Context, tx pgx.Tx, loanID, entryID int64) error {
	args := m.Called(ctx, tx, loanID, entryID)
	return args.Error(0)
}

func (m *MockRepository) GetAllActiveLoanIDs(ctx context.Context) ([]int64, error) {
	args := m.Called(ctx)
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	return args.Get(0).(pgx.Tx), args.Error(1)
}

func (m *MockRepository) CommitTx(ctx context.Context, tx pgx.Tx) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockRepository) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func TestRepository_CreateLoan(t *testing.T) {
	mockRepo := new(MockRepository)
	ctx := context.Background()
	newLoan := &Loan{}
	expectedLoan := &Loan{ID: 1}

	mockRepo.On("CreateLoan", ctx, newLoan).Return(expectedLoan, nil)

	result, err := mockRepo.CreateLoan(ctx, newLoan)
	require.NoError(t, err)
	require.Equal(t, expectedLoan, result)

	mockRepo.AssertExpectations(t)
}

func TestRepository_GetLoanForUpdate(t *testing.T) {
	mockRepo := new(MockRepository)
	ctx := context.Background()
	loanID := int64(1)
	expectedLoan := &Loan{ID: loanID}

	mockRepo.On("GetLoanForUpdate", ctx, tx, loanID).Return(expectedLoan, nil)

	result, err := mockRepo.GetLoanForUpdate(ctx, tx, loanID)
	require.NoError(t, err)
	require.Equal(t, expectedLoan, result)

	mockRepo.AssertExpectations(t)
}

func TestRepository_GetAllActiveLoanIDs(t *testing.T) {
	mockRepo := new(MockRepository)
	ctx := context.Background()
	expectedIDs := []int64{1, 2, 3}

	mockRepo.On("GetAllActiveLoanIDs", ctx).Return(expectedIDs, nil)

	result, err := mockRepo.GetAllActiveLoanIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, expectedIDs, result)

	mockRepo.AssertExpectations(t)
}

func TestRepository_TxLifecycle(t *testing.T) {
	mockRepo := new(MockRepository)
	ctx := context.Background()

	mockRepo.On("BeginTx", ctx).Return(tx, nil)
	mockRepo.On("CommitTx", ctx, tx).Return(nil)
	mockRepo.On("RollbackTx", ctx, tx).Return(nil)

	result, err := mockRepo.BeginTx(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NoError(t, mockRepo.CommitTx(ctx, tx))
	require.NoError(t, mockRepo.RollbackTx(ctx, tx))

	mockRepo.AssertExpectations(t)
}
