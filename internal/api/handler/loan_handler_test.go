package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"loan-engine/internal/api/handler/dto"
	"loan-engine/internal/config"
	"loan-engine/internal/domain/loan"
	"loan-engine/internal/pkg/apperrors"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLoanService struct {
	mock.Mock
}

func (m *MockLoanService) CreateLoan(ctx context.Context, params loan.CreateLoanParams) (*loan.Loan, error) {
	args := m.Called(ctx, params)
	if created, ok := args.Get(0).(*loan.Loan); ok {
		return created, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLoanService) GetLoan(ctx context.Context, loanID int64) (*loan.Loan, error) {
	args := m.Called(ctx, loanID)
	if l, ok := args.Get(0).(*loan.Loan); ok {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLoanService) GetBalance(ctx context.Context, loanID int64) (loan.Money, error) {
	args := m.Called(ctx, loanID)
	if balance, ok := args.Get(0).(loan.Money); ok {
		return balance, args.Error(1)
	}
	return decimal.Zero, args.Error(1)
}

func (m *MockLoanService) GetLedger(ctx context.Context, loanID int64) ([]loan.LedgerEntry, error) {
	args := m.Called(ctx, loanID)
	if ledger, ok := args.Get(0).([]loan.LedgerEntry); ok {
		return ledger, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLoanService) AddCharge(ctx context.Context, loanID int64, description string, amount loan.Money, dueDate *time.Time) (*loan.Charge, error) {
	args := m.Called(ctx, loanID, description, amount, dueDate)
	if charge, ok := args.Get(0).(*loan.Charge); ok {
		return charge, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLoanService) ListCharges(ctx context.Context, loanID int64) ([]loan.Charge, error) {
	args := m.Called(ctx, loanID)
	if charges, ok := args.Get(0).([]loan.Charge); ok {
		return charges, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLoanService) RegisterPayment(ctx context.Context, loanID int64, paidAmount loan.Money, paymentDate time.Time, notes string) (*loan.LedgerEntry, error) {
	args := m.Called(ctx, loanID, paidAmount, paymentDate, notes)
	if entry, ok := args.Get(0).(*loan.LedgerEntry); ok {
		return entry, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLoanService) DeleteLedgerEntry(ctx context.Context, loanID, entryID int64) error {
	args := m.Called(ctx, loanID, entryID)
	return args.Error(0)
}

func (m *MockLoanService) RefreshStatus(ctx context.Context, loanID int64) (loan.LoanStatus, bool, error) {
	args := m.Called(ctx, loanID)
	return args.Get(0).(loan.LoanStatus), args.Bool(1), args.Error(2)
}

func testDefaults() config.LoanConfig {
	return config.LoanConfig{
		AnnualInterestRate: "19.0",
		AnnualFECIRate:     "1.0",
		FECIThreshold:      "5000.0",
		PaymentFrequency:   "monthly",
	}
}

func newTestHandler(service loan.LoanService) *LoanHandler {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return NewLoanHandler(service, testDefaults(), logger)
}

func withLoanID(req *http.Request, params ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(params); i += 2 {
		rctx.URLParams.Add(params[i], params[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestLoanHandlerCreateLoan(t *testing.T) {
	t.Run("creates loan applying configured defaults", func(t *testing.T) {
		mockService := new(MockLoanService)
		handler := newTestHandler(mockService)

		var captured loan.CreateLoanParams
		mockService.On("CreateLoan", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			captured = args.Get(1).(loan.CreateLoanParams)
		}).Return(&loan.Loan{ID: 1, Reference: "LN-0001", Status: loan.StatusActive, PaymentFrequency: loan.FrequencyMonthly}, nil)

		body := `{"reference":"LN-0001","principalAmount":"10000","disbursementDate":"2024-01-01"}`
		req := httptest.NewRequest(http.MethodPost, "/loans", strings.NewReader(body))
		rec := httptest.NewRecorder()

		handler.CreateLoan(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.True(t, captured.AnnualInterestRate.Equal(decimal.RequireFromString("19.0")))
		assert.True(t, captured.AnnualFECIRate.Equal(decimal.RequireFromString("1.0")))
		assert.True(t, captured.FECIThreshold.Equal(decimal.RequireFromString("5000.0")))
		assert.Equal(t, loan.FrequencyMonthly, captured.PaymentFrequency)
		mockService.AssertExpectations(t)
	})

	t.Run("explicit terms override the defaults", func(t *testing.T) {
		mockService := new(MockLoanService)
		handler := newTestHandler(mockService)

		var captured loan.CreateLoanParams
		mockService.On("CreateLoan", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			captured = args.Get(1).(loan.CreateLoanParams)
		}).Return(&loan.Loan{ID: 2}, nil)

		body := `{"reference":"LN-0002","principalAmount":"10000","disbursementDate":"2024-01-01","annualInterestRate":"12.5","feciExempt":true,"paymentFrequency":"weekly"}`
		req := httptest.NewRequest(http.MethodPost, "/loans", strings.NewReader(body))
		rec := httptest.NewRecorder()

		handler.CreateLoan(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.True(t, captured.AnnualInterestRate.Equal(decimal.RequireFromString("12.5")))
		assert.True(t, captured.FECIExempt)
		assert.Equal(t, loan.FrequencyWeekly, captured.PaymentFrequency)
	})

	t.Run("rejects invalid payload", func(t *testing.T) {
		mockService := new(MockLoanService)
		handler := newTestHandler(mockService)

		body := `{"reference":"","principalAmount":"10000","disbursementDate":"2024-01-01"}`
		req := httptest.NewRequest(http.MethodPost, "/loans", strings.NewReader(body))
		rec := httptest.NewRecorder()

		handler.CreateLoan(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		mockService.AssertNotCalled(t, "CreateLoan", mock.Anything, mock.Anything)
	})
}

func TestLoanHandlerGetLoan(t *testing.T) {
	t.Run("successfully retrieves loan details", func(t *testing.T) {
		mockService := new(MockLoanService)
		handler := newTestHandler(mockService)
		loanID := int64(123)

		mockService.On("GetLoan", mock.Anything, loanID).Return(&loan.Loan{ID: loanID}, nil)

		req := withLoanID(httptest.NewRequest(http.MethodGet, "/loans/123", nil), "loanID", "123")
		rec := httptest.NewRecorder()

		handler.GetLoan(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp dto.LoanResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "123", resp.ID)
		mockService.AssertExpectations(t)
	})

	t.Run("returns error for invalid loan ID", func(t *testing.T) {
		mockService := new(MockLoanService)
		handler := newTestHandler(mockService)

		req := withLoanID(httptest.NewRequest(http.MethodGet, "/loans/invalid", nil), "loanID", "invalid")
		rec := httptest.NewRecorder()

		handler.GetLoan(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("returns 404 when loan not found", func(t *testing.T) {
		mockService := new(MockLoanService)
		handler := newTestHandler(mockService)

		mockService.On("GetLoan", mock.Anything, int64(2)).Return((*loan.Loan)(nil), apperrors.ErrNotFound)

		req := withLoanID(httptest.NewRequest(http.MethodGet, "/loans/2", nil), "loanID", "2")
		rec := httptest.NewRecorder()

		handler.GetLoan(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("embeds ledger and charges on request", func(t *testing.T) {
		mockService := new(MockLoanService)
		handler := newTestHandler(mockService)
		loanID := int64(5)

		mockService.On("GetLoan", mock.Anything, loanID).Return(&loan.Loan{
			ID:      loanID,
			Ledger:  []loan.LedgerEntry{{ID: 10}},
			Charges: []loan.Charge{{ID: 3}},
		}, nil)

		req := withLoanID(httptest.NewRequest(http.MethodGet, "/loans/5?include=ledger,charges", nil), "loanID", "5")
		rec := httptest.NewRecorder()

		handler.GetLoan(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp dto.LoanResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Len(t, resp.Ledger, 1)
		assert.Len(t, resp.Charges, 1)
	})
}

func TestLoanHandlerGetBalance(t *testing.T) {
	mockService := new(MockLoanService)
	handler := newTestHandler(mockService)
	loanID := int64(1)

	mockService.On("GetBalance", mock.Anything, loanID).Return(decimal.RequireFromString("9165.62"), nil)

	req := withLoanID(httptest.NewRequest(http.MethodGet, "/loans/1/balance", nil), "loanID", "1")
	rec := httptest.NewRecorder()

	handler.GetBalance(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp dto.BalanceResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "1", resp.LoanID)
	assert.Equal(t, "9165.62", resp.CurrentBalance)
	mockService.AssertExpectations(t)
}

func TestLoanHandlerRegisterPayment(t *testing.T) {
	t.Run("registers payment and returns ledger entry", func(t *testing.T) {
		mockService := new(MockLoanService)
		handler := newTestHandler(mockService)
		loanID := int64(1)

		entry := &loan.LedgerEntry{
			ID:             42,
			LoanID:         loanID,
			MovementDate:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			PaidAmount:     decimal.RequireFromString("1000"),
			Interest:       decimal.RequireFromString("161.37"),
			FECI:           decimal.RequireFromString("4.25"),
			CapitalPayment: decimal.RequireFromString("834.38"),
			NextDueDate:    time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		}
		mockService.On("RegisterPayment", mock.Anything, loanID, mock.Anything, mock.Anything, "installment").Return(entry, nil)

		body := `{"amount":"1000","paymentDate":"2024-02-01","notes":"installment"}`
		req := withLoanID(httptest.NewRequest(http.MethodPost, "/loans/1/payments", strings.NewReader(body)), "loanID", "1")
		rec := httptest.NewRecorder()

		handler.RegisterPayment(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		var resp dto.LedgerEntryResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "42", resp.ID)
		assert.Equal(t, "161.37", resp.Interest)
		mockService.AssertExpectations(t)
	})

	t.Run("rejects malformed amount", func(t *testing.T) {
		mockService := new(MockLoanService)
		handler := newTestHandler(mockService)

		body := `{"amount":"lots"}`
		req := withLoanID(httptest.NewRequest(http.MethodPost, "/loans/1/payments", strings.NewReader(body)), "loanID", "1")
		rec := httptest.NewRecorder()

		handler.RegisterPayment(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		mockService.AssertNotCalled(t, "RegisterPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("maps domain validation errors to 400", func(t *testing.T) {
		mockService := new(MockLoanService)
		handler := newTestHandler(mockService)

		mockService.On("RegisterPayment", mock.Anything, int64(1), mock.Anything, mock.Anything, "").
			Return((*loan.LedgerEntry)(nil), apperrors.ErrInvalidPaymentAmount)

		body := `{"amount":"100"}`
		req := withLoanID(httptest.NewRequest(http.MethodPost, "/loans/1/payments", strings.NewReader(body)), "loanID", "1")
		rec := httptest.NewRecorder()

		handler.RegisterPayment(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLoanHandlerDeleteLedgerEntry(t *testing.T) {
	t.Run("deletes entry", func(t *testing.T) {
		mockService := new(MockLoanService)
		handler := newTestHandler(mockService)

		mockService.On("DeleteLedgerEntry", mock.Anything, int64(1), int64(42)).Return(nil)

		req := withLoanID(httptest.NewRequest(http.MethodDelete, "/loans/1/ledger/42", nil), "loanID", "1", "entryID", "42")
		rec := httptest.NewRecorder()

		handler.DeleteLedgerEntry(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("entries with charges respond 409", func(t *testing.T) {
		mockService := new(MockLoanService)
		handler := newTestHandler(mockService)

		mockService.On("DeleteLedgerEntry", mock.Anything, int64(1), int64(42)).
			Return(apperrors.ErrLedgerEntryHasCharges)

		req := withLoanID(httptest.NewRequest(http.MethodDelete, "/loans/1/ledger/42", nil), "loanID", "1", "entryID", "42")
		rec := httptest.NewRecorder()

		handler.DeleteLedgerEntry(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestLoanHandlerCharges(t *testing.T) {
	t.Run("adds a charge", func(t *testing.T) {
		mockService := new(MockLoanService)
		handler := newTestHandler(mockService)

		mockService.On("AddCharge", mock.Anything, int64(1), "insurance", mock.Anything, (*time.Time)(nil)).
			Return(&loan.Charge{ID: 3, LoanID: 1, Description: "insurance", Amount: decimal.RequireFromString("200")}, nil)

		body := `{"description":"insurance","amount":"200"}`
		req := withLoanID(httptest.NewRequest(http.MethodPost, "/loans/1/charges", strings.NewReader(body)), "loanID", "1")
		rec := httptest.NewRecorder()

		handler.AddCharge(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		var resp dto.ChargeResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "3", resp.ID)
		mockService.AssertExpectations(t)
	})

	t.Run("lists charges", func(t *testing.T) {
		mockService := new(MockLoanService)
		handler := newTestHandler(mockService)

		mockService.On("ListCharges", mock.Anything, int64(1)).Return([]loan.Charge{
			{ID: 3, Description: "insurance", Amount: decimal.RequireFromString("200")},
		}, nil)

		req := withLoanID(httptest.NewRequest(http.MethodGet, "/loans/1/charges", nil), "loanID", "1")
		rec := httptest.NewRecorder()

		handler.ListCharges(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp []dto.ChargeResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Len(t, resp, 1)
	})
}
