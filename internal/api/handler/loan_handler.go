package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"loan-engine/internal/api/handler/dto"
	"loan-engine/internal/config"
	"loan-engine/internal/domain/loan"
	"loan-engine/internal/pkg/apperrors"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const dateLayout = time.DateOnly

type LoanHandler struct {
	service  loan.LoanService
	defaults config.LoanConfig
	logger   *slog.Logger
}

func NewLoanHandler(s loan.LoanService, defaults config.LoanConfig, l *slog.Logger) *LoanHandler {
	return &LoanHandler{
		service:  s,
		defaults: defaults,
		logger:   l.With("component", "LoanHandler"),
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("no request body")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Default().Error("Failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":{"message":"Internal server error"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

func respondError(w http.ResponseWriter, err error) {
	status, message, field := http.StatusInternalServerError, "An unexpected error occurred.", ""
	var validationError *apperrors.ValidationError
	var computationError *apperrors.ComputationError
	var appErr *apperrors.AppError

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status, message = http.StatusNotFound, "Resource not found."
	case errors.Is(err, apperrors.ErrInvalidArgument), errors.Is(err, apperrors.ErrValidation):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, apperrors.ErrInvalidPaymentAmount), errors.Is(err, apperrors.ErrPaymentBeforeDisbursement):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, apperrors.ErrLedgerEntryHasCharges), errors.Is(err, apperrors.ErrConflict):
		status, message = http.StatusConflict, err.Error()
	case errors.As(err, &validationError):
		status, message, field = http.StatusBadRequest, validationError.Message, validationError.Field
	case errors.As(err, &computationError):
		slog.Default().Error("Ledger computation error", "error", err)
	case errors.As(err, &appErr):
		message = appErr.Error()
	default:
		slog.Default().Error("Unhandled internal error", "error", err)
	}

	resp := dto.ErrorResponse{
		Error: dto.ErrorDetail{
			Message: message,
			Field:   field,
		},
	}
	respondJSON(w, status, resp)
}

func getLoanIDFromURL(r *http.Request) (int64, error) {
	idStr := chi.URLParam(r, "loanID")
	if idStr == "" {
		return 0, fmt.Errorf("loanID not found in URL path")
	}
	return strconv.ParseInt(idStr, 10, 64)
}

func (h *LoanHandler) createParamsFromRequest(req *dto.CreateLoanRequest) (loan.CreateLoanParams, error) {
	pick := func(value, fallback string) string {
		if value != "" {
			return value
		}
		return fallback
	}

	principal, err := decimal.NewFromString(req.PrincipalAmount)
	if err != nil {
		return loan.CreateLoanParams{}, fmt.Errorf("invalid numeric format for principalAmount")
	}
	interestRate, err := decimal.NewFromString(pick(req.AnnualInterestRate, h.defaults.AnnualInterestRate))
	if err != nil {
		return loan.CreateLoanParams{}, fmt.Errorf("invalid numeric format for annualInterestRate")
	}
	feciRate, err := decimal.NewFromString(pick(req.AnnualFECIRate, h.defaults.AnnualFECIRate))
	if err != nil {
		return loan.CreateLoanParams{}, fmt.Errorf("invalid numeric format for annualFeciRate")
	}
	feciThreshold, err := decimal.NewFromString(pick(req.FECIThreshold, h.defaults.FECIThreshold))
	if err != nil {
		return loan.CreateLoanParams{}, fmt.Errorf("invalid numeric format for feciThreshold")
	}
	disbursementDate, err := time.Parse(dateLayout, req.DisbursementDate)
	if err != nil {
		return loan.CreateLoanParams{}, fmt.Errorf("invalid disbursementDate")
	}

	params := loan.CreateLoanParams{
		Reference:          req.Reference,
		PrincipalAmount:    principal,
		AnnualInterestRate: interestRate,
		AnnualFECIRate:     feciRate,
		FECIThreshold:      feciThreshold,
		FECIExempt:         req.FECIExempt,
		DisbursementDate:   disbursementDate,
		PaymentFrequency:   loan.PaymentFrequency(pick(req.PaymentFrequency, h.defaults.PaymentFrequency)),
	}
	if req.NextDueDate != "" {
		nextDue, err := time.Parse(dateLayout, req.NextDueDate)
		if err != nil {
			return loan.CreateLoanParams{}, fmt.Errorf("invalid nextDueDate")
		}
		params.NextDueDate = &nextDue
	}

	return params, nil
}

// CreateLoan handles the creation of a new loan.
//
// @Summary Create a new loan
// @Description This endpoint creates a new loan with a principal amount, disbursement date and optional interest, FECI and scheduling terms. Omitted terms fall back to the configured defaults.
// @Tags Loans
// @Accept json
// @Produce json
// @Param request body dto.CreateLoanRequest true "Loan creation request payload"
// @Success 201 {object} dto.LoanResponse "Loan successfully created"
// @Failure 400 {object} dto.ErrorResponse "Invalid request payload or validation error"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans [post]
// @Security BearerAuth
func (h *LoanHandler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateLoanRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	params, err := h.createParamsFromRequest(&req)
	if err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	createdLoan, err := h.service.CreateLoan(r.Context(), params)
	if err != nil {
		respondError(w, err)
		return
	}

	resp := dto.NewLoanResponse(createdLoan, false, false)
	respondJSON(w, http.StatusCreated, resp)
}

// GetLoan retrieves the details of a specific loan.
//
// @Summary Retrieve loan details
// @Description This endpoint retrieves a loan by its ID. Related collections can be embedded with the query parameter `include`, a comma separated list accepting 'ledger' and 'charges'.
// @Tags Loans
// @Produce json
// @Param loanID path int true "Loan ID"
// @Param include query string false "Optional comma separated list of embedded collections (ledger, charges)"
// @Success 200 {object} dto.LoanResponse "Loan details successfully retrieved"
// @Failure 400 {object} dto.ErrorResponse "Invalid loan ID or request parameters"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/{loanID} [get]
// @Security BearerAuth
func (h *LoanHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := getLoanIDFromURL(r)
	if err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	domainLoan, err := h.service.GetLoan(r.Context(), loanID)
	if err != nil {
		respondError(w, err)
		return
	}

	include := r.URL.Query().Get("include")
	includeLedger := strings.Contains(include, "ledger")
	includeCharges := strings.Contains(include, "charges")
	resp := dto.NewLoanResponse(domainLoan, includeLedger, includeCharges)
	respondJSON(w, http.StatusOK, resp)
}

// GetBalance retrieves the outstanding principal balance for a loan.
//
// @Summary Retrieve outstanding loan balance
// @Description This endpoint retrieves the outstanding principal balance for a loan by its ID.
// @Tags Loans
// @Produce json
// @Param loanID path int true "Loan ID"
// @Success 200 {object} dto.BalanceResponse "Balance successfully retrieved"
// @Failure 400 {object} dto.ErrorResponse "Invalid loan ID or request parameters"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/{loanID}/balance [get]
// @Security BearerAuth
func (h *LoanHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	loanID, err := getLoanIDFromURL(r)
	if err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	balance, err := h.service.GetBalance(r.Context(), loanID)
	if err != nil {
		respondError(w, err)
		return
	}

	resp := dto.BalanceResponse{
		LoanID:         strconv.FormatInt(loanID, 10),
		CurrentBalance: balance.StringFixed(2),
	}
	respondJSON(w, http.StatusOK, resp)
}

// GetLedger lists the movement history of a loan.
//
// @Summary Retrieve the loan ledger
// @Description This endpoint lists every ledger movement recorded against a loan, ordered by movement date.
// @Tags Loans
// @Produce json
// @Param loanID path int true "Loan ID"
// @Success 200 {array} dto.LedgerEntryResponse "Ledger successfully retrieved"
// @Failure 400 {object} dto.ErrorResponse "Invalid loan ID or request parameters"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/{loanID}/ledger [get]
// @Security BearerAuth
func (h *LoanHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	loanID, err := getLoanIDFromURL(r)
	if err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	ledger, err := h.service.GetLedger(r.Context(), loanID)
	if err != nil {
		respondError(w, err)
		return
	}

	resp := make([]dto.LedgerEntryResponse, len(ledger))
	for i := range ledger {
		resp[i] = dto.NewLedgerEntryResponse(&ledger[i])
	}
	respondJSON(w, http.StatusOK, resp)
}

// RegisterPayment records a payment against a loan and allocates it.
//
// @Summary Register a loan payment
// @Description This endpoint records a payment for a loan by its ID. The amount is split across pending charges, the FECI fee, accrued interest and capital, and the resulting ledger entry is returned.
// @Tags Loans
// @Accept json
// @Produce json
// @Param loanID path int true "Loan ID"
// @Param request body dto.RegisterPaymentRequest true "Payment request payload"
// @Success 201 {object} dto.LedgerEntryResponse "Payment successfully registered"
// @Failure 400 {object} dto.ErrorResponse "Invalid loan ID, request payload, or validation error"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/{loanID}/payments [post]
// @Security BearerAuth
func (h *LoanHandler) RegisterPayment(w http.ResponseWriter, r *http.Request) {
	loanID, err := getLoanIDFromURL(r)
	if err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	var req dto.RegisterPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		respondError(w, fmt.Errorf("%w: invalid numeric format for amount", apperrors.ErrInvalidArgument))
		return
	}

	var paymentDate time.Time
	if req.PaymentDate != "" {
		paymentDate, _ = time.Parse(dateLayout, req.PaymentDate)
	}

	entry, err := h.service.RegisterPayment(r.Context(), loanID, amount, paymentDate, req.Notes)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.NewLedgerEntryResponse(entry))
}

// DeleteLedgerEntry removes a ledger movement that carries no charge allocations.
//
// @Summary Delete a ledger entry
// @Description This endpoint removes a ledger entry from a loan and recomputes the loan balance and status. Entries that allocated money to charges cannot be deleted.
// @Tags Loans
// @Produce json
// @Param loanID path int true "Loan ID"
// @Param entryID path int true "Ledger entry ID"
// @Success 204 "Ledger entry successfully deleted"
// @Failure 400 {object} dto.ErrorResponse "Invalid loan ID or entry ID"
// @Failure 404 {object} dto.ErrorResponse "Loan or ledger entry not found"
// @Failure 409 {object} dto.ErrorResponse "Ledger entry has charge allocations"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/{loanID}/ledger/{entryID} [delete]
// @Security BearerAuth
func (h *LoanHandler) DeleteLedgerEntry(w http.ResponseWriter, r *http.Request) {
	loanID, err := getLoanIDFromURL(r)
	if err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	entryID, err := strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil {
		respondError(w, fmt.Errorf("%w: invalid entryID", apperrors.ErrInvalidArgument))
		return
	}

	if err := h.service.DeleteLedgerEntry(r.Context(), loanID, entryID); err != nil {
		respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AddCharge registers an ancillary charge against a loan.
//
// @Summary Add a loan charge
// @Description This endpoint registers an ancillary charge (notarial fees, insurance, collection costs) against a loan. Pending charges are settled first when a payment is allocated.
// @Tags Charges
// @Accept json
// @Produce json
// @Param loanID path int true "Loan ID"
// @Param request body dto.CreateChargeRequest true "Charge creation request payload"
// @Success 201 {object} dto.ChargeResponse "Charge successfully created"
// @Failure 400 {object} dto.ErrorResponse "Invalid loan ID, request payload, or validation error"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/{loanID}/charges [post]
// @Security BearerAuth
func (h *LoanHandler) AddCharge(w http.ResponseWriter, r *http.Request) {
	loanID, err := getLoanIDFromURL(r)
	if err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	var req dto.CreateChargeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		respondError(w, fmt.Errorf("%w: invalid numeric format for amount", apperrors.ErrInvalidArgument))
		return
	}
	var dueDate *time.Time
	if req.DueDate != "" {
		parsed, _ := time.Parse(dateLayout, req.DueDate)
		dueDate = &parsed
	}

	charge, err := h.service.AddCharge(r.Context(), loanID, req.Description, amount, dueDate)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.NewChargeResponse(charge))
}

// ListCharges lists the charges registered against a loan.
//
// @Summary List loan charges
// @Description This endpoint lists every charge registered against a loan, in creation order, with the amount already settled by payments.
// @Tags Charges
// @Produce json
// @Param loanID path int true "Loan ID"
// @Success 200 {array} dto.ChargeResponse "Charges successfully retrieved"
// @Failure 400 {object} dto.ErrorResponse "Invalid loan ID or request parameters"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/{loanID}/charges [get]
// @Security BearerAuth
func (h *LoanHandler) ListCharges(w http.ResponseWriter, r *http.Request) {
	loanID, err := getLoanIDFromURL(r)
	if err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	charges, err := h.service.ListCharges(r.Context(), loanID)
	if err != nil {
		respondError(w, err)
		return
	}

	resp := make([]dto.ChargeResponse, len(charges))
	for i := range charges {
		resp[i] = dto.NewChargeResponse(&charges[i])
	}
	respondJSON(w, http.StatusOK, resp)
}
