package dto

import (
	"fmt"
	"strconv"
	"time"

	"loan-engine/internal/domain/loan"

	"github.com/shopspring/decimal"
)

const dateLayout = time.DateOnly

type CreateLoanRequest struct {
	Reference          string `json:"reference"`
	PrincipalAmount    string `json:"principalAmount"`
	AnnualInterestRate string `json:"annualInterestRate,omitempty"`
	AnnualFECIRate     string `json:"annualFeciRate,omitempty"`
	FECIThreshold      string `json:"feciThreshold,omitempty"`
	FECIExempt         bool   `json:"feciExempt,omitempty"`
	DisbursementDate   string `json:"disbursementDate"`
	PaymentFrequency   string `json:"paymentFrequency,omitempty"`
	NextDueDate        string `json:"nextDueDate,omitempty"`
}

func (r *CreateLoanRequest) Validate() error {
	if r.Reference == "" {
		return fmt.Errorf("reference is required")
	}
	principal, err := decimal.NewFromString(r.PrincipalAmount)
	if err != nil {
		return fmt.Errorf("invalid numeric format for principalAmount: %w", err)
	}
	if principal.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("principalAmount must be greater than zero")
	}
	for field, value := range map[string]string{
		"annualInterestRate": r.AnnualInterestRate,
		"annualFeciRate":     r.AnnualFECIRate,
		"feciThreshold":      r.FECIThreshold,
	} {
		if value == "" {
			continue
		}
		if _, err := decimal.NewFromString(value); err != nil {
			return fmt.Errorf("invalid numeric format for %s: %w", field, err)
		}
	}
	if _, err := time.Parse(dateLayout, r.DisbursementDate); err != nil {
		return fmt.Errorf("invalid disbursementDate format (use YYYY-MM-DD): %w", err)
	}
	if r.NextDueDate != "" {
		if _, err := time.Parse(dateLayout, r.NextDueDate); err != nil {
			return fmt.Errorf("invalid nextDueDate format (use YYYY-MM-DD): %w", err)
		}
	}
	if r.PaymentFrequency != "" && !loan.ValidFrequency(loan.PaymentFrequency(r.PaymentFrequency)) {
		return fmt.Errorf("invalid paymentFrequency (use monthly, biweekly, weekly or daily)")
	}
	return nil
}

type RegisterPaymentRequest struct {
	Amount      string `json:"amount"`
	PaymentDate string `json:"paymentDate,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

func (r *RegisterPaymentRequest) Validate() error {
	if _, err := decimal.NewFromString(r.Amount); err != nil || r.Amount == "" {
		return fmt.Errorf("invalid payment amount: %w", err)
	}
	if r.PaymentDate != "" {
		if _, err := time.Parse(dateLayout, r.PaymentDate); err != nil {
			return fmt.Errorf("invalid paymentDate format (use YYYY-MM-DD): %w", err)
		}
	}
	return nil
}

type CreateChargeRequest struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
	DueDate     string `json:"dueDate,omitempty"`
}

func (r *CreateChargeRequest) Validate() error {
	if r.Description == "" {
		return fmt.Errorf("description is required")
	}
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return fmt.Errorf("invalid numeric format for amount: %w", err)
	}
	if amount.IsNegative() {
		return fmt.Errorf("amount cannot be negative")
	}
	if r.DueDate != "" {
		if _, err := time.Parse(dateLayout, r.DueDate); err != nil {
			return fmt.Errorf("invalid dueDate format (use YYYY-MM-DD): %w", err)
		}
	}
	return nil
}

type LoanResponse struct {
	ID                 string                `json:"id"`
	Reference          string                `json:"reference"`
	PrincipalAmount    string                `json:"principalAmount"`
	AnnualInterestRate string                `json:"annualInterestRate"`
	AnnualFECIRate     string                `json:"annualFeciRate"`
	FECIThreshold      string                `json:"feciThreshold"`
	FECIExempt         bool                  `json:"feciExempt"`
	DisbursementDate   string                `json:"disbursementDate"`
	PaymentFrequency   string                `json:"paymentFrequency"`
	NextDueDate        *string               `json:"nextDueDate,omitempty"`
	CurrentBalance     string                `json:"currentBalance"`
	Status             string                `json:"status"`
	CreatedAt          time.Time             `json:"createdAt"`
	UpdatedAt          time.Time             `json:"updatedAt"`
	Ledger             []LedgerEntryResponse `json:"ledger,omitempty"`
	Charges            []ChargeResponse      `json:"charges,omitempty"`
}

type LedgerEntryResponse struct {
	ID               string    `json:"id"`
	MovementDate     string    `json:"movementDate"`
	PaidAmount       string    `json:"paidAmount"`
	Interest         string    `json:"interest"`
	FECI             string    `json:"feci"`
	CapitalPayment   string    `json:"capitalPayment"`
	PrincipalBalance string    `json:"principalBalance"`
	NextDueDate      string    `json:"nextDueDate"`
	AppliedCharges   []string  `json:"appliedCharges,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

type ChargeResponse struct {
	ID             string  `json:"id"`
	Description    string  `json:"description"`
	Amount         string  `json:"amount"`
	AmountPaid     string  `json:"amountPaid"`
	PendingBalance string  `json:"pendingBalance"`
	CreationDate   string  `json:"creationDate"`
	DueDate        *string `json:"dueDate,omitempty"`
}

type BalanceResponse struct {
	LoanID         string `json:"loanId"`
	CurrentBalance string `json:"currentBalance"`
}

type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type TokenRequest struct {
	Username string `json:"username"`
}

func NewLoanResponse(domainLoan *loan.Loan, includeLedger, includeCharges bool) LoanResponse {
	resp := LoanResponse{
		ID:                 strconv.FormatInt(domainLoan.ID, 10),
		Reference:          domainLoan.Reference,
		PrincipalAmount:    domainLoan.PrincipalAmount.StringFixed(2),
		AnnualInterestRate: domainLoan.AnnualInterestRate.String(),
		AnnualFECIRate:     domainLoan.AnnualFECIRate.String(),
		FECIThreshold:      domainLoan.FECIThreshold.StringFixed(2),
		FECIExempt:         domainLoan.FECIExempt,
		DisbursementDate:   domainLoan.DisbursementDate.Format(dateLayout),
		PaymentFrequency:   string(domainLoan.PaymentFrequency),
		CurrentBalance:     domainLoan.CurrentBalance.StringFixed(2),
		Status:             string(domainLoan.Status),
		CreatedAt:          domainLoan.CreatedAt,
		UpdatedAt:          domainLoan.UpdatedAt,
	}
	if domainLoan.NextDueDate != nil {
		s := domainLoan.NextDueDate.Format(dateLayout)
		resp.NextDueDate = &s
	}

	if includeLedger && domainLoan.Ledger != nil {
		resp.Ledger = make([]LedgerEntryResponse, len(domainLoan.Ledger))
		for i, entry := range domainLoan.Ledger {
			resp.Ledger[i] = NewLedgerEntryResponse(&entry)
		}
	}
	if includeCharges && domainLoan.Charges != nil {
		resp.Charges = make([]ChargeResponse, len(domainLoan.Charges))
		for i, charge := range domainLoan.Charges {
			resp.Charges[i] = NewChargeResponse(&charge)
		}
	}

	return resp
}

func NewLedgerEntryResponse(entry *loan.LedgerEntry) LedgerEntryResponse {
	applied := make([]string, len(entry.ChargeIDs))
	for i, id := range entry.ChargeIDs {
		applied[i] = strconv.FormatInt(id, 10)
	}
	if len(applied) == 0 {
		applied = nil
	}

	return LedgerEntryResponse{
		ID:               strconv.FormatInt(entry.ID, 10),
		MovementDate:     entry.MovementDate.Format(dateLayout),
		PaidAmount:       entry.PaidAmount.StringFixed(2),
		Interest:         entry.Interest.StringFixed(2),
		FECI:             entry.FECI.StringFixed(2),
		CapitalPayment:   entry.CapitalPayment.StringFixed(2),
		PrincipalBalance: entry.PrincipalBalance.StringFixed(2),
		NextDueDate:      entry.NextDueDate.Format(dateLayout),
		AppliedCharges:   applied,
		Notes:            entry.Notes,
		CreatedAt:        entry.CreatedAt,
	}
}

func NewChargeResponse(charge *loan.Charge) ChargeResponse {
	resp := ChargeResponse{
		ID:             strconv.FormatInt(charge.ID, 10),
		Description:    charge.Description,
		Amount:         charge.Amount.StringFixed(2),
		AmountPaid:     charge.AmountPaid.StringFixed(2),
		PendingBalance: charge.PendingBalance().StringFixed(2),
		CreationDate:   charge.CreationDate.Format(dateLayout),
	}
	if charge.DueDate != nil {
		s := charge.DueDate.Format(dateLayout)
		resp.DueDate = &s
	}
	return resp
}
