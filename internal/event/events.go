package event

import (
	"context"
	"time"
)

type PaymentRegisteredEvent struct {
	LoanID         int64     `json:"loanId"`
	LedgerEntryID  int64     `json:"ledgerEntryId"`
	Reference      string    `json:"reference"`
	PaidAmount     string    `json:"paidAmount"`
	Interest       string    `json:"interest"`
	FECI           string    `json:"feci"`
	CapitalPayment string    `json:"capitalPayment"`
	MovementDate   time.Time `json:"movementDate"`
	NextDueDate    time.Time `json:"nextDueDate"`
	AppliedCharges []int64   `json:"appliedCharges,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type LoanStatusChangedEvent struct {
	LoanID    int64     `json:"loanId"`
	Reference string    `json:"reference"`
	OldStatus string    `json:"oldStatus"`
	NewStatus string    `json:"newStatus"`
	Timestamp time.Time `json:"timestamp"`
}

type Publisher interface {
	PublishPaymentRegistered(ctx context.Context, event PaymentRegisteredEvent) error
	PublishLoanStatusChanged(ctx context.Context, event LoanStatusChangedEvent) error
}

// NoopPublisher is wired when event publishing is disabled in config.
type NoopPublisher struct{}

func (NoopPublisher) PublishPaymentRegistered(context.Context, PaymentRegisteredEvent) error {
	return nil
}

func (NoopPublisher) PublishLoanStatusChanged(context.Context, LoanStatusChangedEvent) error {
	return nil
}
