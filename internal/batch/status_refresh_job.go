package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"loan-engine/internal/domain/loan"
	"loan-engine/internal/pkg/apperrors"
)

type StatusRefreshJob struct {
	loanRepo    loan.Repository
	loanService loan.LoanService
	logger      *slog.Logger
}

func NewStatusRefreshJob(loanRepo loan.Repository, loanSvc loan.LoanService, logger *slog.Logger) *StatusRefreshJob {
	if loanRepo == nil || loanSvc == nil || logger == nil {
		panic("StatusRefreshJob dependencies cannot be nil")
	}
	return &StatusRefreshJob{
		loanRepo:    loanRepo,
		loanService: loanSvc,
		logger:      logger.With("job", "StatusRefresh"),
	}
}

// Run re-evaluates the status of every active or defaulted loan. A loan
// whose next due date has passed with an outstanding balance moves to
// DEFAULTER, one that catches up moves back to ACTIVE.
func (j *StatusRefreshJob) Run(ctx context.Context) error {
	startTime := time.Now()
	j.logger.InfoContext(ctx, "Starting nightly loan status refresh job.")

	loanIDs, err := j.loanRepo.GetAllActiveLoanIDs(ctx)
	if err != nil {
		j.logger.ErrorContext(ctx, "Failed to get active loan IDs, aborting job.", slog.Any("error", err))
		return fmt.Errorf("cannot run job, failed to get active loans: %w", err)
	}
	j.logger.InfoContext(ctx, "Fetched active loan IDs.", slog.Int("count", len(loanIDs)))

	if len(loanIDs) == 0 {
		j.logger.InfoContext(ctx, "No active loans found to process.")
		j.logger.InfoContext(ctx, "Loan status refresh job finished.", slog.Duration("duration", time.Since(startTime)))
		return nil
	}

	var wg sync.WaitGroup
	var processedCount, changedCount, defaulterCount, errorCount atomic.Int32

	for _, loanID := range loanIDs {
		wg.Add(1)
		go func(currentLoanID int64) {
			defer wg.Done()

			logCtx := j.logger.With(slog.Int64("loanID", currentLoanID))

			status, changed, refreshErr := j.loanService.RefreshStatus(ctx, currentLoanID)
			if refreshErr != nil {
				if errors.Is(refreshErr, apperrors.ErrNotFound) {
					logCtx.WarnContext(ctx, "Loan not found during status refresh (potentially deleted recently?)", slog.Any("error", refreshErr))
				} else {
					logCtx.ErrorContext(ctx, "Failed to refresh loan status", slog.Any("error", refreshErr))
					errorCount.Add(1)
				}
				return
			}

			if status == loan.StatusDefaulter {
				defaulterCount.Add(1)
			}
			if changed {
				changedCount.Add(1)
				logCtx.InfoContext(ctx, "Loan status changed.", slog.String("new_status", string(status)))
			}
			processedCount.Add(1)
		}(loanID)
	}

	wg.Wait()
	duration := time.Since(startTime)
	summaryLog := j.logger.With(
		slog.Duration("duration", duration),
		slog.Int("total_active_loans", len(loanIDs)),
		slog.Int("loans_processed", int(processedCount.Load())),
		slog.Int("loans_in_default", int(defaulterCount.Load())),
		slog.Int("statuses_changed", int(changedCount.Load())),
		slog.Int("errors_encountered", int(errorCount.Load())),
	)
	if errorCount.Load() > 0 {
		summaryLog.WarnContext(ctx, "Loan status refresh job finished with errors.")
		return fmt.Errorf("job completed with %d errors", errorCount.Load())
	}

	summaryLog.InfoContext(ctx, "Loan status refresh job finished successfully.")
	return nil
}
