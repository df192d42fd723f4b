package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"vault-ledger-go/internal/models"
	"vault-ledger-go/internal/store"
)

func (s *Service) CreateReconciliationRun(ctx context.Context, run models.ReconciliationRun) error {
	_, err := s.db.ExecContext(ctx, queryInsertReconciliationRun,
		run.Id, string(run.Status), run.TokensChecked, run.MismatchesFound, "[]", run.SystemFrozen, run.Error,
		formatTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("failed to insert reconciliation run: %w", err)
	}
	return nil
}

// FinishReconciliationRun records the outcome of a RUNNING run.
func (s *Service) FinishReconciliationRun(ctx context.Context, run models.ReconciliationRun) error {
	mismatches := run.Mismatches
	if mismatches == nil {
		mismatches = []models.Mismatch{}
	}
	encoded, err := json.Marshal(mismatches)
	if err != nil {
		return fmt.Errorf("failed to encode mismatches: %w", err)
	}

	var completedAt sql.NullString
	if run.CompletedAt != nil {
		completedAt = nullString(formatTime(*run.CompletedAt))
	}

	result, err := s.db.ExecContext(ctx, queryFinishReconciliationRun,
		string(run.Status), run.TokensChecked, run.MismatchesFound, string(encoded), run.SystemFrozen, run.Error,
		completedAt, run.Id)
	if err != nil {
		return fmt.Errorf("failed to finish reconciliation run: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("running reconciliation run %s: %w", run.Id, store.ErrNotFound)
	}
	return nil
}

// ListReconciliationRuns returns the most recent runs first.
func (s *Service) ListReconciliationRuns(ctx context.Context, limit int) ([]models.ReconciliationRun, error) {
	rows, err := s.db.QueryContext(ctx, queryListReconciliationRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation runs: %w", err)
	}
	defer closeRows(rows)

	var runs []models.ReconciliationRun
	for rows.Next() {
		var run models.ReconciliationRun
		var status, mismatches, startedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&run.Id, &status, &run.TokensChecked, &run.MismatchesFound, &mismatches,
			&run.SystemFrozen, &run.Error, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation run: %w", err)
		}
		run.Status = models.RunStatus(status)
		if err := json.Unmarshal([]byte(mismatches), &run.Mismatches); err != nil {
			return nil, fmt.Errorf("failed to decode mismatches for run %s: %w", run.Id, err)
		}
		var err error
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if run.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reconciliation rows: %w", err)
	}
	return runs, nil
}
