package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"vault-ledger-go/internal/models"

	"go.uber.org/zap"
)

func (s *Service) GetSystemState(ctx context.Context) (models.SystemState, error) {
	var state models.SystemState
	var updatedAt string
	err := s.db.QueryRowContext(ctx, queryGetSystemState).Scan(&state.Frozen, &state.Reason, &state.Actor, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SystemState{}, nil
	}
	if err != nil {
		return models.SystemState{}, fmt.Errorf("failed to read system state: %w", err)
	}
	if state.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return models.SystemState{}, err
	}
	return state, nil
}

// SetFrozen upserts the single state row and appends an audit event in one transaction.
func (s *Service) SetFrozen(ctx context.Context, frozen bool, reason, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	now := formatTime(s.now())
	if _, err := tx.ExecContext(ctx, queryUpsertSystemState, frozen, reason, actor, now); err != nil {
		return fmt.Errorf("failed to update system state: %w", err)
	}

	action := models.ActionUnfreeze
	if frozen {
		action = models.ActionFreeze
	}
	if _, err := tx.ExecContext(ctx, queryInsertFreezeAudit, string(action), reason, actor, now); err != nil {
		return fmt.Errorf("failed to record freeze audit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("System state changed",
		zap.Bool("frozen", frozen),
		zap.String("reason", reason),
		zap.String("actor", actor))
	return nil
}

func (s *Service) ListFreezeAudit(ctx context.Context, limit int) ([]models.FreezeAuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, queryListFreezeAudit, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list freeze audit: %w", err)
	}
	defer closeRows(rows)

	var events []models.FreezeAuditEvent
	for rows.Next() {
		var event models.FreezeAuditEvent
		var action, createdAt string
		if err := rows.Scan(&event.Id, &action, &event.Reason, &event.Actor, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan freeze audit: %w", err)
		}
		event.Action = models.FreezeAction(action)
		var err error
		if event.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating freeze audit rows: %w", err)
	}
	return events, nil
}
