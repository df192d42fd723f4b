package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vault-ledger-go/internal/models"
	"vault-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UpsertEvent inserts the event unless the same (signature, type, log index)
// was already observed, and returns the stored row either way.
func (s *Service) UpsertEvent(ctx context.Context, event models.OnChainEvent) (store.EventUpsertResult, error) {
	if event.Id == "" {
		event.Id = uuid.New().String()
	}
	if event.Status == "" {
		event.Status = models.EventTentative
	}
	payload := string(event.Payload)
	if payload == "" {
		payload = "{}"
	}
	now := formatTime(s.now())

	var blockTime, finalizedAt sql.NullString
	if !event.BlockTime.IsZero() {
		blockTime = nullString(formatTime(event.BlockTime))
	}
	if event.FinalizedAt != nil {
		finalizedAt = nullString(formatTime(*event.FinalizedAt))
	}

	result, err := s.db.ExecContext(ctx, queryInsertEvent,
		event.Id, string(event.EventType), event.Signature, event.LogIndex, int64(event.Slot), blockTime, payload,
		string(event.Status), int64(event.Confirmations), finalizedAt, now, now)
	if err != nil {
		return store.EventUpsertResult{}, fmt.Errorf("failed to insert event: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return store.EventUpsertResult{}, fmt.Errorf("failed to check rows affected: %w", err)
	}

	stored, err := s.getEventRow(ctx, queryGetEventByOccurrence, event.Signature, string(event.EventType), event.LogIndex)
	if err != nil {
		return store.EventUpsertResult{}, err
	}

	if rowsAffected == 0 {
		zap.L().Debug("Event already recorded",
			zap.String("event_id", stored.Id),
			zap.String("signature", event.Signature),
			zap.String("event_type", string(event.EventType)))
	}
	return store.EventUpsertResult{Event: *stored, Created: rowsAffected == 1}, nil
}

func (s *Service) GetEvent(ctx context.Context, id string) (*models.OnChainEvent, error) {
	return s.getEventRow(ctx, queryGetEvent, id)
}

func (s *Service) getEventRow(ctx context.Context, query string, args ...any) (*models.OnChainEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	defer closeRows(rows)

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("event: %w", store.ErrNotFound)
	}
	return &events[0], nil
}

func (s *Service) UpdateConfirmations(ctx context.Context, id string, confirmations uint64) error {
	_, err := s.db.ExecContext(ctx, queryUpdateConfirmations, int64(confirmations), formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to update confirmations: %w", err)
	}
	return nil
}

// FinalizeEvent moves a TENTATIVE event to FINALIZED. Finalizing an already
// finalized event is a no-op; a reorged event cannot be finalized.
func (s *Service) FinalizeEvent(ctx context.Context, id string, confirmations uint64, at time.Time) error {
	now := formatTime(s.now())
	result, err := s.db.ExecContext(ctx, queryFinalizeEvent, int64(confirmations), formatTime(at), now, id)
	if err != nil {
		return fmt.Errorf("failed to finalize event: %w", err)
	}
	return s.checkTransition(ctx, result, id, models.EventFinalized)
}

// MarkEventReorged moves a TENTATIVE or FINALIZED event to REORGED. The
// transition is irreversible and repeating it is a no-op.
func (s *Service) MarkEventReorged(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, queryMarkEventReorged, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to mark event reorged: %w", err)
	}
	return s.checkTransition(ctx, result, id, models.EventReorged)
}

func (s *Service) checkTransition(ctx context.Context, result sql.Result, id string, target models.EventStatus) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, queryGetEventStatus, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("event %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read event status: %w", err)
	}
	if models.EventStatus(current) == target {
		return nil
	}
	return fmt.Errorf("%w: event %s is %s, cannot become %s", store.ErrInvalidTransition, id, current, target)
}

// ListEventsByStatus returns events in the given status with slot >= minSlot, oldest first.
func (s *Service) ListEventsByStatus(ctx context.Context, status models.EventStatus, minSlot uint64) ([]models.OnChainEvent, error) {
	rows, err := s.db.QueryContext(ctx, queryListEventsByStatus, string(status), int64(minSlot))
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer closeRows(rows)
	return scanEvents(rows)
}

// ListUnresolvedReorgedEvents returns REORGED events that still back a record
// not yet marked FAILED, oldest first.
func (s *Service) ListUnresolvedReorgedEvents(ctx context.Context) ([]models.OnChainEvent, error) {
	rows, err := s.db.QueryContext(ctx, queryListUnresolvedReorgedEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved reorged events: %w", err)
	}
	defer closeRows(rows)
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]models.OnChainEvent, error) {
	var events []models.OnChainEvent
	for rows.Next() {
		var event models.OnChainEvent
		var eventType, status, payload, createdAt string
		var slot, confirmations int64
		var blockTime, finalizedAt sql.NullString
		err := rows.Scan(&event.Id, &eventType, &event.Signature, &event.LogIndex, &slot, &blockTime, &payload,
			&status, &confirmations, &finalizedAt, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		event.EventType = models.EventType(eventType)
		event.Status = models.EventStatus(status)
		event.Slot = uint64(slot)
		event.Confirmations = uint64(confirmations)
		event.Payload = []byte(payload)

		if bt, err := parseNullTime(blockTime); err != nil {
			return nil, err
		} else if bt != nil {
			event.BlockTime = *bt
		}
		if event.FinalizedAt, err = parseNullTime(finalizedAt); err != nil {
			return nil, err
		}
		if event.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}

		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}
