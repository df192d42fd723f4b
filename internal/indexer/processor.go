package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vault-ledger-go/internal/finality"
	"vault-ledger-go/internal/models"
	"vault-ledger-go/internal/store"

	"go.uber.org/zap"
)

// ProcessResult describes what ProcessEvent did with one notification.
type ProcessResult struct {
	Event      models.OnChainEvent
	Created    bool
	Dispatched bool
}

// Processor persists each observed event and hands it to the domain handler.
// Redelivered notifications are safe: the event row is upserted and handlers are idempotent.
type Processor struct {
	events  store.EventStore
	tracker *finality.Tracker
	handler Handler
}

func NewProcessor(events store.EventStore, tracker *finality.Tracker, handler Handler) *Processor {
	return &Processor{events: events, tracker: tracker, handler: handler}
}

// IsPermanent reports whether err will recur on every redelivery of the same notification.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidEvent) || errors.Is(err, ErrUnknownEventType)
}

func (p *Processor) ProcessEvent(ctx context.Context, raw models.RawEvent) (*ProcessResult, error) {
	event, err := Decode(raw)
	if err != nil {
		zap.L().Warn("Rejected event notification",
			zap.String("event_type", string(raw.EventType)),
			zap.String("signature", raw.Signature),
			zap.Error(err))
		return nil, err
	}

	record := models.OnChainEvent{
		EventType: raw.EventType,
		Signature: raw.Signature,
		LogIndex:  raw.LogIndex,
		Slot:      raw.Slot,
		BlockTime: raw.BlockTime,
		Payload:   raw.Payload,
		Status:    models.EventTentative,
	}
	status, classified := p.classify(ctx, raw.Signature)
	if classified {
		record.Confirmations = status.Confirmations
		if status.IsFinalized() {
			finalizedAt := time.Now().UTC()
			record.Status = models.EventFinalized
			record.FinalizedAt = &finalizedAt
		}
	}

	upserted, err := p.events.UpsertEvent(ctx, record)
	if err != nil {
		return nil, err
	}
	result := &ProcessResult{Event: upserted.Event, Created: upserted.Created}

	if !upserted.Created && upserted.Event.Status == models.EventTentative && record.Status == models.EventFinalized {
		err := p.events.FinalizeEvent(ctx, upserted.Event.Id, record.Confirmations, *record.FinalizedAt)
		if err != nil && !errors.Is(err, store.ErrInvalidTransition) {
			return result, err
		}
		if err == nil {
			result.Event.Status = models.EventFinalized
		}
	}

	if result.Event.Status == models.EventReorged {
		zap.L().Info("Ignoring notification for reorged event",
			zap.String("event_id", result.Event.Id),
			zap.String("signature", raw.Signature))
		return result, nil
	}

	if err := event.Accept(ctx, p.handler, result.Event); err != nil {
		return result, fmt.Errorf("failed to handle %s event %s: %w", raw.EventType, result.Event.Id, err)
	}
	result.Dispatched = true

	zap.L().Debug("Event processed",
		zap.String("event_id", result.Event.Id),
		zap.String("event_type", string(raw.EventType)),
		zap.String("status", string(result.Event.Status)),
		zap.Bool("created", result.Created))
	return result, nil
}

// classify asks the chain for the signature's depth. A failed query leaves the
// event tentative for the promoter to retry.
func (p *Processor) classify(ctx context.Context, signature string) (finality.Status, bool) {
	if p.tracker == nil {
		return finality.Status{}, false
	}
	status, err := p.tracker.CheckFinality(ctx, signature)
	if err != nil {
		zap.L().Warn("Finality check failed at intake, recording as tentative",
			zap.String("signature", signature),
			zap.Error(err))
		return finality.Status{}, false
	}
	return status, true
}
