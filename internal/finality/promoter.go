package finality

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vault-ledger-go/internal/chain"
	"vault-ledger-go/internal/models"
	"vault-ledger-go/internal/store"

	"go.uber.org/zap"
)

const (
	DefaultPromoteInterval        = 10 * time.Second
	DefaultDropAfterSlots  uint64 = 150
)

// DropFunc receives tentative events whose signature vanished before finality.
type DropFunc func(ctx context.Context, events []models.OnChainEvent)

type PromotionResult struct {
	Checked   int
	Finalized int
	Dropped   int
}

// Promoter re-checks TENTATIVE events and moves them to FINALIZED.
type Promoter struct {
	events         store.EventStore
	tracker        *Tracker
	client         chain.Client
	interval       time.Duration
	dropAfterSlots uint64
	onDropped      DropFunc

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewPromoter(events store.EventStore, tracker *Tracker, client chain.Client, cfg models.FinalityConfig, onDropped DropFunc) *Promoter {
	p := &Promoter{
		events:         events,
		tracker:        tracker,
		client:         client,
		interval:       cfg.PromoteInterval,
		dropAfterSlots: cfg.DropAfterSlots,
		onDropped:      onDropped,
		stopChan:       make(chan struct{}),
		doneChan:       make(chan struct{}),
	}
	if p.interval <= 0 {
		p.interval = DefaultPromoteInterval
	}
	if p.dropAfterSlots == 0 {
		p.dropAfterSlots = DefaultDropAfterSlots
	}
	return p
}

// RunOnce checks every tentative event a single time.
func (p *Promoter) RunOnce(ctx context.Context) (PromotionResult, error) {
	var result PromotionResult

	tentative, err := p.events.ListEventsByStatus(ctx, models.EventTentative, 0)
	if err != nil {
		return result, fmt.Errorf("failed to list tentative events: %w", err)
	}
	if len(tentative) == 0 {
		return result, nil
	}

	currentSlot, err := p.client.GetSlot(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to get current slot: %w", err)
	}

	var dropped []models.OnChainEvent
	for _, event := range tentative {
		result.Checked++

		status, err := p.tracker.CheckFinality(ctx, event.Signature)
		if err != nil {
			zap.L().Warn("Skipping finality check",
				zap.String("event_id", event.Id),
				zap.String("signature", event.Signature),
				zap.Error(err))
			continue
		}

		switch {
		case status.IsFinalized():
			err = p.events.FinalizeEvent(ctx, event.Id, status.Confirmations, time.Now().UTC())
			if errors.Is(err, store.ErrInvalidTransition) {
				// reorged concurrently
				continue
			}
			if err != nil {
				zap.L().Error("Failed to finalize event", zap.String("event_id", event.Id), zap.Error(err))
				continue
			}
			result.Finalized++

			lag, elapsed := p.tracker.SlotLag(currentSlot, event.Slot)
			zap.L().Info("Event finalized",
				zap.String("event_id", event.Id),
				zap.String("event_type", string(event.EventType)),
				zap.String("signature", event.Signature),
				zap.Uint64("confirmations", status.Confirmations),
				zap.Uint64("slot_lag", lag),
				zap.Duration("approx_lag", elapsed))

		case !status.Found:
			lag, _ := p.tracker.SlotLag(currentSlot, event.Slot)
			if lag > p.dropAfterSlots {
				dropped = append(dropped, event)
			}

		default:
			if status.Confirmations != event.Confirmations {
				if err := p.events.UpdateConfirmations(ctx, event.Id, status.Confirmations); err != nil {
					zap.L().Warn("Failed to update confirmations", zap.String("event_id", event.Id), zap.Error(err))
				}
			}
		}
	}

	if len(dropped) > 0 {
		result.Dropped = len(dropped)
		zap.L().Warn("Tentative events dropped from chain",
			zap.Int("count", len(dropped)),
			zap.Uint64("current_slot", currentSlot))
		if p.onDropped != nil {
			p.onDropped(ctx, dropped)
		}
	}

	return result, nil
}

func (p *Promoter) Start(ctx context.Context) {
	zap.L().Info("Starting finality promoter", zap.Duration("interval", p.interval))
	go p.loop(ctx)
}

func (p *Promoter) Stop() {
	zap.L().Info("Stopping finality promoter")
	close(p.stopChan)
	<-p.doneChan
	zap.L().Info("Finality promoter stopped")
}

func (p *Promoter) loop(ctx context.Context) {
	defer close(p.doneChan)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				zap.L().Error("Finality promotion pass failed", zap.Error(err))
			}
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}
