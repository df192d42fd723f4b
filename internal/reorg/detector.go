// Package reorg finds finalized events that are no longer on the canonical
// chain and reverses their ledger effects.
package reorg

import (
	"context"
	"fmt"
	"time"

	"vault-ledger-go/internal/chain"
	"vault-ledger-go/internal/lock"
	"vault-ledger-go/internal/models"
	"vault-ledger-go/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval           = 30 * time.Second
	DefaultWindowSlots uint64 = 100
	DefaultConcurrency        = 8
)

// PassResult reports one detection pass. Ran is false when another pass held the lock.
// Retried holds REORGED events whose earlier compensation left records behind.
type PassResult struct {
	Ran           bool
	CurrentSlot   uint64
	EventsScanned int
	Affected      []models.OnChainEvent
	Retried       []models.OnChainEvent
	Compensation  Summary
}

type Detector struct {
	events      store.EventStore
	client      chain.Client
	locker      lock.Locker
	compensator *Compensator
	interval    time.Duration
	windowSlots uint64
	concurrency int

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewDetector(events store.EventStore, client chain.Client, locker lock.Locker, compensator *Compensator, cfg models.ReorgConfig) *Detector {
	d := &Detector{
		events:      events,
		client:      client,
		locker:      locker,
		compensator: compensator,
		interval:    cfg.Interval,
		windowSlots: cfg.WindowSlots,
		concurrency: cfg.Concurrency,
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
	}
	if d.interval <= 0 {
		d.interval = DefaultInterval
	}
	if d.windowSlots == 0 {
		d.windowSlots = DefaultWindowSlots
	}
	if d.concurrency <= 0 {
		d.concurrency = DefaultConcurrency
	}
	if d.locker == nil {
		d.locker = lock.NewLocalLocker()
	}
	return d
}

// RunOnce scans recent finalized events and compensates the ones that moved or vanished,
// then retries any earlier compensation that did not finish.
// It returns immediately when another pass is still running.
func (d *Detector) RunOnce(ctx context.Context) (PassResult, error) {
	var result PassResult

	release, ok, err := d.locker.TryLock(ctx)
	if err != nil {
		return result, err
	}
	if !ok {
		zap.L().Debug("Reorg pass already running, skipping")
		return result, nil
	}
	defer release()
	result.Ran = true

	currentSlot, err := d.client.GetSlot(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to get current slot: %w", err)
	}
	result.CurrentSlot = currentSlot

	var minSlot uint64
	if currentSlot > d.windowSlots {
		minSlot = currentSlot - d.windowSlots
	}

	finalized, err := d.events.ListEventsByStatus(ctx, models.EventFinalized, minSlot)
	if err != nil {
		return result, fmt.Errorf("failed to list finalized events: %w", err)
	}
	result.EventsScanned = len(finalized)

	// events reorged by an earlier pass whose compensation did not complete
	unresolved, err := d.events.ListUnresolvedReorgedEvents(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list unresolved reorged events: %w", err)
	}
	result.Retried = unresolved

	affected := d.findAffected(ctx, finalized)
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	result.Affected = affected

	if len(affected) == 0 && len(unresolved) == 0 {
		zap.L().Debug("No reorged events found",
			zap.Uint64("current_slot", currentSlot),
			zap.Int("events_scanned", len(finalized)))
		return result, nil
	}

	if len(affected) > 0 {
		zap.L().Warn("Reorg detected",
			zap.Uint64("current_slot", currentSlot),
			zap.Int("affected_events", len(affected)))
	}
	if len(unresolved) > 0 {
		zap.L().Warn("Retrying incomplete reorg compensation", zap.Int("events", len(unresolved)))
	}

	pending := make([]models.OnChainEvent, 0, len(affected)+len(unresolved))
	pending = append(pending, affected...)
	pending = append(pending, unresolved...)
	result.Compensation = d.compensator.Compensate(ctx, pending)
	return result, nil
}

// findAffected checks every event's signature with bounded concurrency and
// returns the affected ones in input order.
func (d *Detector) findAffected(ctx context.Context, events []models.OnChainEvent) []models.OnChainEvent {
	flags := make([]bool, len(events))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for i, event := range events {
		g.Go(func() error {
			flags[i] = d.isAffected(gctx, event)
			return nil
		})
	}
	_ = g.Wait()

	var affected []models.OnChainEvent
	for i, flag := range flags {
		if flag {
			affected = append(affected, events[i])
		}
	}
	return affected
}

// isAffected treats a missing signature, a moved slot, or a failed query as a reorg.
func (d *Detector) isAffected(ctx context.Context, event models.OnChainEvent) bool {
	status, err := d.client.GetSignatureStatus(ctx, event.Signature)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return false
		}
		zap.L().Warn("Signature status query failed, treating as reorged",
			zap.String("event_id", event.Id),
			zap.String("signature", event.Signature),
			zap.Error(err))
		return true
	case !status.Found:
		zap.L().Warn("Finalized signature no longer found",
			zap.String("event_id", event.Id),
			zap.String("signature", event.Signature),
			zap.Uint64("slot", event.Slot))
		return true
	case status.Slot != event.Slot:
		zap.L().Warn("Finalized event moved slot",
			zap.String("event_id", event.Id),
			zap.String("signature", event.Signature),
			zap.Uint64("recorded_slot", event.Slot),
			zap.Uint64("current_slot", status.Slot))
		return true
	}
	return false
}

func (d *Detector) Start(ctx context.Context) {
	zap.L().Info("Starting reorg detector",
		zap.Duration("interval", d.interval),
		zap.Uint64("window_slots", d.windowSlots),
		zap.Int("concurrency", d.concurrency))
	go d.loop(ctx)
}

func (d *Detector) Stop() {
	zap.L().Info("Stopping reorg detector")
	close(d.stopChan)
	<-d.doneChan
	zap.L().Info("Reorg detector stopped")
}

func (d *Detector) loop(ctx context.Context) {
	defer close(d.doneChan)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			result, err := d.RunOnce(ctx)
			if err != nil {
				zap.L().Error("Reorg pass failed", zap.Error(err))
				continue
			}
			if err := result.Compensation.Err(); err != nil {
				zap.L().Error("Reorg compensation incomplete", zap.Error(err))
			}
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}
