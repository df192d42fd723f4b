// Package finality classifies on-chain events as tentative or finalized by
// confirmation depth.
package finality

import (
	"context"
	"fmt"
	"time"

	"vault-ledger-go/internal/chain"
	"vault-ledger-go/internal/models"

	"go.uber.org/zap"
)

const (
	DefaultRequiredConfirmations uint64 = 32
	DefaultPollInterval                 = 2 * time.Second
	DefaultMaxWait                      = 60 * time.Second
	DefaultSlotDuration                 = 400 * time.Millisecond
)

// Status is the finality classification of one signature at a point in time.
type Status struct {
	Signature     string
	State         models.EventStatus
	Found         bool
	Slot          uint64
	Confirmations uint64
}

func (s Status) IsFinalized() bool {
	return s.State == models.EventFinalized
}

type Tracker struct {
	client                chain.Client
	requiredConfirmations uint64
	pollInterval          time.Duration
	maxWait               time.Duration
	slotDuration          time.Duration
}

func NewTracker(client chain.Client, cfg models.FinalityConfig) *Tracker {
	t := &Tracker{
		client:                client,
		requiredConfirmations: cfg.RequiredConfirmations,
		pollInterval:          cfg.PollInterval,
		maxWait:               cfg.MaxWait,
		slotDuration:          cfg.SlotDuration,
	}
	if t.requiredConfirmations == 0 {
		t.requiredConfirmations = DefaultRequiredConfirmations
	}
	if t.pollInterval <= 0 {
		t.pollInterval = DefaultPollInterval
	}
	if t.maxWait <= 0 {
		t.maxWait = DefaultMaxWait
	}
	if t.slotDuration <= 0 {
		t.slotDuration = DefaultSlotDuration
	}
	return t
}

func (t *Tracker) RequiredConfirmations() uint64 {
	return t.requiredConfirmations
}

// CheckFinality queries the current confirmation depth of signature.
// A signature the chain reports as rooted counts as finalized regardless of depth.
func (t *Tracker) CheckFinality(ctx context.Context, signature string) (Status, error) {
	chainStatus, err := t.client.GetSignatureStatus(ctx, signature)
	if err != nil {
		return Status{Signature: signature, State: models.EventTentative}, fmt.Errorf("failed to check finality of %s: %w", signature, err)
	}

	status := Status{
		Signature:     signature,
		State:         models.EventTentative,
		Found:         chainStatus.Found,
		Slot:          chainStatus.Slot,
		Confirmations: chainStatus.Confirmations,
	}
	if !chainStatus.Found || chainStatus.Failed {
		return status, nil
	}

	if chainStatus.Commitment == chain.CommitmentFinalized {
		if status.Confirmations < t.requiredConfirmations {
			status.Confirmations = t.requiredConfirmations
		}
		status.State = models.EventFinalized
	} else if status.Confirmations >= t.requiredConfirmations {
		status.State = models.EventFinalized
	}
	return status, nil
}

// WaitForFinality polls until signature is finalized or timeout elapses.
// A timeout is not an error: the last known status is returned and callers
// treat it as still tentative. Cancelling ctx returns ctx.Err().
func (t *Tracker) WaitForFinality(ctx context.Context, signature string, timeout time.Duration) (Status, error) {
	if timeout <= 0 {
		timeout = t.maxWait
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	last := Status{Signature: signature, State: models.EventTentative}
	check := func() bool {
		status, err := t.CheckFinality(ctx, signature)
		if err != nil {
			zap.L().Warn("Finality check failed, will retry",
				zap.String("signature", signature),
				zap.Error(err))
			return false
		}
		last = status
		return status.IsFinalized()
	}

	if check() {
		return last, nil
	}

	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline.C:
			zap.L().Debug("Finality wait timed out",
				zap.String("signature", signature),
				zap.Uint64("confirmations", last.Confirmations),
				zap.Duration("timeout", timeout))
			return last, nil
		case <-ticker.C:
			if check() {
				return last, nil
			}
		}
	}
}

// SlotLag estimates how far eventSlot trails the tip. For monitoring only.
func (t *Tracker) SlotLag(currentSlot, eventSlot uint64) (uint64, time.Duration) {
	if currentSlot <= eventSlot {
		return 0, 0
	}
	lag := currentSlot - eventSlot
	return lag, time.Duration(lag) * t.slotDuration
}
