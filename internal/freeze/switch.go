// Package freeze holds the platform-wide halt on new money movement.
package freeze

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"vault-ledger-go/internal/models"
	"vault-ledger-go/internal/store"

	"go.uber.org/zap"
)

var (
	ErrSystemFrozen   = errors.New("system frozen")
	ErrReasonRequired = errors.New("reason is required")
	ErrActorRequired  = errors.New("actor is required")
)

// FrozenError is returned by CheckFrozen while the latch is set.
type FrozenError struct {
	Reason string
	Actor  string
}

func (e *FrozenError) Error() string {
	return fmt.Sprintf("system frozen by %s: %s", e.Actor, e.Reason)
}

func (e *FrozenError) Is(target error) bool {
	return target == ErrSystemFrozen
}

// Switch is a one-way latch: it is only cleared by an explicit Unfreeze.
// The persisted row is authoritative so a freeze set by another process is seen.
type Switch struct {
	store  store.SystemStateStore
	mu     sync.Mutex
	frozen atomic.Bool
}

func NewSwitch(s store.SystemStateStore) *Switch {
	return &Switch{store: s}
}

// CheckFrozen must be called before any operation that moves money.
func (s *Switch) CheckFrozen(ctx context.Context) error {
	state, err := s.store.GetSystemState(ctx)
	if err != nil {
		return fmt.Errorf("failed to read system state: %w", err)
	}
	s.frozen.Store(state.Frozen)
	if state.Frozen {
		return &FrozenError{Reason: state.Reason, Actor: state.Actor}
	}
	return nil
}

// IsFrozen returns the last observed state without touching the store.
func (s *Switch) IsFrozen() bool {
	return s.frozen.Load()
}

func (s *Switch) State(ctx context.Context) (models.SystemState, error) {
	return s.store.GetSystemState(ctx)
}

// Freeze sets the latch. Freezing a frozen system keeps the original reason.
func (s *Switch) Freeze(ctx context.Context, reason, actor string) error {
	if reason == "" {
		return ErrReasonRequired
	}
	if actor == "" {
		return ErrActorRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.store.GetSystemState(ctx)
	if err != nil {
		return fmt.Errorf("failed to read system state: %w", err)
	}
	if state.Frozen {
		s.frozen.Store(true)
		zap.L().Debug("System already frozen",
			zap.String("reason", state.Reason),
			zap.String("requested_reason", reason))
		return nil
	}

	if err := s.store.SetFrozen(ctx, true, reason, actor); err != nil {
		return err
	}
	s.frozen.Store(true)

	zap.L().Warn("System frozen",
		zap.String("reason", reason),
		zap.String("actor", actor))
	return nil
}

// Unfreeze clears the latch. Both reason and actor are recorded in the audit log.
func (s *Switch) Unfreeze(ctx context.Context, reason, actor string) error {
	if reason == "" {
		return ErrReasonRequired
	}
	if actor == "" {
		return ErrActorRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.store.GetSystemState(ctx)
	if err != nil {
		return fmt.Errorf("failed to read system state: %w", err)
	}
	if !state.Frozen {
		s.frozen.Store(false)
		return nil
	}

	if err := s.store.SetFrozen(ctx, false, reason, actor); err != nil {
		return err
	}
	s.frozen.Store(false)

	zap.L().Warn("System unfrozen",
		zap.String("reason", reason),
		zap.String("actor", actor))
	return nil
}
