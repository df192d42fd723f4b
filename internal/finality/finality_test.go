package finality

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"vault-ledger-go/internal/chain"
	"vault-ledger-go/internal/chain/chaintest"
	"vault-ledger-go/internal/database"
	"vault-ledger-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastTracker(client chain.Client) *Tracker {
	return NewTracker(client, models.FinalityConfig{
		RequiredConfirmations: 32,
		PollInterval:          5 * time.Millisecond,
		MaxWait:               100 * time.Millisecond,
	})
}

func TestNewTracker_Defaults(t *testing.T) {
	tracker := NewTracker(chaintest.NewFake(0), models.FinalityConfig{})
	assert.Equal(t, DefaultRequiredConfirmations, tracker.RequiredConfirmations())
	assert.Equal(t, DefaultPollInterval, tracker.pollInterval)
	assert.Equal(t, DefaultMaxWait, tracker.maxWait)
	assert.Equal(t, DefaultSlotDuration, tracker.slotDuration)
}

func TestCheckFinality(t *testing.T) {
	fake := chaintest.NewFake(1000)
	fake.SetStatus("shallow", chain.SignatureStatus{Slot: 990, Confirmations: 10, Commitment: chain.CommitmentConfirmed})
	fake.SetStatus("deep", chain.SignatureStatus{Slot: 900, Confirmations: 32, Commitment: chain.CommitmentConfirmed})
	fake.SetStatus("rooted", chain.SignatureStatus{Slot: 500, Commitment: chain.CommitmentFinalized})
	fake.SetStatus("failed", chain.SignatureStatus{Slot: 800, Confirmations: 40, Failed: true})
	fake.Fail("broken", errors.New("timeout"))

	tracker := fastTracker(fake)
	ctx := context.Background()

	tests := []struct {
		signature string
		state     models.EventStatus
		found     bool
	}{
		{"shallow", models.EventTentative, true},
		{"deep", models.EventFinalized, true},
		{"rooted", models.EventFinalized, true},
		{"failed", models.EventTentative, true},
		{"missing", models.EventTentative, false},
	}
	for _, tt := range tests {
		t.Run(tt.signature, func(t *testing.T) {
			status, err := tracker.CheckFinality(ctx, tt.signature)
			require.NoError(t, err)
			assert.Equal(t, tt.state, status.State)
			assert.Equal(t, tt.found, status.Found)
		})
	}

	status, err := tracker.CheckFinality(ctx, "broken")
	assert.Error(t, err)
	assert.Equal(t, models.EventTentative, status.State)
}

func TestWaitForFinality_Finalizes(t *testing.T) {
	fake := chaintest.NewFake(1000)
	fake.SetStatus("sig", chain.SignatureStatus{Slot: 990, Confirmations: 5})
	tracker := fastTracker(fake)

	go func() {
		time.Sleep(20 * time.Millisecond)
		fake.SetStatus("sig", chain.SignatureStatus{Slot: 990, Confirmations: 33})
	}()

	status, err := tracker.WaitForFinality(context.Background(), "sig", time.Second)
	require.NoError(t, err)
	assert.True(t, status.IsFinalized())
	assert.Equal(t, uint64(33), status.Confirmations)
}

func TestWaitForFinality_TimeoutIsNotAnError(t *testing.T) {
	fake := chaintest.NewFake(1000)
	fake.SetStatus("sig", chain.SignatureStatus{Slot: 990, Confirmations: 5})
	tracker := fastTracker(fake)

	start := time.Now()
	status, err := tracker.WaitForFinality(context.Background(), "sig", 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.EventTentative, status.State)
	assert.Equal(t, uint64(5), status.Confirmations)
	assert.Less(t, time.Since(start), time.Second)
	assert.Greater(t, fake.Calls("sig"), 1)
}

func TestWaitForFinality_Cancellation(t *testing.T) {
	fake := chaintest.NewFake(1000)
	tracker := NewTracker(fake, models.FinalityConfig{PollInterval: time.Hour, MaxWait: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := tracker.WaitForFinality(ctx, "sig", 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSlotLag(t *testing.T) {
	tracker := NewTracker(chaintest.NewFake(0), models.FinalityConfig{SlotDuration: 400 * time.Millisecond})

	lag, elapsed := tracker.SlotLag(1100, 1000)
	assert.Equal(t, uint64(100), lag)
	assert.Equal(t, 40*time.Second, elapsed)

	lag, elapsed = tracker.SlotLag(10, 20)
	assert.Zero(t, lag)
	assert.Zero(t, elapsed)
}

func TestPromoter_RunOnce(t *testing.T) {
	ctx := context.Background()
	db, err := database.NewService(ctx, models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "events.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		PingTimeout:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	insert := func(signature string, slot uint64) string {
		result, err := db.UpsertEvent(ctx, models.OnChainEvent{
			EventType: models.EventDepositReceived,
			Signature: signature,
			Slot:      slot,
			BlockTime: time.Now().UTC(),
			Payload:   []byte(`{}`),
			Status:    models.EventTentative,
		})
		require.NoError(t, err)
		return result.Event.Id
	}

	finalId := insert("final", 900)
	pendingId := insert("pending", 990)
	insert("young-missing", 995)
	droppedId := insert("old-missing", 500)

	fake := chaintest.NewFake(1000)
	fake.SetStatus("final", chain.SignatureStatus{Slot: 900, Confirmations: 40})
	fake.SetStatus("pending", chain.SignatureStatus{Slot: 990, Confirmations: 7})

	var mu sync.Mutex
	var dropped []models.OnChainEvent
	promoter := NewPromoter(db, fastTracker(fake), fake, models.FinalityConfig{DropAfterSlots: 150},
		func(_ context.Context, events []models.OnChainEvent) {
			mu.Lock()
			defer mu.Unlock()
			dropped = append(dropped, events...)
		})

	result, err := promoter.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, PromotionResult{Checked: 4, Finalized: 1, Dropped: 1}, result)

	event, err := db.GetEvent(ctx, finalId)
	require.NoError(t, err)
	assert.Equal(t, models.EventFinalized, event.Status)

	event, err = db.GetEvent(ctx, pendingId)
	require.NoError(t, err)
	assert.Equal(t, models.EventTentative, event.Status)
	assert.Equal(t, uint64(7), event.Confirmations)

	require.Len(t, dropped, 1)
	assert.Equal(t, droppedId, dropped[0].Id)
}
