package reorg

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"vault-ledger-go/internal/chain"
	"vault-ledger-go/internal/chain/chaintest"
	"vault-ledger-go/internal/database"
	"vault-ledger-go/internal/hashchain"
	"vault-ledger-go/internal/ledger"
	"vault-ledger-go/internal/lock"
	"vault-ledger-go/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db          *database.Service
	ledger      *ledger.Service
	chain       *chaintest.Fake
	compensator *Compensator
	detector    *Detector
}

func setup(t *testing.T, locker lock.Locker) *fixture {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "reorg.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		PingTimeout:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	ledgerService := ledger.NewService(db)
	fake := chaintest.NewFake(1000)
	compensator := NewCompensator(db, db, ledgerService)
	detector := NewDetector(db, fake, locker, compensator, models.ReorgConfig{WindowSlots: 100, Concurrency: 2})

	return &fixture{db: db, ledger: ledgerService, chain: fake, compensator: compensator, detector: detector}
}

func (f *fixture) finalizedEvent(t *testing.T, eventType models.EventType, signature string, slot uint64) models.OnChainEvent {
	t.Helper()
	ctx := context.Background()
	result, err := f.db.UpsertEvent(ctx, models.OnChainEvent{
		EventType: eventType,
		Signature: signature,
		Slot:      slot,
		Status:    models.EventTentative,
	})
	require.NoError(t, err)
	require.NoError(t, f.db.FinalizeEvent(ctx, result.Event.Id, 32, time.Now().UTC()))
	f.chain.SetStatus(signature, chain.SignatureStatus{Slot: slot, Confirmations: 32, Commitment: chain.CommitmentFinalized})

	event, err := f.db.GetEvent(ctx, result.Event.Id)
	require.NoError(t, err)
	return *event
}

func (f *fixture) deposit(t *testing.T, event models.OnChainEvent, userId, mint string, amount int64) models.Deposit {
	t.Helper()
	ctx := context.Background()
	txId := "deposit:" + event.Id
	_, err := f.ledger.RecordDeposit(ctx, userId, mint, decimal.NewFromInt(amount), txId)
	require.NoError(t, err)

	d := models.Deposit{
		Id:                  uuid.New().String(),
		UserId:              userId,
		TokenMint:           mint,
		Amount:              decimal.NewFromInt(amount),
		OnChainEventId:      event.Id,
		LedgerTransactionId: txId,
		Status:              models.RecordConfirmed,
	}
	require.NoError(t, f.db.CreateDeposit(ctx, d))
	return d
}

func (f *fixture) entryCount(t *testing.T) int64 {
	t.Helper()
	head, err := f.db.GetChainHead(context.Background())
	require.NoError(t, err)
	return head.LastEntryId
}

func (f *fixture) balance(t *testing.T, userId, mint string) string {
	t.Helper()
	balance, err := f.ledger.GetUserBalance(context.Background(), userId, mint)
	require.NoError(t, err)
	return balance.String()
}

func TestCompensationId(t *testing.T) {
	assert.Equal(t, "reorg:evt-1:deposit:rec-9", CompensationId("evt-1", models.KindDeposit, "rec-9"))
}

func TestDetector_CompensatesReorgedEvents(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	depositEvent := f.finalizedEvent(t, models.EventDepositReceived, "sig-deposit", 950)
	swapEvent := f.finalizedEvent(t, models.EventSwapExecuted, "sig-swap", 960)
	stableEvent := f.finalizedEvent(t, models.EventDepositReceived, "sig-stable", 970)

	deposit := f.deposit(t, depositEvent, "U1", "USDC", 1000)
	f.deposit(t, stableEvent, "U2", "USDC", 500)

	// U1 funds a buy from a deposit that is not reorged
	fundingEvent := f.finalizedEvent(t, models.EventDepositReceived, "sig-funding", 955)
	f.deposit(t, fundingEvent, "U1", "USDC", 200)

	tradeTx := "trade:" + swapEvent.Id
	params := ledger.TradeParams{
		UserId:        "U1",
		Direction:     models.TradeBuy,
		InputMint:     "USDC",
		InputAmount:   decimal.NewFromInt(100),
		OutputMint:    "xxTSLA",
		OutputAmount:  decimal.NewFromInt(4),
		Fee:           decimal.NewFromInt(1),
		TransactionId: tradeTx,
	}
	_, err := f.ledger.RecordTrade(ctx, params)
	require.NoError(t, err)
	trade := models.Trade{
		Id: uuid.New().String(), UserId: "U1", Direction: models.TradeBuy,
		InputMint: "USDC", InputAmount: params.InputAmount, OutputMint: "xxTSLA", OutputAmount: params.OutputAmount,
		Fee: params.Fee, FeeMint: "USDC", OnChainEventId: swapEvent.Id, LedgerTransactionId: tradeTx,
		Status: models.RecordConfirmed,
	}
	require.NoError(t, f.db.CreateTrade(ctx, trade))

	assert.Equal(t, "1099", f.balance(t, "U1", "USDC"))
	assert.Equal(t, "4", f.balance(t, "U1", "xxTSLA"))

	f.chain.Drop("sig-deposit")
	f.chain.SetStatus("sig-swap", chain.SignatureStatus{Slot: 990, Confirmations: 10})

	result, err := f.detector.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, result.Ran)
	assert.Equal(t, 4, result.EventsScanned)
	require.Len(t, result.Affected, 2)
	assert.Equal(t, 2, result.Compensation.Reversed)
	assert.NoError(t, result.Compensation.Err())

	assert.Equal(t, "200", f.balance(t, "U1", "USDC"))
	assert.Equal(t, "0", f.balance(t, "U1", "xxTSLA"))
	assert.Equal(t, "500", f.balance(t, "U2", "USDC"))

	for _, id := range []string{depositEvent.Id, swapEvent.Id} {
		event, err := f.db.GetEvent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.EventReorged, event.Status)
	}
	event, err := f.db.GetEvent(ctx, stableEvent.Id)
	require.NoError(t, err)
	assert.Equal(t, models.EventFinalized, event.Status)

	reversal, err := f.ledger.GetTransaction(ctx, CompensationId(depositEvent.Id, models.KindDeposit, deposit.Id))
	require.NoError(t, err)
	require.Len(t, reversal, 2)
	for _, entry := range reversal {
		assert.Equal(t, models.EntryTypeAdjustment, entry.EntryType)
		assert.Equal(t, ledger.CompensationActor, entry.CreatedBy)
		assert.Equal(t, deposit.LedgerTransactionId, entry.Metadata[ledger.MetadataReversalOf])
	}

	records, err := f.db.ListRecordsByEvent(ctx, swapEvent.Id)
	require.NoError(t, err)
	require.Len(t, records.Trades, 1)
	assert.Equal(t, models.RecordFailed, records.Trades[0].Status)

	entries := f.entryCount(t)
	second, err := f.detector.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, second.Affected)
	assert.Equal(t, entries, f.entryCount(t), "second pass must post nothing")

	all, err := f.db.ListEntries(ctx, 0, 1000)
	require.NoError(t, err)
	assert.NoError(t, hashchain.VerifyChain(all))
}

func TestCompensate_IsIdempotent(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	event := f.finalizedEvent(t, models.EventDepositReceived, "sig-1", 980)
	f.deposit(t, event, "U1", "USDC", 50)

	first := f.compensator.Compensate(ctx, []models.OnChainEvent{event})
	require.NoError(t, first.Err())
	assert.Equal(t, 1, first.Reversed)
	entries := f.entryCount(t)

	second := f.compensator.Compensate(ctx, []models.OnChainEvent{event})
	require.NoError(t, second.Err())
	assert.Equal(t, 0, second.Reversed)
	assert.Equal(t, 1, second.AlreadyCompensated)
	assert.Equal(t, entries, f.entryCount(t))
	assert.Equal(t, "0", f.balance(t, "U1", "USDC"))
}

func TestCompensate_SkipsUnpostedRecords(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	event := f.finalizedEvent(t, models.EventSwapFailed, "sig-1", 980)
	trade := models.Trade{
		Id: uuid.New().String(), UserId: "U1", Direction: models.TradeSell,
		InputMint: "xxTSLA", InputAmount: decimal.NewFromInt(1), OutputMint: "USDC", OutputAmount: decimal.NewFromInt(10),
		Fee: decimal.Zero, OnChainEventId: event.Id, Status: models.RecordPending,
	}
	require.NoError(t, f.db.CreateTrade(ctx, trade))

	summary := f.compensator.Compensate(ctx, []models.OnChainEvent{event})
	require.NoError(t, summary.Err())
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, int64(0), f.entryCount(t))

	records, err := f.db.ListRecordsByEvent(ctx, event.Id)
	require.NoError(t, err)
	assert.Equal(t, models.RecordFailed, records.Trades[0].Status)
}

func TestCompensate_CollectsFailuresAndContinues(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	event := f.finalizedEvent(t, models.EventDepositReceived, "sig-1", 980)
	good := f.deposit(t, event, "U1", "USDC", 50)

	// a record whose stored amount cannot be reversed
	bad := models.Deposit{
		Id: uuid.New().String(), UserId: "U2", TokenMint: "USDC", Amount: decimal.Zero,
		OnChainEventId: event.Id, LedgerTransactionId: "never-posted", Status: models.RecordConfirmed,
	}
	require.NoError(t, f.db.CreateDeposit(ctx, bad))

	summary := f.compensator.Compensate(ctx, []models.OnChainEvent{event})
	assert.Equal(t, 1, summary.Reversed)
	require.Len(t, summary.Errors, 1)
	assert.True(t, errors.Is(summary.Err(), ledger.ErrInvalidAmount))

	_, err := f.ledger.GetTransaction(ctx, CompensationId(event.Id, models.KindDeposit, good.Id))
	assert.NoError(t, err)
}

// flakyLedgerStore fails the next failures appends, then delegates.
type flakyLedgerStore struct {
	*database.Service
	failures int
}

func (s *flakyLedgerStore) AppendTransaction(ctx context.Context, tx models.DoubleEntryTransaction) ([]models.LedgerEntry, error) {
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("database is locked")
	}
	return s.Service.AppendTransaction(ctx, tx)
}

func TestDetector_RetriesIncompleteCompensation(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	flaky := &flakyLedgerStore{Service: f.db, failures: 1}
	compensator := NewCompensator(f.db, f.db, ledger.NewService(flaky))
	detector := NewDetector(f.db, f.chain, nil, compensator, models.ReorgConfig{WindowSlots: 100, Concurrency: 2})

	event := f.finalizedEvent(t, models.EventDepositReceived, "sig-x", 980)
	deposit := f.deposit(t, event, "U1", "USDC", 1000)
	f.chain.Drop("sig-x")

	first, err := detector.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, first.Affected, 1)
	require.Len(t, first.Compensation.Errors, 1)
	assert.Equal(t, "1000", f.balance(t, "U1", "USDC"))

	stored, err := f.db.GetEvent(ctx, event.Id)
	require.NoError(t, err)
	assert.Equal(t, models.EventReorged, stored.Status)

	second, err := detector.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, second.Affected)
	require.Len(t, second.Retried, 1)
	assert.Equal(t, event.Id, second.Retried[0].Id)
	assert.Equal(t, 1, second.Compensation.Reversed)
	assert.NoError(t, second.Compensation.Err())
	assert.Equal(t, "0", f.balance(t, "U1", "USDC"))

	records, err := f.db.ListRecordsByEvent(ctx, event.Id)
	require.NoError(t, err)
	require.Len(t, records.Deposits, 1)
	assert.Equal(t, deposit.Id, records.Deposits[0].Id)
	assert.Equal(t, models.RecordFailed, records.Deposits[0].Status)

	entries := f.entryCount(t)
	third, err := detector.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, third.Retried)
	assert.Equal(t, entries, f.entryCount(t), "resolved events are not retried")
}

func TestDetector_QueryErrorCountsAsAffected(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	event := f.finalizedEvent(t, models.EventDepositReceived, "sig-1", 980)
	f.deposit(t, event, "U1", "USDC", 50)
	f.chain.Fail("sig-1", errors.New("node unavailable"))

	result, err := f.detector.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, result.Affected, 1)
	assert.Equal(t, "0", f.balance(t, "U1", "USDC"))
}

func TestDetector_IgnoresEventsOutsideWindow(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	f.finalizedEvent(t, models.EventDepositReceived, "sig-old", 800)
	f.chain.Drop("sig-old")

	result, err := f.detector.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.EventsScanned)
	assert.Equal(t, 0, f.chain.Calls("sig-old"))
}

func TestDetector_SkipsWhenLocked(t *testing.T) {
	locker := lock.NewLocalLocker()
	f := setup(t, locker)

	release, ok, err := locker.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	result, err := f.detector.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Ran)
}

func TestDetector_StartStop(t *testing.T) {
	f := setup(t, nil)
	f.detector.interval = 5 * time.Millisecond

	f.detector.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	f.detector.Stop()
}
