package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"vault-ledger-go/internal/models"
	"vault-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func sampleEvent(signature string) models.OnChainEvent {
	return models.OnChainEvent{
		EventType: models.EventDepositReceived,
		Signature: signature,
		LogIndex:  0,
		Slot:      1000,
		BlockTime: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		Payload:   []byte(`{"user":"U1","amount":"10"}`),
		Status:    models.EventTentative,
	}
}

func TestUpsertEvent_Idempotent(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	first, err := service.UpsertEvent(ctx, sampleEvent("sig-1"))
	if err != nil {
		t.Fatalf("UpsertEvent failed: %v", err)
	}
	if !first.Created {
		t.Errorf("Expected first upsert to create the event")
	}

	second, err := service.UpsertEvent(ctx, sampleEvent("sig-1"))
	if err != nil {
		t.Fatalf("Second UpsertEvent failed: %v", err)
	}
	if second.Created {
		t.Errorf("Expected second upsert to find the existing event")
	}
	if second.Event.Id != first.Event.Id {
		t.Errorf("Expected same event id, got %s and %s", first.Event.Id, second.Event.Id)
	}

	other := sampleEvent("sig-1")
	other.LogIndex = 1
	third, err := service.UpsertEvent(ctx, other)
	if err != nil {
		t.Fatalf("UpsertEvent failed: %v", err)
	}
	if !third.Created {
		t.Errorf("Expected a different log index to be a new occurrence")
	}
}

func TestEventStatusTransitions(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	result, err := service.UpsertEvent(ctx, sampleEvent("sig-1"))
	if err != nil {
		t.Fatalf("UpsertEvent failed: %v", err)
	}
	id := result.Event.Id

	if err := service.FinalizeEvent(ctx, id, 32, time.Now()); err != nil {
		t.Fatalf("FinalizeEvent failed: %v", err)
	}
	if err := service.FinalizeEvent(ctx, id, 40, time.Now()); err != nil {
		t.Errorf("Expected re-finalizing to be a no-op, got %v", err)
	}

	finalized, err := service.ListEventsByStatus(ctx, models.EventFinalized, 900)
	if err != nil {
		t.Fatalf("ListEventsByStatus failed: %v", err)
	}
	if len(finalized) != 1 || finalized[0].Confirmations != 32 || finalized[0].FinalizedAt == nil {
		t.Fatalf("Unexpected finalized events: %+v", finalized)
	}
	if none, _ := service.ListEventsByStatus(ctx, models.EventFinalized, 1001); len(none) != 0 {
		t.Errorf("Expected slot filter to exclude the event")
	}

	if err := service.MarkEventReorged(ctx, id); err != nil {
		t.Fatalf("MarkEventReorged failed: %v", err)
	}
	if err := service.MarkEventReorged(ctx, id); err != nil {
		t.Errorf("Expected repeated reorg mark to be a no-op, got %v", err)
	}

	if err := service.FinalizeEvent(ctx, id, 32, time.Now()); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition for REORGED -> FINALIZED, got %v", err)
	}
	if err := service.MarkEventReorged(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}

	event, err := service.GetEvent(ctx, id)
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if event.Status != models.EventReorged {
		t.Errorf("Expected REORGED, got %s", event.Status)
	}
}

func TestRecordsByEvent(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	result, err := service.UpsertEvent(ctx, sampleEvent("sig-1"))
	if err != nil {
		t.Fatalf("UpsertEvent failed: %v", err)
	}
	eventId := result.Event.Id

	deposit := models.Deposit{Id: uuid.New().String(), UserId: "U1", TokenMint: "USDC", Amount: decimal.NewFromInt(10),
		OnChainEventId: eventId, LedgerTransactionId: "dep-1", Status: models.RecordConfirmed}
	if err := service.CreateDeposit(ctx, deposit); err != nil {
		t.Fatalf("CreateDeposit failed: %v", err)
	}

	trade := models.Trade{Id: uuid.New().String(), UserId: "U1", Direction: models.TradeBuy,
		InputMint: "USDC", InputAmount: decimal.NewFromInt(5), OutputMint: "xxTSLA", OutputAmount: decimal.NewFromInt(1),
		Fee: decimal.Zero, OnChainEventId: eventId, LedgerTransactionId: "trade-1", Status: models.RecordConfirmed}
	if err := service.CreateTrade(ctx, trade); err != nil {
		t.Fatalf("CreateTrade failed: %v", err)
	}

	withdrawal := models.Withdrawal{Id: uuid.New().String(), UserId: "U1", TokenMint: "USDC", Amount: decimal.NewFromInt(3),
		Destination: "addr", Status: models.RecordPending}
	if err := service.CreateWithdrawal(ctx, withdrawal); err != nil {
		t.Fatalf("CreateWithdrawal failed: %v", err)
	}
	if err := service.LinkRecord(ctx, models.KindWithdrawal, withdrawal.Id, eventId, "wd-1"); err != nil {
		t.Fatalf("LinkRecord failed: %v", err)
	}

	records, err := service.ListRecordsByEvent(ctx, eventId)
	if err != nil {
		t.Fatalf("ListRecordsByEvent failed: %v", err)
	}
	if records.Len() != 3 {
		t.Fatalf("Expected 3 linked records, got %d", records.Len())
	}
	if records.Withdrawals[0].LedgerTransactionId != "wd-1" {
		t.Errorf("Expected linked ledger transaction wd-1, got %s", records.Withdrawals[0].LedgerTransactionId)
	}

	if err := service.UpdateRecordStatus(ctx, models.KindTrade, trade.Id, models.RecordFailed); err != nil {
		t.Fatalf("UpdateRecordStatus failed: %v", err)
	}
	stored, err := service.GetTradeByLedgerTransaction(ctx, "trade-1")
	if err != nil {
		t.Fatalf("GetTradeByLedgerTransaction failed: %v", err)
	}
	if stored.Status != models.RecordFailed {
		t.Errorf("Expected FAILED trade, got %s", stored.Status)
	}

	if err := service.UpdateRecordStatus(ctx, models.KindDeposit, "missing", models.RecordFailed); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestListUnresolvedReorgedEvents(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	reorged := func(signature string) string {
		result, err := service.UpsertEvent(ctx, sampleEvent(signature))
		if err != nil {
			t.Fatalf("UpsertEvent failed: %v", err)
		}
		if err := service.MarkEventReorged(ctx, result.Event.Id); err != nil {
			t.Fatalf("MarkEventReorged failed: %v", err)
		}
		return result.Event.Id
	}

	pendingId := reorged("sig-pending")
	resolvedId := reorged("sig-resolved")
	reorged("sig-empty")

	for _, eventId := range []string{pendingId, resolvedId} {
		deposit := models.Deposit{Id: uuid.New().String(), UserId: "U1", TokenMint: "USDC", Amount: decimal.NewFromInt(10),
			OnChainEventId: eventId, LedgerTransactionId: "deposit:" + eventId, Status: models.RecordConfirmed}
		if err := service.CreateDeposit(ctx, deposit); err != nil {
			t.Fatalf("CreateDeposit failed: %v", err)
		}
		if eventId == resolvedId {
			if err := service.UpdateRecordStatus(ctx, models.KindDeposit, deposit.Id, models.RecordFailed); err != nil {
				t.Fatalf("UpdateRecordStatus failed: %v", err)
			}
		}
	}

	events, err := service.ListUnresolvedReorgedEvents(ctx)
	if err != nil {
		t.Fatalf("ListUnresolvedReorgedEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].Id != pendingId {
		t.Fatalf("Expected only the event with an unfailed record, got %+v", events)
	}
}

func TestSystemStateAndAudit(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	state, err := service.GetSystemState(ctx)
	if err != nil {
		t.Fatalf("GetSystemState failed: %v", err)
	}
	if state.Frozen {
		t.Fatalf("Expected system to start unfrozen")
	}

	if err := service.SetFrozen(ctx, true, "vault mismatch", "reconciliation"); err != nil {
		t.Fatalf("SetFrozen failed: %v", err)
	}
	if err := service.SetFrozen(ctx, false, "investigated", "ops@example.com"); err != nil {
		t.Fatalf("SetFrozen failed: %v", err)
	}

	state, err = service.GetSystemState(ctx)
	if err != nil {
		t.Fatalf("GetSystemState failed: %v", err)
	}
	if state.Frozen || state.Actor != "ops@example.com" {
		t.Errorf("Unexpected state: %+v", state)
	}

	audit, err := service.ListFreezeAudit(ctx, 10)
	if err != nil {
		t.Fatalf("ListFreezeAudit failed: %v", err)
	}
	if len(audit) != 2 || audit[0].Action != models.ActionUnfreeze || audit[1].Action != models.ActionFreeze {
		t.Errorf("Unexpected audit trail: %+v", audit)
	}
}

func TestReconciliationRuns(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	ctx := context.Background()
	started := time.Now().UTC()
	run := models.ReconciliationRun{Id: uuid.New().String(), Status: models.RunRunning, StartedAt: started}
	if err := service.CreateReconciliationRun(ctx, run); err != nil {
		t.Fatalf("CreateReconciliationRun failed: %v", err)
	}

	completed := started.Add(time.Second)
	run.Status = models.RunCompleted
	run.TokensChecked = 2
	run.MismatchesFound = 1
	run.SystemFrozen = true
	run.CompletedAt = &completed
	run.Mismatches = []models.Mismatch{{
		TokenMint:   "USDC",
		LedgerTotal: decimal.NewFromInt(999),
		VaultTotal:  decimal.NewFromInt(1000),
		Difference:  decimal.NewFromInt(1),
	}}
	if err := service.FinishReconciliationRun(ctx, run); err != nil {
		t.Fatalf("FinishReconciliationRun failed: %v", err)
	}
	if err := service.FinishReconciliationRun(ctx, run); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected finishing a finished run to fail, got %v", err)
	}

	runs, err := service.ListReconciliationRuns(ctx, 5)
	if err != nil {
		t.Fatalf("ListReconciliationRuns failed: %v", err)
	}
	if len(runs) != 1 || !runs[0].SystemFrozen || runs[0].Mismatches[0].Difference.String() != "1" {
		t.Errorf("Unexpected runs: %+v", runs)
	}
}
