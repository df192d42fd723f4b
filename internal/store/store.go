package store

import (
	"context"
	"errors"
	"time"

	"vault-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrNotFound               = errors.New("not found")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrBalanceWouldGoNegative = errors.New("balance would go negative")
)

// EntryFilter selects ledger entries for aggregation. Empty fields match everything.
type EntryFilter struct {
	UserId       string
	TokenMint    string
	AccountTypes []models.AccountType
}

// SideTotals holds the debit and credit sums of a set of entries.
type SideTotals struct {
	Debits  decimal.Decimal
	Credits decimal.Decimal
	Count   int
}

// Net is debits minus credits.
func (t SideTotals) Net() decimal.Decimal {
	return t.Debits.Sub(t.Credits)
}

// HashLink is the hash index row written alongside each ledger entry.
type HashLink struct {
	EntryId      int64
	PreviousHash string
	EntryHash    string
}

// EventUpsertResult reports whether UpsertEvent created a new row.
type EventUpsertResult struct {
	Event   models.OnChainEvent
	Created bool
}

// EventRecords are the domain records backed by one on-chain event.
type EventRecords struct {
	Deposits    []models.Deposit
	Trades      []models.Trade
	Withdrawals []models.Withdrawal
}

// Len is the total number of linked records.
func (r EventRecords) Len() int {
	return len(r.Deposits) + len(r.Trades) + len(r.Withdrawals)
}

// LedgerStore persists the append-only entry log and its balance projection.
type LedgerStore interface {
	// AppendTransaction assigns ids, timestamps and hashes, and persists every
	// entry atomically. Concurrent callers are serialized on the chain head.
	AppendTransaction(ctx context.Context, tx models.DoubleEntryTransaction) ([]models.LedgerEntry, error)
	GetTransactionEntries(ctx context.Context, transactionId string) ([]models.LedgerEntry, error)
	ListEntries(ctx context.Context, afterId int64, limit int) ([]models.LedgerEntry, error)
	// ListHashLinks pages the hash index in entry id order.
	ListHashLinks(ctx context.Context, afterId int64, limit int) ([]HashLink, error)
	SumEntries(ctx context.Context, filter EntryFilter) (SideTotals, error)
	ListTokenMints(ctx context.Context) ([]string, error)
	ListUserTokenMints(ctx context.Context, userId string) ([]string, error)
	GetChainHead(ctx context.Context) (models.ChainHead, error)

	GetAccountBalance(ctx context.Context, userId, tokenMint string) (*models.AccountBalance, error)
	ListAccountBalances(ctx context.Context) ([]models.AccountBalance, error)
	GetAllUserBalances(ctx context.Context, userId string) ([]models.AccountBalance, error)
}

// EventStore persists observed on-chain events and their finality status.
type EventStore interface {
	UpsertEvent(ctx context.Context, event models.OnChainEvent) (EventUpsertResult, error)
	GetEvent(ctx context.Context, id string) (*models.OnChainEvent, error)
	UpdateConfirmations(ctx context.Context, id string, confirmations uint64) error
	FinalizeEvent(ctx context.Context, id string, confirmations uint64, at time.Time) error
	MarkEventReorged(ctx context.Context, id string) error
	ListEventsByStatus(ctx context.Context, status models.EventStatus, minSlot uint64) ([]models.OnChainEvent, error)
	// ListUnresolvedReorgedEvents returns REORGED events with records still awaiting compensation.
	ListUnresolvedReorgedEvents(ctx context.Context) ([]models.OnChainEvent, error)
}

// RecordStore persists deposit, trade and withdrawal records.
type RecordStore interface {
	CreateDeposit(ctx context.Context, deposit models.Deposit) error
	CreateTrade(ctx context.Context, trade models.Trade) error
	CreateWithdrawal(ctx context.Context, withdrawal models.Withdrawal) error
	GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error)
	GetTradeByLedgerTransaction(ctx context.Context, transactionId string) (*models.Trade, error)
	ListRecordsByEvent(ctx context.Context, eventId string) (EventRecords, error)
	UpdateRecordStatus(ctx context.Context, kind models.RecordKind, id string, status models.RecordStatus) error
	LinkRecord(ctx context.Context, kind models.RecordKind, id, eventId, ledgerTransactionId string) error
}

// ReconciliationStore persists reconciliation runs for the audit trail.
type ReconciliationStore interface {
	CreateReconciliationRun(ctx context.Context, run models.ReconciliationRun) error
	FinishReconciliationRun(ctx context.Context, run models.ReconciliationRun) error
	ListReconciliationRuns(ctx context.Context, limit int) ([]models.ReconciliationRun, error)
}

// SystemStateStore persists the global freeze row and its audit log.
type SystemStateStore interface {
	GetSystemState(ctx context.Context) (models.SystemState, error)
	SetFrozen(ctx context.Context, frozen bool, reason, actor string) error
	ListFreezeAudit(ctx context.Context, limit int) ([]models.FreezeAuditEvent, error)
}

// Store is everything a single backend provides.
type Store interface {
	LedgerStore
	EventStore
	RecordStore
	ReconciliationStore
	SystemStateStore
	Close()
}
