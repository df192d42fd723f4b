package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// VaultBalance is one custodial account's live balance.
type VaultBalance struct {
	Role    string          `json:"role"`
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// Mismatch reports an asset whose vault total differs from ledger liabilities.
// Difference is vault minus ledger.
type Mismatch struct {
	TokenMint   string          `json:"tokenMint"`
	LedgerTotal decimal.Decimal `json:"ledgerTotal"`
	VaultTotal  decimal.Decimal `json:"vaultTotal"`
	Difference  decimal.Decimal `json:"difference"`
	Vaults      []VaultBalance  `json:"vaults"`
}

type ReconciliationRun struct {
	Id              string
	Status          RunStatus
	TokensChecked   int
	MismatchesFound int
	Mismatches      []Mismatch
	SystemFrozen    bool
	StartedAt       time.Time
	CompletedAt     *time.Time
	Error           string
}

// SystemState is the single global freeze row.
type SystemState struct {
	Frozen    bool
	Reason    string
	Actor     string
	UpdatedAt time.Time
}

type FreezeAction string

const (
	ActionFreeze   FreezeAction = "FREEZE"
	ActionUnfreeze FreezeAction = "UNFREEZE"
)

type FreezeAuditEvent struct {
	Id        int64
	Action    FreezeAction
	Reason    string
	Actor     string
	CreatedAt time.Time
}
