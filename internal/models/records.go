package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RecordStatus string

const (
	RecordPending   RecordStatus = "PENDING"
	RecordConfirmed RecordStatus = "CONFIRMED"
	RecordCompleted RecordStatus = "COMPLETED"
	RecordFailed    RecordStatus = "FAILED"
)

type RecordKind string

const (
	KindDeposit    RecordKind = "deposit"
	KindTrade      RecordKind = "trade"
	KindWithdrawal RecordKind = "withdrawal"
)

type TradeDirection string

const (
	TradeBuy  TradeDirection = "BUY"
	TradeSell TradeDirection = "SELL"
)

type Deposit struct {
	Id                  string
	UserId              string
	TokenMint           string
	Amount              decimal.Decimal
	OnChainEventId      string
	LedgerTransactionId string
	Status              RecordStatus
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type Trade struct {
	Id                  string
	UserId              string
	Direction           TradeDirection
	InputMint           string
	InputAmount         decimal.Decimal
	OutputMint          string
	OutputAmount        decimal.Decimal
	Fee                 decimal.Decimal
	FeeMint             string
	OnChainEventId      string
	LedgerTransactionId string
	Status              RecordStatus
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type Withdrawal struct {
	Id                  string
	UserId              string
	TokenMint           string
	Amount              decimal.Decimal
	Destination         string
	OnChainEventId      string
	LedgerTransactionId string
	Status              RecordStatus
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
