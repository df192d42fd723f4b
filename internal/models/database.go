/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryTypeDeposit    EntryType = "DEPOSIT"
	EntryTypeTrade      EntryType = "TRADE"
	EntryTypeWithdrawal EntryType = "WITHDRAWAL"
	EntryTypeFee        EntryType = "FEE"
	EntryTypeAdjustment EntryType = "ADJUSTMENT"
)

type AccountType string

const (
	AccountAssetCash    AccountType = "ASSET_CASH"
	AccountAssetStock   AccountType = "ASSET_STOCK"
	AccountEquityUser   AccountType = "EQUITY_USER"
	AccountEquitySystem AccountType = "EQUITY_SYSTEM"
	AccountRevenueFees  AccountType = "REVENUE_FEES"
)

// IsUserAsset reports whether the account holds user-spendable value.
func (a AccountType) IsUserAsset() bool {
	return a == AccountAssetCash || a == AccountAssetStock
}

type Side string

const (
	SideDebit  Side = "DEBIT"
	SideCredit Side = "CREDIT"
)

// Flip returns the opposite side.
func (s Side) Flip() Side {
	if s == SideDebit {
		return SideCredit
	}
	return SideDebit
}

// LedgerEntry is one immutable side of a posted transaction.
// Empty UserId, TokenMint and PreviousHash are stored as NULL.
type LedgerEntry struct {
	Id            int64             `db:"id" json:"id"`
	EntryType     EntryType         `db:"entry_type" json:"entryType"`
	TransactionId string            `db:"transaction_id" json:"transactionId"`
	UserId        string            `db:"user_id" json:"userId,omitempty"`
	AccountType   AccountType       `db:"account_type" json:"accountType"`
	TokenMint     string            `db:"token_mint" json:"tokenMint,omitempty"`
	Amount        decimal.Decimal   `db:"amount" json:"amount"`
	Side          Side              `db:"side" json:"side"`
	Description   string            `db:"description" json:"description"`
	Metadata      map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"createdAt"`
	CreatedBy     string            `db:"created_by" json:"createdBy"`
	PreviousHash  string            `db:"previous_hash" json:"previousHash,omitempty"`
	EntryHash     string            `db:"entry_hash" json:"entryHash"`
}

// EntrySpec describes one line of a DoubleEntryTransaction before it is posted.
// An empty EntryType inherits the transaction's type.
type EntrySpec struct {
	EntryType   EntryType
	Side        Side
	AccountType AccountType
	TokenMint   string
	Amount      decimal.Decimal
	UserId      string
	Metadata    map[string]string
}

// DoubleEntryTransaction is the unit of atomicity submitted to the ledger.
type DoubleEntryTransaction struct {
	TransactionId string
	EntryType     EntryType
	Description   string
	CreatedBy     string
	Metadata      map[string]string
	Entries       []EntrySpec
	// RequireFunds rejects the transaction if any user balance it lowers would end below zero.
	// The check runs inside the write transaction.
	RequireFunds bool
}

// AccountBalance is the materialized per-user, per-asset running total
type AccountBalance struct {
	Id                string          `db:"id"`
	UserId            string          `db:"user_id"`
	Asset             string          `db:"asset"`
	Balance           decimal.Decimal `db:"balance"`
	LastTransactionId string          `db:"last_transaction_id"`
	Version           int64           `db:"version"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

// ChainHead is the single marker row every ledger writer serializes on.
type ChainHead struct {
	LastEntryId int64
	LastHash    string
	Version     int64
}
