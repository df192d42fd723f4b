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
	"github.com/shopspring/decimal"
)

// UserBalance represents a user's ledger balance for a specific asset
type UserBalance struct {
	TokenMint string          `json:"token_mint"`
	Balance   decimal.Decimal `json:"balance"`
}

// WithdrawalRequest is a validated withdrawal intent
type WithdrawalRequest struct {
	UserId      string          `json:"user_id" validate:"required"`
	TokenMint   string          `json:"token_mint" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"amount"`
	Destination string          `json:"destination" validate:"required"`
}

// WithdrawalResult represents the result of accepting a withdrawal
type WithdrawalResult struct {
	Success       bool            `json:"success"`
	WithdrawalId  string          `json:"withdrawal_id,omitempty"`
	TransactionId string          `json:"transaction_id,omitempty"`
	NewBalance    decimal.Decimal `json:"new_balance,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// TradeRequest is a validated swap intent awaiting authorization
type TradeRequest struct {
	UserId       string          `json:"user_id" validate:"required"`
	Direction    TradeDirection  `json:"direction" validate:"required,oneof=BUY SELL"`
	InputMint    string          `json:"input_mint" validate:"required"`
	InputAmount  decimal.Decimal `json:"input_amount" validate:"amount"`
	OutputMint   string          `json:"output_mint" validate:"required"`
	OutputAmount decimal.Decimal `json:"output_amount" validate:"amount"`
	Fee          decimal.Decimal `json:"fee" validate:"nonneg"`
	FeeMint      string          `json:"fee_mint"`
}
