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
	"encoding/json"
	"time"
)

type EventStatus string

const (
	EventTentative EventStatus = "TENTATIVE"
	EventFinalized EventStatus = "FINALIZED"
	EventReorged   EventStatus = "REORGED"
)

type EventType string

const (
	EventDepositReceived       EventType = "DEPOSIT_RECEIVED"
	EventDepositVaultSwept     EventType = "DEPOSIT_VAULT_SWEPT"
	EventWithdrawalVaultFunded EventType = "WITHDRAWAL_VAULT_FUNDED"
	EventSwapExecuted          EventType = "SWAP_EXECUTED"
	EventSwapFailed            EventType = "SWAP_FAILED"
	EventWithdrawalRequested   EventType = "WITHDRAWAL_REQUESTED"
	EventWithdrawalCompleted   EventType = "WITHDRAWAL_COMPLETED"
	EventConfigUpdated         EventType = "CONFIG_UPDATED"
	EventProgramPaused         EventType = "PROGRAM_PAUSED"
	EventProgramUnpaused       EventType = "PROGRAM_UNPAUSED"
)

// OnChainEvent is one observed program event. (Signature, EventType, LogIndex)
// identifies a single semantic occurrence.
type OnChainEvent struct {
	Id            string          `json:"id"`
	EventType     EventType       `json:"event_type"`
	Signature     string          `json:"signature"`
	LogIndex      int             `json:"log_index"`
	Slot          uint64          `json:"slot"`
	BlockTime     time.Time       `json:"block_time"`
	Payload       json.RawMessage `json:"payload"`
	Status        EventStatus     `json:"status"`
	Confirmations uint64          `json:"confirmations"`
	FinalizedAt   *time.Time      `json:"finalized_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// RawEvent is an event notification as delivered by the chain listener.
type RawEvent struct {
	EventType EventType       `json:"event_type" validate:"required"`
	Signature string          `json:"signature" validate:"required"`
	LogIndex  int             `json:"log_index" validate:"gte=0"`
	Slot      uint64          `json:"slot" validate:"required"`
	BlockTime time.Time       `json:"block_time"`
	Payload   json.RawMessage `json:"payload"`
}
