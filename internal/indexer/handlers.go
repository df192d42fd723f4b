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

package indexer

import (
	"context"
	"errors"
	"fmt"

	"vault-ledger-go/internal/freeze"
	"vault-ledger-go/internal/ledger"
	"vault-ledger-go/internal/models"
	"vault-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const IndexerActor = "indexer"

// LedgerTransactionId is the id a record's ledger posting uses. It is derived
// from the backing event or request so reprocessing never posts twice.
func LedgerTransactionId(kind models.RecordKind, sourceId string) string {
	return fmt.Sprintf("%s:%s", kind, sourceId)
}

// recordId derives a stable record id from the event that created it.
func recordId(kind models.RecordKind, eventId string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(string(kind)+":"+eventId)).String()
}

// DomainHandler applies program events to domain records and the ledger.
type DomainHandler struct {
	records store.RecordStore
	ledger  *ledger.Service
	freeze  *freeze.Switch
}

func NewDomainHandler(records store.RecordStore, ledgerService *ledger.Service, freezeSwitch *freeze.Switch) *DomainHandler {
	return &DomainHandler{records: records, ledger: ledgerService, freeze: freezeSwitch}
}

var _ Handler = (*DomainHandler)(nil)

func (h *DomainHandler) DepositReceived(ctx context.Context, meta models.OnChainEvent, e DepositReceived) error {
	existing, err := h.records.ListRecordsByEvent(ctx, meta.Id)
	if err != nil {
		return err
	}

	var deposit models.Deposit
	if len(existing.Deposits) > 0 {
		deposit = existing.Deposits[0]
		if deposit.LedgerTransactionId != "" {
			zap.L().Debug("Deposit already recorded", zap.String("event_id", meta.Id), zap.String("deposit_id", deposit.Id))
			return nil
		}
	} else {
		deposit = models.Deposit{
			Id:             recordId(models.KindDeposit, meta.Id),
			UserId:         e.User,
			TokenMint:      e.TokenMint,
			Amount:         e.Amount,
			OnChainEventId: meta.Id,
			Status:         models.RecordPending,
		}
		if err := h.records.CreateDeposit(ctx, deposit); err != nil {
			return err
		}
	}

	txId := LedgerTransactionId(models.KindDeposit, meta.Id)
	if _, err := h.ledger.RecordDeposit(ctx, deposit.UserId, deposit.TokenMint, deposit.Amount, txId); err != nil && !ledger.IsDuplicate(err) {
		return err
	}
	return h.confirm(ctx, models.KindDeposit, deposit.Id, meta.Id, txId, models.RecordConfirmed)
}

func (h *DomainHandler) SwapExecuted(ctx context.Context, meta models.OnChainEvent, e SwapExecuted) error {
	existing, err := h.records.ListRecordsByEvent(ctx, meta.Id)
	if err != nil {
		return err
	}

	var trade models.Trade
	if len(existing.Trades) > 0 {
		trade = existing.Trades[0]
		if trade.LedgerTransactionId != "" {
			zap.L().Debug("Trade already recorded", zap.String("event_id", meta.Id), zap.String("trade_id", trade.Id))
			return nil
		}
	} else {
		params := ledger.TradeParams{Direction: e.Direction, InputMint: e.InputMint, OutputMint: e.OutputMint, FeeMint: e.FeeMint}
		trade = models.Trade{
			Id:             recordId(models.KindTrade, meta.Id),
			UserId:         e.User,
			Direction:      e.Direction,
			InputMint:      e.InputMint,
			InputAmount:    e.InputAmount,
			OutputMint:     e.OutputMint,
			OutputAmount:   e.OutputAmount,
			Fee:            e.Fee,
			FeeMint:        params.FeeMintOrDefault(),
			OnChainEventId: meta.Id,
			Status:         models.RecordPending,
		}
		if err := h.records.CreateTrade(ctx, trade); err != nil {
			return err
		}
	}

	txId := LedgerTransactionId(models.KindTrade, meta.Id)
	_, err = h.ledger.RecordTrade(ctx, ledger.TradeParams{
		UserId:        trade.UserId,
		Direction:     trade.Direction,
		InputMint:     trade.InputMint,
		InputAmount:   trade.InputAmount,
		OutputMint:    trade.OutputMint,
		OutputAmount:  trade.OutputAmount,
		Fee:           trade.Fee,
		FeeMint:       trade.FeeMint,
		TransactionId: txId,
	})
	if err != nil && !ledger.IsDuplicate(err) {
		return err
	}
	return h.confirm(ctx, models.KindTrade, trade.Id, meta.Id, txId, models.RecordConfirmed)
}

// SwapFailed keeps an audit record of the attempt. Nothing is posted.
func (h *DomainHandler) SwapFailed(ctx context.Context, meta models.OnChainEvent, e SwapFailed) error {
	existing, err := h.records.ListRecordsByEvent(ctx, meta.Id)
	if err != nil {
		return err
	}
	if len(existing.Trades) > 0 {
		return nil
	}

	zap.L().Info("Swap failed on-chain",
		zap.String("event_id", meta.Id),
		zap.String("user_id", e.User),
		zap.String("input_mint", e.InputMint),
		zap.String("output_mint", e.OutputMint),
		zap.String("reason", e.Reason))
	return h.records.CreateTrade(ctx, models.Trade{
		Id:             recordId(models.KindTrade, meta.Id),
		UserId:         e.User,
		Direction:      e.Direction,
		InputMint:      e.InputMint,
		InputAmount:    e.InputAmount,
		OutputMint:     e.OutputMint,
		OnChainEventId: meta.Id,
		Status:         models.RecordFailed,
	})
}

// WithdrawalRequested acknowledges the on-chain request. The ledger was
// debited when the request was accepted.
func (h *DomainHandler) WithdrawalRequested(ctx context.Context, meta models.OnChainEvent, e WithdrawalRequested) error {
	withdrawal, err := h.records.GetWithdrawal(ctx, e.WithdrawalId)
	if errors.Is(err, store.ErrNotFound) {
		zap.L().Warn("Withdrawal request for unknown withdrawal",
			zap.String("event_id", meta.Id),
			zap.String("withdrawal_id", e.WithdrawalId),
			zap.String("user_id", e.User))
		return nil
	}
	if err != nil {
		return err
	}
	if withdrawal.Status != models.RecordPending {
		return nil
	}
	return h.records.UpdateRecordStatus(ctx, models.KindWithdrawal, withdrawal.Id, models.RecordConfirmed)
}

// WithdrawalCompleted links the payout to its event, posting the debit if the
// request path never did.
func (h *DomainHandler) WithdrawalCompleted(ctx context.Context, meta models.OnChainEvent, e WithdrawalCompleted) error {
	withdrawal, err := h.records.GetWithdrawal(ctx, e.WithdrawalId)
	if errors.Is(err, store.ErrNotFound) {
		zap.L().Warn("Completed withdrawal was never requested through the platform, recording it",
			zap.String("event_id", meta.Id),
			zap.String("withdrawal_id", e.WithdrawalId),
			zap.String("user_id", e.User))
		withdrawal = &models.Withdrawal{
			Id:          e.WithdrawalId,
			UserId:      e.User,
			TokenMint:   e.TokenMint,
			Amount:      e.Amount,
			Destination: e.Destination,
			Status:      models.RecordPending,
		}
		if err := h.records.CreateWithdrawal(ctx, *withdrawal); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	switch withdrawal.Status {
	case models.RecordCompleted:
		if withdrawal.OnChainEventId == meta.Id {
			return nil
		}
	case models.RecordFailed:
		zap.L().Error("Completion event for a failed withdrawal",
			zap.String("event_id", meta.Id),
			zap.String("withdrawal_id", withdrawal.Id))
		return nil
	}

	if !withdrawal.Amount.Equal(e.Amount) || withdrawal.TokenMint != e.TokenMint {
		zap.L().Error("Completed withdrawal differs from request",
			zap.String("withdrawal_id", withdrawal.Id),
			zap.String("requested_amount", withdrawal.Amount.String()),
			zap.String("completed_amount", e.Amount.String()),
			zap.String("requested_mint", withdrawal.TokenMint),
			zap.String("completed_mint", e.TokenMint))
	}

	txId := withdrawal.LedgerTransactionId
	if txId == "" {
		txId = LedgerTransactionId(models.KindWithdrawal, withdrawal.Id)
		_, err := h.ledger.RecordWithdrawal(ctx, withdrawal.UserId, withdrawal.TokenMint, withdrawal.Amount, txId)
		if err != nil && !ledger.IsDuplicate(err) {
			return err
		}
	}
	return h.confirm(ctx, models.KindWithdrawal, withdrawal.Id, meta.Id, txId, models.RecordCompleted)
}

func (h *DomainHandler) DepositVaultSwept(_ context.Context, meta models.OnChainEvent, e DepositVaultSwept) error {
	zap.L().Info("Deposit vault swept to main vault",
		zap.String("event_id", meta.Id),
		zap.String("token_mint", e.TokenMint),
		zap.String("amount", e.Amount.String()))
	return nil
}

func (h *DomainHandler) WithdrawalVaultFunded(_ context.Context, meta models.OnChainEvent, e WithdrawalVaultFunded) error {
	zap.L().Info("Withdrawal vault funded from main vault",
		zap.String("event_id", meta.Id),
		zap.String("token_mint", e.TokenMint),
		zap.String("amount", e.Amount.String()))
	return nil
}

func (h *DomainHandler) ConfigUpdated(_ context.Context, meta models.OnChainEvent, e ConfigUpdated) error {
	fields := []zap.Field{zap.String("event_id", meta.Id), zap.String("authority", e.Authority)}
	for k, v := range e.Changes {
		fields = append(fields, zap.String(k, v))
	}
	zap.L().Warn("Program configuration updated", fields...)
	return nil
}

// ProgramPaused freezes money movement until an operator unfreezes it.
func (h *DomainHandler) ProgramPaused(ctx context.Context, meta models.OnChainEvent, e ProgramPaused) error {
	reason := "program paused on-chain"
	if e.Reason != "" {
		reason = fmt.Sprintf("%s: %s", reason, e.Reason)
	}
	zap.L().Warn("Program paused",
		zap.String("event_id", meta.Id),
		zap.String("authority", e.Authority),
		zap.String("reason", e.Reason))
	if h.freeze == nil {
		return nil
	}
	return h.freeze.Freeze(ctx, reason, IndexerActor)
}

// ProgramUnpaused does not unfreeze. Clearing the freeze is an operator decision.
func (h *DomainHandler) ProgramUnpaused(_ context.Context, meta models.OnChainEvent, e ProgramUnpaused) error {
	zap.L().Warn("Program unpaused on-chain, platform stays frozen until an operator unfreezes it",
		zap.String("event_id", meta.Id),
		zap.String("authority", e.Authority))
	return nil
}

func (h *DomainHandler) confirm(ctx context.Context, kind models.RecordKind, id, eventId, txId string, status models.RecordStatus) error {
	if err := h.records.LinkRecord(ctx, kind, id, eventId, txId); err != nil {
		return err
	}
	return h.records.UpdateRecordStatus(ctx, kind, id, status)
}
