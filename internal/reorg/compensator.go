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

package reorg

import (
	"context"
	"errors"
	"fmt"

	"vault-ledger-go/internal/ledger"
	"vault-ledger-go/internal/models"
	"vault-ledger-go/internal/store"

	"go.uber.org/zap"
)

// CompensationId is the deterministic transaction id of a record's reversal.
// Re-running compensation for the same record always yields the same id.
func CompensationId(eventId string, kind models.RecordKind, recordId string) string {
	return fmt.Sprintf("reorg:%s:%s:%s", eventId, kind, recordId)
}

// Summary counts what one compensation pass did.
type Summary struct {
	Events             int
	Reversed           int
	AlreadyCompensated int
	Skipped            int
	Errors             []error
}

func (s Summary) Err() error {
	return errors.Join(s.Errors...)
}

// Compensator reverses the ledger effects of events that left the canonical chain.
type Compensator struct {
	events  store.EventStore
	records store.RecordStore
	ledger  *ledger.Service
}

func NewCompensator(events store.EventStore, records store.RecordStore, ledgerService *ledger.Service) *Compensator {
	return &Compensator{events: events, records: records, ledger: ledgerService}
}

// Compensate marks every event REORGED and reverses each record it backed.
// A failure on one record is collected and does not stop its siblings.
func (c *Compensator) Compensate(ctx context.Context, events []models.OnChainEvent) Summary {
	var summary Summary

	for _, event := range events {
		if ctx.Err() != nil {
			summary.Errors = append(summary.Errors, ctx.Err())
			return summary
		}
		summary.Events++

		if err := c.events.MarkEventReorged(ctx, event.Id); err != nil {
			zap.L().Error("Failed to mark event reorged",
				zap.String("event_id", event.Id),
				zap.String("signature", event.Signature),
				zap.Error(err))
			summary.Errors = append(summary.Errors, fmt.Errorf("event %s: %w", event.Id, err))
			continue
		}

		records, err := c.records.ListRecordsByEvent(ctx, event.Id)
		if err != nil {
			zap.L().Error("Failed to load records for reorged event", zap.String("event_id", event.Id), zap.Error(err))
			summary.Errors = append(summary.Errors, fmt.Errorf("event %s: %w", event.Id, err))
			continue
		}

		zap.L().Warn("Compensating reorged event",
			zap.String("event_id", event.Id),
			zap.String("event_type", string(event.EventType)),
			zap.String("signature", event.Signature),
			zap.Uint64("slot", event.Slot),
			zap.Int("records", records.Len()))

		for _, d := range records.Deposits {
			c.compensateRecord(ctx, &summary, event.Id, models.KindDeposit, d.Id, d.LedgerTransactionId,
				func(compensationId string) error {
					_, err := c.ledger.ReverseDeposit(ctx, d.UserId, d.TokenMint, d.Amount, d.LedgerTransactionId, compensationId)
					return err
				})
		}
		for _, t := range records.Trades {
			c.compensateRecord(ctx, &summary, event.Id, models.KindTrade, t.Id, t.LedgerTransactionId,
				func(compensationId string) error {
					_, err := c.ledger.ReverseTrade(ctx, ledger.TradeParams{
						UserId:        t.UserId,
						Direction:     t.Direction,
						InputMint:     t.InputMint,
						InputAmount:   t.InputAmount,
						OutputMint:    t.OutputMint,
						OutputAmount:  t.OutputAmount,
						Fee:           t.Fee,
						FeeMint:       t.FeeMint,
						TransactionId: t.LedgerTransactionId,
					}, compensationId)
					return err
				})
		}
		for _, w := range records.Withdrawals {
			c.compensateRecord(ctx, &summary, event.Id, models.KindWithdrawal, w.Id, w.LedgerTransactionId,
				func(compensationId string) error {
					_, err := c.ledger.ReverseWithdrawal(ctx, w.UserId, w.TokenMint, w.Amount, w.LedgerTransactionId, compensationId)
					return err
				})
		}
	}

	zap.L().Info("Reorg compensation pass complete",
		zap.Int("events", summary.Events),
		zap.Int("reversed", summary.Reversed),
		zap.Int("already_compensated", summary.AlreadyCompensated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", len(summary.Errors)))
	return summary
}

func (c *Compensator) compensateRecord(ctx context.Context, summary *Summary, eventId string, kind models.RecordKind,
	recordId, ledgerTransactionId string, reverse func(compensationId string) error) {

	if ledgerTransactionId == "" {
		// nothing was posted for this record
		summary.Skipped++
	} else {
		compensationId := CompensationId(eventId, kind, recordId)
		err := reverse(compensationId)
		switch {
		case err == nil:
			summary.Reversed++
		case ledger.IsDuplicate(err):
			zap.L().Debug("Record already compensated",
				zap.String("kind", string(kind)),
				zap.String("record_id", recordId),
				zap.String("transaction_id", compensationId))
			summary.AlreadyCompensated++
		default:
			zap.L().Error("Failed to reverse record",
				zap.String("event_id", eventId),
				zap.String("kind", string(kind)),
				zap.String("record_id", recordId),
				zap.String("original_transaction_id", ledgerTransactionId),
				zap.Error(err))
			summary.Errors = append(summary.Errors, fmt.Errorf("%s %s: %w", kind, recordId, err))
			return
		}
	}

	if err := c.records.UpdateRecordStatus(ctx, kind, recordId, models.RecordFailed); err != nil {
		zap.L().Error("Failed to mark record failed",
			zap.String("kind", string(kind)),
			zap.String("record_id", recordId),
			zap.Error(err))
		summary.Errors = append(summary.Errors, fmt.Errorf("%s %s: %w", kind, recordId, err))
	}
}

// CompensateDropped adapts Compensate to the finality promoter's drop callback.
func (c *Compensator) CompensateDropped(ctx context.Context, events []models.OnChainEvent) {
	if err := c.Compensate(ctx, events).Err(); err != nil {
		zap.L().Error("Compensation of dropped events incomplete", zap.Error(err))
	}
}
