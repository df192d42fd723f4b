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

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"vault-ledger-go/internal/hashchain"
	"vault-ledger-go/internal/models"
	"vault-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AppendTransaction posts every entry of tx in one database transaction.
// Id assignment, the chain-head read and hashing all happen under the write
// lock so two writers can never chain off the same head.
func (s *Service) AppendTransaction(ctx context.Context, tx models.DoubleEntryTransaction) ([]models.LedgerEntry, error) {
	if len(tx.Entries) == 0 {
		return nil, fmt.Errorf("transaction %s has no entries", tx.TransactionId)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Check for duplicate transaction Id
	var existingTxId string
	err := s.db.QueryRowContext(ctx, queryCheckDuplicateTransaction, tx.TransactionId).Scan(&existingTxId)
	if err == nil {
		zap.L().Warn("Duplicate ledger transaction Id detected, skipping",
			zap.String("transaction_id", tx.TransactionId))
		return nil, fmt.Errorf("%w: transaction_id %s already exists", store.ErrDuplicateTransaction, tx.TransactionId)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check for duplicate transaction: %w", err)
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(dbTx)

	now := s.now().UTC()
	txMetadata, err := encodeMetadata(tx.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = dbTx.ExecContext(ctx, queryInsertLedgerTransaction,
		tx.TransactionId, string(tx.EntryType), tx.Description, txMetadata, tx.CreatedBy, formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: transaction_id %s already exists", store.ErrDuplicateTransaction, tx.TransactionId)
		}
		return nil, fmt.Errorf("failed to insert ledger transaction: %w", err)
	}

	var head models.ChainHead
	if err := dbTx.QueryRowContext(ctx, queryGetChainHead).Scan(&head.LastEntryId, &head.LastHash, &head.Version); err != nil {
		return nil, fmt.Errorf("failed to read chain head: %w", err)
	}

	entries := make([]models.LedgerEntry, len(tx.Entries))
	for i, spec := range tx.Entries {
		entryType := spec.EntryType
		if entryType == "" {
			entryType = tx.EntryType
		}
		entries[i] = models.LedgerEntry{
			Id:            head.LastEntryId + int64(i) + 1,
			EntryType:     entryType,
			TransactionId: tx.TransactionId,
			UserId:        spec.UserId,
			AccountType:   spec.AccountType,
			TokenMint:     spec.TokenMint,
			Amount:        spec.Amount,
			Side:          spec.Side,
			Description:   tx.Description,
			Metadata:      mergeMetadata(tx.Metadata, spec.Metadata),
			CreatedAt:     now,
			CreatedBy:     tx.CreatedBy,
		}
	}

	if err := hashchain.Seal(entries, head.LastHash); err != nil {
		return nil, fmt.Errorf("failed to seal entries: %w", err)
	}

	for _, entry := range entries {
		if err := insertEntry(ctx, dbTx, entry); err != nil {
			return nil, err
		}
	}

	if err := s.applyBalances(ctx, dbTx, tx.TransactionId, entries, tx.RequireFunds, now); err != nil {
		return nil, err
	}

	last := entries[len(entries)-1]
	result, err := dbTx.ExecContext(ctx, queryUpdateChainHead, last.Id, last.EntryHash, head.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to advance chain head: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("chain head update failed - %w", store.ErrConcurrentModification)
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Ledger transaction posted",
		zap.String("transaction_id", tx.TransactionId),
		zap.String("entry_type", string(tx.EntryType)),
		zap.Int("entries", len(entries)),
		zap.Int64("first_entry_id", entries[0].Id),
		zap.Int64("last_entry_id", last.Id),
		zap.String("chain_head", last.EntryHash))

	return entries, nil
}

func insertEntry(ctx context.Context, dbTx *sql.Tx, entry models.LedgerEntry) error {
	metadata, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return err
	}
	createdAt := formatTime(entry.CreatedAt)

	_, err = dbTx.ExecContext(ctx, queryInsertLedgerEntry,
		entry.Id, string(entry.EntryType), entry.TransactionId, nullString(entry.UserId),
		string(entry.AccountType), nullString(entry.TokenMint), entry.Amount.String(), string(entry.Side),
		entry.Description, metadata, createdAt, entry.CreatedBy, nullString(entry.PreviousHash), entry.EntryHash)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry %d: %w", entry.Id, err)
	}

	_, err = dbTx.ExecContext(ctx, queryInsertHashChain, entry.Id, nullString(entry.PreviousHash), entry.EntryHash, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert hash chain record %d: %w", entry.Id, err)
	}
	return nil
}

type balanceKey struct {
	userId    string
	tokenMint string
}

// applyBalances projects user asset entries onto account_balances with optimistic locking.
// With requireFunds set, a lowered balance may not end below zero.
func (s *Service) applyBalances(ctx context.Context, dbTx *sql.Tx, transactionId string, entries []models.LedgerEntry, requireFunds bool, now time.Time) error {
	deltas := map[balanceKey]decimal.Decimal{}
	var keys []balanceKey
	for _, entry := range entries {
		if entry.UserId == "" || !entry.AccountType.IsUserAsset() {
			continue
		}
		key := balanceKey{userId: entry.UserId, tokenMint: entry.TokenMint}
		if _, ok := deltas[key]; !ok {
			keys = append(keys, key)
			deltas[key] = decimal.Zero
		}
		if entry.Side == models.SideDebit {
			deltas[key] = deltas[key].Add(entry.Amount)
		} else {
			deltas[key] = deltas[key].Sub(entry.Amount)
		}
	}

	// consistent order keeps row updates deterministic
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].userId != keys[j].userId {
			return keys[i].userId < keys[j].userId
		}
		return keys[i].tokenMint < keys[j].tokenMint
	})

	for _, key := range keys {
		var accountId, currentBalanceStr string
		var version int64

		err := dbTx.QueryRowContext(ctx, queryGetAccountBalance, key.userId, key.tokenMint).Scan(&accountId, &currentBalanceStr, &version)
		currentBalance := decimal.Zero
		if errors.Is(err, sql.ErrNoRows) {
			accountId = uuid.New().String()
			version = 1
			if _, err := dbTx.ExecContext(ctx, queryInsertAccountBalance, accountId, key.userId, key.tokenMint, "0", version, formatTime(now)); err != nil {
				return fmt.Errorf("failed to create account balance: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("failed to get current balance: %w", err)
		} else {
			currentBalance, err = decimal.NewFromString(currentBalanceStr)
			if err != nil {
				return fmt.Errorf("failed to parse current balance '%s': %w", currentBalanceStr, err)
			}
		}

		newBalance := currentBalance.Add(deltas[key])
		if requireFunds && deltas[key].IsNegative() && newBalance.IsNegative() {
			return fmt.Errorf("%w: user %s asset %s has %s, transaction %s needs %s", store.ErrBalanceWouldGoNegative,
				key.userId, key.tokenMint, currentBalance.String(), transactionId, deltas[key].Neg().String())
		}
		result, err := dbTx.ExecContext(ctx, queryUpdateAccountBalance,
			newBalance.String(), transactionId, formatTime(now), key.userId, key.tokenMint, version)
		if err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("balance update failed - %w", store.ErrConcurrentModification)
		}

		zap.L().Debug("Balance projected",
			zap.String("user_id", key.userId),
			zap.String("token_mint", key.tokenMint),
			zap.String("old_balance", currentBalance.String()),
			zap.String("new_balance", newBalance.String()))
	}
	return nil
}

func (s *Service) GetChainHead(ctx context.Context) (models.ChainHead, error) {
	var head models.ChainHead
	if err := s.db.QueryRowContext(ctx, queryGetChainHead).Scan(&head.LastEntryId, &head.LastHash, &head.Version); err != nil {
		return models.ChainHead{}, fmt.Errorf("failed to read chain head: %w", err)
	}
	return head, nil
}

func (s *Service) GetTransactionEntries(ctx context.Context, transactionId string) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, queryGetTransactionEntries, transactionId)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction entries: %w", err)
	}
	defer closeRows(rows)
	return scanEntries(rows)
}

// ListEntries returns up to limit entries with id greater than afterId, ascending.
func (s *Service) ListEntries(ctx context.Context, afterId int64, limit int) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, queryListEntries, afterId, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer closeRows(rows)
	return scanEntries(rows)
}

func (s *Service) ListHashLinks(ctx context.Context, afterId int64, limit int) ([]store.HashLink, error) {
	rows, err := s.db.QueryContext(ctx, queryListHashLinks, afterId, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list hash links: %w", err)
	}
	defer closeRows(rows)

	var links []store.HashLink
	for rows.Next() {
		var link store.HashLink
		if err := rows.Scan(&link.EntryId, &link.PreviousHash, &link.EntryHash); err != nil {
			return nil, fmt.Errorf("failed to scan hash link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// SumEntries totals debits and credits in Go so amounts never pass through SQL floats.
func (s *Service) SumEntries(ctx context.Context, filter store.EntryFilter) (store.SideTotals, error) {
	query, args := buildSumQuery(filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return store.SideTotals{}, fmt.Errorf("failed to sum entries: %w", err)
	}
	defer closeRows(rows)

	totals := store.SideTotals{Debits: decimal.Zero, Credits: decimal.Zero}
	for rows.Next() {
		var side, amountStr string
		if err := rows.Scan(&side, &amountStr); err != nil {
			return store.SideTotals{}, fmt.Errorf("failed to scan entry amount: %w", err)
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return store.SideTotals{}, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
		}
		if models.Side(side) == models.SideDebit {
			totals.Debits = totals.Debits.Add(amount)
		} else {
			totals.Credits = totals.Credits.Add(amount)
		}
		totals.Count++
	}
	if err := rows.Err(); err != nil {
		return store.SideTotals{}, fmt.Errorf("error iterating entry rows: %w", err)
	}
	return totals, nil
}

func buildSumQuery(filter store.EntryFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.UserId != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, filter.UserId)
	}
	if filter.TokenMint != "" {
		clauses = append(clauses, "token_mint = ?")
		args = append(args, filter.TokenMint)
	}
	if len(filter.AccountTypes) > 0 {
		placeholders := make([]string, len(filter.AccountTypes))
		for i, accountType := range filter.AccountTypes {
			placeholders[i] = "?"
			args = append(args, string(accountType))
		}
		clauses = append(clauses, "account_type IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := "SELECT side, amount FROM ledger_entries"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	return query, args
}

func (s *Service) ListTokenMints(ctx context.Context) ([]string, error) {
	return s.listStrings(ctx, queryListTokenMints)
}

func (s *Service) ListUserTokenMints(ctx context.Context, userId string) ([]string, error) {
	return s.listStrings(ctx, queryListUserTokenMints, userId)
}

func (s *Service) listStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer closeRows(rows)

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return values, nil
}

func scanEntries(rows *sql.Rows) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	for rows.Next() {
		var entry models.LedgerEntry
		var entryType, accountType, side, amountStr, metadata, createdAt string
		err := rows.Scan(&entry.Id, &entryType, &entry.TransactionId, &entry.UserId, &accountType, &entry.TokenMint,
			&amountStr, &side, &entry.Description, &metadata, &createdAt, &entry.CreatedBy, &entry.PreviousHash, &entry.EntryHash)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}

		entry.EntryType = models.EntryType(entryType)
		entry.AccountType = models.AccountType(accountType)
		entry.Side = models.Side(side)

		entry.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount '%s' on entry %d: %w", amountStr, entry.Id, err)
		}
		entry.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		entry.Metadata, err = decodeMetadata(metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to parse metadata on entry %d: %w", entry.Id, err)
		}

		entries = append(entries, entry)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entry rows: %w", err)
	}
	return entries, nil
}

func mergeMetadata(base, overlay map[string]string) map[string]string {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(s), &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
