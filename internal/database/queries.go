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

const (
	// Ledger queries
	queryCheckDuplicateTransaction = `
		SELECT transaction_id FROM ledger_transactions WHERE transaction_id = ? LIMIT 1`

	queryInsertLedgerTransaction = `
		INSERT INTO ledger_transactions (transaction_id, entry_type, description, metadata, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryGetChainHead = `
		SELECT last_entry_id, COALESCE(last_hash, ''), version
		FROM chain_head
		WHERE id = 1`

	queryUpdateChainHead = `
		UPDATE chain_head
		SET last_entry_id = ?, last_hash = ?, version = version + 1
		WHERE id = 1 AND version = ?`

	queryInsertLedgerEntry = `
		INSERT INTO ledger_entries (
			id, entry_type, transaction_id, user_id, account_type, token_mint, amount, side,
			description, metadata, created_at, created_by, previous_hash, entry_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryInsertHashChain = `
		INSERT INTO hash_chain (entry_id, previous_hash, entry_hash, created_at)
		VALUES (?, ?, ?, ?)`

	selectLedgerEntry = `
		SELECT id, entry_type, transaction_id, COALESCE(user_id, ''), account_type, COALESCE(token_mint, ''),
		       amount, side, description, metadata, created_at, created_by, COALESCE(previous_hash, ''), entry_hash
		FROM ledger_entries`

	queryGetTransactionEntries = selectLedgerEntry + `
		WHERE transaction_id = ?
		ORDER BY id`

	queryListEntries = selectLedgerEntry + `
		WHERE id > ?
		ORDER BY id
		LIMIT ?`

	queryListHashLinks = `
		SELECT entry_id, COALESCE(previous_hash, ''), entry_hash
		FROM hash_chain
		WHERE entry_id > ?
		ORDER BY entry_id
		LIMIT ?`

	queryListTokenMints = `
		SELECT DISTINCT token_mint
		FROM ledger_entries
		WHERE token_mint IS NOT NULL
		ORDER BY token_mint`

	queryListUserTokenMints = `
		SELECT DISTINCT token_mint
		FROM ledger_entries
		WHERE user_id = ? AND token_mint IS NOT NULL AND account_type IN ('ASSET_CASH', 'ASSET_STOCK')
		ORDER BY token_mint`

	// Balance queries
	queryGetAccountBalance = `
		SELECT id, balance, version
		FROM account_balances
		WHERE user_id = ? AND asset = ?`

	queryInsertAccountBalance = `
		INSERT INTO account_balances (id, user_id, asset, balance, last_transaction_id, version, updated_at)
		VALUES (?, ?, ?, ?, '', ?, ?)`

	queryUpdateAccountBalance = `
		UPDATE account_balances
		SET balance = ?, last_transaction_id = ?, version = version + 1, updated_at = ?
		WHERE user_id = ? AND asset = ? AND version = ?`

	selectAccountBalance = `
		SELECT id, user_id, asset, balance, last_transaction_id, version, updated_at
		FROM account_balances`

	queryGetAccountBalanceRow = selectAccountBalance + `
		WHERE user_id = ? AND asset = ?`

	queryListAccountBalances = selectAccountBalance + `
		ORDER BY user_id, asset`

	queryGetAllUserBalances = selectAccountBalance + `
		WHERE user_id = ? AND balance != '0'
		ORDER BY asset`

	// Event queries
	queryInsertEvent = `
		INSERT INTO on_chain_events (
			id, event_type, signature, log_index, slot, block_time, payload, status,
			confirmations, finalized_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(signature, event_type, log_index) DO NOTHING`

	selectEvent = `
		SELECT id, event_type, signature, log_index, slot, block_time, payload, status,
		       confirmations, finalized_at, created_at
		FROM on_chain_events`

	queryGetEvent = selectEvent + `
		WHERE id = ?`

	queryGetEventByOccurrence = selectEvent + `
		WHERE signature = ? AND event_type = ? AND log_index = ?`

	queryListEventsByStatus = selectEvent + `
		WHERE status = ? AND slot >= ?
		ORDER BY slot, id`

	queryListUnresolvedReorgedEvents = selectEvent + `
		WHERE status = 'REORGED' AND (
			EXISTS (SELECT 1 FROM deposits WHERE on_chain_event_id = on_chain_events.id AND status != 'FAILED')
			OR EXISTS (SELECT 1 FROM trades WHERE on_chain_event_id = on_chain_events.id AND status != 'FAILED')
			OR EXISTS (SELECT 1 FROM withdrawals WHERE on_chain_event_id = on_chain_events.id AND status != 'FAILED'))
		ORDER BY slot, id`

	queryUpdateConfirmations = `
		UPDATE on_chain_events
		SET confirmations = ?, updated_at = ?
		WHERE id = ? AND status = 'TENTATIVE'`

	queryFinalizeEvent = `
		UPDATE on_chain_events
		SET status = 'FINALIZED', confirmations = ?, finalized_at = ?, updated_at = ?
		WHERE id = ? AND status = 'TENTATIVE'`

	queryMarkEventReorged = `
		UPDATE on_chain_events
		SET status = 'REORGED', updated_at = ?
		WHERE id = ? AND status IN ('TENTATIVE', 'FINALIZED')`

	queryGetEventStatus = `
		SELECT status FROM on_chain_events WHERE id = ?`

	// Record queries
	queryInsertDeposit = `
		INSERT INTO deposits (id, user_id, token_mint, amount, on_chain_event_id, ledger_transaction_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryInsertTrade = `
		INSERT INTO trades (
			id, user_id, direction, input_mint, input_amount, output_mint, output_amount, fee, fee_mint,
			on_chain_event_id, ledger_transaction_id, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryInsertWithdrawal = `
		INSERT INTO withdrawals (id, user_id, token_mint, amount, destination, on_chain_event_id, ledger_transaction_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectDeposit = `
		SELECT id, user_id, token_mint, amount, COALESCE(on_chain_event_id, ''), COALESCE(ledger_transaction_id, ''),
		       status, created_at, updated_at
		FROM deposits`

	selectTrade = `
		SELECT id, user_id, direction, input_mint, input_amount, output_mint, output_amount, fee, fee_mint,
		       COALESCE(on_chain_event_id, ''), COALESCE(ledger_transaction_id, ''), status, created_at, updated_at
		FROM trades`

	selectWithdrawal = `
		SELECT id, user_id, token_mint, amount, destination, COALESCE(on_chain_event_id, ''),
		       COALESCE(ledger_transaction_id, ''), status, created_at, updated_at
		FROM withdrawals`

	queryDepositsByEvent    = selectDeposit + ` WHERE on_chain_event_id = ? ORDER BY id`
	queryTradesByEvent      = selectTrade + ` WHERE on_chain_event_id = ? ORDER BY id`
	queryWithdrawalsByEvent = selectWithdrawal + ` WHERE on_chain_event_id = ? ORDER BY id`
	queryGetWithdrawal      = selectWithdrawal + ` WHERE id = ?`
	queryTradeByLedgerTx    = selectTrade + ` WHERE ledger_transaction_id = ?`

	// Reconciliation queries
	queryInsertReconciliationRun = `
		INSERT INTO reconciliation_runs (id, status, tokens_checked, mismatches_found, mismatches, system_frozen, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryFinishReconciliationRun = `
		UPDATE reconciliation_runs
		SET status = ?, tokens_checked = ?, mismatches_found = ?, mismatches = ?, system_frozen = ?, error = ?, completed_at = ?
		WHERE id = ? AND status = 'RUNNING'`

	queryListReconciliationRuns = `
		SELECT id, status, tokens_checked, mismatches_found, mismatches, system_frozen, error, started_at, completed_at
		FROM reconciliation_runs
		ORDER BY started_at DESC
		LIMIT ?`

	// System state queries
	queryGetSystemState = `
		SELECT frozen, reason, actor, updated_at FROM system_state WHERE id = 1`

	queryUpsertSystemState = `
		INSERT INTO system_state (id, frozen, reason, actor, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET frozen = excluded.frozen, reason = excluded.reason,
			actor = excluded.actor, updated_at = excluded.updated_at`

	queryInsertFreezeAudit = `
		INSERT INTO freeze_audit (action, reason, actor, created_at) VALUES (?, ?, ?, ?)`

	queryListFreezeAudit = `
		SELECT id, action, reason, actor, created_at
		FROM freeze_audit
		ORDER BY id DESC
		LIMIT ?`
)
