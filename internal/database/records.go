package database

import (
	"context"
	"database/sql"
	"fmt"

	"vault-ledger-go/internal/models"
	"vault-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var recordTables = map[models.RecordKind]string{
	models.KindDeposit:    "deposits",
	models.KindTrade:      "trades",
	models.KindWithdrawal: "withdrawals",
}

func (s *Service) CreateDeposit(ctx context.Context, d models.Deposit) error {
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, queryInsertDeposit,
		d.Id, d.UserId, d.TokenMint, d.Amount.String(), nullString(d.OnChainEventId), nullString(d.LedgerTransactionId),
		string(d.Status), now, now)
	if err != nil {
		return fmt.Errorf("failed to insert deposit: %w", err)
	}
	return nil
}

func (s *Service) CreateTrade(ctx context.Context, t models.Trade) error {
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, queryInsertTrade,
		t.Id, t.UserId, string(t.Direction), t.InputMint, t.InputAmount.String(), t.OutputMint, t.OutputAmount.String(),
		t.Fee.String(), t.FeeMint, nullString(t.OnChainEventId), nullString(t.LedgerTransactionId), string(t.Status), now, now)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

func (s *Service) CreateWithdrawal(ctx context.Context, w models.Withdrawal) error {
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, queryInsertWithdrawal,
		w.Id, w.UserId, w.TokenMint, w.Amount.String(), w.Destination, nullString(w.OnChainEventId),
		nullString(w.LedgerTransactionId), string(w.Status), now, now)
	if err != nil {
		return fmt.Errorf("failed to insert withdrawal: %w", err)
	}
	return nil
}

func (s *Service) GetWithdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	rows, err := s.db.QueryContext(ctx, queryGetWithdrawal, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	defer closeRows(rows)

	withdrawals, err := scanWithdrawals(rows)
	if err != nil {
		return nil, err
	}
	if len(withdrawals) == 0 {
		return nil, fmt.Errorf("withdrawal %s: %w", id, store.ErrNotFound)
	}
	return &withdrawals[0], nil
}

func (s *Service) GetTradeByLedgerTransaction(ctx context.Context, transactionId string) (*models.Trade, error) {
	rows, err := s.db.QueryContext(ctx, queryTradeByLedgerTx, transactionId)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	defer closeRows(rows)

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, fmt.Errorf("trade for ledger transaction %s: %w", transactionId, store.ErrNotFound)
	}
	return &trades[0], nil
}

// ListRecordsByEvent returns every deposit, trade and withdrawal backed by the event.
func (s *Service) ListRecordsByEvent(ctx context.Context, eventId string) (store.EventRecords, error) {
	var records store.EventRecords

	rows, err := s.db.QueryContext(ctx, queryDepositsByEvent, eventId)
	if err != nil {
		return records, fmt.Errorf("failed to list deposits: %w", err)
	}
	records.Deposits, err = scanDeposits(rows)
	closeRows(rows)
	if err != nil {
		return records, err
	}

	rows, err = s.db.QueryContext(ctx, queryTradesByEvent, eventId)
	if err != nil {
		return records, fmt.Errorf("failed to list trades: %w", err)
	}
	records.Trades, err = scanTrades(rows)
	closeRows(rows)
	if err != nil {
		return records, err
	}

	rows, err = s.db.QueryContext(ctx, queryWithdrawalsByEvent, eventId)
	if err != nil {
		return records, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	records.Withdrawals, err = scanWithdrawals(rows)
	closeRows(rows)
	if err != nil {
		return records, err
	}

	return records, nil
}

func (s *Service) UpdateRecordStatus(ctx context.Context, kind models.RecordKind, id string, status models.RecordStatus) error {
	table, ok := recordTables[kind]
	if !ok {
		return fmt.Errorf("unknown record kind %q", kind)
	}

	query := fmt.Sprintf(`UPDATE %s SET status = ?, updated_at = ? WHERE id = ?`, table)
	result, err := s.db.ExecContext(ctx, query, string(status), formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to update %s status: %w", kind, err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
	}

	zap.L().Info("Record status updated",
		zap.String("kind", string(kind)),
		zap.String("id", id),
		zap.String("status", string(status)))
	return nil
}

// LinkRecord attaches the backing event and ledger transaction to a record.
// Empty arguments leave the existing value in place.
func (s *Service) LinkRecord(ctx context.Context, kind models.RecordKind, id, eventId, ledgerTransactionId string) error {
	table, ok := recordTables[kind]
	if !ok {
		return fmt.Errorf("unknown record kind %q", kind)
	}

	query := fmt.Sprintf(`UPDATE %s
		SET on_chain_event_id = COALESCE(?, on_chain_event_id),
		    ledger_transaction_id = COALESCE(?, ledger_transaction_id),
		    updated_at = ?
		WHERE id = ?`, table)
	result, err := s.db.ExecContext(ctx, query, nullString(eventId), nullString(ledgerTransactionId), formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("failed to link %s: %w", kind, err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
	}
	return nil
}

func scanDeposits(rows *sql.Rows) ([]models.Deposit, error) {
	var deposits []models.Deposit
	for rows.Next() {
		var d models.Deposit
		var amount, status, createdAt, updatedAt string
		if err := rows.Scan(&d.Id, &d.UserId, &d.TokenMint, &amount, &d.OnChainEventId, &d.LedgerTransactionId,
			&status, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deposit: %w", err)
		}
		var err error
		if d.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse deposit amount '%s': %w", amount, err)
		}
		d.Status = models.RecordStatus(status)
		if d.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		deposits = append(deposits, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deposit rows: %w", err)
	}
	return deposits, nil
}

func scanTrades(rows *sql.Rows) ([]models.Trade, error) {
	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var direction, inputAmount, outputAmount, fee, status, createdAt, updatedAt string
		if err := rows.Scan(&t.Id, &t.UserId, &direction, &t.InputMint, &inputAmount, &t.OutputMint, &outputAmount,
			&fee, &t.FeeMint, &t.OnChainEventId, &t.LedgerTransactionId, &status, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		var err error
		if t.InputAmount, err = decimal.NewFromString(inputAmount); err != nil {
			return nil, fmt.Errorf("failed to parse trade input amount '%s': %w", inputAmount, err)
		}
		if t.OutputAmount, err = decimal.NewFromString(outputAmount); err != nil {
			return nil, fmt.Errorf("failed to parse trade output amount '%s': %w", outputAmount, err)
		}
		if t.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("failed to parse trade fee '%s': %w", fee, err)
		}
		t.Direction = models.TradeDirection(direction)
		t.Status = models.RecordStatus(status)
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

func scanWithdrawals(rows *sql.Rows) ([]models.Withdrawal, error) {
	var withdrawals []models.Withdrawal
	for rows.Next() {
		var w models.Withdrawal
		var amount, status, createdAt, updatedAt string
		if err := rows.Scan(&w.Id, &w.UserId, &w.TokenMint, &amount, &w.Destination, &w.OnChainEventId,
			&w.LedgerTransactionId, &status, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		var err error
		if w.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse withdrawal amount '%s': %w", amount, err)
		}
		w.Status = models.RecordStatus(status)
		if w.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if w.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		withdrawals = append(withdrawals, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating withdrawal rows: %w", err)
	}
	return withdrawals, nil
}
