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

// GetAccountBalance returns the materialized balance row for user/asset (O(1) lookup)
func (s *Service) GetAccountBalance(ctx context.Context, userId, tokenMint string) (*models.AccountBalance, error) {
	zap.L().Debug("Getting materialized balance", zap.String("user_id", userId), zap.String("token_mint", tokenMint))

	rows, err := s.db.QueryContext(ctx, queryGetAccountBalanceRow, userId, tokenMint)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	defer closeRows(rows)

	balances, err := scanBalances(rows)
	if err != nil {
		return nil, err
	}
	if len(balances) == 0 {
		return nil, fmt.Errorf("balance for %s/%s: %w", userId, tokenMint, store.ErrNotFound)
	}
	return &balances[0], nil
}

// ListAccountBalances returns every materialized balance row
func (s *Service) ListAccountBalances(ctx context.Context) ([]models.AccountBalance, error) {
	rows, err := s.db.QueryContext(ctx, queryListAccountBalances)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer closeRows(rows)
	return scanBalances(rows)
}

// GetAllUserBalances returns all non-zero balances for a user
func (s *Service) GetAllUserBalances(ctx context.Context, userId string) ([]models.AccountBalance, error) {
	zap.L().Debug("Getting all balances", zap.String("user_id", userId))

	rows, err := s.db.QueryContext(ctx, queryGetAllUserBalances, userId)
	if err != nil {
		zap.L().Error("Failed to get all balances", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("failed to get all balances: %w", err)
	}
	defer closeRows(rows)

	balances, err := scanBalances(rows)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("Retrieved all balances", zap.String("user_id", userId), zap.Int("count", len(balances)))
	return balances, nil
}

func scanBalances(rows *sql.Rows) ([]models.AccountBalance, error) {
	var balances []models.AccountBalance
	for rows.Next() {
		var balance models.AccountBalance
		var balanceStr, updatedAt string
		err := rows.Scan(&balance.Id, &balance.UserId, &balance.Asset, &balanceStr,
			&balance.LastTransactionId, &balance.Version, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}

		balance.Balance, err = decimal.NewFromString(balanceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
		}
		balance.UpdatedAt, err = parseTime(updatedAt)
		if err != nil {
			return nil, err
		}

		balances = append(balances, balance)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during balance row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating balance rows: %w", err)
	}
	return balances, nil
}
