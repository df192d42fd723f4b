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

package api

import (
	"context"

	"vault-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GetUserBalance returns the ledger-derived balance for a user and specific asset
func (s *Service) GetUserBalance(ctx context.Context, userId, tokenMint string) (decimal.Decimal, error) {
	if userId == "" || tokenMint == "" {
		return decimal.Zero, ErrUserInvalidRequest
	}

	balance, err := s.ledger.GetUserBalance(ctx, userId, tokenMint)
	if err != nil {
		zap.L().Error("Failed to get user balance",
			zap.String("user_id", userId),
			zap.String("token_mint", tokenMint),
			zap.Error(err))
		return decimal.Zero, ErrUserSystemUnavailable
	}

	return balance, nil
}

// GetUserBalances returns all non-zero balances for a user
func (s *Service) GetUserBalances(ctx context.Context, userId string) ([]models.UserBalance, error) {
	if userId == "" {
		return nil, ErrUserInvalidRequest
	}

	balances, err := s.ledger.GetUserBalances(ctx, userId)
	if err != nil {
		zap.L().Error("Failed to get user balances", zap.String("user_id", userId), zap.Error(err))
		return nil, ErrUserSystemUnavailable
	}

	nonZero := make([]models.UserBalance, 0, len(balances))
	for _, b := range balances {
		if !b.Balance.IsZero() {
			nonZero = append(nonZero, b)
		}
	}

	zap.L().Debug("Retrieved user balances",
		zap.String("user_id", userId),
		zap.Int("asset_count", len(nonZero)))

	return nonZero, nil
}
