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


package common

import (
	"context"
	"fmt"
	"sort"

	"vault-ledger-go/internal/store"

	"go.uber.org/zap"
)

// ResolveUsers returns the users a report should cover.
// If userFilter is provided, only that user is returned.
// If userFilter is empty, every user holding a materialized balance is returned.
func ResolveUsers(ctx context.Context, ledgerStore store.LedgerStore, userFilter string, logger *zap.Logger) ([]string, error) {
	if userFilter != "" {
		logger.Info("Reporting on a single user", zap.String("user_id", userFilter))
		return []string{userFilter}, nil
	}

	balances, err := ledgerStore.ListAccountBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}

	seen := make(map[string]bool)
	var users []string
	for _, b := range balances {
		if b.UserId == "" || seen[b.UserId] {
			continue
		}
		seen[b.UserId] = true
		users = append(users, b.UserId)
	}
	sort.Strings(users)

	logger.Info("Retrieved users", zap.Int("count", len(users)))
	return users, nil
}
