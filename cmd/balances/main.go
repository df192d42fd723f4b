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


package main

import (
	"context"
	"flag"
	"fmt"

	"vault-ledger-go/internal/common"
	"vault-ledger-go/internal/config"
	"vault-ledger-go/internal/ledger"
	"vault-ledger-go/internal/models"
	"vault-ledger-go/internal/store"

	"go.uber.org/zap"
)

type balanceStats struct {
	totalUsers        int
	totalBalances     int
	usersWithBalances int
	discrepancies     int
}

type assetDisplay struct {
	symbols  map[string]string
	decimals map[string]int32
}

func (a assetDisplay) name(mint string) string {
	if symbol, ok := a.symbols[mint]; ok {
		return symbol
	}
	return mint
}

func formatTransactionId(txId string) string {
	if txId == "" {
		return "none"
	}
	if len(txId) > 16 {
		return txId[:16] + "..."
	}
	return txId
}

func printBalance(balance models.AccountBalance, derived string, display assetDisplay, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	lastTx := formatTransactionId(balance.LastTransactionId)
	materialized := common.FormatAmount(balance.Balance, display.decimals[balance.Asset])

	fmt.Printf("%s %s %-12s: %20s (v%d, last_tx: %s, updated: %s)\n",
		symbol,
		common.StatusMark(derived == materialized),
		display.name(balance.Asset),
		materialized,
		balance.Version,
		lastTx,
		balance.UpdatedAt.Format("2006-01-02 15:04:05"))
	if derived != materialized {
		fmt.Printf("%s     ledger says %s\n", common.BoxDetailPrefix(isLast), derived)
	}
}

func printUserHeader(userId string, balanceCount int) {
	fmt.Printf("\n┌─ User: %s\n", userId)
	fmt.Printf("│  Assets: %d\n", balanceCount)
	common.PrintBoxSeparator(78)
}

// processUser compares each materialized balance with the balance derived
// from ledger entries and returns the number of balances and discrepancies.
func processUser(ctx context.Context, userId string, ledgerStore store.LedgerStore, ledgerService *ledger.Service, display assetDisplay) (int, int, error) {
	balances, err := ledgerStore.GetAllUserBalances(ctx, userId)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get balances: %w", err)
	}

	if len(balances) == 0 {
		return 0, 0, nil
	}

	printUserHeader(userId, len(balances))
	discrepancies := 0
	for i, balance := range balances {
		derived, err := ledgerService.GetUserBalance(ctx, userId, balance.Asset)
		if err != nil {
			return 0, 0, err
		}
		formatted := common.FormatAmount(derived, display.decimals[balance.Asset])
		if !derived.Equal(balance.Balance) {
			discrepancies++
		}
		printBalance(balance, formatted, display, i == len(balances)-1)
	}

	return len(balances), discrepancies, nil
}

func processUsersAndGenerateReport(ctx context.Context, users []string, ledgerStore store.LedgerStore, ledgerService *ledger.Service, display assetDisplay, logger *zap.Logger) balanceStats {
	stats := balanceStats{}

	for _, userId := range users {
		stats.totalUsers++

		balanceCount, discrepancies, err := processUser(ctx, userId, ledgerStore, ledgerService, display)
		if err != nil {
			logger.Error("Failed to process user",
				zap.String("user_id", userId),
				zap.Error(err))
			continue
		}

		if balanceCount > 0 {
			stats.usersWithBalances++
			stats.totalBalances += balanceCount
		}
		stats.discrepancies += discrepancies
	}

	return stats
}

func loadDisplay(vaultsFile string, logger *zap.Logger) assetDisplay {
	display := assetDisplay{symbols: map[string]string{}, decimals: map[string]int32{}}
	vaults, err := common.LoadVaultConfig(vaultsFile)
	if err != nil {
		logger.Warn("Vault registry unavailable, showing raw mints and base units", zap.Error(err))
		return display
	}
	display.symbols = common.VaultSymbols(vaults)
	for _, v := range vaults {
		display.decimals[v.TokenMint] = v.Decimals
	}
	return display
}

func main() {
	ctx := context.Background()

	// Parse command line flags
	userFlag := flag.String("user", "", "Filter by specific user id (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		common.InitializeLogger("info")
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	logger, loggerCleanup := common.InitializeLogger(cfg.LogLevel)
	defer loggerCleanup()

	logger.Info("Starting balance query")

	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer services.Close()

	users, err := common.ResolveUsers(ctx, services.DbService, *userFlag, logger)
	if err != nil {
		logger.Fatal("Failed to resolve users", zap.Error(err))
	}

	display := loadDisplay(cfg.Reconciliation.VaultsFile, logger)

	common.PrintHeader("USER BALANCE REPORT", common.DefaultWidth)

	stats := processUsersAndGenerateReport(ctx, users, services.DbService, services.Ledger, display, logger)

	summary := fmt.Sprintf("SUMMARY: %d users with balances (%d total balances across %d users queried, %d discrepancies)",
		stats.usersWithBalances, stats.totalBalances, stats.totalUsers, stats.discrepancies)
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Balance query completed",
		zap.Int("users_queried", stats.totalUsers),
		zap.Int("users_with_balances", stats.usersWithBalances),
		zap.Int("total_balances", stats.totalBalances),
		zap.Int("discrepancies", stats.discrepancies))
}
