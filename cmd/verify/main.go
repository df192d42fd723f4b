package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"vault-ledger-go/internal/common"
	"vault-ledger-go/internal/config"
	"vault-ledger-go/internal/verification"

	"go.uber.org/zap"
)

func printHashChain(r verification.HashChainResult) {
	detail := fmt.Sprintf("%d entries", r.EntriesChecked)
	if !r.Valid {
		detail = fmt.Sprintf("broken at entry %d (%s)", r.BrokenAt, r.Kind)
	}
	common.PrintCheck("Hash chain", r.Valid, detail)
	if !r.Valid {
		fmt.Printf("   expected: %s\n", r.ExpectedHash)
		fmt.Printf("   actual:   %s\n", r.ActualHash)
	}
}

func printDoubleEntry(r verification.DoubleEntryResult) {
	common.PrintCheck("Double entry", r.Valid, fmt.Sprintf("%d transactions, %d unbalanced", r.TransactionsChecked, len(r.Mismatches)))
	for i, m := range r.Mismatches {
		isLast := i == len(r.Mismatches)-1
		scope := m.TokenMint
		if scope == "" {
			scope = "all assets"
		}
		fmt.Printf("%s%s [%s]: debits %s, credits %s\n",
			common.BoxPrefix(isLast), m.TransactionId, scope, m.Debits.String(), m.Credits.String())
	}
}

func printBalanceConsistency(r verification.BalanceConsistencyResult) {
	common.PrintCheck("Balance projection", r.Valid, fmt.Sprintf("%d balances, %d discrepancies", r.BalancesChecked, len(r.Discrepancies)))
	for i, d := range r.Discrepancies {
		isLast := i == len(r.Discrepancies)-1
		fmt.Printf("%suser %s %s: materialized %s, ledger %s\n",
			common.BoxPrefix(isLast), d.UserId, d.TokenMint, d.Materialized.String(), d.Ledger.String())
	}
}

func main() {
	ctx := context.Background()

	jsonFlag := flag.Bool("json", false, "Print the report as JSON")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		common.InitializeLogger("info")
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	logger, loggerCleanup := common.InitializeLogger(cfg.LogLevel)
	defer loggerCleanup()

	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	report, err := services.Verification.RunAllChecks(ctx)
	if err != nil {
		logger.Fatal("Verification could not complete", zap.Error(err))
	}

	if *jsonFlag {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(report); err != nil {
			logger.Fatal("Failed to encode report", zap.Error(err))
		}
	} else {
		common.PrintHeader("LEDGER INTEGRITY REPORT", common.DefaultWidth)
		printHashChain(report.HashChain)
		printDoubleEntry(report.DoubleEntry)
		printBalanceConsistency(report.BalanceConsistency)

		status := "LEDGER VERIFIED"
		if !report.Valid {
			status = "LEDGER INTEGRITY FAILURE: investigate before moving funds"
		}
		common.PrintFooter(fmt.Sprintf("%s (checked at %s)", status, report.CheckedAt.Format("2006-01-02 15:04:05 MST")), common.DefaultWidth)
	}

	if !report.Valid {
		loggerCleanup()
		os.Exit(1)
	}
}
