package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"vault-ledger-go/internal/common"
	"vault-ledger-go/internal/config"
	"vault-ledger-go/internal/models"
	"vault-ledger-go/internal/reconciliation"

	"go.uber.org/zap"
)

func printMismatch(m models.Mismatch, vault models.VaultConfig, symbol string, isLast bool) {
	fmt.Printf("%s%s (%s)\n", common.BoxPrefix(isLast), symbol, m.TokenMint)
	detail := common.BoxDetailPrefix(isLast)
	fmt.Printf("%s  ledger:     %s\n", detail, common.FormatAmount(m.LedgerTotal, vault.Decimals))
	fmt.Printf("%s  vaults:     %s\n", detail, common.FormatAmount(m.VaultTotal, vault.Decimals))
	fmt.Printf("%s  difference: %s\n", detail, common.FormatAmount(m.Difference, vault.Decimals))
	for _, v := range m.Vaults {
		fmt.Printf("%s    %-10s %s %s\n", detail, v.Role, v.Account, common.FormatAmount(v.Amount, vault.Decimals))
	}
}

func main() {
	ctx := context.Background()

	noFreezeFlag := flag.Bool("no-freeze", false, "Report mismatches without freezing the system")
	feesFlag := flag.Bool("include-fees", false, "Count collected fees as custodied vault funds")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		common.InitializeLogger("info")
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}
	if *noFreezeFlag {
		cfg.Reconciliation.FreezeOnMismatch = false
	}
	if *feesFlag {
		cfg.Reconciliation.IncludeFees = true
	}

	logger, loggerCleanup := common.InitializeLogger(cfg.LogLevel)
	defer loggerCleanup()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	vaults, err := common.LoadVaultConfig(cfg.Reconciliation.VaultsFile)
	if err != nil {
		logger.Fatal("Failed to load vault registry", zap.String("file", cfg.Reconciliation.VaultsFile), zap.Error(err))
	}
	client, err := common.NewChainClient(cfg.Rpc)
	if err != nil {
		logger.Fatal("Failed to create chain client", zap.Error(err))
	}
	notifier, notifierCleanup, err := common.NewNotifier(*cfg)
	if err != nil {
		logger.Fatal("Failed to create alert notifier", zap.Error(err))
	}
	defer notifierCleanup()

	engine := reconciliation.NewEngine(services.DbService, services.DbService, client, vaults, services.Freeze, notifier, cfg.Reconciliation)
	run, err := engine.RunReconciliation(ctx)
	if err != nil && !errors.Is(err, reconciliation.ErrReconciliationMismatch) {
		logger.Fatal("Reconciliation failed", zap.Error(err))
	}

	byMint := make(map[string]models.VaultConfig, len(vaults))
	for _, v := range vaults {
		byMint[v.TokenMint] = v
	}
	symbols := common.VaultSymbols(vaults)

	common.PrintHeader("VAULT RECONCILIATION", common.DefaultWidth)
	fmt.Printf("Run:    %s\n", run.Id)
	fmt.Printf("Assets: %d checked\n", run.TokensChecked)
	common.PrintCheck("Vaults match ledger", len(run.Mismatches) == 0, fmt.Sprintf("%d mismatches", run.MismatchesFound))
	for i, m := range run.Mismatches {
		symbol, ok := symbols[m.TokenMint]
		if !ok {
			symbol = "unregistered"
		}
		printMismatch(m, byMint[m.TokenMint], symbol, i == len(run.Mismatches)-1)
	}

	summary := "RECONCILED"
	if len(run.Mismatches) > 0 {
		summary = "MISMATCH DETECTED"
		if run.SystemFrozen {
			summary += ": system frozen, money movement halted"
		}
	}
	common.PrintFooter(summary, common.DefaultWidth)

	if len(run.Mismatches) > 0 {
		loggerCleanup()
		os.Exit(1)
	}
}
