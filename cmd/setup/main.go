package main

import (
	"context"
	"flag"
	"fmt"

	"vault-ledger-go/internal/common"
	"vault-ledger-go/internal/config"

	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	skipRpcFlag := flag.Bool("skip-rpc", false, "Do not contact the RPC node")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		common.InitializeLogger("info")
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	logger, loggerCleanup := common.InitializeLogger(cfg.LogLevel)
	defer loggerCleanup()

	common.PrintHeader("VAULT LEDGER SETUP", common.DefaultWidth)

	// opening the database applies pending migrations
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer services.Close()
	common.PrintCheck("Database", true, cfg.Database.Path)

	if err := services.Api.HealthCheck(ctx); err != nil {
		logger.Fatal("Health check failed", zap.Error(err))
	}
	state, err := services.Freeze.State(ctx)
	if err != nil {
		logger.Fatal("Failed to read system state", zap.Error(err))
	}
	stateDetail := "operational"
	if state.Frozen {
		stateDetail = "frozen: " + state.Reason
	}
	common.PrintCheck("System state", !state.Frozen, stateDetail)

	vaults, err := common.LoadVaultConfig(cfg.Reconciliation.VaultsFile)
	if err != nil {
		common.PrintCheck("Vault registry", false, err.Error())
		logger.Fatal("Invalid vault registry", zap.Error(err))
	}
	common.PrintCheck("Vault registry", true, fmt.Sprintf("%d assets in %s", len(vaults), cfg.Reconciliation.VaultsFile))
	symbols := common.VaultSymbols(vaults)
	for i, v := range vaults {
		isLast := i == len(vaults)-1
		fmt.Printf("%s%s (%s, %d decimals)\n", common.BoxPrefix(isLast), symbols[v.TokenMint], v.TokenMint, v.Decimals)
		detail := common.BoxDetailPrefix(isLast)
		fmt.Printf("%s  deposit:    %s\n", detail, v.DepositVault)
		fmt.Printf("%s  main:       %s\n", detail, v.MainVault)
		fmt.Printf("%s  withdrawal: %s\n", detail, v.WithdrawalVault)
	}

	if !*skipRpcFlag {
		client, err := common.NewChainClient(cfg.Rpc)
		if err != nil {
			common.PrintCheck("RPC node", false, err.Error())
		} else if slot, err := client.GetSlot(ctx); err != nil {
			common.PrintCheck("RPC node", false, err.Error())
		} else {
			common.PrintCheck("RPC node", true, fmt.Sprintf("%s at slot %d", cfg.Rpc.Url, slot))
		}
	}

	common.PrintFooter("Setup complete", common.DefaultWidth)
}
