package main

import (
	"context"
	"flag"
	"fmt"

	"vault-ledger-go/internal/common"
	"vault-ledger-go/internal/config"
	"vault-ledger-go/internal/database"
	"vault-ledger-go/internal/freeze"

	"go.uber.org/zap"
)

func printStatus(ctx context.Context, switcher *freeze.Switch, db *database.Service, historyLimit int) error {
	state, err := switcher.State(ctx)
	if err != nil {
		return err
	}

	common.PrintHeader("SYSTEM FREEZE STATUS", common.DefaultWidth)
	if state.Frozen {
		fmt.Println("State:   FROZEN")
		fmt.Printf("Reason:  %s\n", state.Reason)
		fmt.Printf("Actor:   %s\n", state.Actor)
		fmt.Printf("Since:   %s\n", state.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	} else {
		fmt.Println("State:   operational")
	}

	audit, err := db.ListFreezeAudit(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(audit) == 0 {
		return nil
	}

	fmt.Println("\nHistory:")
	for i, event := range audit {
		fmt.Printf("%s%s %-8s by %s: %s\n",
			common.BoxPrefix(i == len(audit)-1),
			event.CreatedAt.Format("2006-01-02 15:04:05"),
			event.Action,
			event.Actor,
			event.Reason)
	}
	return nil
}

func main() {
	ctx := context.Background()

	statusFlag := flag.Bool("status", false, "Show the freeze state and recent history")
	freezeFlag := flag.Bool("freeze", false, "Halt all money movement")
	unfreezeFlag := flag.Bool("unfreeze", false, "Resume money movement")
	reasonFlag := flag.String("reason", "", "Reason recorded in the audit log (required for -freeze and -unfreeze)")
	actorFlag := flag.String("actor", "", "Operator recorded in the audit log (required for -freeze and -unfreeze)")
	historyFlag := flag.Int("history", 10, "Audit events shown with -status")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		common.InitializeLogger("info")
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	logger, loggerCleanup := common.InitializeLogger(cfg.LogLevel)
	defer loggerCleanup()

	if *freezeFlag && *unfreezeFlag {
		logger.Fatal("Use only one of -freeze and -unfreeze")
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	switch {
	case *freezeFlag:
		if err := services.Freeze.Freeze(ctx, *reasonFlag, *actorFlag); err != nil {
			logger.Fatal("Failed to freeze system", zap.Error(err))
		}
		fmt.Println("System frozen")
	case *unfreezeFlag:
		if err := services.Freeze.Unfreeze(ctx, *reasonFlag, *actorFlag); err != nil {
			logger.Fatal("Failed to unfreeze system", zap.Error(err))
		}
		fmt.Println("System unfrozen")
	case !*statusFlag:
		flag.Usage()
		return
	}

	if err := printStatus(ctx, services.Freeze, services.DbService, *historyFlag); err != nil {
		logger.Fatal("Failed to read freeze status", zap.Error(err))
	}
}
