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
	"vault-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func parseAndValidateFlags() (*models.WithdrawalRequest, error) {
	userFlag := flag.String("user", "", "User id (required)")
	mintFlag := flag.String("mint", "", "Token mint (required)")
	amountFlag := flag.String("amount", "", "Amount to withdraw in base units (required)")
	destinationFlag := flag.String("destination", "", "Destination token account (required)")
	flag.Parse()

	if *userFlag == "" || *mintFlag == "" || *amountFlag == "" || *destinationFlag == "" {
		return nil, fmt.Errorf("all flags are required: --user, --mint, --amount, --destination")
	}

	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	return &models.WithdrawalRequest{
		UserId:      *userFlag,
		TokenMint:   *mintFlag,
		Amount:      amount,
		Destination: *destinationFlag,
	}, nil
}

func main() {
	ctx := context.Background()

	req, err := parseAndValidateFlags()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		flag.Usage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		common.InitializeLogger("info")
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	logger, loggerCleanup := common.InitializeLogger(cfg.LogLevel)
	defer loggerCleanup()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	result, err := services.Api.RequestWithdrawal(ctx, *req)
	if err != nil {
		fmt.Printf("\nWithdrawal rejected: %s\n\n", result.Error)
		return
	}

	fmt.Println("\nWithdrawal accepted")
	fmt.Printf("   Withdrawal ID:  %s\n", result.WithdrawalId)
	fmt.Printf("   Transaction ID: %s\n", result.TransactionId)
	fmt.Printf("   New balance:    %s\n\n", result.NewBalance.String())
	fmt.Println("The payout is linked when its WITHDRAWAL_COMPLETED event is indexed.")
}
