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
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"vault-ledger-go/internal/common"
	"vault-ledger-go/internal/config"
	"vault-ledger-go/internal/finality"
	"vault-ledger-go/internal/indexer"
	"vault-ledger-go/internal/reconciliation"
	"vault-ledger-go/internal/reorg"

	"go.uber.org/zap"
)

type stopper interface {
	Stop()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		common.InitializeLogger("info")
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger(cfg.LogLevel)
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting vault ledger indexer")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	vaults, err := common.LoadVaultConfig(cfg.Reconciliation.VaultsFile)
	if err != nil {
		zap.L().Fatal("Failed to load vault registry", zap.String("file", cfg.Reconciliation.VaultsFile), zap.Error(err))
	}
	zap.L().Info("Loaded vault registry", zap.Int("assets", len(vaults)))

	client, err := common.NewChainClient(cfg.Rpc)
	if err != nil {
		zap.L().Fatal("Failed to create chain client", zap.Error(err))
	}

	notifier, notifierCleanup, err := common.NewNotifier(*cfg)
	if err != nil {
		zap.L().Fatal("Failed to create alert notifier", zap.Error(err))
	}
	defer notifierCleanup()

	db := services.DbService
	tracker := finality.NewTracker(client, cfg.Finality)
	compensator := reorg.NewCompensator(db, db, services.Ledger)
	promoter := finality.NewPromoter(db, tracker, client, cfg.Finality, compensator.CompensateDropped)
	detector := reorg.NewDetector(db, client, common.NewLocker(*cfg), compensator, cfg.Reorg)
	engine := reconciliation.NewEngine(db, db, client, vaults, services.Freeze, notifier, cfg.Reconciliation)

	handler := indexer.NewDomainHandler(db, services.Ledger, services.Freeze)
	processor := indexer.NewProcessor(db, tracker, handler)

	promoter.Start(ctx)
	detector.Start(ctx)
	engine.Start(ctx)
	jobs := []stopper{promoter, detector, engine}

	intakeDone := make(chan struct{})
	if cfg.Kafka.Brokers == "" {
		zap.L().Warn("KAFKA_BROKERS not set, event intake disabled; running background jobs only")
		close(intakeDone)
	} else {
		source := indexer.NewKafkaSource(cfg.Kafka, processor)
		go func() {
			defer close(intakeDone)
			if err := source.Run(ctx); err != nil {
				zap.L().Error("Event intake stopped", zap.Error(err))
			}
			if err := source.Close(); err != nil {
				zap.L().Warn("Failed to close Kafka reader", zap.Error(err))
			}
		}()
		zap.L().Info("Consuming program events",
			zap.String("topic", cfg.Kafka.EventsTopic),
			zap.String("group_id", cfg.Kafka.GroupId))
	}

	zap.L().Info("Indexer running")
	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping indexer...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, job := range jobs {
			wg.Add(1)
			go func(job stopper) {
				defer wg.Done()
				job.Stop()
			}(job)
		}
		wg.Wait()

		// intake stops on cancellation; the jobs above finish their current pass first
		cancel()
		<-intakeDone
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Indexer stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}
}
