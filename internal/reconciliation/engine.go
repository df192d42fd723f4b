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

package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"vault-ledger-go/internal/alert"
	"vault-ledger-go/internal/chain"
	"vault-ledger-go/internal/freeze"
	"vault-ledger-go/internal/models"
	"vault-ledger-go/internal/money"
	"vault-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval = 5 * time.Minute

	// Actor is recorded on freezes set by a failed reconciliation.
	Actor = "reconciliation"

	vaultQueryConcurrency = 6
)

var ErrReconciliationMismatch = errors.New("reconciliation mismatch")

// MismatchError is returned by RunReconciliation when any asset is out of balance.
type MismatchError struct {
	Mismatches []models.Mismatch
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("reconciliation found %d mismatched asset(s)", len(e.Mismatches))
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrReconciliationMismatch
}

var liabilityAccounts = []models.AccountType{models.AccountAssetCash, models.AccountAssetStock}

// Engine compares ledger liabilities with the live balances of the custodial vaults.
type Engine struct {
	ledger           store.LedgerStore
	runs             store.ReconciliationStore
	client           chain.Client
	vaults           map[string]models.VaultConfig
	freeze           *freeze.Switch
	notifier         alert.Notifier
	freezeOnMismatch bool
	includeFees      bool
	interval         time.Duration

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewEngine(
	ledger store.LedgerStore,
	runs store.ReconciliationStore,
	client chain.Client,
	vaults []models.VaultConfig,
	freezeSwitch *freeze.Switch,
	notifier alert.Notifier,
	cfg models.ReconciliationConfig,
) *Engine {
	byMint := make(map[string]models.VaultConfig, len(vaults))
	for _, vault := range vaults {
		byMint[vault.TokenMint] = vault
	}
	if notifier == nil {
		notifier = alert.LogNotifier{}
	}

	e := &Engine{
		ledger:           ledger,
		runs:             runs,
		client:           client,
		vaults:           byMint,
		freeze:           freezeSwitch,
		notifier:         notifier,
		freezeOnMismatch: cfg.FreezeOnMismatch,
		includeFees:      cfg.IncludeFees,
		interval:         cfg.Interval,
		stopChan:         make(chan struct{}),
		doneChan:         make(chan struct{}),
	}
	if e.interval <= 0 {
		e.interval = DefaultInterval
	}
	return e
}

// RunReconciliation checks every asset in the ledger once. The returned error
// matches ErrReconciliationMismatch when any asset is out of balance; the run
// is returned either way.
func (e *Engine) RunReconciliation(ctx context.Context) (*models.ReconciliationRun, error) {
	run := &models.ReconciliationRun{
		Id:        uuid.New().String(),
		Status:    models.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := e.runs.CreateReconciliationRun(ctx, *run); err != nil {
		return nil, err
	}

	zap.L().Info("Starting reconciliation run", zap.String("run_id", run.Id))

	mismatches, checked, err := e.reconcile(ctx)
	run.TokensChecked = checked
	if err != nil {
		run.Status = models.RunFailed
		run.Error = err.Error()
		e.finish(ctx, run)
		zap.L().Error("Reconciliation run failed", zap.String("run_id", run.Id), zap.Error(err))
		return run, err
	}

	run.Mismatches = mismatches
	run.MismatchesFound = len(mismatches)
	run.Status = models.RunCompleted

	if len(mismatches) > 0 {
		e.onMismatch(ctx, run)
	}
	e.finish(ctx, run)

	zap.L().Info("Reconciliation run complete",
		zap.String("run_id", run.Id),
		zap.Int("tokens_checked", run.TokensChecked),
		zap.Int("mismatches", run.MismatchesFound),
		zap.Bool("system_frozen", run.SystemFrozen))

	if len(mismatches) > 0 {
		return run, &MismatchError{Mismatches: mismatches}
	}
	return run, nil
}

func (e *Engine) finish(ctx context.Context, run *models.ReconciliationRun) {
	completedAt := time.Now().UTC()
	run.CompletedAt = &completedAt
	// the run row must close even if the caller's context was cancelled
	if err := e.runs.FinishReconciliationRun(context.WithoutCancel(ctx), *run); err != nil {
		zap.L().Error("Failed to record reconciliation run", zap.String("run_id", run.Id), zap.Error(err))
	}
}

func (e *Engine) reconcile(ctx context.Context) ([]models.Mismatch, int, error) {
	mints, err := e.ledger.ListTokenMints(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list ledger assets: %w", err)
	}
	sort.Strings(mints)

	var mismatches []models.Mismatch
	for _, mint := range mints {
		ledgerTotal, err := e.ledgerTotal(ctx, mint)
		if err != nil {
			return nil, 0, err
		}

		vault, ok := e.vaults[mint]
		if !ok {
			// an asset with liabilities but no registered vault cannot be proven
			zap.L().Error("No vault registered for ledger asset", zap.String("token_mint", mint))
			if !ledgerTotal.IsZero() {
				mismatches = append(mismatches, models.Mismatch{
					TokenMint:   mint,
					LedgerTotal: ledgerTotal,
					VaultTotal:  decimal.Zero,
					Difference:  money.Sub(decimal.Zero, ledgerTotal),
				})
			}
			continue
		}

		balances, err := e.vaultBalances(ctx, vault)
		if err != nil {
			return nil, 0, err
		}
		vaultTotal := decimal.Zero
		for _, balance := range balances {
			vaultTotal = money.Add(vaultTotal, balance.Amount)
		}

		difference := money.Sub(vaultTotal, ledgerTotal)
		if difference.IsZero() {
			zap.L().Debug("Asset reconciled",
				zap.String("token_mint", mint),
				zap.String("total", ledgerTotal.String()))
			continue
		}

		zap.L().Error("Vault balance does not match ledger",
			zap.String("token_mint", mint),
			zap.String("ledger_total", ledgerTotal.String()),
			zap.String("vault_total", vaultTotal.String()),
			zap.String("difference", difference.String()))
		mismatches = append(mismatches, models.Mismatch{
			TokenMint:   mint,
			LedgerTotal: ledgerTotal,
			VaultTotal:  vaultTotal,
			Difference:  difference,
			Vaults:      balances,
		})
	}
	return mismatches, len(mints), nil
}

// ledgerTotal is what the platform owes holders of mint, plus accrued fees when configured.
func (e *Engine) ledgerTotal(ctx context.Context, mint string) (decimal.Decimal, error) {
	accounts := liabilityAccounts
	if e.includeFees {
		accounts = append([]models.AccountType{models.AccountRevenueFees}, liabilityAccounts...)
	}
	totals, err := e.ledger.SumEntries(ctx, store.EntryFilter{TokenMint: mint, AccountTypes: accounts})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum ledger for %s: %w", mint, err)
	}
	return totals.Net(), nil
}

func (e *Engine) vaultBalances(ctx context.Context, vault models.VaultConfig) ([]models.VaultBalance, error) {
	balances := []models.VaultBalance{
		{Role: "deposit", Account: vault.DepositVault},
		{Role: "main", Account: vault.MainVault},
		{Role: "withdrawal", Account: vault.WithdrawalVault},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(vaultQueryConcurrency)
	for i := range balances {
		g.Go(func() error {
			amount, err := e.client.GetTokenAccountBalance(gctx, balances[i].Account)
			if err != nil {
				return fmt.Errorf("failed to read %s vault %s for %s: %w",
					balances[i].Role, balances[i].Account, vault.TokenMint, err)
			}
			balances[i].Amount = amount
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return balances, nil
}

func (e *Engine) onMismatch(ctx context.Context, run *models.ReconciliationRun) {
	details := map[string]string{
		"run_id":     run.Id,
		"mismatches": fmt.Sprintf("%d", len(run.Mismatches)),
	}
	for _, m := range run.Mismatches {
		details[m.TokenMint] = m.Difference.String()
	}

	if e.freezeOnMismatch && e.freeze != nil {
		reason := fmt.Sprintf("reconciliation run %s found %d mismatched asset(s)", run.Id, len(run.Mismatches))
		if err := e.freeze.Freeze(ctx, reason, Actor); err != nil {
			zap.L().Error("Failed to freeze system after reconciliation mismatch",
				zap.String("run_id", run.Id),
				zap.Error(err))
		} else {
			run.SystemFrozen = true
		}
	}
	details["system_frozen"] = fmt.Sprintf("%t", run.SystemFrozen)

	err := e.notifier.Notify(ctx, alert.Alert{
		Kind:       "reconciliation_mismatch",
		Severity:   alert.SeverityCritical,
		Summary:    "Vault balances do not match ledger liabilities",
		Details:    details,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		zap.L().Error("Failed to dispatch reconciliation alert", zap.String("run_id", run.Id), zap.Error(err))
	}
}

func (e *Engine) Start(ctx context.Context) {
	zap.L().Info("Starting reconciliation scheduler",
		zap.Duration("interval", e.interval),
		zap.Int("vaults", len(e.vaults)),
		zap.Bool("freeze_on_mismatch", e.freezeOnMismatch))
	go e.loop(ctx)
}

func (e *Engine) Stop() {
	zap.L().Info("Stopping reconciliation scheduler")
	close(e.stopChan)
	<-e.doneChan
	zap.L().Info("Reconciliation scheduler stopped")
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.doneChan)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := e.RunReconciliation(ctx); err != nil && !errors.Is(err, ErrReconciliationMismatch) {
				zap.L().Error("Scheduled reconciliation failed", zap.Error(err))
			}
		case <-e.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}
