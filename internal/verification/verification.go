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

// Package verification audits the ledger. Audits only read; they never repair.
package verification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"vault-ledger-go/internal/hashchain"
	"vault-ledger-go/internal/models"
	"vault-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultPageSize = 1000

// Breaks found by comparing entries with the hash index table.
const (
	HashIndexMissing  hashchain.BreakKind = "HASH_INDEX_MISSING"
	HashIndexMismatch hashchain.BreakKind = "HASH_INDEX_MISMATCH"
)

type HashChainResult struct {
	Valid          bool                `json:"valid"`
	EntriesChecked int                 `json:"entries_checked"`
	BrokenAt       int64               `json:"broken_at,omitempty"`
	Kind           hashchain.BreakKind `json:"kind,omitempty"`
	ExpectedHash   string              `json:"expected_hash,omitempty"`
	ActualHash     string              `json:"actual_hash,omitempty"`
}

// TransactionMismatch is a transaction whose debits and credits differ.
// TokenMint is empty for the global totals.
type TransactionMismatch struct {
	TransactionId string          `json:"transaction_id"`
	TokenMint     string          `json:"token_mint,omitempty"`
	Debits        decimal.Decimal `json:"debits"`
	Credits       decimal.Decimal `json:"credits"`
	Difference    decimal.Decimal `json:"difference"`
}

type DoubleEntryResult struct {
	Valid               bool                  `json:"valid"`
	TransactionsChecked int                   `json:"transactions_checked"`
	Mismatches          []TransactionMismatch `json:"mismatches,omitempty"`
}

// BalanceDiscrepancy is a materialized balance that disagrees with the ledger.
// Difference is materialized minus ledger.
type BalanceDiscrepancy struct {
	UserId       string          `json:"user_id"`
	TokenMint    string          `json:"token_mint"`
	Materialized decimal.Decimal `json:"materialized"`
	Ledger       decimal.Decimal `json:"ledger"`
	Difference   decimal.Decimal `json:"difference"`
}

type BalanceConsistencyResult struct {
	Valid           bool                 `json:"valid"`
	BalancesChecked int                  `json:"balances_checked"`
	Discrepancies   []BalanceDiscrepancy `json:"discrepancies,omitempty"`
}

type Report struct {
	HashChain          HashChainResult          `json:"hash_chain"`
	DoubleEntry        DoubleEntryResult        `json:"double_entry"`
	BalanceConsistency BalanceConsistencyResult `json:"balance_consistency"`
	Valid              bool                     `json:"valid"`
	CheckedAt          time.Time                `json:"checked_at"`
}

type Service struct {
	store    store.LedgerStore
	pageSize int
}

func NewService(s store.LedgerStore) *Service {
	return &Service{store: s, pageSize: defaultPageSize}
}

// forEachPage streams every entry in ascending id order.
func (s *Service) forEachPage(ctx context.Context, fn func([]models.LedgerEntry) error) error {
	var afterId int64
	for {
		page, err := s.store.ListEntries(ctx, afterId, s.pageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		afterId = page[len(page)-1].Id
		if len(page) < s.pageSize {
			return nil
		}
	}
}

// VerifyHashChain walks the whole chain and reports the first broken entry.
// Each entry must also agree with its row in the hash index.
func (s *Service) VerifyHashChain(ctx context.Context) (HashChainResult, error) {
	result := HashChainResult{Valid: true}
	var prev *models.LedgerEntry

	err := s.forEachPage(ctx, func(page []models.LedgerEntry) error {
		if err := hashchain.VerifyFrom(prev, page); err != nil {
			return err
		}
		if err := s.verifyHashLinks(ctx, page); err != nil {
			return err
		}
		result.EntriesChecked += len(page)
		last := page[len(page)-1]
		prev = &last
		return nil
	})

	var chainErr *hashchain.ChainError
	if errors.As(err, &chainErr) {
		result.Valid = false
		result.BrokenAt = chainErr.EntryId
		result.Kind = chainErr.Kind
		result.ExpectedHash = chainErr.Expected
		result.ActualHash = chainErr.Actual

		zap.L().Error("Hash chain integrity check failed",
			zap.Int64("entry_id", chainErr.EntryId),
			zap.String("kind", string(chainErr.Kind)),
			zap.String("expected", chainErr.Expected),
			zap.String("actual", chainErr.Actual))
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("failed to verify hash chain: %w", err)
	}
	return result, nil
}

// verifyHashLinks checks the hash index rows for a page of verified entries.
func (s *Service) verifyHashLinks(ctx context.Context, page []models.LedgerEntry) error {
	links, err := s.store.ListHashLinks(ctx, page[0].Id-1, len(page))
	if err != nil {
		return err
	}

	byId := make(map[int64]store.HashLink, len(links))
	for _, link := range links {
		byId[link.EntryId] = link
	}
	for _, entry := range page {
		link, ok := byId[entry.Id]
		switch {
		case !ok:
			return &hashchain.ChainError{EntryId: entry.Id, Kind: HashIndexMissing, Expected: entry.EntryHash}
		case link.EntryHash != entry.EntryHash:
			return &hashchain.ChainError{EntryId: entry.Id, Kind: HashIndexMismatch, Expected: entry.EntryHash, Actual: link.EntryHash}
		case link.PreviousHash != entry.PreviousHash:
			return &hashchain.ChainError{EntryId: entry.Id, Kind: HashIndexMismatch, Expected: entry.PreviousHash, Actual: link.PreviousHash}
		}
	}
	return nil
}

type sideSums struct {
	debits  decimal.Decimal
	credits decimal.Decimal
}

func (t *sideSums) add(entry models.LedgerEntry) {
	if entry.Side == models.SideDebit {
		t.debits = t.debits.Add(entry.Amount)
	} else {
		t.credits = t.credits.Add(entry.Amount)
	}
}

// VerifyDoubleEntry checks every transaction balances, globally and per asset.
func (s *Service) VerifyDoubleEntry(ctx context.Context) (DoubleEntryResult, error) {
	global := map[string]*sideSums{}
	perAsset := map[string]map[string]*sideSums{}

	err := s.forEachPage(ctx, func(page []models.LedgerEntry) error {
		for _, entry := range page {
			totals, ok := global[entry.TransactionId]
			if !ok {
				totals = &sideSums{debits: decimal.Zero, credits: decimal.Zero}
				global[entry.TransactionId] = totals
				perAsset[entry.TransactionId] = map[string]*sideSums{}
			}
			totals.add(entry)

			assetTotals, ok := perAsset[entry.TransactionId][entry.TokenMint]
			if !ok {
				assetTotals = &sideSums{debits: decimal.Zero, credits: decimal.Zero}
				perAsset[entry.TransactionId][entry.TokenMint] = assetTotals
			}
			assetTotals.add(entry)
		}
		return nil
	})
	if err != nil {
		return DoubleEntryResult{}, fmt.Errorf("failed to verify double entry: %w", err)
	}

	ids := make([]string, 0, len(global))
	for id := range global {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := DoubleEntryResult{Valid: true, TransactionsChecked: len(ids)}
	for _, id := range ids {
		if totals := global[id]; !totals.debits.Equal(totals.credits) {
			result.Mismatches = append(result.Mismatches, mismatch(id, "", totals))
		}

		mints := make([]string, 0, len(perAsset[id]))
		for mint := range perAsset[id] {
			mints = append(mints, mint)
		}
		sort.Strings(mints)
		for _, mint := range mints {
			if totals := perAsset[id][mint]; !totals.debits.Equal(totals.credits) {
				result.Mismatches = append(result.Mismatches, mismatch(id, mint, totals))
			}
		}
	}

	if len(result.Mismatches) > 0 {
		result.Valid = false
		zap.L().Error("Double-entry check failed",
			zap.Int("mismatches", len(result.Mismatches)),
			zap.String("first_transaction_id", result.Mismatches[0].TransactionId))
	}
	return result, nil
}

func mismatch(transactionId, mint string, totals *sideSums) TransactionMismatch {
	return TransactionMismatch{
		TransactionId: transactionId,
		TokenMint:     mint,
		Debits:        totals.debits,
		Credits:       totals.credits,
		Difference:    totals.debits.Sub(totals.credits).Abs(),
	}
}

// VerifyBalanceConsistency compares every materialized balance row with the ledger.
func (s *Service) VerifyBalanceConsistency(ctx context.Context) (BalanceConsistencyResult, error) {
	balances, err := s.store.ListAccountBalances(ctx)
	if err != nil {
		return BalanceConsistencyResult{}, fmt.Errorf("failed to list balances: %w", err)
	}

	result := BalanceConsistencyResult{Valid: true, BalancesChecked: len(balances)}
	for _, balance := range balances {
		totals, err := s.store.SumEntries(ctx, store.EntryFilter{
			UserId:       balance.UserId,
			TokenMint:    balance.Asset,
			AccountTypes: []models.AccountType{models.AccountAssetCash, models.AccountAssetStock},
		})
		if err != nil {
			return BalanceConsistencyResult{}, fmt.Errorf("failed to derive balance for user %s asset %s: %w",
				balance.UserId, balance.Asset, err)
		}

		derived := totals.Net()
		if !balance.Balance.Equal(derived) {
			result.Discrepancies = append(result.Discrepancies, BalanceDiscrepancy{
				UserId:       balance.UserId,
				TokenMint:    balance.Asset,
				Materialized: balance.Balance,
				Ledger:       derived,
				Difference:   balance.Balance.Sub(derived),
			})
		}
	}

	if len(result.Discrepancies) > 0 {
		result.Valid = false
		for _, d := range result.Discrepancies {
			zap.L().Error("Balance discrepancy",
				zap.String("user_id", d.UserId),
				zap.String("token_mint", d.TokenMint),
				zap.String("materialized", d.Materialized.String()),
				zap.String("ledger", d.Ledger.String()),
				zap.String("difference", d.Difference.String()))
		}
	}
	return result, nil
}

// RunAllChecks runs the three audits concurrently.
func (s *Service) RunAllChecks(ctx context.Context) (*Report, error) {
	report := &Report{CheckedAt: time.Now().UTC()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		report.HashChain, err = s.VerifyHashChain(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		report.DoubleEntry, err = s.VerifyDoubleEntry(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		report.BalanceConsistency, err = s.VerifyBalanceConsistency(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Valid = report.HashChain.Valid && report.DoubleEntry.Valid && report.BalanceConsistency.Valid

	zap.L().Info("Ledger verification completed",
		zap.Bool("valid", report.Valid),
		zap.Int("entries_checked", report.HashChain.EntriesChecked),
		zap.Int("transactions_checked", report.DoubleEntry.TransactionsChecked),
		zap.Int("balances_checked", report.BalanceConsistency.BalancesChecked))
	return report, nil
}
