package verification

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"vault-ledger-go/internal/database"
	"vault-ledger-go/internal/hashchain"
	"vault-ledger-go/internal/ledger"
	"vault-ledger-go/internal/models"
	"vault-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore serves a fixed set of entries and balances so tests can tamper with them.
type memoryStore struct {
	store.LedgerStore
	entries  []models.LedgerEntry
	balances []models.AccountBalance
	links    []store.HashLink
	listErr  error
}

func (m *memoryStore) ListHashLinks(_ context.Context, afterId int64, limit int) ([]store.HashLink, error) {
	var page []store.HashLink
	for _, l := range m.links {
		if l.EntryId > afterId && len(page) < limit {
			page = append(page, l)
		}
	}
	return page, nil
}

func (m *memoryStore) ListEntries(_ context.Context, afterId int64, limit int) ([]models.LedgerEntry, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var page []models.LedgerEntry
	for _, e := range m.entries {
		if e.Id > afterId && len(page) < limit {
			page = append(page, e)
		}
	}
	return page, nil
}

func (m *memoryStore) SumEntries(_ context.Context, filter store.EntryFilter) (store.SideTotals, error) {
	totals := store.SideTotals{Debits: decimal.Zero, Credits: decimal.Zero}
	for _, e := range m.entries {
		if filter.UserId != "" && e.UserId != filter.UserId {
			continue
		}
		if filter.TokenMint != "" && e.TokenMint != filter.TokenMint {
			continue
		}
		if len(filter.AccountTypes) > 0 && !slices.Contains(filter.AccountTypes, e.AccountType) {
			continue
		}
		if e.Side == models.SideDebit {
			totals.Debits = totals.Debits.Add(e.Amount)
		} else {
			totals.Credits = totals.Credits.Add(e.Amount)
		}
		totals.Count++
	}
	return totals, nil
}

func (m *memoryStore) ListAccountBalances(context.Context) ([]models.AccountBalance, error) {
	return m.balances, nil
}

func entry(id int64, txId string, side models.Side, account models.AccountType, mint string, amount int64) models.LedgerEntry {
	return models.LedgerEntry{
		Id:            id,
		EntryType:     models.EntryTypeDeposit,
		TransactionId: txId,
		UserId:        "U1",
		AccountType:   account,
		TokenMint:     mint,
		Amount:        decimal.NewFromInt(amount),
		Side:          side,
		Description:   "deposit",
		CreatedAt:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		CreatedBy:     "test",
	}
}

func cleanStore(t *testing.T) *memoryStore {
	t.Helper()
	entries := []models.LedgerEntry{
		entry(1, "dep-1", models.SideDebit, models.AccountAssetCash, "USDC", 100),
		entry(2, "dep-1", models.SideCredit, models.AccountEquityUser, "USDC", 100),
		entry(3, "dep-2", models.SideDebit, models.AccountAssetCash, "USDC", 50),
		entry(4, "dep-2", models.SideCredit, models.AccountEquityUser, "USDC", 50),
	}
	require.NoError(t, hashchain.Seal(entries, ""))
	links := make([]store.HashLink, len(entries))
	for i, e := range entries {
		links[i] = store.HashLink{EntryId: e.Id, PreviousHash: e.PreviousHash, EntryHash: e.EntryHash}
	}
	return &memoryStore{
		entries: entries,
		links:   links,
		balances: []models.AccountBalance{
			{UserId: "U1", Asset: "USDC", Balance: decimal.NewFromInt(150)},
		},
	}
}

func newTestService(s store.LedgerStore) *Service {
	svc := NewService(s)
	svc.pageSize = 3
	return svc
}

func TestRunAllChecks_Clean(t *testing.T) {
	svc := newTestService(cleanStore(t))

	report, err := svc.RunAllChecks(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 4, report.HashChain.EntriesChecked)
	assert.Equal(t, 2, report.DoubleEntry.TransactionsChecked)
	assert.Equal(t, 1, report.BalanceConsistency.BalancesChecked)
}

func TestVerifyHashChain_DetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(entries []models.LedgerEntry)
		id     int64
		kind   hashchain.BreakKind
	}{
		{"amount", func(e []models.LedgerEntry) { e[1].Amount = decimal.NewFromInt(101) }, 2, hashchain.EntryHashMismatch},
		{"description", func(e []models.LedgerEntry) { e[3].Description = "edited" }, 4, hashchain.EntryHashMismatch},
		{"previous hash", func(e []models.LedgerEntry) { e[2].PreviousHash = e[0].EntryHash }, 3, hashchain.PreviousHashMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := cleanStore(t)
			tt.tamper(s.entries)

			result, err := newTestService(s).VerifyHashChain(context.Background())
			require.NoError(t, err)
			assert.False(t, result.Valid)
			assert.Equal(t, tt.id, result.BrokenAt)
			assert.Equal(t, tt.kind, result.Kind)
			assert.NotEqual(t, result.ExpectedHash, result.ActualHash)
		})
	}
}

func TestVerifyHashChain_ChecksHashIndex(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(s *memoryStore)
		id     int64
		kind   hashchain.BreakKind
	}{
		{"missing row", func(s *memoryStore) { s.links = append(s.links[:2], s.links[3:]...) }, 3, HashIndexMissing},
		{"entry hash", func(s *memoryStore) { s.links[3].EntryHash = "ff" }, 4, HashIndexMismatch},
		{"previous hash", func(s *memoryStore) { s.links[1].PreviousHash = "" }, 2, HashIndexMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := cleanStore(t)
			tt.tamper(s)

			result, err := newTestService(s).VerifyHashChain(context.Background())
			require.NoError(t, err)
			assert.False(t, result.Valid)
			assert.Equal(t, tt.id, result.BrokenAt)
			assert.Equal(t, tt.kind, result.Kind)
		})
	}
}

func TestVerifyHashChain_StoreError(t *testing.T) {
	s := cleanStore(t)
	s.listErr = errors.New("disk on fire")

	_, err := newTestService(s).VerifyHashChain(context.Background())
	assert.Error(t, err)

	_, err = newTestService(s).RunAllChecks(context.Background())
	assert.Error(t, err)
}

func TestVerifyDoubleEntry_ReportsMismatches(t *testing.T) {
	s := cleanStore(t)
	s.entries[1].Amount = decimal.NewFromInt(90)
	s.entries = append(s.entries,
		entry(5, "swap-1", models.SideDebit, models.AccountAssetStock, "xxTSLA", 10),
		entry(6, "swap-1", models.SideCredit, models.AccountAssetCash, "USDC", 10),
	)

	result, err := newTestService(s).VerifyDoubleEntry(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, 3, result.TransactionsChecked)

	require.Len(t, result.Mismatches, 4)
	assert.Equal(t, "dep-1", result.Mismatches[0].TransactionId)
	assert.Equal(t, "", result.Mismatches[0].TokenMint)
	assert.Equal(t, "10", result.Mismatches[0].Difference.String())
	assert.Equal(t, "USDC", result.Mismatches[1].TokenMint)

	assert.Equal(t, "swap-1", result.Mismatches[2].TransactionId)
	assert.Equal(t, "USDC", result.Mismatches[2].TokenMint)
	assert.Equal(t, "10", result.Mismatches[2].Difference.String())
	assert.Equal(t, "xxTSLA", result.Mismatches[3].TokenMint)
}

func TestVerifyBalanceConsistency_SignedDifference(t *testing.T) {
	s := cleanStore(t)
	s.balances[0].Balance = decimal.NewFromInt(140)

	result, err := newTestService(s).VerifyBalanceConsistency(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.Len(t, result.Discrepancies, 1)

	d := result.Discrepancies[0]
	assert.Equal(t, "140", d.Materialized.String())
	assert.Equal(t, "150", d.Ledger.String())
	assert.Equal(t, "-10", d.Difference.String())
}

func TestRunAllChecks_PostedLedger(t *testing.T) {
	ctx := context.Background()
	db, err := database.NewService(ctx, models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		PingTimeout:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	ledgerSvc := ledger.NewService(db)
	_, err = ledgerSvc.RecordDeposit(ctx, "U1", "USDC", decimal.NewFromInt(1000), "dep-1")
	require.NoError(t, err)
	_, err = ledgerSvc.RecordTrade(ctx, ledger.TradeParams{
		UserId: "U1", Direction: models.TradeBuy, InputMint: "USDC", InputAmount: decimal.NewFromInt(400),
		OutputMint: "xxTSLA", OutputAmount: decimal.NewFromInt(2), Fee: decimal.NewFromInt(3), TransactionId: "trade-1",
	})
	require.NoError(t, err)
	_, err = ledgerSvc.RecordWithdrawal(ctx, "U1", "USDC", decimal.NewFromInt(100), "wd-1")
	require.NoError(t, err)

	report, err := newTestService(db).RunAllChecks(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid, "%+v", report)
	assert.Equal(t, 10, report.HashChain.EntriesChecked)
	assert.Equal(t, 3, report.DoubleEntry.TransactionsChecked)
	assert.Equal(t, 2, report.BalanceConsistency.BalancesChecked)
}

func TestVerifyHashChain_DetectsEditedHashIndex(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := database.NewService(ctx, models.DatabaseConfig{
		Path:         path,
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		PingTimeout:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = ledger.NewService(db).RecordDeposit(ctx, "U1", "USDC", decimal.NewFromInt(10), "dep-1")
	require.NoError(t, err)

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.ExecContext(ctx, `UPDATE hash_chain SET entry_hash = 'edited' WHERE entry_id = 2`)
	require.NoError(t, err)

	result, err := newTestService(db).VerifyHashChain(ctx)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, int64(2), result.BrokenAt)
	assert.Equal(t, HashIndexMismatch, result.Kind)
	assert.Equal(t, "edited", result.ActualHash)
}
