package common

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vault-ledger-go/internal/database"
	"vault-ledger-go/internal/ledger"
	"vault-ledger-go/internal/lock"
	"vault-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const registry = `
vaults:
  - token_mint: EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v
    symbol: USDC
    decimals: 6
    deposit_vault: dep-usdc
    main_vault: main-usdc
    withdrawal_vault: wd-usdc
  - token_mint: XsDoVfqeBukxuZHWhdvWHBhgEHjGNst4MLodqsJHzoB
    decimals: 8
    deposit_vault: dep-tsla
    main_vault: main-tsla
    withdrawal_vault: wd-tsla
`

func TestParseVaultConfig(t *testing.T) {
	vaults, err := ParseVaultConfig([]byte(registry))
	require.NoError(t, err)
	require.Len(t, vaults, 2)
	assert.Equal(t, "main-usdc", vaults[0].MainVault)
	assert.Equal(t, int32(8), vaults[1].Decimals)

	symbols := VaultSymbols(vaults)
	assert.Equal(t, "USDC", symbols[vaults[0].TokenMint])
	assert.Equal(t, vaults[1].TokenMint, symbols[vaults[1].TokenMint])
}

func TestParseVaultConfig_Rejects(t *testing.T) {
	tests := map[string]string{
		"missing mint":    "vaults:\n  - deposit_vault: a\n    main_vault: b\n    withdrawal_vault: c\n",
		"missing vault":   "vaults:\n  - token_mint: M\n    deposit_vault: a\n    main_vault: b\n",
		"duplicate mint":  "vaults:\n  - {token_mint: M, deposit_vault: a, main_vault: b, withdrawal_vault: c}\n  - {token_mint: M, deposit_vault: d, main_vault: e, withdrawal_vault: f}\n",
		"malformed yaml":  "vaults: [",
		"wrong structure": "vaults: 5",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseVaultConfig([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoadVaultConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaults.yaml")
	require.NoError(t, os.WriteFile(path, []byte(registry), 0o600))

	vaults, err := LoadVaultConfig(path)
	require.NoError(t, err)
	assert.Len(t, vaults, 2)

	_, err = LoadVaultConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1.5", FormatAmount(decimal.NewFromInt(1500000), 6))
	assert.Equal(t, "42", FormatAmount(decimal.NewFromInt(42), 0))
	assert.Equal(t, "-0.01", FormatAmount(decimal.NewFromInt(-10000), 6))
}

func TestResolveUsers(t *testing.T) {
	ctx := context.Background()
	db, err := database.NewService(ctx, models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "common.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		PingTimeout:  time.Second,
	})
	require.NoError(t, err)
	defer db.Close()

	ledgerService := ledger.NewService(db)
	for i, user := range []string{"U2", "U1", "U2"} {
		_, err := ledgerService.RecordDeposit(ctx, user, "USDC", decimal.NewFromInt(1), fmt.Sprintf("seed:%d", i))
		require.NoError(t, err)
	}

	users, err := ResolveUsers(ctx, db, "", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"U1", "U2"}, users)

	users, err = ResolveUsers(ctx, db, "U9", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"U9"}, users)
}

func TestNewLocker_DefaultsToInProcess(t *testing.T) {
	locker := NewLocker(models.Config{})
	_, ok := locker.(*lock.LocalLocker)
	assert.True(t, ok)
}

func TestNewNotifier_LogOnly(t *testing.T) {
	notifier, cleanup, err := NewNotifier(models.Config{})
	require.NoError(t, err)
	defer cleanup()
	assert.Len(t, notifier, 1)
}

func TestInitializeLogger_ReplacesGlobal(t *testing.T) {
	previous := zap.L()
	defer zap.ReplaceGlobals(previous)

	logger, cleanup := InitializeLogger("info")
	defer cleanup()

	assert.Same(t, logger, zap.L())
	assert.True(t, zap.L().Core().Enabled(zap.InfoLevel))
	assert.False(t, zap.L().Core().Enabled(zap.DebugLevel))

	_, cleanup = InitializeLogger("not-a-level")
	defer cleanup()
	assert.True(t, zap.L().Core().Enabled(zap.InfoLevel))
}
