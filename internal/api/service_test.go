package api

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vault-ledger-go/internal/database"
	"vault-ledger-go/internal/freeze"
	"vault-ledger-go/internal/ledger"
	"vault-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db      *database.Service
	ledger  *ledger.Service
	freeze  *freeze.Switch
	service *Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "api.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		PingTimeout:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	ledgerService := ledger.NewService(db)
	freezeSwitch := freeze.NewSwitch(db)
	return &fixture{
		db:      db,
		ledger:  ledgerService,
		freeze:  freezeSwitch,
		service: NewService(ledgerService, db, freezeSwitch),
	}
}

func (f *fixture) deposit(t *testing.T, userId, mint string, amount int64) {
	t.Helper()
	_, err := f.ledger.RecordDeposit(context.Background(), userId, mint, decimal.NewFromInt(amount), "seed:"+userId+":"+mint)
	require.NoError(t, err)
}

func withdrawal(amount string) models.WithdrawalRequest {
	return models.WithdrawalRequest{
		UserId:      "U1",
		TokenMint:   "USDC",
		Amount:      decimal.RequireFromString(amount),
		Destination: "dest-address",
	}
}

func TestRequestWithdrawal_DebitsAndRecords(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.deposit(t, "U1", "USDC", 100)

	result, err := f.service.RequestWithdrawal(ctx, withdrawal("40"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "60", result.NewBalance.String())
	assert.Equal(t, "withdrawal:"+result.WithdrawalId, result.TransactionId)

	stored, err := f.db.GetWithdrawal(ctx, result.WithdrawalId)
	require.NoError(t, err)
	assert.Equal(t, models.RecordPending, stored.Status)
	assert.Equal(t, result.TransactionId, stored.LedgerTransactionId)
	assert.Equal(t, "dest-address", stored.Destination)

	entries, err := f.ledger.GetTransaction(ctx, result.TransactionId)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestRequestWithdrawal_InsufficientFunds(t *testing.T) {
	f := setup(t)
	f.deposit(t, "U1", "USDC", 100)

	result, err := f.service.RequestWithdrawal(context.Background(), withdrawal("100.01"))
	require.ErrorIs(t, err, ErrUserInsufficientFunds)
	assert.False(t, result.Success)
	assert.Equal(t, ErrUserInsufficientFunds.Error(), result.Error)

	balance, err := f.service.GetUserBalance(context.Background(), "U1", "USDC")
	require.NoError(t, err)
	assert.Equal(t, "100", balance.String())
}

func TestRequestWithdrawal_InvalidRequests(t *testing.T) {
	f := setup(t)
	f.deposit(t, "U1", "USDC", 100)

	tests := []struct {
		name   string
		mutate func(*models.WithdrawalRequest)
	}{
		{"zero amount", func(r *models.WithdrawalRequest) { r.Amount = decimal.Zero }},
		{"negative amount", func(r *models.WithdrawalRequest) { r.Amount = decimal.NewFromInt(-5) }},
		{"missing user", func(r *models.WithdrawalRequest) { r.UserId = "" }},
		{"missing mint", func(r *models.WithdrawalRequest) { r.TokenMint = "" }},
		{"missing destination", func(r *models.WithdrawalRequest) { r.Destination = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := withdrawal("1")
			tt.mutate(&req)
			result, err := f.service.RequestWithdrawal(context.Background(), req)
			require.ErrorIs(t, err, ErrUserInvalidRequest)
			assert.False(t, result.Success)
		})
	}
}

func TestRequestWithdrawal_RefusedWhileFrozen(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.deposit(t, "U1", "USDC", 100)
	require.NoError(t, f.freeze.Freeze(ctx, "reconciliation mismatch", "ops"))

	result, err := f.service.RequestWithdrawal(ctx, withdrawal("1"))
	require.ErrorIs(t, err, ErrUserSystemUnavailable)
	assert.NotContains(t, result.Error, "reconciliation", "internal reasons are not exposed")

	balance, err := f.ledger.GetUserBalance(ctx, "U1", "USDC")
	require.NoError(t, err)
	assert.Equal(t, "100", balance.String())

	require.NoError(t, f.freeze.Unfreeze(ctx, "resolved", "ops"))
	_, err = f.service.RequestWithdrawal(ctx, withdrawal("1"))
	require.NoError(t, err)
}

func TestAuthorizeTrade(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.deposit(t, "U1", "USDC", 100)
	f.deposit(t, "U1", "xxTSLA", 2)

	buy := func(input, fee string) models.TradeRequest {
		return models.TradeRequest{
			UserId:       "U1",
			Direction:    models.TradeBuy,
			InputMint:    "USDC",
			InputAmount:  decimal.RequireFromString(input),
			OutputMint:   "xxTSLA",
			OutputAmount: decimal.NewFromInt(1),
			Fee:          decimal.RequireFromString(fee),
		}
	}

	tests := []struct {
		name string
		req  models.TradeRequest
		want error
	}{
		{"buy within balance", buy("99", "1"), nil},
		{"fee pushes buy over balance", buy("100", "0.5"), ErrUserInsufficientFunds},
		{"sell pays fee from proceeds", models.TradeRequest{
			UserId: "U1", Direction: models.TradeSell, InputMint: "xxTSLA", InputAmount: decimal.NewFromInt(2),
			OutputMint: "USDC", OutputAmount: decimal.NewFromInt(500), Fee: decimal.NewFromInt(150),
		}, nil},
		{"sell more than held", models.TradeRequest{
			UserId: "U1", Direction: models.TradeSell, InputMint: "xxTSLA", InputAmount: decimal.NewFromInt(3),
			OutputMint: "USDC", OutputAmount: decimal.NewFromInt(500),
		}, ErrUserInsufficientFunds},
		{"fee in a third asset", func() models.TradeRequest {
			r := buy("10", "1")
			r.FeeMint = "FEE"
			return r
		}(), ErrUserInsufficientFunds},
		{"unknown direction", func() models.TradeRequest {
			r := buy("10", "0")
			r.Direction = "HOLD"
			return r
		}(), ErrUserInvalidRequest},
		{"same asset both sides", func() models.TradeRequest {
			r := buy("10", "0")
			r.OutputMint = "USDC"
			return r
		}(), ErrUserInvalidRequest},
		{"negative fee", buy("10", "-1"), ErrUserInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.service.AuthorizeTrade(ctx, tt.req)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}

	head, err := f.db.GetChainHead(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), head.LastEntryId, "authorization posts nothing")
}

func TestAuthorizeTrade_RefusedWhileFrozen(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.deposit(t, "U1", "USDC", 100)
	require.NoError(t, f.freeze.Freeze(ctx, "program paused", "indexer"))

	err := f.service.AuthorizeTrade(ctx, models.TradeRequest{
		UserId: "U1", Direction: models.TradeBuy, InputMint: "USDC", InputAmount: decimal.NewFromInt(1),
		OutputMint: "xxTSLA", OutputAmount: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, ErrUserSystemUnavailable)
}

func TestGetUserBalances_OmitsZeroBalances(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.deposit(t, "U1", "USDC", 10)
	f.deposit(t, "U1", "xxTSLA", 3)

	_, err := f.service.RequestWithdrawal(ctx, withdrawal("10"))
	require.NoError(t, err)

	balances, err := f.service.GetUserBalances(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "xxTSLA", balances[0].TokenMint)
	assert.Equal(t, "3", balances[0].Balance.String())

	_, err = f.service.GetUserBalances(ctx, "")
	assert.ErrorIs(t, err, ErrUserInvalidRequest)
	_, err = f.service.GetUserBalance(ctx, "U1", "")
	assert.ErrorIs(t, err, ErrUserInvalidRequest)
}

func TestHealthCheck(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.service.HealthCheck(context.Background()))

	require.NoError(t, f.freeze.Freeze(context.Background(), "drill", "ops"))
	assert.NoError(t, f.service.HealthCheck(context.Background()), "a frozen system is still healthy")

	f.db.Close()
	assert.Error(t, f.service.HealthCheck(context.Background()))
}
