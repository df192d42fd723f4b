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

package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"vault-ledger-go/internal/models"
	"vault-ledger-go/internal/money"
	"vault-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	ServiceActor      = "ledger-service"
	CompensationActor = "reorg-compensator"

	MetadataReversalOf = "reversal_of"
)

// spendableAccounts are the accounts that make up a user's balance of an asset.
var spendableAccounts = []models.AccountType{models.AccountAssetCash, models.AccountAssetStock}

// Service is the only writer of ledger entries.
type Service struct {
	store store.LedgerStore
}

func NewService(s store.LedgerStore) *Service {
	return &Service{store: s}
}

// Result is what a posted transaction produced.
type Result struct {
	TransactionId string
	Entries       []models.LedgerEntry
}

func (r *Result) EntryIds() []int64 {
	ids := make([]int64, len(r.Entries))
	for i, entry := range r.Entries {
		ids[i] = entry.Id
	}
	return ids
}

// TradeParams describes an executed swap.
// An empty FeeMint means the fee is charged in the cash side of the trade.
type TradeParams struct {
	UserId        string
	Direction     models.TradeDirection
	InputMint     string
	InputAmount   decimal.Decimal
	OutputMint    string
	OutputAmount  decimal.Decimal
	Fee           decimal.Decimal
	FeeMint       string
	TransactionId string
}

// FeeMintOrDefault is the asset the fee is charged in.
func (p TradeParams) FeeMintOrDefault() string {
	if p.FeeMint != "" {
		return p.FeeMint
	}
	if p.Direction == models.TradeSell {
		return p.OutputMint
	}
	return p.InputMint
}

// CreateTransaction validates tx and posts it atomically.
func (s *Service) CreateTransaction(ctx context.Context, tx models.DoubleEntryTransaction) (*Result, error) {
	if err := validate(tx); err != nil {
		zap.L().Error("Rejected ledger transaction",
			zap.String("transaction_id", tx.TransactionId),
			zap.String("entry_type", string(tx.EntryType)),
			zap.Error(err))
		return nil, err
	}

	if tx.CreatedBy == "" {
		tx.CreatedBy = models.ActorFromContext(ctx, ServiceActor)
	}

	entries, err := s.store.AppendTransaction(ctx, tx)
	if err != nil {
		if errors.Is(err, store.ErrBalanceWouldGoNegative) {
			return nil, fmt.Errorf("%w: %w", ErrInsufficientBalance, err)
		}
		return nil, fmt.Errorf("failed to post transaction %s: %w", tx.TransactionId, err)
	}

	return &Result{TransactionId: tx.TransactionId, Entries: entries}, nil
}

func validate(tx models.DoubleEntryTransaction) error {
	if tx.TransactionId == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidTransaction)
	}
	if len(tx.Entries) == 0 {
		return fmt.Errorf("%w: transaction %s has no entries", ErrInvalidTransaction, tx.TransactionId)
	}

	debits, credits := decimal.Zero, decimal.Zero
	type sideTotals struct{ debits, credits decimal.Decimal }
	perAsset := map[string]*sideTotals{}

	for i, entry := range tx.Entries {
		if !entry.Amount.IsPositive() {
			return fmt.Errorf("%w: entry %d of %s has amount %s", ErrInvalidAmount, i, tx.TransactionId, entry.Amount.String())
		}
		if entry.AccountType == models.AccountEquityUser || entry.AccountType.IsUserAsset() {
			if entry.UserId == "" {
				return fmt.Errorf("%w: entry %d of %s on %s has no user", ErrInvalidTransaction, i, tx.TransactionId, entry.AccountType)
			}
		}

		totals, ok := perAsset[entry.TokenMint]
		if !ok {
			totals = &sideTotals{debits: decimal.Zero, credits: decimal.Zero}
			perAsset[entry.TokenMint] = totals
		}

		switch entry.Side {
		case models.SideDebit:
			debits = money.Add(debits, entry.Amount)
			totals.debits = money.Add(totals.debits, entry.Amount)
		case models.SideCredit:
			credits = money.Add(credits, entry.Amount)
			totals.credits = money.Add(totals.credits, entry.Amount)
		default:
			return fmt.Errorf("%w: entry %d of %s has side %q", ErrInvalidTransaction, i, tx.TransactionId, entry.Side)
		}
	}

	if money.Cmp(debits, credits) != 0 {
		return &DoubleEntryMismatchError{TransactionId: tx.TransactionId, Debits: debits, Credits: credits}
	}

	mints := make([]string, 0, len(perAsset))
	for mint := range perAsset {
		mints = append(mints, mint)
	}
	sort.Strings(mints)
	for _, mint := range mints {
		totals := perAsset[mint]
		if money.Cmp(totals.debits, totals.credits) != 0 {
			return &DoubleEntryMismatchError{
				TransactionId: tx.TransactionId,
				TokenMint:     mint,
				Debits:        totals.debits,
				Credits:       totals.credits,
			}
		}
	}
	return nil
}

func depositLegs(userId, tokenMint string, amount decimal.Decimal) []models.EntrySpec {
	return []models.EntrySpec{
		{Side: models.SideDebit, AccountType: models.AccountAssetCash, TokenMint: tokenMint, Amount: amount, UserId: userId},
		{Side: models.SideCredit, AccountType: models.AccountEquityUser, TokenMint: tokenMint, Amount: amount, UserId: userId},
	}
}

func withdrawalLegs(userId, tokenMint string, amount decimal.Decimal) []models.EntrySpec {
	return []models.EntrySpec{
		{Side: models.SideDebit, AccountType: models.AccountEquityUser, TokenMint: tokenMint, Amount: amount, UserId: userId},
		{Side: models.SideCredit, AccountType: models.AccountAssetCash, TokenMint: tokenMint, Amount: amount, UserId: userId},
	}
}

// tradeLegs books the acquired asset and the spent asset, each with an equity
// mirror so the transaction balances per asset. A swap is therefore four
// entries, not two, plus two more when the fee is positive.
func tradeLegs(p TradeParams) ([]models.EntrySpec, error) {
	var received, spent models.AccountType
	switch p.Direction {
	case models.TradeBuy:
		received, spent = models.AccountAssetStock, models.AccountAssetCash
	case models.TradeSell:
		received, spent = models.AccountAssetCash, models.AccountAssetStock
	default:
		return nil, fmt.Errorf("%w: unknown trade direction %q", ErrInvalidTransaction, p.Direction)
	}

	legs := []models.EntrySpec{
		{Side: models.SideDebit, AccountType: received, TokenMint: p.OutputMint, Amount: p.OutputAmount, UserId: p.UserId},
		{Side: models.SideCredit, AccountType: models.AccountEquityUser, TokenMint: p.OutputMint, Amount: p.OutputAmount, UserId: p.UserId},
		{Side: models.SideDebit, AccountType: models.AccountEquityUser, TokenMint: p.InputMint, Amount: p.InputAmount, UserId: p.UserId},
		{Side: models.SideCredit, AccountType: spent, TokenMint: p.InputMint, Amount: p.InputAmount, UserId: p.UserId},
	}

	if p.Fee.IsNegative() {
		return nil, fmt.Errorf("%w: negative fee %s", ErrInvalidAmount, p.Fee.String())
	}
	if p.Fee.IsPositive() {
		feeMint := p.FeeMintOrDefault()
		legs = append(legs,
			models.EntrySpec{EntryType: models.EntryTypeFee, Side: models.SideDebit, AccountType: models.AccountRevenueFees,
				TokenMint: feeMint, Amount: p.Fee},
			models.EntrySpec{EntryType: models.EntryTypeFee, Side: models.SideCredit, AccountType: models.AccountAssetCash,
				TokenMint: feeMint, Amount: p.Fee, UserId: p.UserId},
		)
	}
	return legs, nil
}

// RecordDeposit credits a confirmed deposit to the user.
func (s *Service) RecordDeposit(ctx context.Context, userId, tokenMint string, amount decimal.Decimal, transactionId string) (*Result, error) {
	result, err := s.CreateTransaction(ctx, models.DoubleEntryTransaction{
		TransactionId: transactionId,
		EntryType:     models.EntryTypeDeposit,
		Description:   fmt.Sprintf("Deposit of %s %s", amount.String(), tokenMint),
		Entries:       depositLegs(userId, tokenMint, amount),
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Deposit recorded",
		zap.String("user_id", userId),
		zap.String("token_mint", tokenMint),
		zap.String("amount", amount.String()),
		zap.String("transaction_id", transactionId))
	return result, nil
}

// RecordTrade books an executed swap and its fee: four asset and equity
// entries, and two fee entries when Fee is positive.
func (s *Service) RecordTrade(ctx context.Context, p TradeParams) (*Result, error) {
	legs, err := tradeLegs(p)
	if err != nil {
		return nil, err
	}

	result, err := s.CreateTransaction(ctx, models.DoubleEntryTransaction{
		TransactionId: p.TransactionId,
		EntryType:     models.EntryTypeTrade,
		Description: fmt.Sprintf("%s %s %s for %s %s", p.Direction, p.OutputAmount.String(), p.OutputMint,
			p.InputAmount.String(), p.InputMint),
		Metadata: map[string]string{"direction": string(p.Direction)},
		Entries:  legs,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Trade recorded",
		zap.String("user_id", p.UserId),
		zap.String("direction", string(p.Direction)),
		zap.String("input_mint", p.InputMint),
		zap.String("input_amount", p.InputAmount.String()),
		zap.String("output_mint", p.OutputMint),
		zap.String("output_amount", p.OutputAmount.String()),
		zap.String("fee", p.Fee.String()),
		zap.String("transaction_id", p.TransactionId))
	return result, nil
}

// RecordWithdrawal debits the user for a withdrawal that already left a vault.
// It does not check funds.
func (s *Service) RecordWithdrawal(ctx context.Context, userId, tokenMint string, amount decimal.Decimal, transactionId string) (*Result, error) {
	return s.recordWithdrawal(ctx, userId, tokenMint, amount, transactionId, false)
}

// RecordFundedWithdrawal debits the user only if the balance covers the amount
// at the moment of posting, even with other writers on the same database.
func (s *Service) RecordFundedWithdrawal(ctx context.Context, userId, tokenMint string, amount decimal.Decimal, transactionId string) (*Result, error) {
	return s.recordWithdrawal(ctx, userId, tokenMint, amount, transactionId, true)
}

func (s *Service) recordWithdrawal(ctx context.Context, userId, tokenMint string, amount decimal.Decimal, transactionId string, requireFunds bool) (*Result, error) {
	result, err := s.CreateTransaction(ctx, models.DoubleEntryTransaction{
		TransactionId: transactionId,
		EntryType:     models.EntryTypeWithdrawal,
		Description:   fmt.Sprintf("Withdrawal of %s %s", amount.String(), tokenMint),
		Entries:       withdrawalLegs(userId, tokenMint, amount),
		RequireFunds:  requireFunds,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Withdrawal recorded",
		zap.String("user_id", userId),
		zap.String("token_mint", tokenMint),
		zap.String("amount", amount.String()),
		zap.String("transaction_id", transactionId))
	return result, nil
}

// ReverseDeposit posts the mirror image of RecordDeposit under compensationId.
func (s *Service) ReverseDeposit(ctx context.Context, userId, tokenMint string, amount decimal.Decimal, originalId, compensationId string) (*Result, error) {
	return s.reverse(ctx, "deposit", depositLegs(userId, tokenMint, amount), originalId, compensationId)
}

// ReverseTrade posts the mirror image of RecordTrade, fee included, under compensationId.
func (s *Service) ReverseTrade(ctx context.Context, p TradeParams, compensationId string) (*Result, error) {
	legs, err := tradeLegs(p)
	if err != nil {
		return nil, err
	}
	return s.reverse(ctx, "trade", legs, p.TransactionId, compensationId)
}

// ReverseWithdrawal posts the mirror image of RecordWithdrawal under compensationId.
func (s *Service) ReverseWithdrawal(ctx context.Context, userId, tokenMint string, amount decimal.Decimal, originalId, compensationId string) (*Result, error) {
	return s.reverse(ctx, "withdrawal", withdrawalLegs(userId, tokenMint, amount), originalId, compensationId)
}

func (s *Service) reverse(ctx context.Context, kind string, legs []models.EntrySpec, originalId, compensationId string) (*Result, error) {
	flipped := make([]models.EntrySpec, len(legs))
	for i, leg := range legs {
		leg.Side = leg.Side.Flip()
		leg.EntryType = ""
		flipped[i] = leg
	}

	result, err := s.CreateTransaction(ctx, models.DoubleEntryTransaction{
		TransactionId: compensationId,
		EntryType:     models.EntryTypeAdjustment,
		Description:   fmt.Sprintf("Reversal of %s %s", kind, originalId),
		CreatedBy:     CompensationActor,
		Metadata:      map[string]string{MetadataReversalOf: originalId},
		Entries:       flipped,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("Ledger reversal posted",
		zap.String("kind", kind),
		zap.String("original_transaction_id", originalId),
		zap.String("transaction_id", compensationId))
	return result, nil
}

// GetUserBalance derives the balance from ledger entries, not the materialized table.
func (s *Service) GetUserBalance(ctx context.Context, userId, tokenMint string) (decimal.Decimal, error) {
	totals, err := s.store.SumEntries(ctx, store.EntryFilter{
		UserId:       userId,
		TokenMint:    tokenMint,
		AccountTypes: spendableAccounts,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute balance for user %s asset %s: %w", userId, tokenMint, err)
	}
	return totals.Net(), nil
}

// GetUserBalances returns the ledger-derived balance of every asset the user has touched.
func (s *Service) GetUserBalances(ctx context.Context, userId string) ([]models.UserBalance, error) {
	mints, err := s.store.ListUserTokenMints(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets for user %s: %w", userId, err)
	}

	balances := make([]models.UserBalance, 0, len(mints))
	for _, mint := range mints {
		balance, err := s.GetUserBalance(ctx, userId, mint)
		if err != nil {
			return nil, err
		}
		balances = append(balances, models.UserBalance{TokenMint: mint, Balance: balance})
	}
	return balances, nil
}

// VerifyBalance is the overdraft gate every spend must pass first.
func (s *Service) VerifyBalance(ctx context.Context, userId, tokenMint string, required decimal.Decimal) error {
	available, err := s.GetUserBalance(ctx, userId, tokenMint)
	if err != nil {
		return err
	}
	if available.LessThan(required) {
		zap.L().Info("Insufficient balance",
			zap.String("user_id", userId),
			zap.String("token_mint", tokenMint),
			zap.String("available", available.String()),
			zap.String("requested", required.String()))
		return &InsufficientBalanceError{
			UserId:    userId,
			TokenMint: tokenMint,
			Available: available,
			Requested: required,
		}
	}
	return nil
}

func (s *Service) GetTransaction(ctx context.Context, transactionId string) ([]models.LedgerEntry, error) {
	entries, err := s.store.GetTransactionEntries(ctx, transactionId)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("transaction %s: %w", transactionId, store.ErrNotFound)
	}
	return entries, nil
}

func (s *Service) ListAssets(ctx context.Context) ([]string, error) {
	return s.store.ListTokenMints(ctx)
}

// IsDuplicate reports whether err means the transaction id was already posted.
func IsDuplicate(err error) bool {
	return errors.Is(err, store.ErrDuplicateTransaction)
}
