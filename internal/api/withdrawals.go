package api

import (
	"context"

	"vault-ledger-go/internal/indexer"
	"vault-ledger-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestWithdrawal accepts a withdrawal: the user is debited now and the
// on-chain completion event later links the payout to this record.
func (s *Service) RequestWithdrawal(ctx context.Context, req models.WithdrawalRequest) (*models.WithdrawalResult, error) {
	if err := s.validate.StructCtx(ctx, req); err != nil {
		zap.L().Info("Rejected invalid withdrawal request",
			zap.String("user_id", req.UserId),
			zap.String("token_mint", req.TokenMint),
			zap.String("amount", req.Amount.String()),
			zap.Error(err))
		return failedWithdrawal(userError(err))
	}

	if err := s.freeze.CheckFrozen(ctx); err != nil {
		zap.L().Warn("Withdrawal refused while system is frozen",
			zap.String("user_id", req.UserId),
			zap.Error(err))
		return failedWithdrawal(userError(err))
	}

	s.spendMu.Lock()
	defer s.spendMu.Unlock()

	if err := s.ledger.VerifyBalance(ctx, req.UserId, req.TokenMint, req.Amount); err != nil {
		return failedWithdrawal(userError(err))
	}

	withdrawalId := uuid.New().String()
	txId := indexer.LedgerTransactionId(models.KindWithdrawal, withdrawalId)
	withdrawal := models.Withdrawal{
		Id:          withdrawalId,
		UserId:      req.UserId,
		TokenMint:   req.TokenMint,
		Amount:      req.Amount,
		Destination: req.Destination,
		Status:      models.RecordPending,
	}
	if err := s.records.CreateWithdrawal(ctx, withdrawal); err != nil {
		zap.L().Error("Failed to create withdrawal record",
			zap.String("user_id", req.UserId),
			zap.String("withdrawal_id", withdrawalId),
			zap.Error(err))
		return failedWithdrawal(userError(err))
	}

	if _, err := s.ledger.RecordFundedWithdrawal(ctx, req.UserId, req.TokenMint, req.Amount, txId); err != nil {
		zap.L().Error("Withdrawal posting failed",
			zap.String("user_id", req.UserId),
			zap.String("withdrawal_id", withdrawalId),
			zap.String("amount", req.Amount.String()),
			zap.Error(err))
		if statusErr := s.records.UpdateRecordStatus(ctx, models.KindWithdrawal, withdrawalId, models.RecordFailed); statusErr != nil {
			zap.L().Error("Failed to mark withdrawal failed",
				zap.String("withdrawal_id", withdrawalId),
				zap.Error(statusErr))
		}
		return failedWithdrawal(userError(err))
	}

	if err := s.records.LinkRecord(ctx, models.KindWithdrawal, withdrawalId, "", txId); err != nil {
		// the debit is posted; the completion event links it by id
		zap.L().Error("Failed to link withdrawal to its ledger transaction",
			zap.String("withdrawal_id", withdrawalId),
			zap.String("transaction_id", txId),
			zap.Error(err))
	}

	newBalance, err := s.ledger.GetUserBalance(ctx, req.UserId, req.TokenMint)
	if err != nil {
		zap.L().Error("Balance lookup failed after withdrawal", zap.String("user_id", req.UserId), zap.Error(err))
	}

	zap.L().Info("Withdrawal accepted",
		zap.String("user_id", req.UserId),
		zap.String("withdrawal_id", withdrawalId),
		zap.String("token_mint", req.TokenMint),
		zap.String("amount", req.Amount.String()),
		zap.String("new_balance", newBalance.String()))

	return &models.WithdrawalResult{
		Success:       true,
		WithdrawalId:  withdrawalId,
		TransactionId: txId,
		NewBalance:    newBalance,
	}, nil
}

func failedWithdrawal(err error) (*models.WithdrawalResult, error) {
	return &models.WithdrawalResult{Success: false, Error: err.Error()}, err
}
