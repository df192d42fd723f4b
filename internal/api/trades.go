package api

import (
	"context"

	"vault-ledger-go/internal/ledger"
	"vault-ledger-go/internal/models"

	"go.uber.org/zap"
)

// AuthorizeTrade checks that a swap may be submitted on-chain. It posts
// nothing; the SWAP_EXECUTED event does.
func (s *Service) AuthorizeTrade(ctx context.Context, req models.TradeRequest) error {
	if err := s.validate.StructCtx(ctx, req); err != nil {
		zap.L().Info("Rejected invalid trade request",
			zap.String("user_id", req.UserId),
			zap.String("input_mint", req.InputMint),
			zap.Error(err))
		return userError(err)
	}
	if req.InputMint == req.OutputMint {
		return ErrUserInvalidRequest
	}

	if err := s.freeze.CheckFrozen(ctx); err != nil {
		zap.L().Warn("Trade refused while system is frozen",
			zap.String("user_id", req.UserId),
			zap.Error(err))
		return userError(err)
	}

	params := ledger.TradeParams{Direction: req.Direction, InputMint: req.InputMint, OutputMint: req.OutputMint, FeeMint: req.FeeMint}
	feeMint := params.FeeMintOrDefault()

	inputRequired := req.InputAmount
	if feeMint == req.InputMint {
		inputRequired = inputRequired.Add(req.Fee)
	}
	if err := s.ledger.VerifyBalance(ctx, req.UserId, req.InputMint, inputRequired); err != nil {
		return userError(err)
	}
	// a fee in the output asset is paid out of the proceeds
	if feeMint != req.InputMint && feeMint != req.OutputMint && req.Fee.IsPositive() {
		if err := s.ledger.VerifyBalance(ctx, req.UserId, feeMint, req.Fee); err != nil {
			return userError(err)
		}
	}

	zap.L().Debug("Trade authorized",
		zap.String("user_id", req.UserId),
		zap.String("direction", string(req.Direction)),
		zap.String("input_mint", req.InputMint),
		zap.String("input_amount", req.InputAmount.String()),
		zap.String("fee", req.Fee.String()),
		zap.String("fee_mint", feeMint))
	return nil
}
