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

package api

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"vault-ledger-go/internal/freeze"
	"vault-ledger-go/internal/ledger"
	"vault-ledger-go/internal/models"
	"vault-ledger-go/internal/store"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Errors returned to users. Internal detail stays in the logs.
var (
	ErrUserInsufficientFunds = errors.New("insufficient funds")
	ErrUserSystemUnavailable = errors.New("system temporarily unavailable")
	ErrUserInvalidRequest    = errors.New("invalid request")
)

// Service is the money-movement entry point used by user-facing callers
type Service struct {
	ledger   *ledger.Service
	records  store.RecordStore
	freeze   *freeze.Switch
	validate *validator.Validate

	// balance check and debit must not interleave
	spendMu sync.Mutex
}

func NewService(ledgerService *ledger.Service, records store.RecordStore, freezeSwitch *freeze.Switch) *Service {
	return &Service{
		ledger:   ledgerService,
		records:  records,
		freeze:   freezeSwitch,
		validate: models.NewValidator(),
	}
}

// HealthCheck reads the system state row, which exercises the database.
func (s *Service) HealthCheck(ctx context.Context) error {
	state, err := s.freeze.State(ctx)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	if state.Frozen {
		zap.L().Warn("Health check: system is frozen",
			zap.String("reason", state.Reason),
			zap.String("actor", state.Actor))
	}
	return nil
}

// userError maps an internal failure onto the coarse category a user sees.
func userError(err error) error {
	var validationErrs validator.ValidationErrors
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return ErrUserInsufficientFunds
	case errors.As(err, &validationErrs),
		errors.Is(err, ErrUserInvalidRequest),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidTransaction):
		return ErrUserInvalidRequest
	default:
		return ErrUserSystemUnavailable
	}
}
