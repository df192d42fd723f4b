package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDoubleEntryMismatch = errors.New("double-entry mismatch")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidTransaction  = errors.New("invalid transaction")
)

// InsufficientBalanceError carries the amounts behind a failed overdraft check.
type InsufficientBalanceError struct {
	UserId    string
	TokenMint string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for user %s asset %s: available %s, requested %s",
		e.UserId, e.TokenMint, e.Available.String(), e.Requested.String())
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// DoubleEntryMismatchError reports debit and credit totals that do not agree.
// TokenMint is empty when the global totals differ.
type DoubleEntryMismatchError struct {
	TransactionId string
	TokenMint     string
	Debits        decimal.Decimal
	Credits       decimal.Decimal
}

func (e *DoubleEntryMismatchError) Error() string {
	scope := "globally"
	if e.TokenMint != "" {
		scope = "for asset " + e.TokenMint
	}
	return fmt.Sprintf("transaction %s does not balance %s: debits %s, credits %s",
		e.TransactionId, scope, e.Debits.String(), e.Credits.String())
}

func (e *DoubleEntryMismatchError) Is(target error) bool {
	return target == ErrDoubleEntryMismatch
}
