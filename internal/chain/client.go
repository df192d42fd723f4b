// Package chain adapts the settlement layer's JSON-RPC interface to what the
// ledger core needs: signature status, current slot and vault balances.
package chain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrRpc = errors.New("rpc error")

type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// SignatureStatus is what the chain currently reports for a transaction signature.
// Found is false when the signature no longer resolves.
type SignatureStatus struct {
	Found         bool
	Slot          uint64
	Confirmations uint64
	Commitment    Commitment
	Failed        bool
}

type Client interface {
	GetSignatureStatus(ctx context.Context, signature string) (SignatureStatus, error)
	GetSlot(ctx context.Context) (uint64, error)
	// GetTokenAccountBalance returns the raw base-unit amount held by a token account.
	GetTokenAccountBalance(ctx context.Context, account string) (decimal.Decimal, error)
}
