// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"fmt"
	"sync"

	"vault-ledger-go/internal/chain"

	"github.com/shopspring/decimal"
)

type Fake struct {
	mu       sync.Mutex
	slot     uint64
	statuses map[string]chain.SignatureStatus
	failing  map[string]error
	balances map[string]decimal.Decimal
	calls    map[string]int
}

func NewFake(slot uint64) *Fake {
	return &Fake{
		slot:     slot,
		statuses: map[string]chain.SignatureStatus{},
		failing:  map[string]error{},
		balances: map[string]decimal.Decimal{},
		calls:    map[string]int{},
	}
}

func (f *Fake) SetSlot(slot uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slot = slot
}

// SetStatus makes signature resolve with status. Found is forced true.
func (f *Fake) SetStatus(signature string, status chain.SignatureStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status.Found = true
	f.statuses[signature] = status
	delete(f.failing, signature)
}

// Drop makes signature stop resolving.
func (f *Fake) Drop(signature string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.statuses, signature)
}

// Fail makes lookups of signature (or a vault account) return err.
func (f *Fake) Fail(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[key] = err
}

func (f *Fake) SetBalance(account string, amount decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[account] = amount
}

// Calls reports how many status lookups signature received.
func (f *Fake) Calls(signature string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[signature]
}

func (f *Fake) GetSignatureStatus(_ context.Context, signature string) (chain.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[signature]++
	if err, ok := f.failing[signature]; ok {
		return chain.SignatureStatus{}, err
	}
	status, ok := f.statuses[signature]
	if !ok {
		return chain.SignatureStatus{Found: false}, nil
	}
	return status, nil
}

func (f *Fake) GetSlot(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slot, nil
}

func (f *Fake) GetTokenAccountBalance(_ context.Context, account string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failing[account]; ok {
		return decimal.Zero, err
	}
	balance, ok := f.balances[account]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: account %s not found", chain.ErrRpc, account)
	}
	return balance, nil
}

var _ chain.Client = (*Fake)(nil)
