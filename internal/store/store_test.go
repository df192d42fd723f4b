package store

import (
	"errors"
	"fmt"
	"testing"

	"vault-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

func TestSideTotalsNet(t *testing.T) {
	totals := SideTotals{Debits: decimal.NewFromInt(1500), Credits: decimal.NewFromInt(500)}
	if got := totals.Net(); !got.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("Expected net 1000, got %s", got.String())
	}
}

func TestEventRecordsLen(t *testing.T) {
	records := EventRecords{
		Deposits:    []models.Deposit{{Id: "d1"}},
		Trades:      []models.Trade{{Id: "t1"}, {Id: "t2"}},
		Withdrawals: nil,
	}
	if records.Len() != 3 {
		t.Errorf("Expected 3 records, got %d", records.Len())
	}
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("insert failed: %w", ErrDuplicateTransaction)
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Errorf("Expected wrapped duplicate transaction error, got: %v", err)
	}
	if errors.Is(err, ErrConcurrentModification) {
		t.Errorf("Did not expect concurrent modification match")
	}
}
