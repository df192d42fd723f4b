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

// Package hashchain seals ledger entries into a SHA-256 chain and verifies it.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vault-ledger-go/internal/models"
)

// TimeFormat is the canonical timestamp encoding. Stored timestamps use the same
// layout so a reloaded entry hashes identically.
const TimeFormat = time.RFC3339Nano

var ErrChainBroken = errors.New("hash chain broken")

type BreakKind string

const (
	GenesisHasPrevious   BreakKind = "GENESIS_HAS_PREVIOUS"
	PreviousHashMismatch BreakKind = "PREVIOUS_HASH_MISMATCH"
	EntryHashMismatch    BreakKind = "ENTRY_HASH_MISMATCH"
	OutOfOrder           BreakKind = "OUT_OF_ORDER"
)

// ChainError identifies the first entry where the chain does not verify.
type ChainError struct {
	EntryId  int64
	Kind     BreakKind
	Expected string
	Actual   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("hash chain broken at entry %d: %s (expected %q, got %q)", e.EntryId, e.Kind, e.Expected, e.Actual)
}

func (e *ChainError) Unwrap() error { return ErrChainBroken }

// CanonicalContent returns the sorted-key JSON of the hashed fields.
// Empty optional fields are encoded as explicit nulls.
func CanonicalContent(entry models.LedgerEntry) ([]byte, error) {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	content := map[string]any{
		"accountType":   string(entry.AccountType),
		"amount":        entry.Amount.String(),
		"createdAt":     entry.CreatedAt.UTC().Format(TimeFormat),
		"createdBy":     entry.CreatedBy,
		"description":   entry.Description,
		"entryType":     string(entry.EntryType),
		"id":            entry.Id,
		"metadata":      metadata,
		"side":          string(entry.Side),
		"tokenMint":     nullable(entry.TokenMint),
		"transactionId": entry.TransactionId,
		"userId":        nullable(entry.UserId),
	}
	// encoding/json writes map keys in sorted order
	return json.Marshal(content)
}

// ComputeEntryHash hashes the canonical content followed by previousHash.
// An empty previousHash marks the genesis entry.
func ComputeEntryHash(entry models.LedgerEntry, previousHash string) (string, error) {
	content, err := CanonicalContent(entry)
	if err != nil {
		return "", fmt.Errorf("failed to serialize entry %d: %w", entry.Id, err)
	}
	h := sha256.New()
	h.Write(content)
	h.Write([]byte(previousHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Seal sets PreviousHash and EntryHash on each entry in order, continuing from head.
func Seal(entries []models.LedgerEntry, head string) error {
	prev := head
	for i := range entries {
		entries[i].PreviousHash = prev
		hash, err := ComputeEntryHash(entries[i], prev)
		if err != nil {
			return err
		}
		entries[i].EntryHash = hash
		prev = hash
	}
	return nil
}

// VerifyChain walks entries in ascending id order from genesis. An empty slice is valid.
func VerifyChain(entries []models.LedgerEntry) error {
	return VerifyFrom(nil, entries)
}

// VerifyFrom continues a walk after prev, an entry that was already verified.
// A nil prev means entries start at genesis. Used to verify the chain page by page.
func VerifyFrom(prev *models.LedgerEntry, entries []models.LedgerEntry) error {
	for i := range entries {
		entry := entries[i]

		if prev == nil {
			if entry.PreviousHash != "" {
				return &ChainError{EntryId: entry.Id, Kind: GenesisHasPrevious, Expected: "", Actual: entry.PreviousHash}
			}
		} else {
			if entry.Id <= prev.Id {
				return &ChainError{EntryId: entry.Id, Kind: OutOfOrder, Expected: fmt.Sprintf("id > %d", prev.Id), Actual: fmt.Sprintf("%d", entry.Id)}
			}
			if entry.PreviousHash != prev.EntryHash {
				return &ChainError{EntryId: entry.Id, Kind: PreviousHashMismatch, Expected: prev.EntryHash, Actual: entry.PreviousHash}
			}
		}

		recomputed, err := ComputeEntryHash(entry, entry.PreviousHash)
		if err != nil {
			return err
		}
		if recomputed != entry.EntryHash {
			return &ChainError{EntryId: entry.Id, Kind: EntryHashMismatch, Expected: recomputed, Actual: entry.EntryHash}
		}

		prev = &entries[i]
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
