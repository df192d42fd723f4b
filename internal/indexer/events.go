// Package indexer turns raw program event notifications into ledger activity.
//
// Every program event type is a distinct Go type implementing Event. Dispatch
// goes through Handler, which has one method per type, so adding an event type
// without handling it does not compile.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"vault-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidEvent     = errors.New("invalid event")
	ErrUnknownEventType = errors.New("unknown event type")
)

type Event interface {
	Type() models.EventType
	Accept(ctx context.Context, h Handler, meta models.OnChainEvent) error
}

// Handler reacts to each event type. meta is the persisted event record.
type Handler interface {
	DepositReceived(ctx context.Context, meta models.OnChainEvent, e DepositReceived) error
	DepositVaultSwept(ctx context.Context, meta models.OnChainEvent, e DepositVaultSwept) error
	WithdrawalVaultFunded(ctx context.Context, meta models.OnChainEvent, e WithdrawalVaultFunded) error
	SwapExecuted(ctx context.Context, meta models.OnChainEvent, e SwapExecuted) error
	SwapFailed(ctx context.Context, meta models.OnChainEvent, e SwapFailed) error
	WithdrawalRequested(ctx context.Context, meta models.OnChainEvent, e WithdrawalRequested) error
	WithdrawalCompleted(ctx context.Context, meta models.OnChainEvent, e WithdrawalCompleted) error
	ConfigUpdated(ctx context.Context, meta models.OnChainEvent, e ConfigUpdated) error
	ProgramPaused(ctx context.Context, meta models.OnChainEvent, e ProgramPaused) error
	ProgramUnpaused(ctx context.Context, meta models.OnChainEvent, e ProgramUnpaused) error
}

// DepositReceived is a user transfer into the deposit vault.
type DepositReceived struct {
	User      string          `json:"user" validate:"required"`
	TokenMint string          `json:"token_mint" validate:"required"`
	Amount    decimal.Decimal `json:"amount" validate:"amount"`
}

// DepositVaultSwept moves funds from the deposit vault to the main vault.
type DepositVaultSwept struct {
	TokenMint string          `json:"token_mint" validate:"required"`
	Amount    decimal.Decimal `json:"amount" validate:"amount"`
}

// WithdrawalVaultFunded moves funds from the main vault to the withdrawal vault.
type WithdrawalVaultFunded struct {
	TokenMint string          `json:"token_mint" validate:"required"`
	Amount    decimal.Decimal `json:"amount" validate:"amount"`
}

type SwapExecuted struct {
	User         string                `json:"user" validate:"required"`
	Direction    models.TradeDirection `json:"direction" validate:"required,oneof=BUY SELL"`
	InputMint    string                `json:"input_mint" validate:"required"`
	InputAmount  decimal.Decimal       `json:"input_amount" validate:"amount"`
	OutputMint   string                `json:"output_mint" validate:"required"`
	OutputAmount decimal.Decimal       `json:"output_amount" validate:"amount"`
	Fee          decimal.Decimal       `json:"fee" validate:"nonneg"`
	FeeMint      string                `json:"fee_mint"`
}

type SwapFailed struct {
	User        string                `json:"user" validate:"required"`
	Direction   models.TradeDirection `json:"direction" validate:"required,oneof=BUY SELL"`
	InputMint   string                `json:"input_mint" validate:"required"`
	InputAmount decimal.Decimal       `json:"input_amount" validate:"nonneg"`
	OutputMint  string                `json:"output_mint" validate:"required"`
	Reason      string                `json:"reason"`
}

// WithdrawalRequested and WithdrawalCompleted reference the withdrawal
// record created when the request was accepted.
type WithdrawalRequested struct {
	WithdrawalId string          `json:"withdrawal_id" validate:"required"`
	User         string          `json:"user" validate:"required"`
	TokenMint    string          `json:"token_mint" validate:"required"`
	Amount       decimal.Decimal `json:"amount" validate:"amount"`
	Destination  string          `json:"destination" validate:"required"`
}

type WithdrawalCompleted struct {
	WithdrawalId string          `json:"withdrawal_id" validate:"required"`
	User         string          `json:"user" validate:"required"`
	TokenMint    string          `json:"token_mint" validate:"required"`
	Amount       decimal.Decimal `json:"amount" validate:"amount"`
	Destination  string          `json:"destination" validate:"required"`
}

type ConfigUpdated struct {
	Authority string            `json:"authority" validate:"required"`
	Changes   map[string]string `json:"changes"`
}

type ProgramPaused struct {
	Authority string `json:"authority" validate:"required"`
	Reason    string `json:"reason"`
}

type ProgramUnpaused struct {
	Authority string `json:"authority" validate:"required"`
}

func (DepositReceived) Type() models.EventType       { return models.EventDepositReceived }
func (DepositVaultSwept) Type() models.EventType     { return models.EventDepositVaultSwept }
func (WithdrawalVaultFunded) Type() models.EventType { return models.EventWithdrawalVaultFunded }
func (SwapExecuted) Type() models.EventType          { return models.EventSwapExecuted }
func (SwapFailed) Type() models.EventType            { return models.EventSwapFailed }
func (WithdrawalRequested) Type() models.EventType   { return models.EventWithdrawalRequested }
func (WithdrawalCompleted) Type() models.EventType   { return models.EventWithdrawalCompleted }
func (ConfigUpdated) Type() models.EventType         { return models.EventConfigUpdated }
func (ProgramPaused) Type() models.EventType         { return models.EventProgramPaused }
func (ProgramUnpaused) Type() models.EventType       { return models.EventProgramUnpaused }

func (e DepositReceived) Accept(ctx context.Context, h Handler, meta models.OnChainEvent) error {
	return h.DepositReceived(ctx, meta, e)
}

func (e DepositVaultSwept) Accept(ctx context.Context, h Handler, meta models.OnChainEvent) error {
	return h.DepositVaultSwept(ctx, meta, e)
}

func (e WithdrawalVaultFunded) Accept(ctx context.Context, h Handler, meta models.OnChainEvent) error {
	return h.WithdrawalVaultFunded(ctx, meta, e)
}

func (e SwapExecuted) Accept(ctx context.Context, h Handler, meta models.OnChainEvent) error {
	return h.SwapExecuted(ctx, meta, e)
}

func (e SwapFailed) Accept(ctx context.Context, h Handler, meta models.OnChainEvent) error {
	return h.SwapFailed(ctx, meta, e)
}

func (e WithdrawalRequested) Accept(ctx context.Context, h Handler, meta models.OnChainEvent) error {
	return h.WithdrawalRequested(ctx, meta, e)
}

func (e WithdrawalCompleted) Accept(ctx context.Context, h Handler, meta models.OnChainEvent) error {
	return h.WithdrawalCompleted(ctx, meta, e)
}

func (e ConfigUpdated) Accept(ctx context.Context, h Handler, meta models.OnChainEvent) error {
	return h.ConfigUpdated(ctx, meta, e)
}

func (e ProgramPaused) Accept(ctx context.Context, h Handler, meta models.OnChainEvent) error {
	return h.ProgramPaused(ctx, meta, e)
}

func (e ProgramUnpaused) Accept(ctx context.Context, h Handler, meta models.OnChainEvent) error {
	return h.ProgramUnpaused(ctx, meta, e)
}

var validate = models.NewValidator()

// Decode validates raw and returns its typed payload.
func Decode(raw models.RawEvent) (Event, error) {
	if err := validate.Struct(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	var event Event
	var err error
	switch raw.EventType {
	case models.EventDepositReceived:
		event, err = decodePayload[DepositReceived](raw.Payload)
	case models.EventDepositVaultSwept:
		event, err = decodePayload[DepositVaultSwept](raw.Payload)
	case models.EventWithdrawalVaultFunded:
		event, err = decodePayload[WithdrawalVaultFunded](raw.Payload)
	case models.EventSwapExecuted:
		event, err = decodePayload[SwapExecuted](raw.Payload)
	case models.EventSwapFailed:
		event, err = decodePayload[SwapFailed](raw.Payload)
	case models.EventWithdrawalRequested:
		event, err = decodePayload[WithdrawalRequested](raw.Payload)
	case models.EventWithdrawalCompleted:
		event, err = decodePayload[WithdrawalCompleted](raw.Payload)
	case models.EventConfigUpdated:
		event, err = decodePayload[ConfigUpdated](raw.Payload)
	case models.EventProgramPaused:
		event, err = decodePayload[ProgramPaused](raw.Payload)
	case models.EventProgramUnpaused:
		event, err = decodePayload[ProgramUnpaused](raw.Payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, raw.EventType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrInvalidEvent, raw.EventType, err)
	}
	return event, nil
}

func decodePayload[T Event](payload json.RawMessage) (Event, error) {
	var event T
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	if err := validate.Struct(event); err != nil {
		return nil, err
	}
	return event, nil
}
