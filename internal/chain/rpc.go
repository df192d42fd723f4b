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

package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"vault-ledger-go/internal/models"
	"vault-ledger-go/internal/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

// Compile-time check: *RPCClient must satisfy Client.
var _ Client = (*RPCClient)(nil)

type RPCClient struct {
	url        string
	httpClient http.Client
	limiter    *rate.Limiter
	nextId     atomic.Uint64
}

func NewRPCClient(cfg models.RpcConfig) (*RPCClient, error) {
	if cfg.Url == "" {
		return nil, fmt.Errorf("rpc url cannot be empty")
	}

	httpClient, err := createCustomHttpClient(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &RPCClient{
		url:        cfg.Url,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
	}, nil
}

func createCustomHttpClient(timeout time.Duration) (http.Client, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	tr := &http.Transport{
		ResponseHeaderTimeout: timeout,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

type rpcRequest struct {
	JsonRpc string `json:"jsonrpc"`
	Id      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, result any, params ...any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(rpcRequest{JsonRpc: "2.0", Id: c.nextId.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			zap.L().Debug("Failed to close rpc response body", zap.Error(err))
		}
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned HTTP %d", ErrRpc, method, resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("%w: %s: %d %s", ErrRpc, method, decoded.Error.Code, decoded.Error.Message)
	}
	if err := json.Unmarshal(decoded.Result, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

type signatureStatusesResult struct {
	Value []*struct {
		Slot               uint64          `json:"slot"`
		Confirmations      *uint64         `json:"confirmations"`
		Err                json.RawMessage `json:"err"`
		ConfirmationStatus Commitment      `json:"confirmationStatus"`
	} `json:"value"`
}

// GetSignatureStatus searches full history so old finalized signatures still resolve.
func (c *RPCClient) GetSignatureStatus(ctx context.Context, signature string) (SignatureStatus, error) {
	var result signatureStatusesResult
	err := c.call(ctx, "getSignatureStatuses", &result,
		[]string{signature},
		map[string]bool{"searchTransactionHistory": true})
	if err != nil {
		return SignatureStatus{}, err
	}

	if len(result.Value) == 0 || result.Value[0] == nil {
		return SignatureStatus{Found: false}, nil
	}

	value := result.Value[0]
	status := SignatureStatus{
		Found:      true,
		Slot:       value.Slot,
		Commitment: value.ConfirmationStatus,
		Failed:     len(value.Err) > 0 && string(value.Err) != "null",
	}
	// a null confirmation count means the slot is rooted
	if value.Confirmations != nil {
		status.Confirmations = *value.Confirmations
	} else if status.Commitment == "" {
		status.Commitment = CommitmentFinalized
	}
	return status, nil
}

func (c *RPCClient) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := c.call(ctx, "getSlot", &slot, map[string]string{"commitment": string(CommitmentConfirmed)}); err != nil {
		return 0, err
	}
	return slot, nil
}

type tokenBalanceResult struct {
	Value struct {
		Amount   string `json:"amount"`
		Decimals int    `json:"decimals"`
	} `json:"value"`
}

func (c *RPCClient) GetTokenAccountBalance(ctx context.Context, account string) (decimal.Decimal, error) {
	var result tokenBalanceResult
	if err := c.call(ctx, "getTokenAccountBalance", &result, account,
		map[string]string{"commitment": string(CommitmentFinalized)}); err != nil {
		return decimal.Zero, err
	}

	amount, err := money.FromBaseUnits(result.Value.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid balance %q for account %s: %w", result.Value.Amount, account, err)
	}
	return amount, nil
}
