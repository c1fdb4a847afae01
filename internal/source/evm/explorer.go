package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/devblac/otc-reconciler/internal/source"
	"github.com/devblac/otc-reconciler/internal/txhash"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DefaultExplorerURL is the Etherscan v2 multichain endpoint.
const DefaultExplorerURL = "https://api.etherscan.io/v2/api"

// Explorer is a Backend over the Etherscan proxy module.
type Explorer struct {
	apiURL  string
	chainID uint64
	apiKey  string
	fetcher *source.Fetcher
	log     *slog.Logger
}

// NewExplorer builds an Etherscan backend. chainID 0 selects mainnet.
func NewExplorer(apiURL string, chainID uint64, apiKey string, fetcher *source.Fetcher, log *slog.Logger) *Explorer {
	if apiURL == "" {
		apiURL = DefaultExplorerURL
	}
	if chainID == 0 {
		chainID = 1
	}
	if log == nil {
		log = slog.Default()
	}
	if fetcher == nil {
		fetcher = source.NewFetcher(log)
	}
	return &Explorer{apiURL: apiURL, chainID: chainID, apiKey: apiKey, fetcher: fetcher, log: log}
}

// Enabled is true once an API key is configured.
func (e *Explorer) Enabled() bool { return e.apiKey != "" }

// envelope covers both the JSON-RPC shape of the proxy module and the
// status/message/result shape Etherscan uses for its own errors.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Receipt sends the hash as the ledger wrote it when it is not 64 hex; the
// explorer answers such hashes with an error, read as not found.
func (e *Explorer) Receipt(ctx context.Context, h txhash.Hash) (*Receipt, error) {
	raw, err := e.call(ctx, "eth_getTransactionReceipt", h.Prefixed)
	if err != nil || raw == nil {
		return nil, err
	}
	var r rpcReceipt
	if err := json.Unmarshal(raw, &r); err != nil {
		e.log.Debug("etherscan receipt not decodable", "error", err)
		return nil, nil
	}
	return r.toReceipt(), nil
}

func (e *Explorer) Transaction(ctx context.Context, h txhash.Hash) (*Call, error) {
	raw, err := e.call(ctx, "eth_getTransactionByHash", h.Prefixed)
	if err != nil || raw == nil {
		return nil, err
	}
	var tx rpcTransaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		e.log.Debug("etherscan transaction not decodable", "error", err)
		return nil, nil
	}
	return tx.toCall(), nil
}

func (e *Explorer) BlockNumber(ctx context.Context) (uint64, error) {
	raw, err := e.call(ctx, "eth_blockNumber", "")
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, errors.New("etherscan returned no block number")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("decode block number: %w", err)
	}
	return hexutil.DecodeUint64(s)
}

// call returns the raw "result" object, or nil when the explorer has nothing
// usable for the hash. Only transport failures and throttling are errors.
// A "rate limit" result gets the same cooldown retries as an HTTP 429.
func (e *Explorer) call(ctx context.Context, action, hash string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("chainid", strconv.FormatUint(e.chainID, 10))
	q.Set("module", "proxy")
	q.Set("action", action)
	if hash != "" {
		q.Set("txhash", hash)
	}
	if e.apiKey != "" {
		q.Set("apikey", e.apiKey)
	}
	endpoint := e.apiURL + "?" + q.Encode()

	for attempt := 0; ; attempt++ {
		result, limited, err := e.fetch(ctx, action, endpoint)
		if !limited {
			return result, err
		}
		if err := e.fetcher.Throttled(ctx, e.host(), attempt); err != nil {
			return nil, fmt.Errorf("etherscan %s: %w", action, err)
		}
	}
}

// fetch performs one request. limited reports a rate-limit message in the body.
func (e *Explorer) fetch(ctx context.Context, action, endpoint string) (json.RawMessage, bool, error) {
	body, err := e.fetcher.Get(ctx, endpoint)
	if errors.Is(err, source.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("etherscan %s: %w", action, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		e.log.Debug("etherscan envelope not decodable", "action", action, "error", err)
		return nil, false, nil
	}
	if env.Error != nil {
		e.log.Warn("etherscan rpc error", "action", action, "code", env.Error.Code, "message", env.Error.Message)
		return nil, false, nil
	}

	result := bytes.TrimSpace(env.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, false, nil
	}
	if result[0] == '"' && action != "eth_blockNumber" {
		var msg string
		_ = json.Unmarshal(result, &msg)
		if strings.Contains(strings.ToLower(msg), "rate limit") {
			e.log.Debug("etherscan rate limit message", "action", action, "result", msg)
			return nil, true, nil
		}
		e.log.Warn("etherscan refused request", "action", action, "status", env.Status, "message", env.Message, "result", msg)
		return nil, false, nil
	}
	return result, false, nil
}

func (e *Explorer) host() string {
	u, err := url.Parse(e.apiURL)
	if err != nil || u.Host == "" {
		return "etherscan"
	}
	return u.Host
}
