package evm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/devblac/otc-reconciler/internal/source"
	"github.com/devblac/otc-reconciler/internal/txhash"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// NodeClient captures the subset of ethclient used by RPCBackend.
type NodeClient interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// RPCBackend serves lookups from a JSON-RPC node instead of the explorer.
// Calls share the fetcher's timeout and 429 cooldown policy.
type RPCBackend struct {
	client  NodeClient
	policy  *source.Fetcher
	timeout time.Duration
	host    string
}

// DialRPC connects to an Ethereum node over the fetcher's HTTP client.
func DialRPC(ctx context.Context, rpcURL string, fetcher *source.Fetcher) (*RPCBackend, error) {
	if fetcher == nil {
		fetcher = source.NewFetcher(nil)
	}
	httpClient := fetcher.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: source.DefaultTimeout}
	}
	c, err := rpc.DialOptions(ctx, rpcURL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", stripURL(err))
	}
	b := NewRPCBackend(ethclient.NewClient(c), fetcher)
	// Only the host: node URLs often carry the access key in the path.
	if u, err := url.Parse(rpcURL); err == nil && u.Host != "" {
		b.host = u.Host
	}
	return b, nil
}

// NewRPCBackend wraps an existing node client. A nil fetcher uses the defaults.
func NewRPCBackend(client NodeClient, fetcher *source.Fetcher) *RPCBackend {
	if fetcher == nil {
		fetcher = source.NewFetcher(nil)
	}
	timeout := source.DefaultTimeout
	if fetcher.Client != nil && fetcher.Client.Timeout > 0 {
		timeout = fetcher.Client.Timeout
	}
	return &RPCBackend{client: client, policy: fetcher, timeout: timeout, host: "evm-rpc"}
}

// Enabled is always true; a node URL was configured.
func (b *RPCBackend) Enabled() bool { return true }

// Receipt reports malformed hashes as unknown; a node only accepts 32-byte hashes.
func (b *RPCBackend) Receipt(ctx context.Context, h txhash.Hash) (*Receipt, error) {
	if !h.Valid() {
		return nil, nil
	}
	var r *types.Receipt
	err := b.do(ctx, func(ctx context.Context) (err error) {
		r, err = b.client.TransactionReceipt(ctx, common.HexToHash(h.Prefixed))
		return err
	})
	if err != nil {
		return nil, rpcError(err)
	}
	if r == nil {
		return nil, nil
	}
	out := &Receipt{Status: r.Status, BlockNumber: r.BlockNumber}
	for _, lg := range r.Logs {
		if lg != nil {
			out.Logs = append(out.Logs, *lg)
		}
	}
	return out, nil
}

func (b *RPCBackend) Transaction(ctx context.Context, h txhash.Hash) (*Call, error) {
	if !h.Valid() {
		return nil, nil
	}
	var tx *types.Transaction
	err := b.do(ctx, func(ctx context.Context) (err error) {
		tx, _, err = b.client.TransactionByHash(ctx, common.HexToHash(h.Prefixed))
		return err
	})
	if err != nil {
		return nil, rpcError(err)
	}
	if tx == nil {
		return nil, nil
	}
	call := &Call{To: tx.To(), Input: tx.Data()}
	if from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
		call.From = from
	}
	return call, nil
}

func (b *RPCBackend) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := b.do(ctx, func(ctx context.Context) (err error) {
		n, err = b.client.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, rpcError(err)
	}
	return n, nil
}

// do bounds each attempt by the timeout and retries node 429s after the cooldown.
func (b *RPCBackend) do(ctx context.Context, call func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, b.timeout)
		err := call(callCtx)
		cancel()
		if !isTooManyRequests(err) {
			return err
		}
		if err := b.policy.Throttled(ctx, b.host, attempt); err != nil {
			return err
		}
	}
}

func isTooManyRequests(err error) bool {
	var httpErr rpc.HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests
}

// rpcError maps node errors onto the shared sentinels. A nil return means
// the error only says the transaction is unknown.
func rpcError(err error) error {
	if errors.Is(err, ethereum.NotFound) {
		return nil
	}
	return fmt.Errorf("evm rpc: %w", stripURL(err))
}

// stripURL drops the request URL from transport errors.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}
