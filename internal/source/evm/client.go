package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/devblac/otc-reconciler/internal/source"
	"github.com/devblac/otc-reconciler/internal/txhash"
	"github.com/shopspring/decimal"
)

// Backend serves the reads the client needs. Receipt and Transaction return
// (nil, nil) when the transaction is unknown.
type Backend interface {
	Enabled() bool
	Receipt(ctx context.Context, h txhash.Hash) (*Receipt, error)
	Transaction(ctx context.Context, h txhash.Hash) (*Call, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Client looks up ERC20 transfers on Ethereum through a Backend.
type Client struct {
	backend Backend
	log     *slog.Logger
}

// NewClient wraps a backend. A nil backend yields a disabled client.
func NewClient(backend Backend, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{backend: backend, log: log}
}

// Network identifies the network this client serves.
func (c *Client) Network() source.Network { return source.ERC20 }

// Enabled reports whether a credential or node was configured.
func (c *Client) Enabled() bool { return c.backend != nil && c.backend.Enabled() }

// Lookup reads the receipt logs first and falls back to the transaction input.
// Reverted transactions and undecodable ones are reported as not found.
// Malformed hashes are passed through; the backend decides whether to ask.
func (c *Client) Lookup(ctx context.Context, h txhash.Hash) (*source.Observation, error) {
	if c.backend == nil {
		return nil, nil
	}

	receipt, err := c.backend.Receipt(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("receipt %s: %w", h.Short(), err)
	}
	if receipt == nil {
		return nil, nil
	}
	if receipt.Reverted() {
		c.log.Debug("receipt reverted", "hash", h.Short())
		return nil, nil
	}

	data := TxData{Logs: receipt.Logs}
	t := decodeTransferLog(data)
	if t == nil {
		call, err := c.backend.Transaction(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", h.Short(), err)
		}
		data.Call = call
		t = Decode(data)
	}
	if t == nil {
		c.log.Debug("no erc20 transfer found", "hash", h.Short(), "logs", len(receipt.Logs))
		return nil, nil
	}

	status := source.StatusSuccessful
	if receipt.Pending() {
		status = source.StatusPending
	}
	return &source.Observation{
		Network: source.ERC20,
		Status:  status,
		Amount:  decimal.NewNullDecimal(t.Amount),
		Token:   t.Token,
		From:    t.From,
		To:      t.To,
	}, nil
}

// Ping checks that the backend answers.
func (c *Client) Ping(ctx context.Context) error {
	if c.backend == nil {
		return errors.New("ethereum backend not configured")
	}
	if _, err := c.backend.BlockNumber(ctx); err != nil {
		return fmt.Errorf("ethereum block number: %w", err)
	}
	return nil
}
