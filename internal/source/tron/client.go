package tron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/devblac/otc-reconciler/internal/source"
	"github.com/devblac/otc-reconciler/internal/txhash"
)

// DefaultAPIURL is the public TronScan API host.
const DefaultAPIURL = "https://apilist.tronscanapi.com"

// Client looks up TRC20 transfers through the TronScan explorer API.
type Client struct {
	baseURL string
	apiKey  string
	fetcher *source.Fetcher
	log     *slog.Logger
}

// NewClient builds a TronScan client. An empty baseURL selects the public API.
func NewClient(baseURL, apiKey string, fetcher *source.Fetcher, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	if log == nil {
		log = slog.Default()
	}
	if fetcher == nil {
		fetcher = source.NewFetcher(log)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		fetcher: fetcher,
		log:     log,
	}
}

// Network identifies the network this client serves.
func (c *Client) Network() source.Network { return source.TRC20 }

// Enabled is always true; TronScan needs no credential.
func (c *Client) Enabled() bool { return true }

// Lookup fetches one transaction. (nil, nil) means not found, including
// identifiers that are not 64 hex characters and undecodable responses.
func (c *Client) Lookup(ctx context.Context, h txhash.Hash) (*source.Observation, error) {
	if !h.Valid() {
		return nil, nil
	}

	q := url.Values{}
	q.Set("hash", h.Bare)
	body, err := c.fetcher.GetWithHeader(ctx, c.baseURL+"/api/transaction-info?"+q.Encode(), c.header())
	if errors.Is(err, source.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tronscan %s: %w", h.Short(), err)
	}

	var info transactionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		c.log.Debug("tronscan response not decodable", "hash", h.Short(), "error", err)
		return nil, nil
	}
	if isEmpty(&info) {
		return nil, nil
	}
	return Extract(h.Bare, &info), nil
}

// Ping checks that the explorer answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.fetcher.GetWithHeader(ctx, c.baseURL+"/api/system/status", c.header()); err != nil {
		return fmt.Errorf("tronscan status: %w", err)
	}
	return nil
}

func (c *Client) header() http.Header {
	if c.apiKey == "" {
		return nil
	}
	return http.Header{"TRON-PRO-API-KEY": []string{c.apiKey}}
}

// TronScan answers unknown hashes with an empty object.
func isEmpty(info *transactionInfo) bool {
	return info.Hash == "" && info.ContractRet == "" && len(info.TRC20TransferInfo) == 0 &&
		info.TokenTransferInfo == nil && info.TriggerInfo == nil && len(info.ContractInfo) == 0
}
