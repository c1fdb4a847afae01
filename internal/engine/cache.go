package engine

import (
	"context"
	"log/slog"

	"github.com/devblac/otc-reconciler/internal/source"
	"github.com/devblac/otc-reconciler/internal/txhash"
)

// ObservationCache is an idempotent key-value store of found observations.
type ObservationCache interface {
	GetObservation(ctx context.Context, network source.Network, key string) (*source.Observation, bool, error)
	PutObservation(ctx context.Context, network source.Network, key string, obs *source.Observation) error
}

// CachedClient consults the cache before the network and stores what it
// finds. Not-found results, pending transactions and errors are never
// cached, so they are re-verified on the next run.
type CachedClient struct {
	NetworkClient
	cache ObservationCache
	log   *slog.Logger
}

// NewCachedClient wraps inner with cache.
func NewCachedClient(inner NetworkClient, cache ObservationCache, log *slog.Logger) *CachedClient {
	if log == nil {
		log = slog.Default()
	}
	return &CachedClient{NetworkClient: inner, cache: cache, log: log}
}

func (c *CachedClient) Lookup(ctx context.Context, h txhash.Hash) (*source.Observation, error) {
	network := c.Network()
	if obs, ok, err := c.cache.GetObservation(ctx, network, h.Key()); err != nil {
		c.log.Warn("observation cache read failed", "network", network, "hash", h.Short(), "error", err)
	} else if ok {
		return obs, nil
	}

	obs, err := c.NetworkClient.Lookup(ctx, h)
	if err != nil || obs == nil || obs.Status == source.StatusPending {
		return obs, err
	}
	if err := c.cache.PutObservation(ctx, network, h.Key(), obs); err != nil {
		c.log.Warn("observation cache write failed", "network", network, "hash", h.Short(), "error", err)
	}
	return obs, nil
}
