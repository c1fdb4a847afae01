// Package cache holds the in-process observation cache used when no
// database is configured.
package cache

import (
	"context"
	"time"

	"github.com/devblac/otc-reconciler/internal/source"
	gocache "github.com/patrickmn/go-cache"
)

// Memory keeps observations for the life of the process, or until ttl.
type Memory struct {
	items *gocache.Cache
}

// NewMemory returns a cache whose entries expire after ttl; ttl <= 0 never expires.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		return &Memory{items: gocache.New(gocache.NoExpiration, 0)}
	}
	return &Memory{items: gocache.New(ttl, 2*ttl)}
}

func key(network source.Network, hashKey string) string {
	return string(network) + ":" + hashKey
}

// GetObservation returns a copy of the cached observation.
func (m *Memory) GetObservation(_ context.Context, network source.Network, hashKey string) (*source.Observation, bool, error) {
	v, ok := m.items.Get(key(network, hashKey))
	if !ok {
		return nil, false, nil
	}
	obs := v.(source.Observation)
	return &obs, true, nil
}

// PutObservation stores a copy of obs.
func (m *Memory) PutObservation(_ context.Context, network source.Network, hashKey string, obs *source.Observation) error {
	if obs == nil {
		return nil
	}
	m.items.Set(key(network, hashKey), *obs, gocache.DefaultExpiration)
	return nil
}

// Len is the number of live entries.
func (m *Memory) Len() int { return m.items.ItemCount() }
