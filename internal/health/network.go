package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Pinger is anything that can prove it is reachable: explorer clients, the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NetworkChecker combines the health checks of the configured networks.
type NetworkChecker struct {
	clients map[string]Pinger
}

// NewNetworkChecker creates a checker over named network clients. Nil entries are skipped.
func NewNetworkChecker(clients map[string]Pinger) *NetworkChecker {
	return &NetworkChecker{clients: clients}
}

// Ping checks every network and reports all failures together.
func (c *NetworkChecker) Ping(ctx context.Context) error {
	ids := make([]string, 0, len(c.clients))
	for id := range c.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		cli := c.clients[id]
		if cli == nil {
			continue
		}
		if err := cli.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("network %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
