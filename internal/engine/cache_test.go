package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/devblac/otc-reconciler/internal/engine"
	"github.com/devblac/otc-reconciler/internal/source"
	"github.com/devblac/otc-reconciler/internal/txhash"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	entries map[string]*source.Observation
	readErr error
}

func (m *mapCache) GetObservation(_ context.Context, network source.Network, key string) (*source.Observation, bool, error) {
	if m.readErr != nil {
		return nil, false, m.readErr
	}
	obs, ok := m.entries[string(network)+":"+key]
	return obs, ok, nil
}

func (m *mapCache) PutObservation(_ context.Context, network source.Network, key string, obs *source.Observation) error {
	m.entries[string(network)+":"+key] = obs
	return nil
}

func TestCachedClientServesRepeatLookups(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	inner := newClient(ctrl, source.TRC20, true)
	inner.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(observation(source.TRC20, source.USDT, "12.5"), nil).Times(1)

	cache := &mapCache{entries: map[string]*source.Observation{}}
	client := engine.NewCachedClient(inner, cache, nil)
	h := txhash.Canonicalize("0x" + testHash)

	for i := 0; i < 3; i++ {
		obs, err := client.Lookup(context.Background(), h)
		require.NoError(t, err)
		require.NotNil(t, obs)
		assert.Equal(t, "12.5", obs.Amount.Decimal.String())
	}
	assert.Contains(t, cache.entries, "TRC20:"+testHash)
	assert.True(t, client.Enabled())
	assert.Equal(t, source.TRC20, client.Network())
}

func TestCachedClientSkipsTransientResults(t *testing.T) {
	pending := observation(source.ERC20, source.USDT, "1")
	pending.Status = source.StatusPending

	cases := []struct {
		name string
		obs  *source.Observation
		err  error
	}{
		{"not found", nil, nil},
		{"pending", pending, nil},
		{"error", nil, errors.New("http status 503")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			inner := newClient(ctrl, source.ERC20, true)
			inner.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(tc.obs, tc.err).Times(2)

			cache := &mapCache{entries: map[string]*source.Observation{}}
			client := engine.NewCachedClient(inner, cache, nil)
			h := txhash.Canonicalize(testHash)
			for i := 0; i < 2; i++ {
				obs, err := client.Lookup(context.Background(), h)
				assert.Equal(t, tc.err, err)
				assert.Equal(t, tc.obs, obs)
			}
			assert.Empty(t, cache.entries)
		})
	}
}

func TestCachedClientReadFailureFallsThrough(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	inner := newClient(ctrl, source.TRC20, true)
	inner.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(observation(source.TRC20, source.USDT, "3"), nil)

	cache := &mapCache{entries: map[string]*source.Observation{}, readErr: errors.New("disk I/O error")}
	obs, err := engine.NewCachedClient(inner, cache, nil).Lookup(context.Background(), txhash.Canonicalize(testHash))
	require.NoError(t, err)
	require.NotNil(t, obs)
}
