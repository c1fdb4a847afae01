package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/devblac/otc-reconciler/internal/engine"
	"github.com/devblac/otc-reconciler/internal/engine/mocks"
	"github.com/devblac/otc-reconciler/internal/ledger"
	"github.com/devblac/otc-reconciler/internal/source"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHash = "4a5c8e2f0b1d3c5e7f9a0b2c4d6e8f0a1b3c5d7e9f0a2b4c6d8e0f1a3b5c7d9e"

func newClient(ctrl *gomock.Controller, network source.Network, enabled bool) *mocks.MockNetworkClient {
	c := mocks.NewMockNetworkClient(ctrl)
	c.EXPECT().Network().Return(network).AnyTimes()
	c.EXPECT().Enabled().Return(enabled).AnyTimes()
	return c
}

func observation(network source.Network, token, amount string) *source.Observation {
	return &source.Observation{
		Network: network,
		Status:  source.StatusSuccessful,
		Amount:  decimal.NewNullDecimal(decimal.RequireFromString(amount)),
		Token:   token,
		To:      "TDest",
	}
}

type rowSpec struct {
	client, amount, network, currency, hash string
}

func groupOf(rows ...rowSpec) ledger.Group {
	out := make([]ledger.Row, 0, len(rows))
	for i, r := range rows {
		hash := r.hash
		if hash == "" {
			hash = testHash
		}
		out = append(out, ledger.Row{
			Line:     i + 2,
			Client:   r.client,
			Amount:   decimal.RequireFromString(r.amount),
			Network:  r.network,
			Currency: r.currency,
			Hash:     hash,
		})
	}
	return ledger.GroupRows(out)[0]
}

func reconcile(t *testing.T, tron, eth engine.NetworkClient, g ledger.Group) engine.Outcome {
	t.Helper()
	runner := engine.NewRunner(tron, eth, engine.Options{}, engine.Deps{})
	outcomes, err := runner.Run(context.Background(), []ledger.Group{g})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	return outcomes[0]
}

func TestResolveFallsBackToEthereumWhenTronThrottled(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	tron := newClient(ctrl, source.TRC20, true)
	eth := newClient(ctrl, source.ERC20, true)
	tron.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		Return(nil, fmt.Errorf("http 429 after 2 retries: %w", source.ErrRateLimited))
	eth.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		Return(observation(source.ERC20, source.USDC, "100.00"), nil)

	out := reconcile(t, tron, eth, groupOf(rowSpec{client: "ACME", amount: "100.00"}))

	assert.Equal(t, engine.TagOK, out.Classification)
	assert.Equal(t, engine.TagOK, out.Status)
	assert.Equal(t, source.ERC20, out.Network)
	require.NotNil(t, out.Observation)
	assert.Equal(t, source.USDC, out.Observation.Token)
	assert.Empty(t, out.Remediation)
}

func TestResolveDeclaredCurrencyDiffers(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	tron := newClient(ctrl, source.TRC20, true)
	eth := newClient(ctrl, source.ERC20, true)
	tron.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		Return(observation(source.TRC20, source.USDT, "50"), nil)
	eth.EXPECT().Lookup(gomock.Any(), gomock.Any()).Times(0)

	out := reconcile(t, tron, eth, groupOf(rowSpec{client: "ACME", amount: "50.00", network: "TRC20", currency: "USDC"}))

	assert.Equal(t, engine.TagLedgerCorrection, out.Classification)
	assert.Equal(t, engine.TagOK, out.Status)
	assert.Contains(t, out.Remediation, `coluna "Moeda" de USDC para USDT`)
	assert.NotContains(t, out.Remediation, `coluna "Rede"`)
}

func TestResolveDisambiguatesToEthereum(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	tron := newClient(ctrl, source.TRC20, true)
	eth := newClient(ctrl, source.ERC20, true)
	tron.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		Return(observation(source.TRC20, source.USDT, "10"), nil).Times(2)
	eth.EXPECT().Lookup(gomock.Any(), gomock.Any()).
		Return(observation(source.ERC20, source.USDT, "75"), nil).Times(1)

	out := reconcile(t, tron, eth, groupOf(rowSpec{client: "ACME", amount: "75.00"}))

	assert.Equal(t, engine.TagOK, out.Classification)
	assert.Equal(t, source.ERC20, out.Network)
	assert.True(t, out.Observation.Amount.Decimal.Equal(decimal.NewFromInt(75)))
	assert.Contains(t, out.Remediation, `coluna "Rede"`)
	assert.Contains(t, out.Remediation, "ERC20")
}

func TestResolveBothNetworksMatchKeepsBothCandidates(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	tron := newClient(ctrl, source.TRC20, true)
	eth := newClient(ctrl, source.ERC20, true)
	// Declared ERC20: Ethereum is asked first, TRON second; both miss, then both match.
	gomock.InOrder(
		eth.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(nil, nil),
		eth.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(observation(source.ERC20, source.USDT, "20"), nil),
	)
	gomock.InOrder(
		tron.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(nil, nil),
		tron.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(observation(source.TRC20, source.USDT, "20.004"), nil),
	)

	out := reconcile(t, tron, eth, groupOf(rowSpec{client: "ACME", amount: "20", network: "ERC20"}))

	assert.Equal(t, source.TRC20, out.Network)
	assert.True(t, out.HasFlag(engine.TagAmbiguousNetwork))
	require.Len(t, out.Candidates, 2)
	assert.Equal(t, source.TRC20, out.Candidates[0].Network)
	assert.Equal(t, source.ERC20, out.Candidates[1].Network)
	assert.Contains(t, out.Remediation, "Confirme manualmente")
	assert.Equal(t, engine.TagLedgerCorrection, out.Classification)
}

func TestResolveNotFoundKeepsErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	tron := newClient(ctrl, source.TRC20, true)
	eth := newClient(ctrl, source.ERC20, true)
	tron.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(nil, errors.New("http status 502")).AnyTimes()
	eth.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()

	out := reconcile(t, tron, eth, groupOf(rowSpec{client: "ACME", amount: "10"}))

	assert.Equal(t, engine.TagNotFound, out.Classification)
	assert.Nil(t, out.Observation)
	assert.Empty(t, out.Network)
	assert.Contains(t, out.Reason, "Não encontrado")
	assert.Contains(t, out.Reason, "TRC20: http status 502")
}

func TestResolveSkipsDisabledEthereum(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	tron := newClient(ctrl, source.TRC20, true)
	eth := newClient(ctrl, source.ERC20, false)
	tron.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(nil, nil).Times(2)
	eth.EXPECT().Lookup(gomock.Any(), gomock.Any()).Times(0)

	out := reconcile(t, tron, eth, groupOf(rowSpec{client: "ACME", amount: "10"}))
	assert.Equal(t, engine.TagNotFound, out.Classification)
}

func TestResolveMalformedHashNeverReachesEthereum(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	tron := newClient(ctrl, source.TRC20, true)
	eth := newClient(ctrl, source.ERC20, true)
	tron.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(nil, nil).Times(2)
	eth.EXPECT().Lookup(gomock.Any(), gomock.Any()).Times(0)

	out := reconcile(t, tron, eth, groupOf(rowSpec{client: "ACME", amount: "10", hash: "0xnot-a-hash"}))
	assert.Equal(t, engine.TagNotFound, out.Classification)
	assert.Equal(t, "0xnot-a-hash", out.Hash)
}

func TestResolveDuplicateWinsOverAmount(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	tron := newClient(ctrl, source.TRC20, true)
	eth := newClient(ctrl, source.ERC20, true)
	tron.EXPECT().Lookup(gomock.Any(), gomock.Any()).Return(observation(source.TRC20, source.USDT, "30"), nil)

	out := reconcile(t, tron, eth, groupOf(
		rowSpec{client: "ACME", amount: "10"},
		rowSpec{client: "Beta", amount: "20"},
	))
	assert.Equal(t, engine.TagDuplicate, out.Classification)
	assert.Equal(t, engine.TagOK, out.Status)
	assert.Equal(t, []string{"ACME", "Beta"}, out.Clients)
}
