package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Known stablecoin contracts on Ethereum mainnet.
var (
	USDTContract = common.HexToAddress("0xdac17f958d2ee523a2206206994597c13d831ec7")
	USDCContract = common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
)

// Receipt is the part of a transaction receipt the decoder needs.
type Receipt struct {
	Status      uint64
	BlockNumber *big.Int
	Logs        []types.Log
}

// Reverted reports an execution failure (status 0).
func (r *Receipt) Reverted() bool { return r.Status == types.ReceiptStatusFailed }

// Pending reports a receipt not yet included in a block.
func (r *Receipt) Pending() bool { return r.BlockNumber == nil }

// Call is the originating transaction of a receipt.
type Call struct {
	From  common.Address
	To    *common.Address
	Input []byte
}

// TxData bundles what the decoder strategies read for one transaction.
// Call is nil until the receipt logs have been tried.
type TxData struct {
	Logs []types.Log
	Call *Call
}

// JSON shapes returned by eth_getTransactionReceipt and eth_getTransactionByHash.
// Only the fields we read are declared, so partial explorer answers still decode.
type rpcReceipt struct {
	Status      *hexutil.Uint64 `json:"status"`
	BlockNumber *hexutil.Big    `json:"blockNumber"`
	Logs        []rpcLog        `json:"logs"`
}

type rpcLog struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

type rpcTransaction struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Input hexutil.Bytes   `json:"input"`
}

// toReceipt returns nil when the receipt carries no status, which explorers
// use for unknown transactions.
func (r *rpcReceipt) toReceipt() *Receipt {
	if r == nil || r.Status == nil {
		return nil
	}
	out := &Receipt{Status: uint64(*r.Status)}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.ToInt()
	}
	for i, l := range r.Logs {
		out.Logs = append(out.Logs, types.Log{
			Address: l.Address,
			Topics:  l.Topics,
			Data:    l.Data,
			Index:   uint(i),
		})
	}
	return out
}

func (t *rpcTransaction) toCall() *Call {
	if t == nil {
		return nil
	}
	return &Call{From: t.From, To: t.To, Input: t.Input}
}
