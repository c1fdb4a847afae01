package evm

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/devblac/otc-reconciler/internal/source"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// tokenDecimals is the scale of both supported stablecoins on Ethereum.
const tokenDecimals = 6

const erc20ABIJSON = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[
		{"name":"to","type":"address"},
		{"name":"value","type":"uint256"}
	],"outputs":[{"name":"","type":"bool"}]}
]`

// TransferTopic is topic0 of Transfer(address,address,uint256).
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

var transferMethod = mustTransferMethod()

func mustTransferMethod() abi.Method {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic(fmt.Sprintf("parse erc20 abi: %v", err))
	}
	return parsed.Methods["transfer"]
}

// Transfer is a decoded stablecoin movement.
type Transfer struct {
	Token  string
	Amount decimal.Decimal
	From   string
	To     string
}

// decodeStrategy inspects one source of transfer evidence; nil means "not here".
type decodeStrategy func(d TxData) *Transfer

// decoders are tried in order; the first non-nil result wins.
var decoders = []decodeStrategy{
	decodeTransferLog,
	decodeTransferCall,
}

// Decode runs the strategies over d. It never panics on malformed input.
func Decode(d TxData) *Transfer {
	for _, dec := range decoders {
		if t := dec(d); t != nil {
			return t
		}
	}
	return nil
}

// decodeTransferLog reads the first Transfer event emitted by any contract.
// Non-standard tokens that index the value carry it in topics[3].
func decodeTransferLog(d TxData) *Transfer {
	for _, lg := range d.Logs {
		if len(lg.Topics) < 3 || lg.Topics[0] != TransferTopic {
			continue
		}
		var raw []byte
		switch {
		case len(lg.Data) >= 32:
			raw = lg.Data[:32]
		case len(lg.Data) > 0:
			// short payloads are left-padded words
			raw = lg.Data
		case len(lg.Topics) >= 4:
			raw = lg.Topics[3].Bytes()
		default:
			continue
		}
		return &Transfer{
			Token:  tokenFor(lg.Address),
			Amount: scale(new(big.Int).SetBytes(raw)),
			From:   topicAddress(lg.Topics[1]),
			To:     topicAddress(lg.Topics[2]),
		}
	}
	return nil
}

// decodeTransferCall decodes a direct transfer(address,uint256) call.
func decodeTransferCall(d TxData) *Transfer {
	if d.Call == nil || len(d.Call.Input) < 4 || !bytes.Equal(d.Call.Input[:4], transferMethod.ID) {
		return nil
	}
	args, err := transferMethod.Inputs.Unpack(d.Call.Input[4:])
	if err != nil || len(args) != 2 {
		return nil
	}
	to, ok := args[0].(common.Address)
	if !ok {
		return nil
	}
	value, ok := args[1].(*big.Int)
	if !ok {
		return nil
	}

	var contract common.Address
	if d.Call.To != nil {
		contract = *d.Call.To
	}
	return &Transfer{
		Token:  tokenFor(contract),
		Amount: scale(value),
		From:   lowerHex(d.Call.From),
		To:     lowerHex(to),
	}
}

func tokenFor(contract common.Address) string {
	if contract == USDCContract {
		return source.USDC
	}
	return source.USDT
}

func scale(v *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v, -tokenDecimals)
}

func topicAddress(topic common.Hash) string {
	return lowerHex(common.BytesToAddress(topic.Bytes()[12:]))
}

func lowerHex(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return strings.ToLower(a.Hex())
}
