package tron

import (
	"sort"
	"strconv"
	"strings"

	"github.com/devblac/otc-reconciler/internal/source"
	"github.com/shopspring/decimal"
)

const defaultDecimals = 6

// amountStrategy recovers an amount and token symbol from one response shape.
type amountStrategy func(info *transactionInfo) (amount decimal.Decimal, symbol string, ok bool)

// amountStrategies are tried in order; the first that yields a non-zero amount wins.
var amountStrategies = []amountStrategy{
	fromTransferList,
	fromTriggerParameter,
}

// Extract converts a TronScan response into an observation for the requested bare hash.
// A response echoing a different hash is discarded (nil).
func Extract(requested string, info *transactionInfo) *source.Observation {
	if info == nil {
		return nil
	}
	respHash := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(info.Hash), "0x"), "0X"))
	if respHash != "" && respHash != strings.ToLower(requested) {
		return nil
	}

	status := source.StatusUnknown
	switch ret := strings.TrimSpace(info.ContractRet); ret {
	case "SUCCESS":
		status = source.StatusSuccessful
	case "":
	default:
		status = ret
	}

	amount := decimal.Zero
	symbol := ""
	for _, strategy := range amountStrategies {
		a, s, ok := strategy(info)
		if !ok {
			continue
		}
		amount, symbol = a, s
		if !amount.IsZero() {
			break
		}
	}
	if symbol == "" {
		symbol = symbolFromContractTag(info)
	}
	if symbol == "" {
		symbol = source.USDT
	}

	from, to := info.OwnerAddress, info.ToAddress
	if first := firstTransfer(info); first != nil {
		from = firstNonEmpty(first.from(), from)
		to = firstNonEmpty(first.to(), to)
	}

	return &source.Observation{
		Network: source.TRC20,
		Status:  status,
		Amount:  decimal.NewNullDecimal(amount),
		Token:   source.NormalizeToken(symbol),
		From:    strings.TrimSpace(from),
		To:      strings.TrimSpace(to),
	}
}

func transfers(info *transactionInfo) []transferInfo {
	if len(info.TRC20TransferInfo) > 0 {
		return info.TRC20TransferInfo
	}
	if info.TokenTransferInfo != nil {
		return []transferInfo{*info.TokenTransferInfo}
	}
	return nil
}

func firstTransfer(info *transactionInfo) *transferInfo {
	list := transfers(info)
	if len(list) == 0 {
		return nil
	}
	return &list[0]
}

// fromTransferList sums every transfer entry, each scaled by its own decimals.
func fromTransferList(info *transactionInfo) (decimal.Decimal, string, bool) {
	list := transfers(info)
	if len(list) == 0 {
		return decimal.Zero, "", false
	}
	total := decimal.Zero
	symbol := ""
	for _, t := range list {
		raw := firstNonEmpty(string(t.AmountStr), string(t.Amount))
		if raw == "" {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		total = total.Add(v.Shift(-int32(decimalsOf(t.Decimals))))
		if symbol == "" {
			symbol = strings.ToUpper(firstNonEmpty(t.Symbol, t.Name))
		}
	}
	return total, symbol, true
}

// fromTriggerParameter reads the raw transfer(_to,_value) call parameters.
func fromTriggerParameter(info *transactionInfo) (decimal.Decimal, string, bool) {
	if info.TriggerInfo == nil || info.TriggerInfo.Parameter == nil {
		return decimal.Zero, "", false
	}
	raw := strings.TrimSpace(string(info.TriggerInfo.Parameter.Value))
	if raw == "" {
		raw = "0"
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, "", false
	}
	return v.Shift(-defaultDecimals), source.USDT, true
}

// symbolFromContractTag recovers only the token symbol from contract metadata.
func symbolFromContractTag(info *transactionInfo) string {
	if len(info.ContractInfo) == 0 {
		return ""
	}
	if meta, ok := info.ContractInfo[info.ToAddress]; ok && meta.Tag1 != "" {
		return tagSymbol(meta.Tag1)
	}
	keys := make([]string, 0, len(info.ContractInfo))
	for k := range info.ContractInfo {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if tag := info.ContractInfo[k].Tag1; tag != "" {
			return tagSymbol(tag)
		}
	}
	return ""
}

func tagSymbol(tag string) string {
	return strings.ToUpper(strings.TrimSpace(strings.Replace(tag, " Token", "", 1)))
}

func decimalsOf(n numeric) int {
	d, err := strconv.Atoi(strings.TrimSpace(string(n)))
	if err != nil || d <= 0 {
		return defaultDecimals
	}
	return d
}
