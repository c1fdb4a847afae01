package tron

import (
	"bytes"
	"encoding/json"
	"strings"
)

// transactionInfo is the subset of TronScan's /api/transaction-info response we read.
// Several historical shapes are accepted; every field is optional.
type transactionInfo struct {
	Hash              string                  `json:"hash"`
	ContractRet       string                  `json:"contractRet"`
	OwnerAddress      string                  `json:"ownerAddress"`
	ToAddress         string                  `json:"toAddress"`
	TRC20TransferInfo []transferInfo          `json:"trc20TransferInfo"`
	TokenTransferInfo *transferInfo           `json:"tokenTransferInfo"`
	TriggerInfo       *triggerInfo            `json:"trigger_info"`
	ContractInfo      map[string]contractMeta `json:"contractInfo"`
}

type transferInfo struct {
	Symbol       string  `json:"symbol"`
	Name         string  `json:"name"`
	Decimals     numeric `json:"decimals"`
	AmountStr    numeric `json:"amount_str"`
	Amount       numeric `json:"amount"`
	FromAddress  string  `json:"from_address"`
	FromAddress2 string  `json:"fromAddress"`
	ToAddress    string  `json:"to_address"`
	ToAddress2   string  `json:"toAddress"`
}

func (t transferInfo) from() string {
	return firstNonEmpty(t.FromAddress, t.FromAddress2)
}

func (t transferInfo) to() string {
	return firstNonEmpty(t.ToAddress, t.ToAddress2)
}

type triggerInfo struct {
	Parameter *struct {
		Value numeric `json:"_value"`
		To    string  `json:"_to"`
	} `json:"parameter"`
}

type contractMeta struct {
	Tag1 string `json:"tag1"`
}

// numeric accepts a JSON number or a quoted string and keeps its text.
type numeric string

func (n *numeric) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = numeric(strings.TrimSpace(s))
		return nil
	}
	*n = numeric(b)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
