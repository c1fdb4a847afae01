package ledger

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestReadCSVDetectsHeaderBelowTitle(t *testing.T) {
	input := "\ufeffRelatório OTC;;;\n" +
		";;;\n" +
		"Cliente;Valor ME;Rede;Moeda;Hash\n" +
		"ACME;52.097,70;trc20;USDT;" + hashA + "\n" +
		"Beta;1,5;;;0x" + hashB + "\n" +
		";;;;\n" +
		"Gamma;10;;;\n"

	sheet, err := ReadCSV(strings.NewReader(input), 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(sheet.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(sheet.Rows))
	}
	first := sheet.Rows[0]
	if first.Client != "ACME" || first.Network != "TRC20" || first.Currency != "USDT" || first.Hash != hashA {
		t.Fatalf("unexpected row %+v", first)
	}
	if !first.Amount.Equal(decimal.RequireFromString("52097.7")) {
		t.Fatalf("amount = %s", first.Amount)
	}
	if first.Line != 4 {
		t.Fatalf("line = %d", first.Line)
	}
	if len(sheet.Unhashed) != 1 || sheet.Unhashed[0].Client != "Gamma" {
		t.Fatalf("unhashed = %+v", sheet.Unhashed)
	}
}

func TestReadCSVCommaDelimiterAndAccents(t *testing.T) {
	input := "CLIENTE,Valor  ME,Hash,Moéda\n" +
		"ACME,\"1,234.50\"," + hashA + ",usdc\n"
	sheet, err := ReadCSV(strings.NewReader(input), 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(sheet.Rows) != 1 {
		t.Fatalf("rows = %+v", sheet.Rows)
	}
	r := sheet.Rows[0]
	if !r.Amount.Equal(decimal.RequireFromString("1234.5")) || r.Currency != "usdc" || r.Network != "" {
		t.Fatalf("unexpected row %+v", r)
	}
}

func TestReadCSVWithoutHeader(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("a;b;c\n1;2;3\n"), ';')
	if !errors.Is(err, ErrNoHeader) {
		t.Fatalf("expected ErrNoHeader, got %v", err)
	}
}

func TestParseAmount(t *testing.T) {
	tests := map[string]string{
		"":             "0",
		"100":          "100",
		"52097.7":      "52097.7",
		"52.097,7":     "52097.7",
		"1.234.567":    "1234567",
		"1,234,567.89": "1234567.89",
		"-5,5":         "-5.5",
		" 1 000,25 ":   "1000.25",
		"n/a":          "0",
	}
	for in, want := range tests {
		if got := ParseAmount(in); !got.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("ParseAmount(%q) = %s, want %s", in, got, want)
		}
	}
}
