package ledger

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// maxHeaderScan bounds how far down the sheet the header row may sit.
const maxHeaderScan = 100

// ErrNoHeader is returned when no row names the Cliente, Valor ME and Hash columns.
var ErrNoHeader = errors.New("ledger must have at least the columns Cliente, Valor ME and Hash")

// Sheet is the parsed ledger. Unhashed rows cannot be reconciled and are
// reported separately.
type Sheet struct {
	Rows     []Row
	Unhashed []Row
}

// ReadCSV parses a ledger export. A zero delimiter is sniffed from the first line.
func ReadCSV(r io.Reader, delimiter rune) (*Sheet, error) {
	br := bufio.NewReader(r)
	if delimiter == 0 {
		first, err := br.Peek(4096)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
			return nil, fmt.Errorf("peek ledger: %w", err)
		}
		delimiter = sniffDelimiter(string(first))
	}

	cr := csv.NewReader(br)
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read ledger csv: %w", err)
	}
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")
	}
	return parseRecords(records)
}

func parseRecords(records [][]string) (*Sheet, error) {
	sheet := &Sheet{}
	if len(records) == 0 {
		return sheet, nil
	}

	headerAt := -1
	var cols columns
	for i := 0; i < len(records) && i < maxHeaderScan; i++ {
		if c, ok := detectColumns(records[i]); ok {
			headerAt, cols = i, c
			break
		}
	}
	if headerAt < 0 {
		return nil, ErrNoHeader
	}

	for i := headerAt + 1; i < len(records); i++ {
		rec := records[i]
		row := Row{
			Line:     i + 1,
			Client:   strings.TrimSpace(cell(rec, cols.client)),
			Amount:   ParseAmount(cell(rec, cols.amount)),
			Hash:     strings.TrimSpace(cell(rec, cols.hash)),
			Network:  strings.ToUpper(strings.TrimSpace(cell(rec, cols.network))),
			Currency: strings.TrimSpace(cell(rec, cols.currency)),
		}
		if row.Hash == "" {
			if row.Client != "" || !row.Amount.IsZero() {
				if row.Client == "" {
					row.Client = "(sem nome)"
				}
				sheet.Unhashed = append(sheet.Unhashed, row)
			}
			continue
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet, nil
}

type columns struct {
	client, amount, hash, network, currency int
}

func detectColumns(header []string) (columns, bool) {
	c := columns{
		client:   findColumn(header, "cliente", "client"),
		amount:   findColumn(header, "valor me", "valorme"),
		hash:     findColumn(header, "hash"),
		network:  findColumn(header, "rede"),
		currency: findColumn(header, "moeda"),
	}
	return c, c.client >= 0 && c.amount >= 0 && c.hash >= 0
}

func findColumn(header []string, names ...string) int {
	for i, h := range header {
		n := normalizeColumn(h)
		for _, name := range names {
			if strings.Contains(n, name) {
				return i
			}
		}
	}
	return -1
}

var accents = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ã", "a",
	"é", "e", "ê", "e", "í", "i",
	"ó", "o", "ô", "o", "õ", "o",
	"ú", "u", "ü", "u", "ç", "c",
)

// normalizeColumn lowercases, strips accents and collapses whitespace
// (strings.Fields also splits on the non-breaking spaces spreadsheets emit).
func normalizeColumn(s string) string {
	return accents.Replace(strings.Join(strings.Fields(strings.ToLower(s)), " "))
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func sniffDelimiter(sample string) rune {
	line := sample
	if i := strings.IndexAny(sample, "\r\n"); i >= 0 {
		line = sample[:i]
	}
	best, bestCount := ';', 0
	for _, d := range []rune{';', ',', '\t'} {
		if n := strings.Count(line, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

var usDecimal = regexp.MustCompile(`^[^.]*\.\d{1,3}$`)

// ParseAmount accepts Brazilian (52.097,70) and US (52097.70, 52,097.70)
// notations. Blank or unparseable input yields zero.
func ParseAmount(raw string) decimal.Decimal {
	s := strings.Join(strings.Fields(raw), "")
	if s == "" {
		return decimal.Zero
	}

	lastComma, lastDot := strings.LastIndex(s, ","), strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot > lastComma:
		s = strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		s = strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
	case usDecimal.MatchString(s):
	default:
		s = strings.ReplaceAll(s, ".", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
