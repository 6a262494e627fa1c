// Package ingest reads tabular contact files into ordered rows keyed by
// column header, and guesses which columns hold the phone, name and message.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"velo/internal/contact"
)

var ErrUnsupportedFormat = errors.New("unsupported contact file format")

// Table is an ingested file. Rows keep file order.
type Table struct {
	Source  string
	Headers []string
	Rows    []contact.Row
}

// ReadFile reads a .csv, .tsv or .txt file. Spreadsheet formats must be
// exported to CSV first.
func ReadFile(path string) (Table, error) {
	var comma rune
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		comma = 0 // sniffed
	case ".tsv", ".tab":
		comma = '\t'
	case ".xlsx", ".xls", ".ods":
		return Table{}, fmt.Errorf("%w: %s (export the sheet as CSV)", ErrUnsupportedFormat, filepath.Ext(path))
	default:
		return Table{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()

	t, err := Read(f, comma)
	if err != nil {
		return Table{}, fmt.Errorf("read %s: %w", path, err)
	}
	t.Source = filepath.Base(path)
	return t, nil
}

// Read parses delimited text. A zero comma sniffs ',', ';' or tab from the
// header line. The first record is the header; duplicate or blank headers get
// a positional name.
func Read(r io.Reader, comma rune) (Table, error) {
	br := bufio.NewReader(r)
	if comma == 0 {
		head, _ := br.Peek(4096)
		comma = sniffComma(head)
	}

	cr := csv.NewReader(br)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, errors.New("file is empty")
	}
	if err != nil {
		return Table{}, err
	}
	headers := normalizeHeaders(header)

	var rows []contact.Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, err
		}
		if blank(rec) {
			continue
		}
		row := make(contact.Row, len(headers))
		for i, h := range headers {
			if i < len(rec) {
				row[h] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, row)
	}
	return Table{Headers: headers, Rows: rows}, nil
}

func sniffComma(head []byte) rune {
	head = bytes.TrimPrefix(head, []byte("\ufeff"))
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	best, bestN := ',', bytes.Count(head, []byte{','})
	for _, c := range []rune{';', '\t'} {
		if n := bytes.Count(head, []byte(string(c))); n > bestN {
			best, bestN = c, n
		}
	}
	return best
}

func normalizeHeaders(in []string) []string {
	out := make([]string, len(in))
	seen := map[string]bool{}
	for i, h := range in {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" || seen[h] {
			h = fmt.Sprintf("column_%d", i+1)
		}
		seen[h] = true
		out[i] = h
	}
	return out
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
