package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Index is an immutable name → price lookup built from a price table.
// The backend uses it to attach prices to its own detections.
type Index struct {
	entries []Entry
	byName  map[string]float64
}

// NewIndex builds an index. Later duplicates do not replace earlier names.
func NewIndex(entries []Entry) *Index {
	idx := &Index{
		entries: make([]Entry, len(entries)),
		byName:  make(map[string]float64, len(entries)),
	}
	copy(idx.entries, entries)
	for _, e := range entries {
		key := Fold(e.Name)
		if _, ok := idx.byName[key]; !ok {
			idx.byName[key] = e.Price
		}
	}
	return idx
}

// Price returns the price for name and whether it is listed.
func (i *Index) Price(name string) (float64, bool) {
	p, ok := i.byName[Fold(name)]
	return p, ok
}

// Entries returns a copy of the table in file order.
func (i *Index) Entries() []Entry {
	out := make([]Entry, len(i.entries))
	copy(out, i.entries)
	return out
}

// Len returns the number of rows in the table.
func (i *Index) Len() int { return len(i.entries) }

// LoadCSV reads a price table with a header row containing Name and Price
// columns (any order, extra columns ignored).
func LoadCSV(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("catalog: empty price table")
		}
		return nil, fmt.Errorf("catalog: read header: %w", err)
	}

	nameCol, priceCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "name":
			nameCol = i
		case "price":
			priceCol = i
		}
	}
	if nameCol < 0 || priceCol < 0 {
		return nil, fmt.Errorf("catalog: header %v must contain Name and Price", header)
	}

	var entries []Entry
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("catalog: line %d: %w", line, err)
		}
		if nameCol >= len(rec) || priceCol >= len(rec) {
			return nil, fmt.Errorf("catalog: line %d: missing columns", line)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(rec[priceCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("catalog: line %d: bad price %q: %w", line, rec[priceCol], err)
		}
		entries = append(entries, Entry{Name: strings.TrimSpace(rec[nameCol]), Price: price})
	}
	return entries, nil
}
