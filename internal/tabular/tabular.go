// Package tabular reads and writes the wide CSV layout used for base data,
// overlay data and results: the first column holds the variable name, every
// other column is one period.
//
//	variable_name,2021Q1,2021Q2,2021Q3
//	x1,100,110,121
//
// Empty cells and the literal NaN are missing observations.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/vk/formulagrid/internal/series"
)

// NameColumn is the header of the variable name column.
const NameColumn = "variable_name"

// ErrStartPointNotFound is returned when Options.StartPoint names no column.
var ErrStartPointNotFound = errors.New("start point column not found")

// Options controls loading.
type Options struct {
	// StartPoint drops every period column before the named one.
	StartPoint string
}

// Load reads the CSV file at path. It returns the series keyed by variable
// name and the names in row order.
func Load(fs afero.Fs, path string, opts Options) (map[string]*series.Series, []string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	values, names, err := Read(f, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return values, names, nil
}

// Read parses CSV content from r.
func Read(r io.Reader, opts Options) (map[string]*series.Series, []string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, errors.New("empty input: missing header row")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("invalid header: %w", err)
	}
	if len(header) == 0 || strings.TrimSpace(header[0]) != NameColumn {
		return nil, nil, fmt.Errorf("first column must be %q", NameColumn)
	}

	periods := trimAll(header[1:])
	first := 0
	if opts.StartPoint != "" {
		first = -1
		for i, p := range periods {
			if p == opts.StartPoint {
				first = i
				break
			}
		}
		if first < 0 {
			return nil, nil, fmt.Errorf("%w: %q", ErrStartPointNotFound, opts.StartPoint)
		}
	}
	index := periods[first:]

	out := make(map[string]*series.Series)
	var names []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}

		line, _ := reader.FieldPos(0)
		name := strings.TrimSpace(record[0])
		if name == "" {
			return nil, nil, fmt.Errorf("line %d: empty variable name", line)
		}
		if _, dup := out[name]; dup {
			return nil, nil, fmt.Errorf("line %d: duplicate variable %q", line, name)
		}

		cells := record[1:]
		values := make([]float64, len(index))
		for i := range index {
			v, err := parseCell(cells[first+i])
			if err != nil {
				return nil, nil, fmt.Errorf("line %d, variable %q, period %q: %w", line, name, index[i], err)
			}
			values[i] = v
		}

		s, err := series.New(name, index, values)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		out[name] = s
		names = append(names, name)
	}
	return out, names, nil
}

// Write renders the named series over the union of their indices.
func Write(w io.Writer, names []string, values map[string]*series.Series) error {
	var all []*series.Series
	for _, name := range names {
		if s, ok := values[name]; ok {
			all = append(all, s)
		}
	}
	index := series.UnionIndex(all...)

	writer := csv.NewWriter(w)
	if err := writer.Write(append([]string{NameColumn}, index...)); err != nil {
		return err
	}
	for _, name := range names {
		s, ok := values[name]
		if !ok {
			continue
		}
		row := make([]string, 0, len(index)+1)
		row = append(row, name)
		for _, v := range s.Reindex(index).Values() {
			row = append(row, formatCell(v))
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// Save writes the named series to path, replacing any existing file.
func Save(fs afero.Fs, path string, names []string, values map[string]*series.Series) error {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Write(f, names, values); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func parseCell(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" || strings.EqualFold(cell, "nan") {
		return series.Missing(), nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", cell)
	}
	return v, nil
}

func formatCell(v float64) string {
	if series.IsMissing(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}
