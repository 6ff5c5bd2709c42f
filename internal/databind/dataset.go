package databind

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/geochart/server/internal/region"
)

// Mode tells whether dataset rows carry a value column.
type Mode string

const (
	ModeDataless Mode = "dataless"
	ModeValued   Mode = "valued"
)

// Column describes one dataset column.
type Column struct {
	ID    string `json:"id,omitempty"`
	Label string `json:"label,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Dataset is an ordered table whose first column holds region ids and whose
// optional second column holds numeric values.
type Dataset struct {
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// NumberOfRows returns the row count.
func (d *Dataset) NumberOfRows() int { return len(d.Rows) }

// NumberOfColumns returns the column count.
func (d *Dataset) NumberOfColumns() int { return len(d.Columns) }

// Value returns the raw cell at row, col.
func (d *Dataset) Value(row, col int) (any, bool) {
	if row < 0 || row >= len(d.Rows) || col < 0 || col >= len(d.Rows[row]) {
		return nil, false
	}
	return d.Rows[row][col], true
}

// ColumnLabel returns the label of col, falling back to its id.
func (d *Dataset) ColumnLabel(col int) string {
	if col < 0 || col >= len(d.Columns) {
		return ""
	}
	if d.Columns[col].Label != "" {
		return d.Columns[col].Label
	}
	return d.Columns[col].ID
}

// DetectMode derives the binding mode from the column count.
func DetectMode(d *Dataset) (Mode, error) {
	switch len(d.Columns) {
	case 1:
		return ModeDataless, nil
	case 2:
		return ModeValued, nil
	default:
		return "", fmt.Errorf("%w: expected 1 or 2 columns, got %d", ErrIncompatibleDataset, len(d.Columns))
	}
}

// row is a validated dataset row.
type row struct {
	index    int
	id       region.ID
	value    float64
	hasValue bool
}

// validate checks every row against the column layout before any binding
// state is built.
func validate(d *Dataset, mode Mode) ([]row, error) {
	width := len(d.Columns)
	rows := make([]row, 0, len(d.Rows))
	for i, cells := range d.Rows {
		if len(cells) != width {
			return nil, fmt.Errorf("%w: row %d has %d cells, expected %d", ErrIncompatibleDataset, i, len(cells), width)
		}
		id, ok := region.IDOf(cells[0])
		if !ok {
			return nil, fmt.Errorf("%w: row %d has invalid id %v", ErrIncompatibleDataset, i, cells[0])
		}
		r := row{index: i, id: id}
		if mode == ModeValued && cells[1] != nil {
			v, ok := numeric(cells[1])
			if !ok {
				return nil, fmt.Errorf("%w: row %d has non-numeric value %v", ErrIncompatibleDataset, i, cells[1])
			}
			r.value, r.hasValue = v, true
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func numeric(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// dataTable mirrors the Google Charts DataTable JSON literal.
type dataTable struct {
	Cols []Column `json:"cols"`
	Rows []struct {
		C []*struct {
			V any `json:"v"`
		} `json:"c"`
	} `json:"rows"`
}

// UnmarshalJSON accepts the compact {"columns","rows"} form and the
// DataTable literal {"cols","rows":[{"c":[{"v":...}]}]}.
func (d *Dataset) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	dec := func(v any) error {
		dd := json.NewDecoder(bytes.NewReader(data))
		dd.UseNumber()
		return dd.Decode(v)
	}

	if _, ok := probe["cols"]; ok {
		var dt dataTable
		if err := dec(&dt); err != nil {
			return err
		}
		d.Columns = dt.Cols
		d.Rows = make([][]any, len(dt.Rows))
		for i, r := range dt.Rows {
			cells := make([]any, len(r.C))
			for j, c := range r.C {
				if c != nil {
					cells[j] = c.V
				}
			}
			d.Rows[i] = cells
		}
		return nil
	}

	type plain Dataset
	var p plain
	if err := dec(&p); err != nil {
		return err
	}
	*d = Dataset(p)
	return nil
}

// ReadCSV decodes a dataset whose first record is the header. Value cells
// that are empty become nulls.
func ReadCSV(r io.Reader) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: missing header", ErrIncompatibleDataset)
	}

	ds := &Dataset{}
	for _, h := range records[0] {
		ds.Columns = append(ds.Columns, Column{Label: strings.TrimSpace(h)})
	}
	for i, rec := range records[1:] {
		cells := make([]any, len(rec))
		for j, s := range rec {
			s = strings.TrimSpace(s)
			if j == 0 {
				cells[j] = s
				continue
			}
			if s == "" {
				continue
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d: %v", ErrIncompatibleDataset, i, err)
			}
			cells[j] = v
		}
		ds.Rows = append(ds.Rows, cells)
	}
	return ds, nil
}

// ReadFile loads a dataset from a .csv file or a JSON document in either
// accepted form.
func ReadFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return ReadCSV(f)
	}
	var ds Dataset
	if err := json.NewDecoder(f).Decode(&ds); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &ds, nil
}
