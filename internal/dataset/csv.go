package dataset

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// WriteCSV writes the table to path with the canonical header. Values
// are formatted with full float64 round-trip precision.
func (t *Table) WriteCSV(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "couldn't create directory %s", dir)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "couldn't create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Columns); err != nil {
		return errors.Wrapf(err, "couldn't write header to %s", path)
	}
	for i, s := range t.Samples {
		record := []string{
			formatFloat(s.CA),
			formatFloat(s.CB),
			formatFloat(s.TK),
			formatFloat(s.F),
			formatFloat(s.QDot),
		}
		if err := w.Write(record); err != nil {
			return errors.Wrapf(err, "couldn't write row %d to %s", i, path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrapf(err, "couldn't flush %s", path)
	}
	return nil
}

// ReadCSV reads a table written by WriteCSV. The header must match the
// canonical column order exactly.
func ReadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(Columns)

	records, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't parse %s", path)
	}
	if len(records) == 0 {
		return nil, errors.Errorf("%s is empty", path)
	}

	for i, name := range Columns {
		if records[0][i] != name {
			return nil, errors.Errorf("%s has header %v, want %v", path, records[0], Columns)
		}
	}

	table := &Table{Samples: make([]Sample, 0, len(records)-1)}
	for rowIdx, record := range records[1:] {
		values := make([]float64, len(Columns))
		for i, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "%s row %d column %s", path, rowIdx+1, Columns[i])
			}
			values[i] = v
		}
		table.Append(Sample{
			CA:   values[0],
			CB:   values[1],
			TK:   values[2],
			F:    values[3],
			QDot: values[4],
		})
	}
	return table, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
