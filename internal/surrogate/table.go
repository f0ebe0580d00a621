package surrogate

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// Columns is the canonical sweep table header.
var Columns = []string{"c_b_ref", "f", "q_dot", "c_b", "t_k", "cost", "evaluations"}

// WriteTable writes the usable sweep rows to a CSV file. Failed rows
// are skipped; the table format has no error column.
func WriteTable(path string, rows []Row) error {
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
	for i, r := range rows {
		if !r.Ok() {
			continue
		}
		record := []string{
			formatFloat(r.CBRef),
			formatFloat(r.F),
			formatFloat(r.QDot),
			formatFloat(r.CB),
			formatFloat(r.TK),
			formatFloat(r.Cost),
			strconv.Itoa(r.Evaluations),
		}
		if err := w.Write(record); err != nil {
			return errors.Wrapf(err, "couldn't write row %d to %s", i, path)
		}
	}
	w.Flush()
	return errors.Wrapf(w.Error(), "couldn't flush %s", path)
}

// ReadTable loads a sweep table written by WriteTable.
func ReadTable(path string) ([]Row, error) {
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
		return nil, errors.Errorf("%s: missing header", path)
	}
	for i, name := range Columns {
		if records[0][i] != name {
			return nil, errors.Errorf("%s: header column %d is %q, want %q", path, i, records[0][i], name)
		}
	}

	rows := make([]Row, 0, len(records)-1)
	for i, record := range records[1:] {
		vals := make([]float64, 6)
		for j := 0; j < 6; j++ {
			v, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				return nil, errors.Wrapf(err, "%s: row %d column %s", path, i+1, Columns[j])
			}
			vals[j] = v
		}
		evals, err := strconv.Atoi(record[6])
		if err != nil {
			return nil, errors.Wrapf(err, "%s: row %d column evaluations", path, i+1)
		}
		rows = append(rows, Row{
			CBRef:       vals[0],
			F:           vals[1],
			QDot:        vals[2],
			CB:          vals[3],
			TK:          vals[4],
			Cost:        vals[5],
			Evaluations: evals,
		})
	}
	return rows, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
