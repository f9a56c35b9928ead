package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/oddlane/traderd/internal/domain"
)

// MockRow is one pre-recorded tool response of a benchmark dataset.
type MockRow struct {
	Tool        string
	PYes        float64
	PNo         float64
	Confidence  float64
	InfoUtility float64
}

// Prediction converts the row into the response a live tool would have
// returned.
func (r MockRow) Prediction() (*domain.PredictionResponse, error) {
	return domain.NewPredictionResponse(r.PYes, r.PNo, r.Confidence, r.InfoUtility)
}

// Dataset holds the pre-recorded tool responses a benchmark run replays in
// file order.
type Dataset struct {
	rows []MockRow
}

// datasetColumns is the required CSV header, in order.
var datasetColumns = []string{"tool", "p_yes", "p_no", "confidence", "info_utility"}

// LoadDataset reads a benchmark dataset from a CSV file.
func LoadDataset(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open dataset: %w", err)
	}
	defer f.Close()
	return ReadDataset(f)
}

// ReadDataset parses a benchmark dataset from CSV content.
func ReadDataset(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(datasetColumns)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("pipeline: read dataset header: %w", err)
	}
	for i, want := range datasetColumns {
		if header[i] != want {
			return nil, fmt.Errorf("pipeline: dataset column %d is %q, want %q", i, header[i], want)
		}
	}

	var rows []MockRow
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("pipeline: read dataset line %d: %w", line, err)
		}
		row := MockRow{Tool: record[0]}
		fields := []*float64{&row.PYes, &row.PNo, &row.Confidence, &row.InfoUtility}
		for i, dst := range fields {
			v, err := strconv.ParseFloat(record[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("pipeline: dataset line %d, column %q: %w", line, datasetColumns[i+1], err)
			}
			*dst = v
		}
		rows = append(rows, row)
	}
	return &Dataset{rows: rows}, nil
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.rows) }

// Row returns the row at index; ok is false past the end of the dataset.
func (d *Dataset) Row(index int64) (MockRow, bool) {
	if index < 0 || index >= int64(len(d.rows)) {
		return MockRow{}, false
	}
	return d.rows[index], true
}
