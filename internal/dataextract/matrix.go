package dataextract

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"aitia/internal/model"
)

// MatrixOptions selects and conditions the observation columns of a CSV
// file. Column names take precedence over indexes; with neither set, every
// column is used.
type MatrixOptions struct {
	HasHeader     bool
	ColumnNames   []string
	ColumnIndexes []int
	Normalize     string
}

// LoadMatrixCSV reads an n x d observation matrix. It returns the matrix
// together with the resolved column names (synthesized as x0..x(d-1) when
// the file has no header).
func LoadMatrixCSV(in io.Reader, opts MatrixOptions) (*mat.Dense, []string, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	columnIdx := append([]int(nil), opts.ColumnIndexes...)
	var header []string
	row := 0
	if opts.HasHeader {
		record, err := reader.Read()
		if err == io.EOF {
			return nil, nil, fmt.Errorf("csv has no rows")
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read matrix header: %w", err)
		}
		row++
		header = record
		if len(opts.ColumnNames) > 0 {
			columnIdx = make([]int, 0, len(opts.ColumnNames))
			for _, name := range opts.ColumnNames {
				idx, err := columnIndexByName(record, name)
				if err != nil {
					return nil, nil, err
				}
				columnIdx = append(columnIdx, idx)
			}
		}
	}

	values := make([][]float64, 0, 256)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read matrix row %d: %w", row+1, err)
		}
		row++
		if blankRecord(record) {
			continue
		}
		if len(columnIdx) == 0 {
			columnIdx = allColumns(len(record))
		}
		parsed := make([]float64, len(columnIdx))
		for i, idx := range columnIdx {
			if idx < 0 || idx >= len(record) {
				return nil, nil, fmt.Errorf("matrix row %d missing column index %d", row, idx)
			}
			value, err := strconv.ParseFloat(strings.TrimSpace(record[idx]), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("parse matrix value row %d column %d: %w", row, idx, err)
			}
			parsed[i] = value
		}
		values = append(values, parsed)
	}
	if len(values) == 0 {
		return nil, nil, fmt.Errorf("csv has no data rows")
	}

	cols := len(columnIdx)
	out := mat.NewDense(len(values), cols, nil)
	for i, rowValues := range values {
		if len(rowValues) != cols {
			return nil, nil, fmt.Errorf("matrix row %d has %d columns, want %d", i+1, len(rowValues), cols)
		}
		out.SetRow(i, rowValues)
	}

	if err := normalizeColumns(out, opts.Normalize); err != nil {
		return nil, nil, err
	}

	names := make([]string, cols)
	for i, idx := range columnIdx {
		if len(header) > idx && strings.TrimSpace(header[idx]) != "" {
			names[i] = strings.TrimSpace(header[idx])
		} else {
			names[i] = fmt.Sprintf("x%d", i)
		}
	}
	return out, names, nil
}

// SplitDataset reserves the last heldOut rows of x for evaluation.
func SplitDataset(x *mat.Dense, heldOut int) (model.Dataset, error) {
	rows, cols := x.Dims()
	if heldOut < 0 {
		return model.Dataset{}, fmt.Errorf("held-out rows must be >= 0, got %d", heldOut)
	}
	if heldOut >= rows {
		return model.Dataset{}, fmt.Errorf("held-out rows must leave training data: got %d of %d", heldOut, rows)
	}
	if heldOut == 0 {
		return model.Dataset{X: x}, nil
	}
	train := mat.DenseCopyOf(x.Slice(0, rows-heldOut, 0, cols))
	eval := mat.DenseCopyOf(x.Slice(rows-heldOut, rows, 0, cols))
	return model.Dataset{X: train, HeldOut: eval}, nil
}

func normalizeColumns(x *mat.Dense, mode string) error {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "none":
		return nil
	case "minmax":
		normalizeColumnsMinMax(x)
		return nil
	case "zscore":
		normalizeColumnsZScore(x)
		return nil
	default:
		return fmt.Errorf("unsupported normalization mode: %s", mode)
	}
}

func normalizeColumnsMinMax(x *mat.Dense) {
	rows, cols := x.Dims()
	for j := 0; j < cols; j++ {
		minValue := x.At(0, j)
		maxValue := minValue
		for i := 1; i < rows; i++ {
			value := x.At(i, j)
			if value < minValue {
				minValue = value
			}
			if value > maxValue {
				maxValue = value
			}
		}
		span := maxValue - minValue
		for i := 0; i < rows; i++ {
			if span == 0 {
				x.Set(i, j, 0)
				continue
			}
			x.Set(i, j, (x.At(i, j)-minValue)/span)
		}
	}
}

func normalizeColumnsZScore(x *mat.Dense) {
	rows, cols := x.Dims()
	for j := 0; j < cols; j++ {
		mean := 0.0
		for i := 0; i < rows; i++ {
			mean += x.At(i, j)
		}
		mean /= float64(rows)
		sumSq := 0.0
		for i := 0; i < rows; i++ {
			diff := x.At(i, j) - mean
			sumSq += diff * diff
		}
		std := math.Sqrt(sumSq / float64(rows))
		for i := 0; i < rows; i++ {
			if std == 0 {
				x.Set(i, j, 0)
				continue
			}
			x.Set(i, j, (x.At(i, j)-mean)/std)
		}
	}
}

func allColumns(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func columnIndexByName(header []string, name string) (int, error) {
	want := strings.TrimSpace(strings.ToLower(name))
	for i, field := range header {
		if strings.ToLower(strings.TrimSpace(field)) == want {
			return i, nil
		}
	}
	return -1, fmt.Errorf("csv column not found: %s", name)
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
