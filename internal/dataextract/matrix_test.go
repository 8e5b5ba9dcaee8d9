package dataextract

import (
	"math"
	"strings"
	"testing"
)

func TestLoadMatrixCSVByHeaderNames(t *testing.T) {
	in := strings.NewReader("a,b,c\n1,2,3\n4,5,6\n")
	x, names, err := LoadMatrixCSV(in, MatrixOptions{
		HasHeader:   true,
		ColumnNames: []string{"c", "a"},
	})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	rows, cols := x.Dims()
	if rows != 2 || cols != 2 {
		t.Fatalf("unexpected dims: %dx%d", rows, cols)
	}
	if x.At(0, 0) != 3 || x.At(0, 1) != 1 || x.At(1, 0) != 6 {
		t.Fatalf("column selection wrong: %v", x.RawMatrix().Data)
	}
	if names[0] != "c" || names[1] != "a" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestLoadMatrixCSVWithoutHeader(t *testing.T) {
	in := strings.NewReader("1,2\n3,4\n\n5,6\n")
	x, names, err := LoadMatrixCSV(in, MatrixOptions{})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	rows, _ := x.Dims()
	if rows != 3 {
		t.Fatalf("blank row not skipped: rows=%d", rows)
	}
	if names[0] != "x0" || names[1] != "x1" {
		t.Fatalf("unexpected synthesized names: %v", names)
	}
}

func TestLoadMatrixCSVZScore(t *testing.T) {
	in := strings.NewReader("1,10\n2,10\n3,10\n")
	x, _, err := LoadMatrixCSV(in, MatrixOptions{Normalize: "zscore"})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	rows, _ := x.Dims()
	mean := 0.0
	for i := 0; i < rows; i++ {
		mean += x.At(i, 0)
	}
	if math.Abs(mean) > 1e-12 {
		t.Fatalf("zscore column mean should be 0, got %g", mean)
	}
	for i := 0; i < rows; i++ {
		if x.At(i, 1) != 0 {
			t.Fatalf("constant column should normalize to 0, got %g", x.At(i, 1))
		}
	}
}

func TestLoadMatrixCSVRejectsNonNumeric(t *testing.T) {
	in := strings.NewReader("1,2\n3,oops\n")
	if _, _, err := LoadMatrixCSV(in, MatrixOptions{}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadMatrixCSVRejectsUnknownNormalize(t *testing.T) {
	in := strings.NewReader("1,2\n3,4\n")
	if _, _, err := LoadMatrixCSV(in, MatrixOptions{Normalize: "log"}); err == nil {
		t.Fatalf("expected error for unsupported mode")
	}
}

func TestSplitDatasetReservesTail(t *testing.T) {
	in := strings.NewReader("1,2\n3,4\n5,6\n7,8\n")
	x, _, err := LoadMatrixCSV(in, MatrixOptions{})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	data, err := SplitDataset(x, 1)
	if err != nil {
		t.Fatalf("split failed: %v", err)
	}
	if data.Rows() != 3 {
		t.Fatalf("unexpected training rows: %d", data.Rows())
	}
	hoRows, _ := data.HeldOut.Dims()
	if hoRows != 1 || data.HeldOut.At(0, 0) != 7 {
		t.Fatalf("held-out split wrong: %v", data.HeldOut.RawMatrix().Data)
	}

	if _, err := SplitDataset(x, 4); err == nil {
		t.Fatalf("expected error when held-out swallows all rows")
	}
}
