package linalg

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// MatrixRecord is the row-major wire form of a dense matrix. Values are kept
// as float64 so round trips are exact.
type MatrixRecord struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

func RecordOf(m mat.Matrix) MatrixRecord {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, m.At(i, j))
		}
	}
	return MatrixRecord{Rows: r, Cols: c, Data: data}
}

func (r MatrixRecord) Dense() (*mat.Dense, error) {
	if r.Rows <= 0 || r.Cols <= 0 {
		return nil, fmt.Errorf("matrix record shape %dx%d is empty", r.Rows, r.Cols)
	}
	if len(r.Data) != r.Rows*r.Cols {
		return nil, fmt.Errorf("matrix record data length: got=%d want=%d", len(r.Data), r.Rows*r.Cols)
	}
	return mat.NewDense(r.Rows, r.Cols, append([]float64(nil), r.Data...)), nil
}
