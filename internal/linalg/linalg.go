// Package linalg holds the dense vector and matrix helpers shared by the
// weight dynamics engine and its collaborators.
package linalg

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var ErrRaggedRows = errors.New("rows have different lengths")

// Vector is a fixed-length dense real vector.
type Vector []float64

func NewVector(n int) Vector {
	return make(Vector, n)
}

func (v Vector) Len() int {
	return len(v)
}

func (v Vector) Clone() Vector {
	return append(Vector(nil), v...)
}

// Norm returns the Euclidean norm.
func (v Vector) Norm() float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Norm(v, 2)
}

func (v Vector) Dot(other Vector) float64 {
	return floats.Dot(v, other)
}

func (v Vector) Scaled(f float64) Vector {
	out := v.Clone()
	floats.Scale(f, out)
	return out
}

func (v Vector) Add(other Vector) (Vector, error) {
	if len(v) != len(other) {
		return nil, fmt.Errorf("add vectors: got=%d want=%d", len(other), len(v))
	}
	out := v.Clone()
	floats.Add(out, other)
	return out, nil
}

func (v Vector) Finite() bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// VecDense views v as a gonum column vector without copying.
func (v Vector) VecDense() *mat.VecDense {
	return mat.NewVecDense(len(v), v)
}

// Zeros returns an r×c zero matrix. Both dimensions must be positive.
func Zeros(r, c int) *mat.Dense {
	return mat.NewDense(r, c, nil)
}

// Outer returns alpha·x⊗y, a len(x)×len(y) matrix.
func Outer(alpha float64, x, y Vector) *mat.Dense {
	var m mat.Dense
	m.Outer(alpha, x.VecDense(), y.VecDense())
	return &m
}

func Scale(f float64, m mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Scale(f, m)
	return &out
}

func Add(a, b mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Add(a, b)
	return &out
}

// FrobeniusNorm returns sqrt(sum of squared entries).
func FrobeniusNorm(m mat.Matrix) float64 {
	if m == nil {
		return 0
	}
	r, c := m.Dims()
	if r == 0 || c == 0 {
		return 0
	}
	return mat.Norm(m, 2)
}

func AllFinite(m mat.Matrix) bool {
	if dense, ok := m.(*mat.Dense); ok {
		raw := dense.RawMatrix()
		for i := 0; i < raw.Rows; i++ {
			row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
			if !Vector(row).Finite() {
				return false
			}
		}
		return true
	}
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			x := m.At(i, j)
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
	}
	return true
}

// Rows copies m into row slices.
func Rows(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		for j := range out[i] {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

// FromRows builds a dense matrix from equally sized rows.
func FromRows(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.New("matrix must have at least one row and column")
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d: %w", i, ErrRaggedRows)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), cols, data), nil
}

// Softmax returns the max-shifted softmax of logits. A degenerate sum falls
// back to the uniform distribution.
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := floats.Max(logits)
	out := make([]float64, len(logits))
	sum := 0.0
	for i, l := range logits {
		out[i] = math.Exp(l - maxLogit)
		sum += out[i]
	}
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		uniform := 1.0 / float64(len(logits))
		for i := range out {
			out[i] = uniform
		}
		return out
	}
	floats.Scale(1/sum, out)
	return out
}
