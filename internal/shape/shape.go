// Package shape provides a fixed-capacity tensor shape value type.
package shape

import (
	"errors"
	"fmt"
	"strings"
)

// MaxDim is the largest rank a Shape can hold.
const MaxDim = 8

// UnknownRankDim is the single dimension value used to mark a shape whose
// rank is not known yet.
const UnknownRankDim int64 = -2

// ErrRankOverflow is returned when an operation would exceed MaxDim.
var ErrRankOverflow = errors.New("shape: rank exceeds capacity")

// Shape is an ordered list of dimension sizes backed by a fixed array.
// The zero value is a rank-0 shape. Shapes are values; copying a Shape
// copies its dimensions.
type Shape struct {
	dims [MaxDim]int64
	n    int
}

// New creates a shape from dims. Every dim must be non-negative unless the
// whole shape is the unknown-rank sentinel {-2}.
func New(dims ...int64) (Shape, error) {
	if len(dims) > MaxDim {
		return Shape{}, fmt.Errorf("%w: %d > %d", ErrRankOverflow, len(dims), MaxDim)
	}

	if len(dims) == 1 && dims[0] == UnknownRankDim {
		return UnknownRank(), nil
	}

	var s Shape
	for i, d := range dims {
		if d < 0 {
			return Shape{}, fmt.Errorf("shape: dim %d is negative (%d)", i, d)
		}

		s.dims[i] = d
	}

	s.n = len(dims)

	return s, nil
}

// MustNew is like New but panics on error. Intended for literals in tests
// and tables.
func MustNew(dims ...int64) Shape {
	s, err := New(dims...)
	if err != nil {
		panic(err)
	}

	return s
}

// UnknownRank returns the unknown-rank sentinel shape.
func UnknownRank() Shape {
	var s Shape
	s.dims[0] = UnknownRankDim
	s.n = 1

	return s
}

// IsUnknownRank reports whether s is the unknown-rank sentinel.
func (s Shape) IsUnknownRank() bool {
	return s.n == 1 && s.dims[0] == UnknownRankDim
}

func (s Shape) Rank() int { return s.n }

// Dim returns dimension i. Negative i counts from the end.
func (s Shape) Dim(i int) int64 {
	if i < 0 {
		i += s.n
	}

	if i < 0 || i >= s.n {
		panic(fmt.Sprintf("shape: dim index %d out of range for rank %d", i, s.n))
	}

	return s.dims[i]
}

// Dims returns a copy of the dimensions.
func (s Shape) Dims() []int64 {
	return append([]int64(nil), s.dims[:s.n]...)
}

// Product returns the element count of the shape. A rank-0 shape has one
// element.
func (s Shape) Product() int64 {
	return s.ProductRange(0, s.n)
}

// ProductRange returns the product of dims[lo:hi].
func (s Shape) ProductRange(lo, hi int) int64 {
	p := int64(1)
	for i := lo; i < hi; i++ {
		p *= s.dims[i]
	}

	return p
}

// HasZero reports whether any dimension is zero.
func (s Shape) HasZero() bool {
	for i := range s.n {
		if s.dims[i] == 0 {
			return true
		}
	}

	return false
}

// Append returns a copy of s with d added as the innermost dimension.
func (s Shape) Append(d int64) (Shape, error) {
	return s.Insert(s.n, d)
}

// Insert returns a copy of s with d inserted before position pos.
func (s Shape) Insert(pos int, d int64) (Shape, error) {
	if s.n == MaxDim {
		return Shape{}, fmt.Errorf("%w: insert into rank %d", ErrRankOverflow, s.n)
	}

	if pos < 0 || pos > s.n {
		return Shape{}, fmt.Errorf("shape: insert position %d out of range for rank %d", pos, s.n)
	}

	if d < 0 {
		return Shape{}, fmt.Errorf("shape: inserted dim is negative (%d)", d)
	}

	out := s
	copy(out.dims[pos+1:out.n+1], s.dims[pos:s.n])
	out.dims[pos] = d
	out.n++

	return out, nil
}

// Permute returns the shape whose i-th dim is s.Dim(perm[i]).
func (s Shape) Permute(perm []int) (Shape, error) {
	if err := CheckPermutation(perm, s.n); err != nil {
		return Shape{}, err
	}

	var out Shape
	for i, p := range perm {
		out.dims[i] = s.dims[p]
	}

	out.n = s.n

	return out, nil
}

func (s Shape) Equal(o Shape) bool {
	if s.n != o.n {
		return false
	}

	for i := range s.n {
		if s.dims[i] != o.dims[i] {
			return false
		}
	}

	return true
}

func (s Shape) String() string {
	var sb strings.Builder

	sb.WriteByte('{')

	for i := range s.n {
		if i > 0 {
			sb.WriteByte(',')
		}

		fmt.Fprintf(&sb, "%d", s.dims[i])
	}

	sb.WriteByte('}')

	return sb.String()
}

// CheckPermutation returns an error unless perm is a permutation of
// 0..rank-1.
func CheckPermutation(perm []int, rank int) error {
	if len(perm) != rank {
		return fmt.Errorf("shape: permutation length %d does not match rank %d", len(perm), rank)
	}

	var seen [MaxDim]bool
	for i, p := range perm {
		if p < 0 || p >= rank {
			return fmt.Errorf("shape: permutation entry %d (%d) out of range for rank %d", i, p, rank)
		}

		if seen[p] {
			return fmt.Errorf("shape: permutation repeats axis %d", p)
		}

		seen[p] = true
	}

	return nil
}

// InversePermute returns q such that q[perm[i]] == i.
func InversePermute(perm []int) []int {
	inv := make([]int, len(perm))
	for i, p := range perm {
		inv[p] = i
	}

	return inv
}

// IsIdentity reports whether perm maps every axis to itself.
func IsIdentity(perm []int) bool {
	for i, p := range perm {
		if i != p {
			return false
		}
	}

	return true
}
