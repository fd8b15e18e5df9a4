package geom

import (
	"fmt"
	"math"
)

// CellBounds holds the per-axis cell boundaries of a decomposition grid.
// Bounds[d] is ascending and has NC[d]+1 entries: cell i on axis d spans
// [Bounds[d][i], Bounds[d][i+1]). Boundaries need not be uniform.
type CellBounds struct {
	NC     [3]int
	Bounds [3][]float64
}

// NewUniformBounds returns the boundaries of a grid with nc equal cells
// per axis laid over a box with origin box0 and edge lengths size.
func NewUniformBounds(box0, size Vec, nc [3]int) *CellBounds {
	cb := &CellBounds{NC: nc}
	for d := 0; d < 3; d++ {
		dx := size[d] / float64(nc[d])
		cb.Bounds[d] = make([]float64, nc[d]+1)
		for j := 0; j <= nc[d]; j++ {
			cb.Bounds[d][j] = box0[d] + float64(j)*dx
		}
	}
	return cb
}

// NewFractionBounds returns statically load balanced boundaries: cell j on
// axis d is given the fraction fracs[d][j] of the axis length. An empty
// fracs[d] means a uniform axis. The fractions on each axis must sum to 1
// to within floating rounding.
func NewFractionBounds(box0, size Vec, nc [3]int, fracs [3][]float64) (*CellBounds, error) {
	cb := &CellBounds{NC: nc}
	for d := 0; d < 3; d++ {
		if len(fracs[d]) == 0 {
			dx := size[d] / float64(nc[d])
			cb.Bounds[d] = make([]float64, nc[d]+1)
			for j := 0; j <= nc[d]; j++ {
				cb.Bounds[d][j] = box0[d] + float64(j)*dx
			}
			continue
		}

		if len(fracs[d]) != nc[d] {
			return nil, fmt.Errorf(
				"axis %d has %d cells but %d cell fractions",
				d, nc[d], len(fracs[d]),
			)
		}
		sum := 0.0
		for _, f := range fracs[d] {
			if f <= 0 {
				return nil, fmt.Errorf(
					"axis %d has non-positive cell fraction %g", d, f,
				)
			}
			sum += f
		}
		if math.Abs(sum-1) > 1e-8 {
			return nil, fmt.Errorf(
				"axis %d cell fractions sum to %g, not 1", d, sum,
			)
		}

		cb.Bounds[d] = make([]float64, nc[d]+1)
		cb.Bounds[d][0] = box0[d]
		for j := 0; j < nc[d]; j++ {
			cb.Bounds[d][j+1] = cb.Bounds[d][j] + size[d]*fracs[d][j]
		}
	}
	return cb, nil
}

// Cell returns the cell index on axis d containing coordinate x: the
// largest index whose lower boundary is at or below x, clamped to the
// final cell.
func (cb *CellBounds) Cell(d int, x float64) int {
	i := 0
	for i+1 < cb.NC[d] && x >= cb.Bounds[d][i+1] {
		i++
	}
	return i
}
