/*package geom contains routines for describing simulation boxes and the
cell grids laid over them.

Boxes are represented by lower-triangular matrices whose rows are the box
vectors, so orthogonal boxes have zero off-diagonal elements and triclinic
boxes do not.
*/
package geom

import (
	"fmt"
)

// Vec is a three dimensional vector.
type Vec [3]float64

// Matrix is a 3 x 3 matrix stored as three row vectors.
type Matrix [3]Vec

// Box describes a simulation cell: the box matrix, the number of leading
// dimensions with periodic boundaries, and whether the x axis uses screw
// (helical) boundaries instead of plain periodic ones.
type Box struct {
	M       Matrix
	PbcDims int
	Screw   bool
}

// Add adds v2 to v in place.
func (v *Vec) Add(v2 *Vec) {
	v[0] += v2[0]
	v[1] += v2[1]
	v[2] += v2[2]
}

// Sub subtracts v2 from v in place.
func (v *Vec) Sub(v2 *Vec) {
	v[0] -= v2[0]
	v[1] -= v2[1]
	v[2] -= v2[2]
}

// Scale multiplies every component of v by s in place.
func (v *Vec) Scale(s float64) {
	v[0] *= s
	v[1] *= s
	v[2] *= s
}

// Diag returns the diagonal of m, the edge lengths of the box.
func (m *Matrix) Diag() Vec {
	return Vec{m[0][0], m[1][1], m[2][2]}
}

// TricCorrMatrix returns the triclinic correction matrix for b. Entry
// [j][d] is the factor applied to coordinate j when reducing coordinate
// d (d < j) into the primary cell, so corrections for an axis only ever
// involve higher axes.
func (b *Box) TricCorrMatrix() Matrix {
	var tcm Matrix
	if 1 < b.PbcDims {
		tcm[1][0] = -b.M[1][0] / b.M[1][1]
	}
	if 2 < b.PbcDims {
		tcm[2][0] = -(b.M[2][1]*tcm[1][0] + b.M[2][0]) / b.M[2][2]
		tcm[2][1] = -b.M[2][1] / b.M[2][2]
	}
	return tcm
}

// TricDir returns whether axis d has triclinic couplings, i.e. whether any
// higher box vector has a nonzero component along d.
func (b *Box) TricDir(d int) bool {
	for j := d + 1; j < 3; j++ {
		if b.M[j][d] != 0 {
			return true
		}
	}
	return false
}

// CheckScrew returns an error unless the box is compatible with screw
// boundaries, which require a fully orthogonal cell.
func (b *Box) CheckScrew() error {
	if b.M[1][0] != 0 || b.M[2][0] != 0 || b.M[2][1] != 0 {
		return fmt.Errorf(
			"screw boundaries require an orthogonal box, got " +
				"nonzero off-diagonal box elements",
		)
	}
	return nil
}

// screwReflect reflects the y and z coordinates of v through the box
// center, the coordinate transform applied on every screw wrap.
func screwReflect(v *Vec, m *Matrix) {
	v[1] = m[1][1] - v[1]
	v[2] = m[2][2] - v[2]
}

// WrapGroup reduces a representative coordinate pos along axis d into
// [0, box length) by repeatedly adding or subtracting the box vector,
// applying the same shifts to every vector in ps. Groups further than one
// box length outside the cell wrap multiple times; the repeated shifts are
// deliberate and must not be collapsed into a single modulo, since each
// shift is also applied to the member vectors (and, under screw
// boundaries, each one reflects the transverse coordinates).
//
// The representative vector rep and the members ps are mutated in place.
// The returned value is pos after reduction.
func (b *Box) WrapGroup(d int, pos float64, rep *Vec, ps []Vec) float64 {
	screw := b.Screw && d == 0
	for pos >= b.M[d][d] {
		pos -= b.M[d][d]
		rep.Sub(&b.M[d])
		if screw {
			screwReflect(rep, &b.M)
		}
		for i := range ps {
			ps[i].Sub(&b.M[d])
			if screw {
				screwReflect(&ps[i], &b.M)
			}
		}
	}
	for pos < 0 {
		pos += b.M[d][d]
		rep.Add(&b.M[d])
		if screw {
			screwReflect(rep, &b.M)
		}
		for i := range ps {
			ps[i].Add(&b.M[d])
			if screw {
				screwReflect(&ps[i], &b.M)
			}
		}
	}
	return pos
}
