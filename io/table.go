package io

import (
	"fmt"

	"github.com/phil-mansfield/table"

	"github.com/kslagle/gomd/geom"
)

// ReadPositions reads particle positions from a whitespace separated
// table with x, y, z in the first three columns.
func ReadPositions(fname string) ([]geom.Vec, error) {
	cols, err := table.ReadTable(fname, []int{0, 1, 2}, nil)
	if err != nil {
		return nil, err
	}

	xs, ys, zs := cols[0], cols[1], cols[2]
	pos := make([]geom.Vec, len(xs))
	for i := range pos {
		pos[i] = geom.Vec{xs[i], ys[i], zs[i]}
	}
	return pos, nil
}

// ReadGroupedPositions reads positions with a fourth column of group ids.
// Ids must be non-decreasing so that groups are contiguous runs; the
// returned sizes list the atoms per group in order.
func ReadGroupedPositions(fname string) ([]geom.Vec, []int, error) {
	cols, err := table.ReadTable(fname, []int{0, 1, 2, 3}, nil)
	if err != nil {
		return nil, nil, err
	}

	xs, ys, zs, ids := cols[0], cols[1], cols[2], cols[3]
	pos := make([]geom.Vec, len(xs))
	sizes := []int{}
	for i := range pos {
		pos[i] = geom.Vec{xs[i], ys[i], zs[i]}

		if i > 0 && ids[i] < ids[i-1] {
			return nil, nil, fmt.Errorf(
				"group id %g on row %d follows id %g: groups must be "+
					"contiguous runs", ids[i], i, ids[i-1],
			)
		}
		if i == 0 || ids[i] != ids[i-1] {
			sizes = append(sizes, 0)
		}
		sizes[len(sizes)-1]++
	}
	return pos, sizes, nil
}
