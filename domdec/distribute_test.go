package domdec

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kslagle/gomd/comm"
	"github.com/kslagle/gomd/geom"
	"github.com/kslagle/gomd/md"
)

func orthoBox(lx, ly, lz float64) *geom.Box {
	return &geom.Box{
		M:       geom.Matrix{{lx, 0, 0}, {0, ly, 0}, {0, 0, lz}},
		PbcDims: 3,
	}
}

func uniformBounds(box *geom.Box, nc [3]int) *geom.CellBounds {
	return geom.NewUniformBounds(geom.Vec{}, box.M.Diag(), nc)
}

func makeGlobal(flags uint32, pos []geom.Vec) *md.State {
	global := md.NewState(flags, len(pos), 2, 1, 3)
	copy(global.X, pos)
	if flags&md.StateV != 0 {
		for i := range global.V {
			global.V[i] = geom.Vec{float64(i), -float64(i), 0.5}
		}
	}
	return global
}

// runRound runs one full distribution round on an in-process group and
// returns each rank's decomposition and local state.
func runRound(
	t *testing.T, nc [3]int, threshold int, groups *AtomGroups,
	global *md.State, box *geom.Box, bounds *geom.CellBounds,
) ([]*Dec, []*md.State) {
	n := nc[0] * nc[1] * nc[2]
	decs := make([]*Dec, n)
	locals := make([]*md.State, n)

	fabric := comm.NewFabric(n)
	err := fabric.Run(func(c comm.Comm) error {
		d, err := NewDec(c, nc)
		if err != nil {
			return err
		}
		d.SendRecvThreshold = threshold

		local := md.NewLocalState(global)
		err = d.DistributeState(groups, global, local, box, bounds, nil)
		if err != nil {
			return err
		}

		decs[c.Rank()] = d
		locals[c.Rank()] = local
		return nil
	})
	require.NoError(t, err)
	return decs, locals
}

// gatherVecs reassembles a distributed per-atom field into global atom
// order using each rank's local to global group mapping.
func gatherVecs(
	groups *AtomGroups, decs []*Dec, locals []*md.State,
	pick func(s *md.State) []geom.Vec,
) []geom.Vec {
	out := make([]geom.Vec, groups.NumAtoms())
	for r, d := range decs {
		lv := pick(locals[r])
		for i := 0; i < d.HomeGroups; i++ {
			gl := d.IndexGl[i]
			off := d.GroupIndex[i]
			for j := int32(0); j < groups.Index[gl+1]-groups.Index[gl]; j++ {
				out[groups.Index[gl]+j] = lv[off+j]
			}
		}
	}
	return out
}

func TestScenarioA(t *testing.T) {
	// Cubic box of side 4, 2x2x2 grid, one single atom group per octant
	// centroid: every domain ends up with exactly one atom.
	nc := [3]int{2, 2, 2}
	box := orthoBox(4, 4, 4)
	pos := []geom.Vec{}
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			for z := 0; z < 2; z++ {
				pos = append(pos, geom.Vec{
					1 + 2*float64(x), 1 + 2*float64(y), 1 + 2*float64(z),
				})
			}
		}
	}
	groups := NewAtomGroups([]int{1, 1, 1, 1, 1, 1, 1, 1})

	decs, _ := runRound(t, nc, 4, groups, makeGlobal(md.StateX, pos), box,
		uniformBounds(box, nc))

	for r, d := range decs {
		assert.Equal(t, 1, d.HomeGroups, "rank %d group count", r)
		assert.Equal(t, 1, d.HomeAtoms, "rank %d atom count", r)
		// Groups were laid out in domain id order.
		assert.Equal(t, []int32{int32(r)}, d.IndexGl[:d.HomeGroups])
	}

	stats := decs[0].Ledger().Stats()
	assert.Equal(t, 8, stats.Domains)
	assert.Equal(t, 1.0, stats.Mean)
	assert.Equal(t, 0.0, stats.StdDev)
	assert.Equal(t, 1, stats.Min)
	assert.Equal(t, 1, stats.Max)
}

func TestScenarioB(t *testing.T) {
	// A centroid a little below zero wraps across the periodic boundary
	// into the top domain, not into the cell a raw boundary scan of the
	// negative coordinate would suggest.
	nc := [3]int{1, 1, 2}
	box := orthoBox(4, 4, 4)
	pos := []geom.Vec{{1, 1, -0.05}}
	groups := NewAtomGroups([]int{1})

	decs, locals := runRound(t, nc, 4, groups, makeGlobal(md.StateX, pos),
		box, uniformBounds(box, nc))

	assert.Equal(t, 0, decs[0].HomeAtoms)
	assert.Equal(t, 1, decs[1].HomeAtoms)
	assert.InDelta(t, 3.95, locals[1].X[0][2], 1e-12,
		"the position was canonicalized during assignment")
}

func TestAssignmentCompleteAndDisjoint(t *testing.T) {
	// P1 and P2: every group lands on exactly one domain and atom counts
	// add up, including groups far outside the box.
	rng := rand.New(rand.NewSource(42))
	nc := [3]int{3, 2, 2}
	box := orthoBox(6, 5, 4)

	sizes := []int{}
	numAtoms := 0
	for numAtoms < 200 {
		n := 1 + rng.Intn(3)
		sizes = append(sizes, n)
		numAtoms += n
	}
	groups := NewAtomGroups(sizes)

	pos := make([]geom.Vec, numAtoms)
	for i := range pos {
		for d := 0; d < 3; d++ {
			pos[i][d] = -8 + 24*rng.Float64()
		}
	}

	decs, _ := runRound(t, nc, 4, groups, makeGlobal(md.StateX, pos), box,
		uniformBounds(box, nc))

	seen := []int{}
	atomSum := 0
	for _, d := range decs {
		for _, g := range d.IndexGl[:d.HomeGroups] {
			seen = append(seen, int(g))
		}
		atomSum += d.HomeAtoms
	}
	require.Len(t, seen, groups.NumGroups(), "every group assigned exactly once")
	sort.Ints(seen)
	for i, g := range seen {
		assert.Equal(t, i, g)
	}
	assert.Equal(t, numAtoms, atomSum, "atom counts sum to the global count")
}

func TestGroupsNeverSplit(t *testing.T) {
	// A group straddling a cell boundary moves as one unit, placed by
	// its centroid.
	nc := [3]int{2, 1, 1}
	box := orthoBox(4, 4, 4)
	// Centroid x = 2.25: right of the boundary at 2.
	pos := []geom.Vec{{1.75, 1, 1}, {2.75, 1, 1}}
	groups := NewAtomGroups([]int{2})

	decs, _ := runRound(t, nc, 4, groups, makeGlobal(md.StateX, pos), box,
		uniformBounds(box, nc))

	assert.Equal(t, 0, decs[0].HomeAtoms)
	assert.Equal(t, 2, decs[1].HomeAtoms)
}

func TestTriclinicAssignment(t *testing.T) {
	// With a z box vector leaning along x, the x cell of a high atom
	// shifts by the triclinic correction.
	nc := [3]int{2, 1, 1}
	box := &geom.Box{
		M:       geom.Matrix{{10, 0, 0}, {0, 8, 0}, {4, 0, 6}},
		PbcDims: 3,
	}
	bounds := geom.NewUniformBounds(geom.Vec{}, box.M.Diag(), nc)

	// tcm[2][0] = -4/6: x is corrected to 6 + 3*(-4/6) = 4, cell 0,
	// where the raw coordinate 6 would land in cell 1.
	pos := []geom.Vec{{6, 1, 3}}
	groups := NewAtomGroups([]int{1})

	decs, _ := runRound(t, nc, 4, groups, makeGlobal(md.StateX, pos), box, bounds)

	assert.Equal(t, 1, decs[0].HomeAtoms)
	assert.Equal(t, 0, decs[1].HomeAtoms)
}

func TestStrategiesByteIdentical(t *testing.T) {
	// P4: the point-to-point and collective paths deliver bit identical
	// local arrays.
	nc := [3]int{2, 2, 2}
	box := orthoBox(6, 6, 6)
	bounds := uniformBounds(box, nc)

	rng := rand.New(rand.NewSource(7))
	pos := make([]geom.Vec, 120)
	for i := range pos {
		for d := 0; d < 3; d++ {
			pos[i][d] = -6 + 18*rng.Float64()
		}
	}
	sizes := make([]int, 40)
	for i := range sizes {
		sizes[i] = 3
	}
	groups := NewAtomGroups(sizes)

	run := func(threshold int) []*md.State {
		_, locals := runRound(t, nc, threshold, groups,
			makeGlobal(md.StateX|md.StateV, pos), box, bounds)
		return locals
	}
	sendrecv := run(8) // 8 domains <= 8: point-to-point
	scatterv := run(1) // 8 domains > 1: collective

	for r := range sendrecv {
		require.Equal(t, len(sendrecv[r].X), len(scatterv[r].X))
		for i := range sendrecv[r].X {
			for d := 0; d < 3; d++ {
				assert.Equal(t,
					math.Float64bits(sendrecv[r].X[i][d]),
					math.Float64bits(scatterv[r].X[i][d]),
					"rank %d atom %d axis %d", r, i, d,
				)
				assert.Equal(t,
					math.Float64bits(sendrecv[r].V[i][d]),
					math.Float64bits(scatterv[r].V[i][d]),
				)
			}
		}
	}
}

func TestScenarioC(t *testing.T) {
	// Identical geometry on 16 domains (below the threshold of 32, so
	// point-to-point) and 64 domains (collective) gives element-wise
	// identical positions after gathering.
	box := orthoBox(8, 8, 8)

	rng := rand.New(rand.NewSource(3))
	pos := make([]geom.Vec, 256)
	for i := range pos {
		for d := 0; d < 3; d++ {
			pos[i][d] = 8 * rng.Float64()
		}
	}
	sizes := make([]int, 128)
	for i := range sizes {
		sizes[i] = 2
	}
	groups := NewAtomGroups(sizes)

	gather := func(nc [3]int) []geom.Vec {
		decs, locals := runRound(t, nc, 32, groups,
			makeGlobal(md.StateX, pos), box, uniformBounds(box, nc))
		return gatherVecs(groups, decs, locals,
			func(s *md.State) []geom.Vec { return s.X })
	}

	small := gather([3]int{2, 2, 4})
	large := gather([3]int{4, 4, 4})

	require.Equal(t, len(small), len(large))
	for i := range small {
		for d := 0; d < 3; d++ {
			assert.InDelta(t, small[i][d], large[i][d], 1e-12,
				"atom %d axis %d", i, d)
		}
	}
}

func TestDistributeGatherRoundTrip(t *testing.T) {
	// P5: gathering the distributed positions rebuilds the canonicalized
	// global array exactly, in the original per-group order.
	nc := [3]int{2, 2, 1}
	box := orthoBox(5, 5, 5)

	rng := rand.New(rand.NewSource(11))
	pos := make([]geom.Vec, 60)
	for i := range pos {
		for d := 0; d < 3; d++ {
			pos[i][d] = -5 + 15*rng.Float64()
		}
	}
	groups := NewAtomGroups([]int{
		2, 3, 1, 4, 2, 2, 3, 1, 2, 5, 2, 3, 1, 4, 2, 2, 3, 1, 2, 5,
		2, 3, 1, 2, 2,
	})
	require.Equal(t, 60, groups.NumAtoms())

	global := makeGlobal(md.StateX, pos)
	decs, locals := runRound(t, nc, 4, groups, global, box,
		uniformBounds(box, nc))

	gathered := gatherVecs(groups, decs, locals,
		func(s *md.State) []geom.Vec { return s.X })
	// Assignment canonicalized global.X in place, so the gathered array
	// must match it bit for bit.
	assert.Equal(t, global.X, gathered)
}

func TestScalarFieldsIdentical(t *testing.T) {
	nc := [3]int{2, 1, 1}
	box := orthoBox(4, 4, 4)
	pos := []geom.Vec{{1, 1, 1}, {3, 3, 3}}
	groups := NewAtomGroups([]int{1, 1})

	global := makeGlobal(md.StateX, pos)
	global.Lambda[0] = 0.25
	global.Lambda[6] = 0.75
	global.FEPState = 2
	global.Veta = 1.5
	global.Vol0 = 64
	global.Box = box.M
	global.BoxRel = geom.Matrix{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	global.BoxV[2][2] = 0.001
	global.SVirPrev[0][1] = -3
	global.FVirPrev[1][0] = 7
	for i := range global.NoseHooverXi {
		global.NoseHooverXi[i] = float64(i) * 0.1
		global.NoseHooverVXi[i] = -float64(i) * 0.1
	}
	global.ThermIntegral[1] = 2.5
	global.NHPresXi[2] = 0.5
	global.NHPresVXi[0] = -0.25
	global.BarosIntegral = 9.75

	_, locals := runRound(t, nc, 4, groups, global, box,
		uniformBounds(box, nc))

	for r, local := range locals {
		assert.Equal(t, global.Lambda, local.Lambda, "rank %d", r)
		assert.Equal(t, global.FEPState, local.FEPState)
		assert.Equal(t, global.Veta, local.Veta)
		assert.Equal(t, global.Vol0, local.Vol0)
		assert.Equal(t, global.Box, local.Box)
		assert.Equal(t, global.BoxRel, local.BoxRel)
		assert.Equal(t, global.BoxV, local.BoxV)
		assert.Equal(t, global.SVirPrev, local.SVirPrev)
		assert.Equal(t, global.FVirPrev, local.FVirPrev)
		assert.Equal(t, global.NoseHooverXi, local.NoseHooverXi)
		assert.Equal(t, global.NoseHooverVXi, local.NoseHooverVXi)
		assert.Equal(t, global.ThermIntegral, local.ThermIntegral)
		assert.Equal(t, global.NHPresXi, local.NHPresXi)
		assert.Equal(t, global.NHPresVXi, local.NHPresVXi)
		assert.Equal(t, global.BarosIntegral, local.BarosIntegral)
	}
}

func TestHistoryDistributed(t *testing.T) {
	nc := [3]int{2, 1, 1}
	box := orthoBox(4, 4, 4)
	pos := []geom.Vec{{1, 1, 1}, {3, 3, 3}}
	groups := NewAtomGroups([]int{1, 1})

	global := makeGlobal(md.StateX, pos)
	global.DFHist = md.NewDeltaFHistory(3)
	global.DFHist.Equilibrated = 1
	global.DFHist.WLDelta = 0.125
	global.DFHist.NumAtLambda[1] = 42
	global.DFHist.WLHistogram[2] = 6.5
	global.DFHist.SumDG[0] = -1.25
	global.DFHist.AccumP2[2][1] = 0.75
	global.DFHist.Transition[0][2] = 0.5

	_, locals := runRound(t, nc, 4, groups, global, box,
		uniformBounds(box, nc))

	for r, local := range locals {
		require.NotNil(t, local.DFHist, "rank %d", r)
		if diff := cmp.Diff(global.DFHist, local.DFHist); diff != "" {
			t.Errorf("rank %d history differs (-global +local):\n%s", r, diff)
		}
	}
}

func TestNoHistoryIsNoOp(t *testing.T) {
	// P6: without a free energy history the history phase does nothing.
	nc := [3]int{2, 1, 1}
	box := orthoBox(4, 4, 4)
	pos := []geom.Vec{{1, 1, 1}, {3, 3, 3}}
	groups := NewAtomGroups([]int{1, 1})

	_, locals := runRound(t, nc, 4, groups, makeGlobal(md.StateX, pos), box,
		uniformBounds(box, nc))

	for _, local := range locals {
		assert.Nil(t, local.DFHist)
	}
}

func TestChainLengthMismatchPanics(t *testing.T) {
	nc := [3]int{1, 1, 1}
	box := orthoBox(4, 4, 4)
	pos := []geom.Vec{{1, 1, 1}}
	groups := NewAtomGroups([]int{1})
	global := makeGlobal(md.StateX, pos)

	fabric := comm.NewFabric(1)
	d, err := NewDec(fabric.Comm(0), nc)
	require.NoError(t, err)

	local := md.NewState(md.StateX, 0, 2, 1, global.ChainLength+1)
	assert.Panics(t, func() {
		d.DistributeState(groups, global, local, box,
			uniformBounds(box, nc), nil)
	})
}

func TestStatsString(t *testing.T) {
	stats := DistributionStats{Domains: 8, Mean: 1, StdDev: 0, Min: 1, Max: 1}
	assert.Equal(t,
		"atom distribution over 8 domains: av 1.0 stddev 0.0 min 1 max 1",
		stats.String(),
	)
}

func TestUseSendRecv(t *testing.T) {
	assert.True(t, useSendRecv(4, 4))
	assert.True(t, useSendRecv(16, 32))
	assert.False(t, useSendRecv(5, 4))
	assert.False(t, useSendRecv(64, 32))
}

func TestLedgerBuffersGrowOnly(t *testing.T) {
	nc := [3]int{2, 1, 1}
	box := orthoBox(4, 4, 4)
	bounds := uniformBounds(box, nc)

	big := make([]geom.Vec, 64)
	for i := range big {
		big[i] = geom.Vec{0.1 + 3.8*float64(i)/64, 1, 1}
	}

	n := nc[0] * nc[1] * nc[2]
	fabric := comm.NewFabric(n)
	decs := make([]*Dec, n)
	err := fabric.Run(func(c comm.Comm) error {
		d, err := NewDec(c, nc)
		if err != nil {
			return err
		}
		decs[c.Rank()] = d

		sizes := make([]int, 64)
		for i := range sizes {
			sizes[i] = 1
		}
		groups := NewAtomGroups(sizes)
		global := makeGlobal(md.StateX, big)
		local := md.NewLocalState(global)
		err = d.DistributeState(groups, global, local, box, bounds, nil)
		if err != nil {
			return err
		}

		var capBefore int
		if d.Master() {
			capBefore = cap(d.ledger.payload)
		}

		// A smaller second round must reuse the grown buffers.
		smallPos := []geom.Vec{{1, 1, 1}, {3, 1, 1}}
		smallGroups := NewAtomGroups([]int{1, 1})
		smallGlobal := makeGlobal(md.StateX, smallPos)
		local = md.NewLocalState(smallGlobal)
		err = d.DistributeState(smallGroups, smallGlobal, local, box, bounds, nil)
		if err != nil {
			return err
		}

		if d.Master() {
			assert.Equal(t, capBefore, cap(d.ledger.payload),
				"buffers never shrink between rounds")
		}
		return nil
	})
	require.NoError(t, err)
}
