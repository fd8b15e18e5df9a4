package domdec

import (
	"fmt"
	"log"

	"github.com/kslagle/gomd/geom"
	"github.com/kslagle/gomd/md"
)

// assignAtomGroups maps every atom group to a domain. Master only.
//
// The reference position of a group is its single atom, or the arithmetic
// mean of its members. Axes are resolved from z down to x because the
// triclinic correction for an axis only involves higher axes, which must
// already be reduced. On periodic axes the reference position and every
// member atom are wrapped into the primary cell; this canonicalization of
// pos is in place and visible to the caller.
//
// Returns the assigned group ids per domain and leaves the per-domain
// atom counts in the ledger.
func (d *Dec) assignAtomGroups(
	box *geom.Box, bounds *geom.CellBounds,
	groups *AtomGroups, pos []geom.Vec,
) [][]int32 {
	ma := d.ledger

	for i := range ma.domains {
		ma.domains[i].numAtoms = 0
	}

	tcm := box.TricCorrMatrix()

	indices := make([][]int32, d.NumDomains())

	for g := 0; g < groups.NumGroups(); g++ {
		k0, k1 := groups.Index[g], groups.Index[g+1]
		numInGroup := int(k1 - k0)

		var cm geom.Vec
		if numInGroup == 1 {
			cm = pos[k0]
		} else {
			for k := k0; k < k1; k++ {
				cm.Add(&pos[k])
			}
			cm.Scale(1 / float64(numInGroup))
		}

		var ci [3]int
		for dim := 2; dim >= 0; dim-- {
			posD := cm[dim]
			if dim < box.PbcDims {
				if box.TricDir(dim) && d.NC[dim] > 1 {
					// Reduce in triclinic coordinates on this axis.
					for j := dim + 1; j < 3; j++ {
						posD += cm[j] * tcm[j][dim]
					}
				}
				posD = box.WrapGroup(dim, posD, &cm, pos[k0:k1])
			}
			ci[dim] = bounds.Cell(dim, posD)
		}

		domain := d.DomainIndex(ci)
		indices[domain] = append(indices[domain], int32(g))
		ma.domains[domain].numAtoms += numInGroup
	}

	return indices
}

// distributeAtomGroups runs the group assignment half of a round: the
// master assigns groups to domains, every rank learns its home group and
// atom counts, and the home group ids go out with the selected strategy's
// collective. Afterwards every rank has IndexGl and GroupIndex rebuilt.
func (d *Dec) distributeAtomGroups(
	groups *AtomGroups, box *geom.Box, bounds *geom.CellBounds,
	pos []geom.Vec, logger *log.Logger,
) error {
	ma := d.ledger

	var groupIndices [][]int32
	var pairBuf []byte
	if d.Master() {
		if box.Screw {
			err := box.CheckScrew()
			if err != nil {
				return err
			}
		}

		groupIndices = d.assignAtomGroups(box, bounds, groups, pos)

		if logger != nil {
			logger.Printf("%v", ma.Stats())
		}

		n := d.NumDomains()
		for rank := 0; rank < n; rank++ {
			ma.intBuffer[rank*2] = int32(len(groupIndices[rank]))
			ma.intBuffer[rank*2+1] = int32(ma.domains[rank].numAtoms)
		}
		pairBuf = make([]byte, 2*i32Bytes*n)
		putInt32s(pairBuf, ma.intBuffer)
	}

	var sizes [2]int32
	sizeBuf := make([]byte, 2*i32Bytes)
	err := d.comm.Scatter(MasterRank, pairBuf, sizeBuf)
	if err != nil {
		return err
	}
	getInt32s(sizeBuf, sizes[:])

	d.HomeGroups = int(sizes[0])
	d.HomeAtoms = int(sizes[1])
	d.IndexGl = growInt32s(d.IndexGl, d.HomeGroups)
	d.GroupIndex = growInt32s(d.GroupIndex, d.HomeGroups+1)

	var counts, offsets []int
	var idBuf []byte
	if d.Master() {
		ma.atomGroups = ma.atomGroups[:0]
		offset := 0
		for rank := range ma.domains {
			ma.counts[rank] = len(groupIndices[rank]) * i32Bytes
			ma.offsets[rank] = offset * i32Bytes
			ma.atomGroups = append(ma.atomGroups, groupIndices[rank]...)
			offset += len(groupIndices[rank])
		}
		// The flat array is complete, so the per-domain views can be
		// taken without append moving the backing array under them.
		offset = 0
		for rank := range ma.domains {
			numGroups := len(groupIndices[rank])
			ma.domains[rank].groups = ma.atomGroups[offset : offset+numGroups]
			offset += numGroups
		}
		counts, offsets = ma.counts, ma.offsets

		ma.payload = growBytes(ma.payload, len(ma.atomGroups)*i32Bytes)
		putInt32s(ma.payload, ma.atomGroups)
		idBuf = ma.payload
	}

	d.recvBuf = growBytes(d.recvBuf, d.HomeGroups*i32Bytes)
	err = d.comm.Scatterv(MasterRank, idBuf, counts, offsets, d.recvBuf)
	if err != nil {
		return err
	}
	getInt32s(d.recvBuf, d.IndexGl)

	// Local atom offsets of the home groups.
	d.GroupIndex[0] = 0
	for i := 0; i < d.HomeGroups; i++ {
		gl := d.IndexGl[i]
		d.GroupIndex[i+1] = d.GroupIndex[i] + groups.Index[gl+1] - groups.Index[gl]
	}
	if int(d.GroupIndex[d.HomeGroups]) != d.HomeAtoms {
		panic(fmt.Sprintf(
			"rank %d: home groups hold %d atoms, master assigned %d",
			d.Rank(), d.GroupIndex[d.HomeGroups], d.HomeAtoms,
		))
	}

	return nil
}

// distributeVecSendRecv delivers each domain's slice of v with one direct
// send per domain, packing into a scratch buffer that grows to the
// largest payload. The master's own slice is copied without transport.
func (d *Dec) distributeVecSendRecv(groups *AtomGroups, v, lv []geom.Vec) error {
	if d.Master() {
		ma := d.ledger
		var buf []byte
		for rank := range ma.domains {
			if rank == MasterRank {
				continue
			}
			dg := &ma.domains[rank]
			buf = growBytes(buf, dg.numAtoms*vecBytes)

			localAtom := 0
			for _, g := range dg.groups {
				for k := groups.Index[g]; k < groups.Index[g+1]; k++ {
					putVec(buf[localAtom*vecBytes:], &v[k])
					localAtom++
				}
			}
			if localAtom != dg.numAtoms {
				panic(fmt.Sprintf(
					"packed %d atoms for rank %d, ledger holds %d",
					localAtom, rank, dg.numAtoms,
				))
			}

			err := d.comm.Send(rank, buf)
			if err != nil {
				return err
			}
		}

		dg := &ma.domains[MasterRank]
		localAtom := 0
		for _, g := range dg.groups {
			for k := groups.Index[g]; k < groups.Index[g+1]; k++ {
				lv[localAtom] = v[k]
				localAtom++
			}
		}
		return nil
	}

	d.recvBuf = growBytes(d.recvBuf, d.HomeAtoms*vecBytes)
	err := d.comm.Recv(MasterRank, d.recvBuf)
	if err != nil {
		return err
	}
	getVecs(d.recvBuf, lv[:d.HomeAtoms])
	return nil
}

// distributeVecScatterv delivers every domain's slice of v in a single
// variable count scatter from one contiguous buffer ordered by domain.
func (d *Dec) distributeVecScatterv(groups *AtomGroups, v, lv []geom.Vec) error {
	var counts, offsets []int
	var send []byte
	if d.Master() {
		ma := d.ledger
		counts, offsets = ma.commCounts(vecBytes)

		total := 0
		for i := range counts {
			total += counts[i]
		}
		ma.payload = growBytes(ma.payload, total)

		localAtom := 0
		for rank := range ma.domains {
			for _, g := range ma.domains[rank].groups {
				for k := groups.Index[g]; k < groups.Index[g+1]; k++ {
					putVec(ma.payload[localAtom*vecBytes:], &v[k])
					localAtom++
				}
			}
		}
		send = ma.payload
	}

	d.recvBuf = growBytes(d.recvBuf, d.HomeAtoms*vecBytes)
	err := d.comm.Scatterv(MasterRank, send, counts, offsets, d.recvBuf)
	if err != nil {
		return err
	}
	getVecs(d.recvBuf, lv[:d.HomeAtoms])
	return nil
}

// distributeVec redistributes one per-atom vector field. Only the master
// passes v; every rank receives its home slice in lv. Both strategies
// produce byte identical local arrays.
func (d *Dec) distributeVec(groups *AtomGroups, v, lv []geom.Vec) error {
	if useSendRecv(d.NumDomains(), d.SendRecvThreshold) {
		return d.distributeVecSendRecv(groups, v, lv)
	}
	return d.distributeVecScatterv(groups, v, lv)
}

// distributeDFHist replicates the master's free energy history. The
// header scalars go first; the lambda count from the header sizes the
// variable length broadcasts that follow. A nil history is a no-op.
func (d *Dec) distributeDFHist(hist *md.DeltaFHistory) error {
	if hist == nil {
		return nil
	}

	err := d.bcastInt32(&hist.Equilibrated)
	if err != nil {
		return err
	}
	err = d.bcastInt32(&hist.NumLambda)
	if err != nil {
		return err
	}
	err = d.bcastFloat64(&hist.WLDelta)
	if err != nil {
		return err
	}

	numLambda := int(hist.NumLambda)
	if numLambda <= 0 {
		return nil
	}
	if len(hist.NumAtLambda) != numLambda {
		panic(fmt.Sprintf(
			"rank %d: free energy history sized for %d lambdas, master has %d",
			d.Rank(), len(hist.NumAtLambda), numLambda,
		))
	}

	err = d.bcastInt32s(hist.NumAtLambda)
	if err != nil {
		return err
	}
	for _, xs := range [][]float64{
		hist.WLHistogram, hist.SumWeights, hist.SumDG,
		hist.SumMinVar, hist.SumVariance,
	} {
		err = d.bcastFloat64s(xs)
		if err != nil {
			return err
		}
	}

	for i := 0; i < numLambda; i++ {
		for _, xs := range [][]float64{
			hist.AccumP[i], hist.AccumM[i], hist.AccumP2[i], hist.AccumM2[i],
			hist.Transition[i], hist.TransitionEmpirical[i],
		} {
			err = d.bcastFloat64s(xs)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// distributeStateFields replicates every scalar and array field of the
// global state into each rank's local state, then redistributes the
// active per-atom vector fields.
func (d *Dec) distributeStateFields(groups *AtomGroups, global, local *md.State) error {
	nh := local.ChainLength

	if d.Master() {
		if global.ChainLength != nh {
			panic(fmt.Sprintf(
				"global Nose-Hoover chain length %d does not match local %d",
				global.ChainLength, nh,
			))
		}

		local.Lambda = global.Lambda
		local.FEPState = global.FEPState
		local.Veta = global.Veta
		local.Vol0 = global.Vol0
		local.Box = global.Box
		local.BoxRel = global.BoxRel
		local.BoxV = global.BoxV
		local.SVirPrev = global.SVirPrev
		local.FVirPrev = global.FVirPrev
		if global.DFHist != nil {
			local.DFHist.Copy(global.DFHist)
		}
		copy(local.NoseHooverXi, global.NoseHooverXi)
		copy(local.NoseHooverVXi, global.NoseHooverVXi)
		copy(local.ThermIntegral, global.ThermIntegral)
		copy(local.NHPresXi, global.NHPresXi)
		copy(local.NHPresVXi, global.NHPresVXi)
		local.BarosIntegral = global.BarosIntegral
	}

	err := d.bcastFloat64s(local.Lambda[:])
	if err != nil {
		return err
	}
	err = d.bcastInt32(&local.FEPState)
	if err != nil {
		return err
	}
	err = d.bcastFloat64(&local.Veta)
	if err != nil {
		return err
	}
	err = d.bcastFloat64(&local.Vol0)
	if err != nil {
		return err
	}
	for _, m := range []*geom.Matrix{
		&local.Box, &local.BoxRel, &local.BoxV,
		&local.SVirPrev, &local.FVirPrev,
	} {
		err = d.bcastMatrix(m)
		if err != nil {
			return err
		}
	}
	for _, xs := range [][]float64{
		local.NoseHooverXi, local.NoseHooverVXi, local.ThermIntegral,
		local.NHPresXi, local.NHPresVXi,
	} {
		err = d.bcastFloat64s(xs)
		if err != nil {
			return err
		}
	}
	err = d.bcastFloat64(&local.BarosIntegral)
	if err != nil {
		return err
	}

	// Needed when restarting from a checkpointed expanded ensemble run.
	err = d.distributeDFHist(local.DFHist)
	if err != nil {
		return err
	}

	local.Resize(d.HomeAtoms)

	if local.Flags&md.StateX != 0 {
		err = d.distributeVec(groups, masterVecs(d, global, md.StateX), local.X)
		if err != nil {
			return err
		}
	}
	if local.Flags&md.StateV != 0 {
		err = d.distributeVec(groups, masterVecs(d, global, md.StateV), local.V)
		if err != nil {
			return err
		}
	}
	if local.Flags&md.StateCGP != 0 {
		err = d.distributeVec(groups, masterVecs(d, global, md.StateCGP), local.CGP)
		if err != nil {
			return err
		}
	}
	return nil
}

// masterVecs returns the global field on the master and nil elsewhere,
// where the global state may not exist at all.
func masterVecs(d *Dec, global *md.State, flag uint32) []geom.Vec {
	if !d.Master() {
		return nil
	}
	switch flag {
	case md.StateX:
		return global.X
	case md.StateV:
		return global.V
	case md.StateCGP:
		return global.CGP
	}
	return nil
}

// DistributeState runs one full decomposition round: reassign atom groups
// from the master's current positions, size every rank's local state, and
// replicate the global state into each local one. The master's position
// array is canonicalized into the primary cell as a side effect of the
// assignment. Collective, so every rank of the group must call it.
func (d *Dec) DistributeState(
	groups *AtomGroups, global, local *md.State,
	box *geom.Box, bounds *geom.CellBounds, logger *log.Logger,
) error {
	var pos []geom.Vec
	if d.Master() {
		pos = global.X
	}

	err := d.distributeAtomGroups(groups, box, bounds, pos, logger)
	if err != nil {
		return err
	}
	return d.distributeStateFields(groups, global, local)
}
