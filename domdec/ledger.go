package domdec

// The distribution ledger is master only bookkeeping, rebuilt on every
// decomposition round and reachable only through the round itself. Its
// buffers grow monotonically so that repeated rounds stop allocating;
// every round fully overwrites or explicitly bounds the regions it uses,
// so stale contents never leak between domains.

// domainGroups is one domain's slice of the ledger: a view into the
// flattened group id array plus the domain's total atom count.
type domainGroups struct {
	groups   []int32
	numAtoms int
}

// Ledger tracks which atom groups every domain owns and carries the
// master's transmit buffers.
type Ledger struct {
	domains []domainGroups

	// atomGroups holds all group ids ordered by domain; the per-domain
	// views in domains point into it.
	atomGroups []int32

	// intBuffer carries small per-domain integers: first the
	// {group count, atom count} pairs, then scatter counts and offsets.
	intBuffer []int32

	// payload is the packed byte buffer for collective transfers.
	payload []byte

	// counts and offsets are the per-domain byte extents of payload.
	counts  []int
	offsets []int
}

func newLedger(numDomains int) *Ledger {
	return &Ledger{
		domains:   make([]domainGroups, numDomains),
		intBuffer: make([]int32, 2*numDomains),
		counts:    make([]int, numDomains),
		offsets:   make([]int, numDomains),
	}
}

// Groups returns the global ids of the groups assigned to a domain.
func (ma *Ledger) Groups(domain int) []int32 { return ma.domains[domain].groups }

// NumAtoms returns the atom count assigned to a domain.
func (ma *Ledger) NumAtoms(domain int) int { return ma.domains[domain].numAtoms }

// commCounts fills the per-domain byte counts and offsets for scattering
// bytesPerAtom bytes for every assigned atom, ordered by domain id.
func (ma *Ledger) commCounts(bytesPerAtom int) (counts, offsets []int) {
	offset := 0
	for i := range ma.domains {
		ma.counts[i] = ma.domains[i].numAtoms * bytesPerAtom
		ma.offsets[i] = offset
		offset += ma.counts[i]
	}
	return ma.counts, ma.offsets
}

// overAlloc returns a grown allocation size for n elements. Growing past
// the request amortizes reallocation over rounds where counts fluctuate.
func overAlloc(n int) int {
	return int(1.19*float64(n)) + 1000
}

// growBytes returns buf resized to n bytes, reallocating with headroom
// only when the capacity is exceeded.
func growBytes(buf []byte, n int) []byte {
	if cap(buf) >= n {
		return buf[:n]
	}
	return make([]byte, n, overAlloc(n))
}

// growInt32s is growBytes for int32 slices.
func growInt32s(buf []int32, n int) []int32 {
	if cap(buf) >= n {
		return buf[:n]
	}
	return make([]int32, n, overAlloc(n))
}
