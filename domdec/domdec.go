/*package domdec distributes the atoms of a simulation over a 3D grid of
cooperating ranks, one rank per spatial domain.

Atoms move in indivisible groups. Each decomposition round assigns every
group to a domain from its current position, tells each rank its local
sizes, hands every rank the global ids of its home groups, and replicates
the master's state: scalar and array fields are broadcast identically to
all ranks, per-atom vector fields are cut up and delivered per domain.
*/
package domdec

import (
	"fmt"

	"github.com/kslagle/gomd/comm"
)

// MasterRank is the rank holding the global state and the distribution
// ledger.
const MasterRank = 0

// DefaultSendRecvThreshold is the domain count at or below which vector
// payloads go out as individual point-to-point sends. Above it the
// per-peer setup cost loses to a single variable-count scatter.
const DefaultSendRecvThreshold = 4

// AtomGroups partitions the global atoms into contiguous indivisible
// groups: group g covers atoms [Index[g], Index[g+1]). Groups are never
// split across domains.
type AtomGroups struct {
	Index []int32
}

// NewAtomGroups builds contiguous groups from a list of group sizes.
func NewAtomGroups(sizes []int) *AtomGroups {
	index := make([]int32, len(sizes)+1)
	for i, n := range sizes {
		index[i+1] = index[i] + int32(n)
	}
	return &AtomGroups{Index: index}
}

// NumGroups returns the number of groups.
func (g *AtomGroups) NumGroups() int { return len(g.Index) - 1 }

// NumAtoms returns the total number of atoms over all groups.
func (g *AtomGroups) NumAtoms() int { return int(g.Index[len(g.Index)-1]) }

// Size returns the number of atoms in group i.
func (g *AtomGroups) Size(i int) int { return int(g.Index[i+1] - g.Index[i]) }

// Dec is one rank's view of the domain decomposition. The master rank
// additionally owns the distribution ledger; it is nil everywhere else.
type Dec struct {
	// NC is the domain grid: NC[0] x NC[1] x NC[2] domains.
	NC [3]int
	// Coord is this rank's cell coordinate in the grid.
	Coord [3]int
	// SendRecvThreshold is the strategy cutover domain count.
	SendRecvThreshold int

	// Home sizes learned during the last round.
	HomeGroups int
	HomeAtoms  int
	// IndexGl maps local group index to global group id, in ascending
	// global order.
	IndexGl []int32
	// GroupIndex holds local atom offsets per home group, length
	// HomeGroups+1.
	GroupIndex []int32

	comm   comm.Comm
	ledger *Ledger

	// Receive side scratch, grown monotonically across rounds.
	recvBuf []byte
}

// NewDec creates the decomposition for one rank of the group behind c.
// The group size must match the grid volume. Boundary conditions travel
// with the geom.Box handed to each round, not with the grid.
func NewDec(c comm.Comm, nc [3]int) (*Dec, error) {
	n := nc[0] * nc[1] * nc[2]
	if n != c.Size() {
		return nil, fmt.Errorf(
			"grid %dx%dx%d needs %d ranks, group has %d",
			nc[0], nc[1], nc[2], n, c.Size(),
		)
	}
	d := &Dec{
		NC:                nc,
		SendRecvThreshold: DefaultSendRecvThreshold,
		comm:              c,
	}
	rank := c.Rank()
	d.Coord[2] = rank % nc[2]
	d.Coord[1] = (rank / nc[2]) % nc[1]
	d.Coord[0] = rank / (nc[1] * nc[2])
	if d.Master() {
		d.ledger = newLedger(n)
	}
	return d, nil
}

// Rank returns this rank's id.
func (d *Dec) Rank() int { return d.comm.Rank() }

// Master returns whether this rank coordinates the distribution.
func (d *Dec) Master() bool { return d.comm.Rank() == MasterRank }

// NumDomains returns the total number of domains in the grid.
func (d *Dec) NumDomains() int { return d.NC[0] * d.NC[1] * d.NC[2] }

// Ledger returns the master's distribution ledger, nil on other ranks.
// Its contents are only meaningful between a round and the next
// reassignment.
func (d *Dec) Ledger() *Ledger { return d.ledger }

// DomainIndex maps a cell coordinate to its rank, row major with the z
// coordinate fastest.
func (d *Dec) DomainIndex(ci [3]int) int {
	return (ci[0]*d.NC[1]+ci[1])*d.NC[2] + ci[2]
}

// useSendRecv is the strategy selector: point-to-point at or below the
// threshold, collective scatter above it. Pure so both paths can be
// pinned against each other in tests.
func useSendRecv(numDomains, threshold int) bool {
	return numDomains <= threshold
}
