package comm

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Fabric connects n in-process ranks with buffered channels, one per
// ordered rank pair. It implements enough of a transport to run a full
// decomposition group inside a single process, which is how the package
// is tested and how the demo driver runs.
//
// Collectives are built from the point-to-point channels at the root.
// Because every phase of a decomposition round is entered by all ranks in
// the same order, per-pair FIFO delivery is all the ordering needed.
type Fabric struct {
	n     int
	chans [][]chan []byte
	ranks []*fabricRank
}

type fabricRank struct {
	f    *Fabric
	rank int
}

// pairDepth bounds the number of undelivered payloads per rank pair. A
// lock-step round never has more than a handful in flight, and a buffered
// channel lets the root run ahead of slow receivers.
const pairDepth = 32

// NewFabric creates a fabric connecting n ranks.
func NewFabric(n int) *Fabric {
	f := &Fabric{n: n}
	f.chans = make([][]chan []byte, n)
	for from := 0; from < n; from++ {
		f.chans[from] = make([]chan []byte, n)
		for to := 0; to < n; to++ {
			f.chans[from][to] = make(chan []byte, pairDepth)
		}
	}
	f.ranks = make([]*fabricRank, n)
	for rank := 0; rank < n; rank++ {
		f.ranks[rank] = &fabricRank{f, rank}
	}
	return f
}

// Comm returns the endpoint for the given rank.
func (f *Fabric) Comm(rank int) Comm { return f.ranks[rank] }

// Run starts fn once per rank, each on its own goroutine, and blocks
// until all return. The first error cancels nothing (transfers are
// blocking and unconditional) but is returned once the group finishes.
func (f *Fabric) Run(fn func(c Comm) error) error {
	var group errgroup.Group
	for rank := 0; rank < f.n; rank++ {
		c := f.ranks[rank]
		group.Go(func() error { return fn(c) })
	}
	return group.Wait()
}

func (r *fabricRank) Rank() int { return r.rank }
func (r *fabricRank) Size() int { return r.f.n }

func (r *fabricRank) Send(to int, buf []byte) error {
	if to < 0 || to >= r.f.n || to == r.rank {
		return fmt.Errorf("rank %d cannot send to rank %d", r.rank, to)
	}
	// The caller is free to reuse buf as soon as Send returns, so the
	// payload is copied onto the channel.
	msg := make([]byte, len(buf))
	copy(msg, buf)
	r.f.chans[r.rank][to] <- msg
	return nil
}

func (r *fabricRank) Recv(from int, buf []byte) error {
	if from < 0 || from >= r.f.n || from == r.rank {
		return fmt.Errorf("rank %d cannot receive from rank %d", r.rank, from)
	}
	msg := <-r.f.chans[from][r.rank]
	if len(msg) != len(buf) {
		return fmt.Errorf(
			"rank %d expected %d bytes from rank %d, got %d",
			r.rank, len(buf), from, len(msg),
		)
	}
	copy(buf, msg)
	return nil
}

func (r *fabricRank) Bcast(root int, buf []byte) error {
	if r.rank != root {
		return r.Recv(root, buf)
	}
	for to := 0; to < r.f.n; to++ {
		if to == root {
			continue
		}
		if err := r.Send(to, buf); err != nil {
			return err
		}
	}
	return nil
}

func (r *fabricRank) Scatter(root int, send, recv []byte) error {
	if r.rank != root {
		return r.Recv(root, recv)
	}
	n := len(recv)
	if len(send) != n*r.f.n {
		return fmt.Errorf(
			"scatter send buffer is %d bytes, need %d", len(send), n*r.f.n,
		)
	}
	for to := 0; to < r.f.n; to++ {
		piece := send[to*n : (to+1)*n]
		if to == root {
			copy(recv, piece)
			continue
		}
		if err := r.Send(to, piece); err != nil {
			return err
		}
	}
	return nil
}

func (r *fabricRank) Scatterv(
	root int, send []byte, counts, offsets []int, recv []byte,
) error {
	if r.rank != root {
		return r.Recv(root, recv)
	}
	if len(counts) != r.f.n || len(offsets) != r.f.n {
		return fmt.Errorf(
			"scatterv needs %d counts and offsets, got %d and %d",
			r.f.n, len(counts), len(offsets),
		)
	}
	for to := 0; to < r.f.n; to++ {
		piece := send[offsets[to] : offsets[to]+counts[to]]
		if to == root {
			if len(piece) != len(recv) {
				return fmt.Errorf(
					"scatterv root keeps %d bytes but expects %d",
					len(piece), len(recv),
				)
			}
			copy(recv, piece)
			continue
		}
		if err := r.Send(to, piece); err != nil {
			return err
		}
	}
	return nil
}
