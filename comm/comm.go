/*package comm abstracts the message passing layer used during domain
decomposition.

The decomposition code decides what to transmit and when; a Comm decides
how bytes cross between ranks. All operations are blocking and collective
operations must be entered by every rank in the group. Any error returned
by a Comm is fatal for the whole group: callers propagate it outward and
the process aborts, no retry is attempted at this layer.
*/
package comm

// Comm is one rank's endpoint into a group of cooperating ranks. Buffers
// are raw bytes with explicit counts and offsets; interpreting them is the
// caller's problem.
type Comm interface {
	// Rank returns this rank's id in [0, Size()).
	Rank() int
	// Size returns the number of ranks in the group.
	Size() int

	// Send transmits buf to rank to. Blocks until the payload is handed
	// off to the transport.
	Send(to int, buf []byte) error
	// Recv fills buf with a payload from rank from. Blocks until a
	// payload of exactly len(buf) bytes has arrived.
	Recv(from int, buf []byte) error

	// Bcast replicates root's buf into every rank's buf. All ranks must
	// pass buffers of the same length.
	Bcast(root int, buf []byte) error
	// Scatter splits root's send buffer into Size() equal pieces of
	// len(recv) bytes and delivers piece i to rank i. Non-root ranks may
	// pass a nil send buffer.
	Scatter(root int, send, recv []byte) error
	// Scatterv delivers send[offsets[i]:offsets[i]+counts[i]] from root
	// to rank i's recv buffer. counts[i] must equal len(recv) on rank i.
	// Non-root ranks may pass nil send, counts and offsets.
	Scatterv(root int, send []byte, counts, offsets []int, recv []byte) error
}
