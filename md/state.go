/*package md holds the simulation state shared between the step loop and
the domain decomposition code.

A State is either the global state, held only by the master rank and
covering every atom in the system, or a local state, held by each rank and
covering only its home atoms. Both use the same struct; which per-atom
fields are meaningful is recorded in Flags.
*/
package md

import (
	"github.com/kslagle/gomd/geom"
)

// LambdaCount is the number of free energy perturbation coupling types,
// each with its own lambda value.
const LambdaCount = 7

// Per-atom field presence flags.
const (
	StateX uint32 = 1 << iota // positions
	StateV                    // velocities
	StateCGP                  // conjugate gradient auxiliary vectors
)

// State is the full dynamical state of a simulation replica.
type State struct {
	// Flags marks which per-atom vector fields are in use.
	Flags uint32

	// NumAtoms is the number of atoms covered: the whole system for the
	// global state, the home atom count for a local state.
	NumAtoms int

	// Per-atom vector fields, each of length NumAtoms when its flag is
	// set and nil otherwise.
	X   []geom.Vec
	V   []geom.Vec
	CGP []geom.Vec

	// Free energy coupling state.
	Lambda   [LambdaCount]float64
	FEPState int32

	// Extended ensemble variables.
	Veta float64
	Vol0 float64

	// Box matrices: the current box, the box relative to the reference
	// pressure box, and the box velocities.
	Box    geom.Matrix
	BoxRel geom.Matrix
	BoxV   geom.Matrix

	// Constraint and force virials from the previous step.
	SVirPrev geom.Matrix
	FVirPrev geom.Matrix

	// Nose-Hoover thermostat chains: NumTCouple groups of ChainLength
	// positions and velocities, stored group-major.
	NumTCouple    int
	NumPresCouple int
	ChainLength   int
	NoseHooverXi  []float64
	NoseHooverVXi []float64
	ThermIntegral []float64
	NHPresXi      []float64
	NHPresVXi     []float64
	BarosIntegral float64

	// DFHist is the accumulated free energy history, or nil when no
	// expanded ensemble is running.
	DFHist *DeltaFHistory
}

// NewState returns a state with the given per-atom flags, chain geometry
// and atom count, with all active fields allocated.
func NewState(flags uint32, numAtoms, numTCouple, numPresCouple, chainLength int) *State {
	s := &State{
		Flags:         flags,
		NumTCouple:    numTCouple,
		NumPresCouple: numPresCouple,
		ChainLength:   chainLength,
		NoseHooverXi:  make([]float64, numTCouple*chainLength),
		NoseHooverVXi: make([]float64, numTCouple*chainLength),
		ThermIntegral: make([]float64, numTCouple),
		NHPresXi:      make([]float64, numPresCouple*chainLength),
		NHPresVXi:     make([]float64, numPresCouple*chainLength),
	}
	s.Resize(numAtoms)
	return s
}

// NewLocalState returns an empty local replica with the same field flags
// and chain geometry as the global state. Its per-atom fields are sized
// by Resize once the home atom count is known.
func NewLocalState(global *State) *State {
	local := NewState(
		global.Flags, 0,
		global.NumTCouple, global.NumPresCouple, global.ChainLength,
	)
	if global.DFHist != nil {
		local.DFHist = NewDeltaFHistory(int(global.DFHist.NumLambda))
	}
	return local
}

// Resize sets the length of every active per-atom field to n. Backing
// arrays only grow, so repeated rounds do not reallocate.
func (s *State) Resize(n int) {
	s.NumAtoms = n
	if s.Flags&StateX != 0 {
		s.X = resizeVecs(s.X, n)
	}
	if s.Flags&StateV != 0 {
		s.V = resizeVecs(s.V, n)
	}
	if s.Flags&StateCGP != 0 {
		s.CGP = resizeVecs(s.CGP, n)
	}
}

func resizeVecs(vs []geom.Vec, n int) []geom.Vec {
	if cap(vs) >= n {
		return vs[:n]
	}
	grown := make([]geom.Vec, n)
	copy(grown, vs)
	return grown
}

// DeltaFHistory accumulates the statistics needed to estimate free energy
// differences across NumLambda coupling states.
type DeltaFHistory struct {
	Equilibrated int32
	NumLambda    int32
	WLDelta      float64

	// Per-lambda accumulators, each of length NumLambda.
	NumAtLambda []int32
	WLHistogram []float64
	SumWeights  []float64
	SumDG       []float64
	SumMinVar   []float64
	SumVariance []float64

	// NumLambda x NumLambda correlation accumulators.
	AccumP              [][]float64
	AccumM              [][]float64
	AccumP2             [][]float64
	AccumM2             [][]float64
	Transition          [][]float64
	TransitionEmpirical [][]float64
}

// NewDeltaFHistory returns a zeroed history over numLambda states.
func NewDeltaFHistory(numLambda int) *DeltaFHistory {
	h := &DeltaFHistory{
		NumLambda:   int32(numLambda),
		NumAtLambda: make([]int32, numLambda),
		WLHistogram: make([]float64, numLambda),
		SumWeights:  make([]float64, numLambda),
		SumDG:       make([]float64, numLambda),
		SumMinVar:   make([]float64, numLambda),
		SumVariance: make([]float64, numLambda),
	}
	h.AccumP = newSquare(numLambda)
	h.AccumM = newSquare(numLambda)
	h.AccumP2 = newSquare(numLambda)
	h.AccumM2 = newSquare(numLambda)
	h.Transition = newSquare(numLambda)
	h.TransitionEmpirical = newSquare(numLambda)
	return h
}

func newSquare(n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	return m
}

// Copy replicates src into h. Both histories must cover the same number
// of lambda states.
func (h *DeltaFHistory) Copy(src *DeltaFHistory) {
	h.Equilibrated = src.Equilibrated
	h.NumLambda = src.NumLambda
	h.WLDelta = src.WLDelta
	copy(h.NumAtLambda, src.NumAtLambda)
	copy(h.WLHistogram, src.WLHistogram)
	copy(h.SumWeights, src.SumWeights)
	copy(h.SumDG, src.SumDG)
	copy(h.SumMinVar, src.SumMinVar)
	copy(h.SumVariance, src.SumVariance)
	for i := range h.AccumP {
		copy(h.AccumP[i], src.AccumP[i])
		copy(h.AccumM[i], src.AccumM[i])
		copy(h.AccumP2[i], src.AccumP2[i])
		copy(h.AccumM2[i], src.AccumM2[i])
		copy(h.Transition[i], src.Transition[i])
		copy(h.TransitionEmpirical[i], src.TransitionEmpirical[i])
	}
}
