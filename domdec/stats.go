package domdec

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DistributionStats summarizes how evenly atoms landed across domains.
// It is a human readable diagnostic, not a stable machine contract.
type DistributionStats struct {
	Domains      int
	Mean, StdDev float64
	Min, Max     int
}

// Stats computes the atom balance over all domains of the last
// assignment. Counts are widened to float64 before accumulation: the sum
// of squared counts overflows 32 bits once a domain passes 65536 atoms.
func (ma *Ledger) Stats() DistributionStats {
	counts := make([]float64, len(ma.domains))
	for i := range ma.domains {
		counts[i] = float64(ma.domains[i].numAtoms)
	}
	return DistributionStats{
		Domains: len(counts),
		Mean:    stat.Mean(counts, nil),
		StdDev:  stat.PopStdDev(counts, nil),
		Min:     int(floats.Min(counts)),
		Max:     int(floats.Max(counts)),
	}
}

func (s DistributionStats) String() string {
	return fmt.Sprintf(
		"atom distribution over %d domains: av %.1f stddev %.1f min %d max %d",
		s.Domains, s.Mean, s.StdDev, s.Min, s.Max,
	)
}
