/*package io reads run configuration files and particle tables for the
decomposition driver.
*/
package io

import (
	"fmt"

	"gopkg.in/gcfg.v1"

	"github.com/kslagle/gomd/geom"
)

// DecompositionConfig configures the domain grid and transfer strategy.
type DecompositionConfig struct {
	// Required
	Nx, Ny, Nz int

	// Optional
	SendRecvThreshold int
	PeriodicDims      int
	ScrewPBC          bool
	// Per-axis static load balancing fractions; empty means uniform
	// cells on that axis.
	CellFracX []float64
	CellFracY []float64
	CellFracZ []float64
}

func (dec *DecompositionConfig) CheckInit() error {
	if dec.Nx <= 0 || dec.Ny <= 0 || dec.Nz <= 0 {
		return fmt.Errorf(
			"Need positive grid dimensions, got %d x %d x %d.",
			dec.Nx, dec.Ny, dec.Nz,
		)
	}
	if dec.PeriodicDims == 0 {
		dec.PeriodicDims = 3
	}
	if dec.PeriodicDims < 0 || dec.PeriodicDims > 3 {
		return fmt.Errorf(
			"PeriodicDims must be in [0, 3], but is %d.", dec.PeriodicDims,
		)
	}
	if dec.SendRecvThreshold < 0 {
		return fmt.Errorf(
			"SendRecvThreshold must be non-negative, but is %d.",
			dec.SendRecvThreshold,
		)
	}
	return nil
}

// Grid returns the domain grid dimensions.
func (dec *DecompositionConfig) Grid() [3]int {
	return [3]int{dec.Nx, dec.Ny, dec.Nz}
}

// CellFracs returns the per-axis load balancing fractions.
func (dec *DecompositionConfig) CellFracs() [3][]float64 {
	return [3][]float64{dec.CellFracX, dec.CellFracY, dec.CellFracZ}
}

// SystemConfig configures the simulated system handed to the driver.
type SystemConfig struct {
	// Required
	BoxX, BoxY, BoxZ float64
	PositionFile     string

	// Optional triclinic skews: components of the y and z box vectors
	// along lower axes.
	SkewYX, SkewZX, SkewZY float64

	// Optional
	GroupSize     int
	Velocities    bool
	ChainLength   int
	NumTCouple    int
	NumPresCouple int
	NumLambda     int
}

func (sys *SystemConfig) CheckInit() error {
	if sys.BoxX <= 0 || sys.BoxY <= 0 || sys.BoxZ <= 0 {
		return fmt.Errorf(
			"Need positive box edge lengths, got %g, %g, %g.",
			sys.BoxX, sys.BoxY, sys.BoxZ,
		)
	}
	if sys.PositionFile == "" {
		return fmt.Errorf("Need to specify a PositionFile.")
	}
	if sys.GroupSize == 0 {
		sys.GroupSize = 1
	}
	if sys.GroupSize < 0 {
		return fmt.Errorf("GroupSize must be positive, but is %d.", sys.GroupSize)
	}
	if sys.ChainLength == 0 {
		sys.ChainLength = 1
	}
	if sys.NumTCouple == 0 {
		sys.NumTCouple = 1
	}
	if sys.NumLambda < 0 {
		return fmt.Errorf("NumLambda must be non-negative, but is %d.", sys.NumLambda)
	}
	return nil
}

// Box returns the configured box matrix and boundary conditions.
func (sys *SystemConfig) Box(periodicDims int, screw bool) *geom.Box {
	return &geom.Box{
		M: geom.Matrix{
			{sys.BoxX, 0, 0},
			{sys.SkewYX, sys.BoxY, 0},
			{sys.SkewZX, sys.SkewZY, sys.BoxZ},
		},
		PbcDims: periodicDims,
		Screw:   screw,
	}
}

// Config is the top level layout of a driver configuration file.
type Config struct {
	Decomposition DecompositionConfig
	System        SystemConfig
}

// ReadConfig reads and validates a gcfg run configuration.
func ReadConfig(fname string) (*Config, error) {
	cfg := &Config{}
	if err := gcfg.ReadFileInto(cfg, fname); err != nil {
		return nil, err
	}
	if err := cfg.Decomposition.CheckInit(); err != nil {
		return nil, err
	}
	if err := cfg.System.CheckInit(); err != nil {
		return nil, err
	}
	return cfg, nil
}
