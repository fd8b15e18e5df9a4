package main

import (
	"flag"
	"log"
	"os"

	"github.com/kslagle/gomd/comm"
	"github.com/kslagle/gomd/domdec"
	"github.com/kslagle/gomd/geom"
	"github.com/kslagle/gomd/io"
	"github.com/kslagle/gomd/md"
)

func main() {
	var (
		configPath string
		grouped    bool
		logPath    string
	)

	flag.StringVar(
		&configPath, "Config", "",
		"Run configuration file.",
	)
	flag.BoolVar(
		&grouped, "Grouped", false,
		"Read atom group ids from a fourth position table column.",
	)
	flag.StringVar(
		&logPath, "Log", "",
		"Location to write log statements to. Otherwise they are "+
			"written to stderr.",
	)
	flag.Parse()

	if logPath != "" {
		lf, err := os.Create(logPath)
		if err != nil {
			log.Fatal(err.Error())
		}
		defer lf.Close()
		log.SetOutput(lf)
	}

	if configPath == "" {
		log.Fatalf("A configuration file must be given with -Config.")
	}

	cfg, err := io.ReadConfig(configPath)
	if err != nil {
		log.Fatal(err.Error())
	}

	pos, groups, err := readSystem(&cfg.System, grouped)
	if err != nil {
		log.Fatal(err.Error())
	}

	dec := &cfg.Decomposition
	box := cfg.System.Box(dec.PeriodicDims, dec.ScrewPBC)
	bounds, err := geom.NewFractionBounds(
		geom.Vec{}, box.M.Diag(), dec.Grid(), dec.CellFracs(),
	)
	if err != nil {
		log.Fatal(err.Error())
	}

	global := buildGlobalState(&cfg.System, box, pos)

	logger := log.New(log.Writer(), "", log.LstdFlags)
	fabric := comm.NewFabric(dec.Nx * dec.Ny * dec.Nz)
	err = fabric.Run(func(c comm.Comm) error {
		d, err := domdec.NewDec(c, dec.Grid())
		if err != nil {
			return err
		}
		if dec.SendRecvThreshold > 0 {
			d.SendRecvThreshold = dec.SendRecvThreshold
		}

		local := md.NewLocalState(global)
		var roundLogger *log.Logger
		if d.Master() {
			roundLogger = logger
		}
		err = d.DistributeState(groups, global, local, box, bounds, roundLogger)
		if err != nil {
			return err
		}

		logger.Printf(
			"rank %d at cell (%d, %d, %d): %d home groups, %d home atoms",
			d.Rank(), d.Coord[0], d.Coord[1], d.Coord[2],
			d.HomeGroups, d.HomeAtoms,
		)
		return nil
	})
	if err != nil {
		log.Fatal(err.Error())
	}
}

func readSystem(sys *io.SystemConfig, grouped bool) ([]geom.Vec, *domdec.AtomGroups, error) {
	if grouped {
		pos, sizes, err := io.ReadGroupedPositions(sys.PositionFile)
		if err != nil {
			return nil, nil, err
		}
		return pos, domdec.NewAtomGroups(sizes), nil
	}

	pos, err := io.ReadPositions(sys.PositionFile)
	if err != nil {
		return nil, nil, err
	}

	sizes := []int{}
	for left := len(pos); left > 0; left -= sys.GroupSize {
		n := sys.GroupSize
		if left < n {
			n = left
		}
		sizes = append(sizes, n)
	}
	return pos, domdec.NewAtomGroups(sizes), nil
}

func buildGlobalState(sys *io.SystemConfig, box *geom.Box, pos []geom.Vec) *md.State {
	flags := md.StateX
	if sys.Velocities {
		flags |= md.StateV
	}

	global := md.NewState(
		flags, len(pos),
		sys.NumTCouple, sys.NumPresCouple, sys.ChainLength,
	)
	copy(global.X, pos)
	global.Box = box.M
	if sys.NumLambda > 0 {
		global.DFHist = md.NewDeltaFHistory(sys.NumLambda)
	}
	return global
}
