package cmd

import (
	"io"
	"log"

	"github.com/sarchlab/chipsim/datarecording"
	"github.com/sarchlab/chipsim/devices"
	"github.com/sarchlab/chipsim/sim/config"
	"github.com/sarchlab/chipsim/sim/memory"
	"github.com/sarchlab/chipsim/sim/modeling"
	"github.com/sarchlab/chipsim/sim/simulation"
	"github.com/sarchlab/chipsim/sim/timing"
)

func newCatalog(consoleOut io.Writer) *simulation.Catalog {
	cat := simulation.NewCatalog()
	devices.Register(cat, devices.Options{ConsoleOut: consoleOut})

	return cat
}

type machineOptions struct {
	path       string
	consoleOut io.Writer
	logOut     io.Writer
	recorder   datarecording.DataRecorder
}

// buildMachine loads a description and resolves and starts the machine it
// describes.
func buildMachine(opts machineOptions) (*simulation.Simulation, error) {
	m, err := config.Load(opts.path)
	if err != nil {
		return nil, err
	}

	b := simulation.MakeBuilder()
	if opts.recorder != nil {
		b = b.WithDataRecorder(opts.recorder)
	}

	sim, err := m.Build(newCatalog(opts.consoleOut), b)
	if err != nil {
		return nil, err
	}

	if opts.logOut != nil {
		attachLoggers(sim, log.New(opts.logOut, "", 0))
	}

	if err := sim.Build(); err != nil {
		sim.Teardown()
		return nil, err
	}

	return sim, nil
}

func attachLoggers(sim *simulation.Simulation, logger *log.Logger) {
	sim.AcceptHook(simulation.NewPhaseLogger(logger))
	sim.Scheduler().AcceptHook(timing.NewQuantumLogger(logger))

	accesses := memory.NewAccessLogger(logger)

	for _, c := range sim.Components() {
		owner, ok := c.(modeling.SpaceOwner)
		if !ok {
			continue
		}

		for _, space := range owner.Spaces() {
			space.AcceptHook(accesses)
		}
	}
}
