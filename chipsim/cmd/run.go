package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/sarchlab/chipsim/datarecording"
	"github.com/sarchlab/chipsim/monitoring"
	"github.com/sarchlab/chipsim/sim/simulation"
	"github.com/sarchlab/chipsim/sim/timing"
	"github.com/sarchlab/chipsim/snapshotstore"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run MACHINE",
		Short: "Run a machine description.",
		Long: "Run builds the machine described in MACHINE and runs it " +
			"for the given span of simulated time.",
		Args: cobra.ExactArgs(1),
		RunE: runMachine,
	}

	cmd.Flags().String("for", "1s", "Simulated time to run, e.g. 250ms")
	cmd.Flags().Bool("monitor", false, "Serve the monitoring page")
	cmd.Flags().Int("port", 0, "Monitoring port, random if 0")
	cmd.Flags().Bool("open-browser", false, "Open the monitoring page")
	cmd.Flags().String("trace", "", "Record the schedule into this database")
	cmd.Flags().String("snapshot-db", "", "Snapshot database")
	cmd.Flags().String("load", "", "Restore this snapshot before running")
	cmd.Flags().String("save", "", "Save a snapshot under this label at the end")

	return cmd
}

type runOptions struct {
	duration    timing.VTime
	monitor     bool
	port        int
	openBrowser bool
	trace       string
	snapshotDB  string
	load        string
	save        string
	verbose     bool
}

func readRunOptions(cmd *cobra.Command) (runOptions, error) {
	var (
		opts runOptions
		err  error
	)

	forStr, _ := cmd.Flags().GetString("for")

	opts.duration, err = timing.ParseVTime(forStr)
	if err != nil {
		return opts, err
	}

	if opts.duration.IsNegative() || opts.duration.IsNever() {
		return opts, fmt.Errorf("cannot run for %s", forStr)
	}

	opts.monitor, _ = cmd.Flags().GetBool("monitor")
	opts.port = intSetting(cmd, "port", EnvMonitorPort)
	opts.openBrowser, _ = cmd.Flags().GetBool("open-browser")
	opts.trace = stringSetting(cmd, "trace", EnvTraceDB)
	opts.snapshotDB = stringSetting(cmd, "snapshot-db", EnvSnapshotDB)
	opts.load, _ = cmd.Flags().GetString("load")
	opts.save, _ = cmd.Flags().GetString("save")
	opts.verbose, _ = cmd.Flags().GetBool("verbose")

	if (opts.load != "" || opts.save != "") && opts.snapshotDB == "" {
		return opts, errors.New("--load and --save need a snapshot database")
	}

	return opts, nil
}

func runMachine(cmd *cobra.Command, args []string) error {
	opts, err := readRunOptions(cmd)
	if err != nil {
		return err
	}

	mopts := machineOptions{
		path:       args[0],
		consoleOut: cmd.OutOrStdout(),
	}

	if opts.verbose {
		mopts.logOut = cmd.ErrOrStderr()
	}

	if opts.trace != "" {
		mopts.recorder = datarecording.New(opts.trace)
	}

	sim, err := buildMachine(mopts)
	if err != nil {
		return err
	}
	defer sim.Teardown()

	if mopts.recorder != nil {
		exec := datarecording.NewExecRecorder(mopts.recorder)
		exec.Start()
		exec.Add("Machine", sim.Name()+" "+sim.Version())
		exec.Add("Simulation ID", sim.ID())
		defer exec.End()
	}

	var store *snapshotstore.Store
	if opts.snapshotDB != "" {
		store, err = snapshotstore.Open(opts.snapshotDB)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if opts.load != "" {
		info, err := store.Load(ctx, opts.load, sim)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "Restored %s taken at %s\n",
			info.Label, info.SimTime)
	}

	if opts.monitor {
		stopMonitor, err := startMonitor(sim, store, opts)
		if err != nil {
			return err
		}
		defer stopMonitor()
	}

	err = sim.RunFor(ctx, opts.duration)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Interrupted at %s\n", sim.Now())
	} else if err != nil {
		return err
	}

	if opts.save != "" {
		info, err := store.Save(context.Background(), opts.save, sim)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "Saved %s at %s (%d bytes)\n",
			info.Label, info.SimTime, info.Size)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%s stopped at %s\n", sim.Name(), sim.Now())

	return nil
}

func startMonitor(
	sim *simulation.Simulation,
	store *snapshotstore.Store,
	opts runOptions,
) (func(), error) {
	mon := monitoring.NewMonitor().
		WithPortNumber(opts.port).
		WithBrowser(opts.openBrowser)
	mon.RegisterSimulation(sim)

	if store != nil {
		mon.RegisterSnapshotStore(store)
	}

	var reader datarecording.DataReader

	if opts.trace != "" {
		var err error

		reader, err = datarecording.NewReader(opts.trace + ".sqlite3")
		if err != nil {
			return nil, err
		}

		mon.RegisterTraceReader(reader)
	}

	bar := mon.CreateProgressBar("Simulated ms", monitoring.Millis(opts.duration))
	sim.Scheduler().AcceptHook(monitoring.NewTimeProgress(bar, sim.Now()))

	if _, err := mon.StartServer(); err != nil {
		return nil, err
	}

	return func() {
		mon.CompleteProgressBar(bar)
		mon.StopServer(context.Background())

		if reader != nil {
			reader.Close()
		}
	}, nil
}
