package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/chipsim/sim/modeling"
	"github.com/sarchlab/chipsim/sim/simulation"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate MACHINE",
		Short: "Check a machine description.",
		Long: "Validate builds the machine described in MACHINE without " +
			"running it and lists its components and address spaces.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sim, err := buildMachine(machineOptions{
				path:       args[0],
				consoleOut: io.Discard,
			})
			if err != nil {
				return err
			}
			defer sim.Teardown()

			return describe(cmd.OutOrStdout(), sim)
		},
	}

	return cmd
}

func describe(w io.Writer, sim *simulation.Simulation) error {
	fmt.Fprintf(w, "%s %s\n\n", sim.Name(), sim.Version())

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPONENT\tCLOCK\tSPACES")

	for _, c := range sim.Components() {
		clock := "-"
		if clk, err := sim.ClockOf(c.Name()); err == nil && !clk.IsZero() {
			clock = clk.String()
		}

		spaces := 0
		if owner, ok := c.(modeling.SpaceOwner); ok {
			spaces = len(owner.Spaces())
		}

		fmt.Fprintf(tw, "%s\t%s\t%d\n", c.Name(), clock, spaces)
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)

	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SPACE\tSTART\tEND\tKIND\tACCESS")

	for _, c := range sim.Components() {
		owner, ok := c.(modeling.SpaceOwner)
		if !ok {
			continue
		}

		for _, space := range owner.Spaces() {
			for _, r := range space.Ranges() {
				fmt.Fprintf(tw, "%s\t0x%x\t0x%x\t%s\t%s\n",
					space.FullName(), r.Start, r.End, r.Kind, r.Access)
			}
		}
	}

	return tw.Flush()
}
