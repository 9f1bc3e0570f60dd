package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sarchlab/chipsim/sim/state"
	"github.com/sarchlab/chipsim/snapshotstore"
)

func newSnapshotCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "List and inspect stored snapshots.",
	}

	cmd.PersistentFlags().String("db", "", "Snapshot database")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the snapshots, oldest first.",
		Args:  cobra.NoArgs,
		RunE:  listSnapshots,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "inspect LABEL",
		Short: "Show the entries of a snapshot.",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectSnapshot,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete LABEL",
		Short: "Delete a snapshot.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			return store.Delete(cmd.Context(), args[0])
		},
	})

	return cmd
}

func openStore(cmd *cobra.Command) (*snapshotstore.Store, error) {
	path := stringSetting(cmd, "db", EnvSnapshotDB)
	if path == "" {
		return nil, errors.New("no snapshot database given")
	}

	return snapshotstore.Open(path)
}

func listSnapshots(cmd *cobra.Command, _ []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	infos, err := store.List(cmd.Context())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tMACHINE\tVERSION\tSIM TIME\tSIZE\tCREATED")

	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			info.Label, info.Machine, info.Version, info.SimTime, info.Size,
			info.Created.Format(time.RFC3339))
	}

	return tw.Flush()
}

func inspectSnapshot(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	info, data, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	manifest, err := state.ReadManifest(bytes.NewReader(data))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s %s at %s\n",
		info.Label, info.Machine, manifest.Version, info.SimTime)
	fmt.Fprintf(out, "digest %016x, %d bytes of state\n\n",
		manifest.Digest, manifest.PayloadSize())

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTRY\tBYTES")

	for _, item := range manifest.Items {
		fmt.Fprintf(tw, "%s\t%d\n", item.Name, item.Size)
	}

	return tw.Flush()
}
