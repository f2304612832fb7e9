package cli

import (
	"errors"
	"fmt"

	"colocation/cmd/internal/anchor"

	"github.com/spf13/cobra"
)

var errClearUnconfirmed = errors.New("clear permanently erases shared anchors; re-run with --yes")

func newClearCmd(root *rootOptions) *cobra.Command {
	var (
		flags deviceFlags
		group string
		yes   bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Erase every anchor shared into a group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errClearUnconfirmed
			}
			g, err := anchor.ParseGroupID(group)
			if err != nil {
				return fmt.Errorf("--group: %w", err)
			}

			cfg, log, err := loadDevice(cmd, root, &flags)
			if err != nil {
				return err
			}
			d, err := newDevice(log, "clear", cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer d.close()

			ctx := cmd.Context()
			unbound, err := d.runtime.LoadGroup(ctx, g)
			if err != nil {
				return err
			}
			for _, u := range unbound {
				h, err := d.runtime.Bind(ctx, u)
				if err != nil {
					return err
				}
				d.coord.AddAnchor(h)
			}

			n, err := d.coord.Clear(ctx)
			printf(cmd.OutOrStdout(), "erased %d of %d anchor(s) in group %s\n", n, len(unbound), g)
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&group, "group", "g", "", "group identifier whose anchors are erased")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the irreversible erase")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}
