package cli

import (
	"context"
	"fmt"
	"io"

	"colocation/cmd/internal/anchor"

	"github.com/spf13/cobra"
)

func newJoinCmd(root *rootOptions) *cobra.Command {
	var (
		flags deviceFlags
		group string
		retry bool
	)

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a session, receive its group and align to the shared anchor",
		Long: `join connects to the named session and waits for the host's group
identifier, then loads the group's anchors, localizes the first one it can
and aligns to it.

--group skips the session and uses the given identifier directly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var manual anchor.GroupID
			if group != "" {
				g, err := anchor.ParseGroupID(group)
				if err != nil {
					return fmt.Errorf("--group: %w", err)
				}
				manual = g
			}

			cfg, log, err := loadDevice(cmd, root, &flags)
			if err != nil {
				return err
			}
			d, err := newDevice(log, "client", cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer d.close()

			return runJoin(cmd.Context(), d, manual, retry, cmd.OutOrStdout())
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&group, "group", "g", "", "use this group identifier instead of waiting for a broadcast")
	cmd.Flags().BoolVar(&retry, "retry", true, "retry loading while the host has not shared yet")
	return cmd
}

func runJoin(ctx context.Context, d *device, manual anchor.GroupID, retry bool, out io.Writer) error {
	group := manual
	if group.IsEmpty() {
		g, err := d.coord.JoinAndAwaitGroup(ctx)
		if err != nil {
			return err
		}
		group = g
	} else if err := d.coord.SetGroupIdentifier(group); err != nil {
		return err
	}
	printf(out, "[%s] group %s\n", d.name, group)

	load := d.coord.LoadAndAlign
	if retry {
		load = d.coord.LoadAndAlignWithRetry
	}
	h, err := load(ctx, group)
	if err != nil {
		return err
	}

	printf(out, "[%s] aligned to anchor %s\n", d.name, h.ID())
	printf(out, "[%s] shared frame offset %s\n", d.name, formatPose(d.rig.Offset()))
	return nil
}
