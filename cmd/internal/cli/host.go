package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
)

// sessionWatchInterval is how often host checks that its relay session is alive.
const sessionWatchInterval = time.Second

func newHostCmd(root *rootOptions) *cobra.Command {
	var (
		flags      deviceFlags
		afterShare bool
	)

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Host a session: place, save and share an anchor, then broadcast its group",
		Long: `host advertises the session on the relay, places an anchor at the origin,
saves it, shares it to a fresh group identifier and broadcasts that identifier.

The session stays open until interrupted so later joiners still receive the
group identifier.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadDevice(cmd, root, &flags)
			if err != nil {
				return err
			}
			if afterShare {
				cfg.Coordinator.BroadcastAfterShare = true
			}

			d, err := newDevice(log, "host", cfg, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer d.close()

			ctx := cmd.Context()
			group, err := d.coord.StartHosting(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printf(out, "session %q group %s\n", cfg.Coordinator.SessionName, group)
			printf(out, "waiting for clients; interrupt to end the session\n")

			ticker := time.NewTicker(sessionWatchInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if !d.tr.Running() {
						return errors.New("relay session ended")
					}
				}
			}
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&afterShare, "broadcast-after-share", false, "broadcast the group only once the anchor is shared (env COLO_BROADCAST_AFTER_SHARE)")
	return cmd
}
