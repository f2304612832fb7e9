// Package cli is the command-line surface: a relay server command and the
// device-side host, join and clear flows, plus an in-process demo.
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// rootOptions holds persistent flags. Empty values fall back to the environment.
type rootOptions struct {
	logLevel  string
	logFormat string
	logColor  bool
}

// applyLog overrides env-derived log settings with any flags the user set.
func (o *rootOptions) applyLog(cmd *cobra.Command, level, format *string, color *bool) {
	if o.logLevel != "" {
		*level = o.logLevel
	}
	if o.logFormat != "" {
		*format = o.logFormat
	}
	if f := cmd.Flag("log-color"); f != nil && f.Changed {
		*color = o.logColor
	}
}

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "colocation",
		Short: "Multi-user spatial colocation over a session relay",
		Long: `colocation puts several headsets into one shared coordinate frame.

A host places an anchor, shares it to a fresh group identifier and broadcasts
that identifier over a named session. Clients join the session, receive the
identifier, load and localize the shared anchor and align to it.

Run "serve" once to provide the session relay and the shared anchor API,
then "host" on one device and "join" on the others.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (env COLO_LOG_LEVEL)")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format: json or pretty (env COLO_LOG_FORMAT)")
	pf.BoolVar(&opts.logColor, "log-color", false, "colorize pretty logs (env COLO_LOG_COLOR)")

	root.AddCommand(
		newServeCmd(opts),
		newHostCmd(opts),
		newJoinCmd(opts),
		newClearCmd(opts),
		newDemoCmd(opts),
	)
	return root
}

// Execute runs the command tree until ctx is done.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
