package cli

import (
	"colocation/cmd/internal/app"

	"github.com/spf13/cobra"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr       string
		sqlitePath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session relay and the shared anchor API",
		Long: `serve exposes the session relay at /ws, the shared anchor API under /v1,
and /healthz, /readyz and /metrics.

The anchor store is Postgres when COLO_DATABASE_URL is set, SQLite when
--sqlite or COLO_SQLITE_PATH is set, and in-memory otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), func(c *app.Config) {
				if addr != "" {
					c.HTTPAddr = addr
				}
				if sqlitePath != "" {
					c.SQLitePath = sqlitePath
				}
				root.applyLog(cmd, &c.LogLevel, &c.LogFormat, &c.LogColor)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (env COLO_HTTP_ADDR)")
	cmd.Flags().StringVar(&sqlitePath, "sqlite", "", "SQLite anchor store path (env COLO_SQLITE_PATH)")
	return cmd
}
