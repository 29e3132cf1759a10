package cmds

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/congo-pay/custody-gateway/internal/infra"
)

func (c *Cmd) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := c.database(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := infra.Migrate(db); err != nil {
				return err
			}
			return printVersion(cmd, db)
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := c.database(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := infra.MigrateDown(db, steps); err != nil {
				return err
			}
			return printVersion(cmd, db)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := c.database(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			return printVersion(cmd, db)
		},
	})

	return cmd
}

func printVersion(cmd *cobra.Command, db *pgxpool.Pool) error {
	version, dirty, err := infra.MigrationVersion(db)
	if err != nil {
		return err
	}
	return jsonPrint(cmd, map[string]any{"version": version, "dirty": dirty})
}
