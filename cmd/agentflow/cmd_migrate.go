package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kbukum/agentflow/database/migration"
)

func (c *cli) migrateCmd() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the job tables",
		Long: `Brings the schema to the latest version. PostgreSQL runs the versioned
SQL migrations; SQLite uses auto-migration of the job models.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := c.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if down {
				if err := migration.Down(db); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema rolled back")
				return nil
			}
			if err := migration.Up(db); err != nil {
				return err
			}
			if !db.IsPostgres() {
				fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", db.DriverName())
				return nil
			}
			v, dirty, err := migration.Version(db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d (dirty=%t)\n", v, dirty)
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back every migration (PostgreSQL only)")
	return cmd
}
