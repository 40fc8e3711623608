package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/errors"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the job store database",
	Long: `db - Manage the job store database

Examples:
  cadence db migrate              # Create or upgrade the schema
  cadence db migrate --db jobs.db # Against a specific file`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	var applied int
	if err := database.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		return errors.Wrap(err, "failed to count migrations")
	}

	path := DatabasePath
	if path == "" {
		path = cfg.Database.Path
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s migrated (%d migrations applied)\n", path, applied)
	return nil
}
