package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
)

const migrationTable = "schema_migrations"

var (
	migrateCmd = &cobra.Command{
		RunE:  runMigration,
		Use:   "migrate",
		Short: "Apply the loan schema migrations under db/migrations",
		Long: `Apply goose migrations for the directory, asset catalogue, loan and workflow tables.
Use --rollback to undo the latest migration, --to to migrate up to a version and --status to list what is applied.`,
	}
	migrateRollback bool
	migrateStatus   bool
	migrateTo       int64
	migrateDir      string
)

func init() {
	migrateCmd.Flags().BoolVarP(&migrateRollback, "rollback", "r", false, "roll back the latest applied migration")
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "print applied and pending migrations")
	migrateCmd.Flags().Int64Var(&migrateTo, "to", 0, "migrate up to this version instead of the latest")
	migrateCmd.PersistentFlags().StringVarP(&migrateDir, "dir", "d", "db/migrations", "sql migrations directory")
}

func migrationCommand() (string, []string, error) {
	switch {
	case migrateStatus && (migrateRollback || migrateTo > 0):
		return "", nil, fmt.Errorf("--status cannot be combined with --rollback or --to")
	case migrateRollback && migrateTo > 0:
		return "", nil, fmt.Errorf("--rollback and --to are mutually exclusive")
	case migrateStatus:
		return "status", nil, nil
	case migrateRollback:
		return "down", nil, nil
	case migrateTo > 0:
		return "up-to", []string{strconv.FormatInt(migrateTo, 10)}, nil
	}
	return "up", nil, nil
}

func runMigration(_ *cobra.Command, _ []string) error {
	command, args, err := migrationCommand()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := goose.OpenDBWithDriver("pgx", cfg.Database.Source)
	if err != nil {
		return fmt.Errorf("goose: failed to open DB: %w", err)
	}
	defer db.Close()
	goose.SetTableName(migrationTable)

	if err := goose.RunContext(context.Background(), command, db, migrateDir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}
