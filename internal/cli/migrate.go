package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/opsflow/pkg/database"
)

func newMigrateCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbCfg := app.Config.Database
			db, err := database.New(database.Config{
				Driver:          dbCfg.Driver,
				Path:            dbCfg.Path,
				DSN:             dbCfg.DSN,
				MaxOpenConns:    dbCfg.MaxOpenConns,
				MaxIdleConns:    dbCfg.MaxIdleConns,
				ConnMaxLifetime: dbCfg.ConnMaxLifetime,
			}, app.Logger)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := database.NewMigrator(db, app.Logger).RunMigrations()
			if err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			app.Logger.Info("Migrations complete", zap.String("driver", dbCfg.Driver), zap.Int("applied", applied))
			printf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			return nil
		},
	}
}
