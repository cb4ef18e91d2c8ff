// Package cli implements the opsflow command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/garyjia/opsflow/internal/config"
	"github.com/garyjia/opsflow/internal/container"
	"github.com/garyjia/opsflow/pkg/utils"
)

// App carries state shared by every subcommand. Config and Logger are
// filled in by the root command before any subcommand runs.
type App struct {
	ConfigPath string
	EnvFile    string

	Config *config.Config
	Logger *zap.Logger
}

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "opsflow",
		Short:         "Approval and corrective-action workflow engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.Logger != nil {
				_ = app.Logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&app.ConfigPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&app.EnvFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(
		newServeCommand(app),
		newMigrateCommand(app),
		newSweepCommand(app),
		newExportCommand(app),
		newGrantCommand(app),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	app := &App{}
	root := NewRootCommand(app)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (a *App) init() error {
	if a.EnvFile != "" {
		// Existing environment variables win over the file.
		if err := gotenv.Load(a.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", a.EnvFile, err)
		}
	}

	if a.Config == nil {
		cfg, err := config.Load(a.ConfigPath)
		if err != nil {
			return err
		}
		a.Config = cfg
	}

	if a.Logger == nil {
		logger, err := utils.NewLogger(utils.LoggerConfig{
			Level:      a.Config.Logger.Level,
			OutputPath: a.Config.Logger.OutputPath,
			Format:     a.Config.Logger.Format,
			Service:    "opsflow",
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		a.Logger = logger
	}
	return nil
}

// startContainer builds and starts the dependency graph. Background controls
// whether the escalation cron runs.
func (a *App) startContainer(ctx context.Context, background bool) (*container.Container, error) {
	cc, err := a.Config.ToContainerConfig()
	if err != nil {
		return nil, err
	}
	cc.Background = background

	c, err := container.NewContainer(cc, a.Logger)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func closeContainer(c *container.Container, logger *zap.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("Failed to close container", zap.Error(err))
	}
}

func printf(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, format, args...)
}
