package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/opsflow/internal/container"
	httpapi "github.com/garyjia/opsflow/internal/interfaces/http"
)

func newServeCommand(app *App) *cobra.Command {
	var noSweep bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the escalation sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			background := app.Config.Escalation.Enabled && !noSweep
			c, err := app.startContainer(ctx, background)
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer closeContainer(c, app.Logger)

			server := httpapi.NewServer(httpapi.ServerConfig{
				Host:         app.Config.Server.Host,
				Port:         app.Config.Server.Port,
				ReadTimeout:  app.Config.Server.ReadTimeout,
				WriteTimeout: app.Config.Server.WriteTimeout,
				Mode:         app.Config.Server.Mode,
			}, apiDependencies(app, c), &zapLogger{logger: app.Logger.Named("http")})

			app.Logger.Info("opsflow started",
				zap.String("address", server.Address()),
				zap.Bool("escalation_sweeper", background),
				zap.Strings("workers", c.Workers().Running()))

			return server.Start(ctx)
		},
	}

	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not run the escalation sweeper in this process")
	return cmd
}

func apiDependencies(app *App, c *container.Container) httpapi.Dependencies {
	repos := c.Repositories()
	deps := httpapi.Dependencies{
		Engine:      c.WorkflowEngine(),
		Directory:   repos.Directory,
		Templates:   repos.Template,
		SideEffects: c.Services().SideEffect,
		Exporter:    c.Exporter(),
		Health: func(ctx context.Context) (bool, interface{}) {
			status := c.Health(ctx)
			return status.Overall, status.Components
		},
	}
	if h := c.MetricsHandler(); h != nil {
		deps.Metrics = h
		deps.MetricsPath = app.Config.Metrics.Path
	}
	return deps
}

// zapLogger adapts zap to the key-value Logger the HTTP layer expects.
type zapLogger struct {
	logger *zap.Logger
}

func (l *zapLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Infow(msg, keysAndValues...)
}

func (l *zapLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, keysAndValues...)
}
