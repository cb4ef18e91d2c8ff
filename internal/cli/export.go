package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/internal/domain/entity"
	"github.com/garyjia/opsflow/pkg/utils"
)

const exportLimit = 5000

func newExportCommand(app *App) *cobra.Command {
	var (
		companyID string
		status    string
		wfType    string
		severity  string
		output    string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a company's workflows to an xlsx workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := utils.ValidateIdentifier("company", companyID); err != nil {
				return err
			}
			filter, err := exportFilter(status, wfType, severity)
			if err != nil {
				return err
			}

			c, err := app.startContainer(cmd.Context(), false)
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer closeContainer(c, app.Logger)

			instances, err := c.WorkflowEngine().ListWorkflows(cmd.Context(), companyID, filter)
			if err != nil {
				return err
			}

			if dir := filepath.Dir(output); dir != "." {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("failed to create output directory: %w", err)
				}
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			if err := c.Exporter().Write(f, instances); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			app.Logger.Info("Export written", zap.String("company_id", companyID), zap.Int("workflows", len(instances)), zap.String("path", output))
			printf(cmd.OutOrStdout(), "wrote %d workflow(s) to %s\n", len(instances), output)
			return nil
		},
	}

	cmd.Flags().StringVar(&companyID, "company", "", "company to export (required)")
	cmd.Flags().StringVar(&status, "status", "", "only instances in this status")
	cmd.Flags().StringVar(&wfType, "type", "", "only this workflow type")
	cmd.Flags().StringVar(&severity, "severity", "", "only this severity")
	cmd.Flags().StringVarP(&output, "output", "o", "workflows.xlsx", "output file")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

func exportFilter(status, wfType, severity string) (port.ListFilter, error) {
	filter := port.ListFilter{Limit: exportLimit}
	if status != "" {
		filter.Status = entity.Status(strings.ToUpper(strings.TrimSpace(status)))
		if !filter.Status.IsValid() {
			return filter, fmt.Errorf("unknown status %q", status)
		}
	}
	if wfType != "" {
		t, err := entity.ParseWorkflowType(wfType)
		if err != nil {
			return filter, err
		}
		filter.Type = t
	}
	if severity != "" {
		s, err := entity.ParseSeverity(severity)
		if err != nil {
			return filter, err
		}
		filter.Severity = s
	}
	return filter, nil
}
