// Package export renders the workflow log as a spreadsheet.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/opsflow/internal/domain/entity"
)

const (
	workflowsSheet = "Workflows"
	stepsSheet     = "Steps"
	timeLayout     = "2006-01-02 15:04"
)

var (
	workflowHeaders = []string{"ID", "Type", "Status", "Severity", "Store", "Requested By", "Amount", "Current Step", "Created", "Finalized"}
	stepHeaders     = []string{"Workflow ID", "Order", "Stage", "Role", "Assignee", "Status", "Due", "Decided", "Decided By", "Escalated", "Comment"}
)

// WorkbookWriter writes workflow instances to an xlsx workbook.
type WorkbookWriter struct {
	location *time.Location
	logger   *zap.Logger
}

// NewWorkbookWriter creates a writer that formats times in loc
func NewWorkbookWriter(loc *time.Location, logger *zap.Logger) *WorkbookWriter {
	if loc == nil {
		loc = time.UTC
	}
	return &WorkbookWriter{location: loc, logger: logger}
}

// Write renders one row per instance on the Workflows sheet and one row per
// step on the Steps sheet.
func (x *WorkbookWriter) Write(w io.Writer, instances []*entity.WorkflowInstance) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", workflowsSheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(stepsSheet); err != nil {
		return fmt.Errorf("failed to create steps sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeRow(f, workflowsSheet, 1, toCells(workflowHeaders)); err != nil {
		return err
	}
	if err := writeRow(f, stepsSheet, 1, toCells(stepHeaders)); err != nil {
		return err
	}
	for sheet, n := range map[string]int{workflowsSheet: len(workflowHeaders), stepsSheet: len(stepHeaders)} {
		last, _ := excelize.CoordinatesToCellName(n, 1)
		if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
			return fmt.Errorf("failed to style %s header: %w", sheet, err)
		}
		if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
			return fmt.Errorf("failed to freeze %s header: %w", sheet, err)
		}
	}

	stepRow := 2
	for i, inst := range instances {
		if err := writeRow(f, workflowsSheet, i+2, x.workflowCells(inst)); err != nil {
			return err
		}
		for _, step := range inst.Steps {
			if err := writeRow(f, stepsSheet, stepRow, x.stepCells(inst.ID, step)); err != nil {
				return err
			}
			stepRow++
		}
	}

	_ = f.SetColWidth(workflowsSheet, "A", "A", 38)
	_ = f.SetColWidth(stepsSheet, "A", "A", 38)
	_ = f.SetColWidth(stepsSheet, "K", "K", 40)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	x.logger.Info("Workflow workbook written",
		zap.Int("workflows", len(instances)),
		zap.Int("steps", stepRow-2))
	return nil
}

func (x *WorkbookWriter) workflowCells(inst *entity.WorkflowInstance) []interface{} {
	var amount interface{} = ""
	if inst.Amount != nil {
		amount = *inst.Amount
	}
	current := ""
	if step := inst.CurrentStep(); step != nil && !inst.IsTerminal() {
		current = fmt.Sprintf("%d (%s)", step.Order, step.AssigneeRole)
	}
	return []interface{}{
		inst.ID,
		string(inst.Type),
		string(inst.Status),
		string(inst.Severity),
		deref(inst.StoreID),
		inst.RequestedBy,
		amount,
		current,
		x.format(&inst.CreatedAt),
		x.format(inst.FinalizedAt),
	}
}

func (x *WorkbookWriter) stepCells(instanceID string, s *entity.Step) []interface{} {
	escalated := "no"
	if s.Escalated {
		escalated = "yes"
	}
	comment := s.Comment
	if len(s.Attachments) > 0 {
		comment = strings.TrimSpace(comment + " [" + strings.Join(s.Attachments, ", ") + "]")
	}
	return []interface{}{
		instanceID,
		s.Order,
		string(s.Stage),
		string(s.AssigneeRole),
		deref(s.AssigneeID),
		string(s.Status),
		x.format(s.DueAt),
		x.format(s.DecidedAt),
		deref(s.DecidedBy),
		escalated,
		comment,
	}
}

func (x *WorkbookWriter) format(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(x.location).Format(timeLayout)
}

func writeRow(f *excelize.File, sheet string, row int, cells []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toCells(values []string) []interface{} {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
