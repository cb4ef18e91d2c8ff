package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := `database:
  driver: sqlite
  path: ` + filepath.Join(dir, "opsflow.db") + `
logger:
  level: error
  output_path: stderr
metrics:
  enabled: false
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path, dir
}

func run(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	app := &App{}
	root := NewRootCommand(app)
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(append([]string{"--config", configPath, "--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestMigrate(t *testing.T) {
	cfg, _ := writeConfig(t)

	out, err := run(t, cfg, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migration(s)")

	out, err = run(t, cfg, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "applied 0 migration(s)")
}

func TestGrant(t *testing.T) {
	cfg, _ := writeConfig(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name: "store manager",
			args: []string{"grant", "--company", "c1", "--store", "s1", "--user", "sm-1", "--role", "store_manager"},
		},
		{
			name: "company admin",
			args: []string{"grant", "--company", "c1", "--user", "ca-1", "--role", "admin", "--name", "Ana"},
		},
		{
			name:    "unknown role",
			args:    []string{"grant", "--company", "c1", "--user", "x", "--role", "janitor"},
			wantErr: "janitor",
		},
		{
			name:    "store role without store",
			args:    []string{"grant", "--company", "c1", "--user", "x", "--role", "staff"},
			wantErr: "store-scoped",
		},
		{
			name:    "company role with store",
			args:    []string{"grant", "--company", "c1", "--store", "s1", "--user", "x", "--role", "owner"},
			wantErr: "company-wide",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, cfg, tt.args...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out, "granted")
		})
	}
}

func TestSweep(t *testing.T) {
	cfg, _ := writeConfig(t)

	out, err := run(t, cfg, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "escalation pass completed")
}

func TestExport(t *testing.T) {
	cfg, dir := writeConfig(t)
	output := filepath.Join(dir, "out", "workflows.xlsx")

	out, err := run(t, cfg, "export", "--company", "c1", "--status", "approved", "-o", output)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 0 workflow(s)")

	book, err := excelize.OpenFile(output)
	require.NoError(t, err)
	defer book.Close()
	rows, err := book.GetRows("Workflows")
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = run(t, cfg, "export", "--company", "c1", "--status", "bogus", "-o", output)
	require.Error(t, err)

	_, err = run(t, cfg, "export", "-o", output)
	require.Error(t, err)
}
