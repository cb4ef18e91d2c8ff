package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "opsflow.log")
	logger, err := NewLogger(LoggerConfig{Level: "debug", OutputPath: path, Format: "json", Service: "opsflow"})
	require.NoError(t, err)

	logger.Info("hello")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"opsflow"`)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, level)

	level, err = ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestValidateIdentifier(t *testing.T) {
	assert.NoError(t, ValidateIdentifier("actor", "sm-1"))
	assert.NoError(t, ValidateIdentifier("actor", "ou_7d8a6e6df7621556ce0d21922b676706"))
	assert.Error(t, ValidateIdentifier("actor", ""))
	assert.Error(t, ValidateIdentifier("actor", "a b"))
	assert.Error(t, ValidateIdentifier("actor", strings.Repeat("x", 200)))
}

func TestSanitizeComment(t *testing.T) {
	assert.Equal(t, "line1\nline2", SanitizeComment("  line1\nline2\x00 "))
	assert.Len(t, []rune(SanitizeComment(strings.Repeat("é", MaxCommentLength+10))), MaxCommentLength)
	assert.Error(t, ValidateAmount(-1))
	assert.NoError(t, ValidateAmount(0))
}
