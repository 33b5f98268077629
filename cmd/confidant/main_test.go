package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryCommandListsTranscripts(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRANSCRIPT_BACKEND", "file")
	t.Setenv("CONVERSATION_DIR", dir)
	t.Setenv("COMPLETION_MODE", "mock")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"history"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "KEY")
	assert.Contains(t, out.String(), "MODIFIED")
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "nonsense", "json")
	logger.Debug("hidden")
	logger.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
