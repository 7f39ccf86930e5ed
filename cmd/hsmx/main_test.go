package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comalice/hsmx/internal/config"
	"github.com/comalice/hsmx/internal/production"
)

const fastConfig = `
log:
  level: error
devices:
  count: 2
  connectDelay: 2ms
  retryDelay: 2ms
  heartbeat: 5ms
  startSpacing: 2ms
  healthInterval: 10ms
  runFor: 60ms
  connectSuccess: 1
  heartbeatSuccess: 1
workflow:
  initDelay: 1ms
  loadDelay: 1ms
  loadTimeout: 50ms
  validateDelay: 1ms
  progressInterval: 1ms
  saveDelay: 1ms
  cleanupDelay: 1ms
  errorDelay: 1ms
  loadSuccess: 1
flow:
  workDelay: 1ms
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hsmx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "hsmx version "))
}

func TestFlowCommand(t *testing.T) {
	cfg := writeConfig(t, fastConfig)
	out, err := execute(t, "--config", cfg, "flow")
	require.NoError(t, err)
	assert.Equal(t, strings.Join(config.DefaultSequence, " -> ")+"\n", out)
}

func TestFlowCommandCustomSequence(t *testing.T) {
	cfg := writeConfig(t, fastConfig)
	out, err := execute(t, "--config", cfg, "flow", "--sequence", "X1,Y1,X2")
	require.NoError(t, err)
	assert.Equal(t, "X1 -> Y1 -> X2\n", out)
}

func TestWorkflowCommand(t *testing.T) {
	cfg := writeConfig(t, fastConfig)
	out, err := execute(t, "--config", cfg, "workflow")
	require.NoError(t, err)
	assert.Contains(t, out, "outcome\tsucceeded\n")
	assert.Contains(t, out, "step\t6/6\n")
	assert.Contains(t, out, "idle -> initializing -> loading")
}

func TestDevicesCommand(t *testing.T) {
	cfg := writeConfig(t, fastConfig)
	out, err := execute(t, "--config", cfg, "devices", "--count", "3")
	require.NoError(t, err)
	assert.Equal(t, "Device-001\tconnected\nDevice-002\tconnected\nDevice-003\tconnected\n", out)
}

func TestGraphJSON(t *testing.T) {
	out, err := execute(t, "graph", "flow", "--format", "json")
	require.NoError(t, err)

	var topo production.Topology
	require.NoError(t, json.Unmarshal([]byte(out), &topo))
	require.Len(t, topo.Engines, 3)
	assert.Equal(t, "modA", topo.Engines[0].Name)
	assert.Equal(t, "scheduler", topo.Engines[0].Parent)
}

func TestGraphFormats(t *testing.T) {
	out, err := execute(t, "graph", "devices")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph Engines {")
	assert.Contains(t, out, `"Device-001.__engine" -> "controller.__engine"`)

	out, err = execute(t, "graph", "workflow", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "name: workflow")

	_, err = execute(t, "graph", "workflow", "--format", "svg")
	assert.Error(t, err)

	_, err = execute(t, "graph", "nope")
	assert.Error(t, err)
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "flow")
	assert.ErrorIs(t, err, config.ErrInvalidLogLevel)
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "workflow")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
