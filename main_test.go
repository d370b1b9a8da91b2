package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kwv/anchormesh/registry"
)

type mockApp struct {
	config *registry.Config
	called map[string]bool
	asJSON bool
	format string
	closed bool
}

func (m *mockApp) RunService(context.Context) error {
	m.called["RunService"] = true
	return nil
}

func (m *mockApp) Inspect(_ context.Context, w io.Writer, asJSON bool) error {
	m.called["Inspect"] = true
	m.asJSON = asJSON
	_, err := io.WriteString(w, "0 saved record(s)\n")
	return err
}

func (m *mockApp) Render(_ context.Context, w io.Writer, format string) error {
	m.called["Render"] = true
	m.format = format
	_, err := io.WriteString(w, "rendered")
	return err
}

func (m *mockApp) Close() error {
	m.closed = true
	return nil
}

// runCommand executes the CLI with args against a mock app.
func runCommand(t *testing.T, args ...string) (*mockApp, string, error) {
	t.Helper()
	m := &mockApp{called: make(map[string]bool)}
	factory := func(config *registry.Config, _ *zap.Logger) (Application, error) {
		m.config = config
		return m, nil
	}
	cmd := NewRootCommand(factory)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return m, out.String(), err
}

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestServeCommand(t *testing.T) {
	path := writeTestConfig(t, "http:\n  port: 9000\n")

	m, _, err := runCommand(t, "serve", "--config", path)
	require.NoError(t, err)
	assert.True(t, m.called["RunService"])
	assert.True(t, m.closed)
	assert.Equal(t, 9000, m.config.HTTP.Port)

	m, _, err = runCommand(t, "serve", "--config", path, "--port", "9100")
	require.NoError(t, err)
	assert.Equal(t, 9100, m.config.HTTP.Port, "flag overrides config")
}

func TestConfigErrors(t *testing.T) {
	_, _, err := runCommand(t, "inspect", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "config file not found")

	_, _, err = runCommand(t, "inspect", "--config", writeTestConfig(t, "storage:\n  driver: redis\n"))
	assert.ErrorContains(t, err, "storage.driver")
}

func TestInspectCommand(t *testing.T) {
	path := writeTestConfig(t, "storage:\n  path: /tmp/anchors\n")

	m, out, err := runCommand(t, "inspect", "--config", path, "--json")
	require.NoError(t, err)
	assert.True(t, m.called["Inspect"])
	assert.True(t, m.asJSON)
	assert.Equal(t, "/tmp/anchors", m.config.Storage.Path)
	assert.Contains(t, out, "0 saved record(s)")
}

func TestRenderCommand(t *testing.T) {
	path := writeTestConfig(t, "http:\n  port: 8081\n")
	dir := t.TempDir()

	tests := []struct {
		name       string
		args       []string
		wantFormat string
		wantErr    string
	}{
		{"format from extension", []string{"--output", filepath.Join(dir, "plan.png")}, "png", ""},
		{"explicit format", []string{"--output", filepath.Join(dir, "plan.out"), "--format", "svg"}, "svg", ""},
		{"unknown extension", []string{"--output", filepath.Join(dir, "plan.gif")}, "", "invalid format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"render", "--config", path}, tt.args...)
			m, out, err := runCommand(t, args...)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				assert.False(t, m.called["Render"])
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFormat, m.format)
			assert.Contains(t, out, "Saved overview to")

			data, err := os.ReadFile(tt.args[1])
			require.NoError(t, err)
			assert.Equal(t, "rendered", string(data))
		})
	}
}

func TestVersionCommand(t *testing.T) {
	_, out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "anchormesh version: "))
}

func TestNewLogger(t *testing.T) {
	for _, verbose := range []bool{false, true} {
		logger, err := newLogger(verbose)
		require.NoError(t, err)
		assert.Equal(t, verbose, logger.Core().Enabled(zap.DebugLevel))
	}
}
