package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/visiontool/internal/config"
)

func runConfigCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewConfigCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		want    string
	}{
		{"valid", "serial:\n  baud: 921600\n", false, "✓ Config valid"},
		{"inverted_thresholds", "vision:\n  face_score_strong: 20\n  face_score_weak: 10\n", true, "✗ Config invalid"},
		{"bad_yaml", "serial: [\n", true, "✗ Config invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runConfigCmd(t, "text", "validate", writeYAML(t, tt.body))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, ExitFailure, GetExitCode(err))
			} else {
				require.NoError(t, err)
			}
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestConfigValidateJSON(t *testing.T) {
	path := writeYAML(t, "protocol:\n  command_timeout_ms: 0\n")

	out, err := runConfigCmd(t, "json", "validate", path)

	require.Error(t, err)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfig, resp.Error.Code)
}

func TestConfigShowMergesDefaults(t *testing.T) {
	path := writeYAML(t, "serial:\n  port: /dev/ttyUSB0\n")

	out, err := runConfigCmd(t, "text", "show", path)

	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
	assert.Equal(t, config.Default().Protocol, cfg.Protocol)
	assert.Equal(t, config.DefaultSupportedObjects, cfg.Vision.SupportedObjects)
}
