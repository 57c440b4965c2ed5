package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "visiontool", cmd.Use)
	assert.Contains(t, cmd.Long, "serial line")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{{"serve"}, {"send"}, {"journal"}, {"config", "validate"}, {"config", "show"}}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	for _, name := range []string{"config", "port", "frames-dir", "log-file", "journal"} {
		assert.NotNil(t, serveCmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "c", serveCmd.Flags().Lookup("config").Shorthand)
}

func TestSendCommandDefaults(t *testing.T) {
	cmd := NewRootCommand()
	sendCmd, _, err := cmd.Find([]string{"send"})
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyS1", sendCmd.Flags().Lookup("port").DefValue)
	assert.Equal(t, "115200", sendCmd.Flags().Lookup("baud").DefValue)
	assert.Equal(t, "{}", sendCmd.Flags().Lookup("args").DefValue)
}

func TestInvalidFormatRejected(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--format", "xml", "config", "show"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
