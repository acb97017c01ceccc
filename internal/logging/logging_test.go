package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	gologging "github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for Logging:
// - ParseLevel accepts names in any case, "warn" and the empty string
// - ParseLevel rejects unknown names
// - SetOutput filters records below the configured level
// - Setup creates the log file and its directory

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want gologging.Level
	}{
		{"", gologging.INFO},
		{"debug", gologging.DEBUG},
		{"WARN", gologging.WARNING},
		{"warning", gologging.WARNING},
		{"Error", gologging.ERROR},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

// Not parallel: the go-logging backend is process-wide.
func TestSetOutput_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, gologging.WARNING)
	defer SetOutput(os.Stderr, gologging.INFO)

	log := gologging.MustGetLogger("logging-test")
	log.Info("hidden")
	log.Warning("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "[logging-test]")
}

func TestSetup_CreatesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "server.log")
	closer, err := Setup("info", file)
	require.NoError(t, err)
	defer SetOutput(os.Stderr, gologging.INFO)

	gologging.MustGetLogger("logging-test").Info("to file")
	require.NoError(t, closer())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}
