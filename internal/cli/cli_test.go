package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/cortex-lsp/internal/backend"
	"github.com/mvp-joe/cortex-lsp/internal/symbols"
)

// Test Plan for the CLI:
// - check reports syntax errors and unresolved names in path order
// - check --format json emits a parseable report and fails on errors
// - check on a clean workspace succeeds
// - writeReport renders findings as path:line:col lines
// - ast prints the syntax tree of a file
// - version prints the version and the registered languages
//
// Commands share package-level flags, so these tests do not run in parallel.

func writeWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, text := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	}
	return dir
}

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	checkFormat, checkQuiet, checkStrict = "text", false, false
	astLanguage = ""
	cfgFile, logLevel, logFile, verbose = "", "", "", false

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

var brokenWorkspace = map[string]string{
	"bad.py":         "def broken(:\n    pass\n",
	"pkg/helpers.py": "def helper():\n    return 1\n",
	"main.py":        "from pkg.helpers import helper\nhelper()\nprint(missing)\n",
}

func TestCheck(t *testing.T) {
	root := writeWorkspace(t, brokenWorkspace)

	cfg := backend.DefaultConfig()
	b, err := backend.New(cfg)
	require.NoError(t, err)
	t.Cleanup(b.Shutdown)
	require.NoError(t, b.Initialize(context.Background(), root))

	report, err := check(context.Background(), b, root, NewCLIProgressReporter(&bytes.Buffer{}, true))
	require.NoError(t, err)

	assert.Equal(t, 3, report.Files)
	assert.GreaterOrEqual(t, report.Errors, 1)
	assert.GreaterOrEqual(t, report.Warnings, 1)

	require.NotEmpty(t, report.Findings)
	assert.Equal(t, "bad.py", report.Findings[0].Path)
	assert.Equal(t, "error", report.Findings[0].Severity)

	last := report.Findings[len(report.Findings)-1]
	assert.Equal(t, "main.py", last.Path)
	assert.Equal(t, "warning", last.Severity)
	assert.Equal(t, 3, last.Line)
	assert.Equal(t, 7, last.Character)
	assert.Contains(t, last.Message, "missing")
}

func TestCheckCommand_JSON(t *testing.T) {
	root := writeWorkspace(t, brokenWorkspace)

	out, err := execute(t, "check", root, "--quiet", "--format", "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "errors")

	var report CheckReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, root, report.Root)
	assert.Equal(t, 3, report.Files)
	assert.GreaterOrEqual(t, report.Errors, 1)
}

func TestCheckCommand_Clean(t *testing.T) {
	root := writeWorkspace(t, map[string]string{
		"app.py": "def main():\n    return 1\n\nmain()\n",
	})

	out, err := execute(t, "check", root, "--quiet")
	require.NoError(t, err)
	assert.Equal(t, "1 files checked: 0 errors, 0 warnings\n", out)
}

func TestCheckCommand_Strict(t *testing.T) {
	root := writeWorkspace(t, map[string]string{
		"app.py": "print(missing)\n",
	})

	_, err := execute(t, "check", root, "--quiet")
	require.NoError(t, err)

	_, err = execute(t, "check", root, "--quiet", "--strict")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 warnings")
}

func TestCheckCommand_InvalidFormat(t *testing.T) {
	_, err := execute(t, "check", t.TempDir(), "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestWriteReport(t *testing.T) {
	report := &CheckReport{
		Root:  "/ws",
		Files: 2,
		Findings: []Finding{
			{Path: "a.py", Line: 1, Character: 5, Severity: "error", Message: "syntax error", Code: "syntax"},
			{Path: "b.py", Line: 3, Character: 1, Severity: "warning", Message: "undefined name"},
		},
		Errors:   1,
		Warnings: 1,
	}

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, report, "text"))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"a.py:1:5: error: syntax error [syntax]",
		"b.py:3:1: warning: undefined name",
		"2 files checked: 1 errors, 1 warnings",
	}, lines)

	buf.Reset()
	require.NoError(t, writeReport(&buf, report, "json"))
	var decoded CheckReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, *report, decoded)
}

func TestSeverityName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		severity symbols.Severity
		want     string
	}{
		{symbols.SeverityError, "error"},
		{symbols.SeverityWarning, "warning"},
		{symbols.SeverityInformation, "info"},
		{symbols.SeverityHint, "hint"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, severityName(int(tt.severity)))
	}
}

func TestAstCommand(t *testing.T) {
	root := writeWorkspace(t, map[string]string{
		"app.py":     "class Store:\n    def save(self):\n        pass\n",
		"script.txt": "def run():\n    pass\n",
	})

	out, err := execute(t, "ast", filepath.Join(root, "app.py"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Module"))
	assert.Contains(t, out, `Class "Store"`)
	assert.Contains(t, out, `Function "save"`)
	assert.NotContains(t, out, "syntax errors")

	out, err = execute(t, "ast", filepath.Join(root, "script.txt"), "--language", "python")
	require.NoError(t, err)
	assert.Contains(t, out, `Function "run"`)

	_, err = execute(t, "ast", filepath.Join(root, "app.py"), "--language", "cobol")
	require.Error(t, err)

	_, err = execute(t, "ast", filepath.Join(root, "nope.py"))
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cortex-lsp dev")
	assert.Contains(t, out, "python")
}
