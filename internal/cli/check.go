package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/cortex-lsp/internal/backend"
	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/feature"
	"github.com/mvp-joe/cortex-lsp/internal/symbols"
)

var (
	checkFormat string
	checkQuiet  bool
	checkStrict bool
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check [dir]",
	Short: "Report diagnostics for every source file under a directory",
	Long: `Load every source file under dir (default: the working directory), resolve
imports across them, and print syntax errors, unresolved names, failed
imports and import cycles.

Exits non-zero when an error is found, or a warning with --strict.

Example:
  cortex-lsp check ./src --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkFormat, "format", "text", "output format: text or json")
	checkCmd.Flags().BoolVarP(&checkQuiet, "quiet", "q", false, "hide the progress bar")
	checkCmd.Flags().BoolVar(&checkStrict, "strict", false, "fail on warnings too")
	rootCmd.AddCommand(checkCmd)
}

// Finding is one diagnostic of a checked file.
type Finding struct {
	Path      string `json:"path"`
	Line      int    `json:"line"`
	Character int    `json:"character"`
	Severity  string `json:"severity"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	Source    string `json:"source,omitempty"`
}

// CheckReport is the result of checking a directory.
type CheckReport struct {
	Root     string    `json:"root"`
	Files    int       `json:"files"`
	Findings []Finding `json:"findings"`
	Errors   int       `json:"errors"`
	Warnings int       `json:"warnings"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	if checkFormat != "text" && checkFormat != "json" {
		return fmt.Errorf("invalid format %q (must be text or json)", checkFormat)
	}
	root, cfg, done, err := prepare(args)
	if err != nil {
		return err
	}
	defer done()

	bcfg := cfg.ToBackendConfig()
	bcfg.Preload = true
	b, err := backend.New(bcfg)
	if err != nil {
		return err
	}
	defer b.Shutdown()

	ctx := cmd.Context()
	if err := b.Initialize(ctx, root); err != nil {
		return fmt.Errorf("failed to initialize workspace: %w", err)
	}

	report, err := check(ctx, b, root, NewCLIProgressReporter(cmd.ErrOrStderr(), checkQuiet))
	if err != nil {
		return err
	}
	if err := writeReport(cmd.OutOrStdout(), report, checkFormat); err != nil {
		return err
	}

	if report.Errors > 0 || (checkStrict && report.Warnings > 0) {
		return fmt.Errorf("found %d errors and %d warnings", report.Errors, report.Warnings)
	}
	return nil
}

// check collects the diagnostics of every file b knows, in path order.
func check(ctx context.Context, b *backend.Backend, root string, progress *CLIProgressReporter) (*CheckReport, error) {
	files := b.Files()
	uris := make([]string, 0, len(files))
	for _, f := range files {
		uris = append(uris, f.URI)
	}
	sort.Strings(uris)

	report := &CheckReport{Root: root, Files: len(uris), Findings: []Finding{}}
	progress.OnStart("Checking files", len(uris))
	defer progress.OnComplete()

	for _, uri := range uris {
		res, err := b.RequestFeature(ctx, feature.Diagnostics, uri, document.Position{})
		if err != nil {
			return nil, fmt.Errorf("failed to check %s: %w", uri, err)
		}
		for _, it := range res.Items {
			report.Findings = append(report.Findings, findingOf(root, uri, it))
			switch symbols.Severity(it.Severity) {
			case symbols.SeverityError:
				report.Errors++
			case symbols.SeverityWarning:
				report.Warnings++
			}
		}
		progress.OnStep()
	}
	return report, nil
}

func findingOf(root, uri string, it feature.Item) Finding {
	path := document.PathOf(uri)
	if rel, err := filepath.Rel(root, path); err == nil {
		path = filepath.ToSlash(rel)
	}
	return Finding{
		Path:      path,
		Line:      it.Range.Start.Line + 1,
		Character: it.Range.Start.Character + 1,
		Severity:  severityName(it.Severity),
		Code:      it.Code,
		Message:   it.Message,
		Source:    it.Source,
	}
}

func severityName(severity int) string {
	switch symbols.Severity(severity) {
	case symbols.SeverityError:
		return "error"
	case symbols.SeverityWarning:
		return "warning"
	case symbols.SeverityInformation:
		return "info"
	default:
		return "hint"
	}
}

// writeReport prints findings one per line as path:line:col, or the whole
// report as JSON.
func writeReport(w io.Writer, report *CheckReport, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	for _, f := range report.Findings {
		code := ""
		if f.Code != "" {
			code = " [" + f.Code + "]"
		}
		if _, err := fmt.Fprintf(w, "%s:%d:%d: %s: %s%s\n", f.Path, f.Line, f.Character, f.Severity, f.Message, code); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%d files checked: %d errors, %d warnings\n", report.Files, report.Errors, report.Warnings)
	return err
}
