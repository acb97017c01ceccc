package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/cortex-lsp/internal/backend"
	"github.com/mvp-joe/cortex-lsp/internal/document"
	"github.com/mvp-joe/cortex-lsp/internal/lang"
)

var astLanguage string

// astCmd represents the ast command
var astCmd = &cobra.Command{
	Use:   "ast <file>",
	Short: "Print the language-neutral syntax tree of a file",
	Long: `Parse a file and print its syntax tree, one node per line with kind, name
and span. The language is detected from the file extension unless
--language is given.

Example:
  cortex-lsp ast src/app.py`,
	Args: cobra.ExactArgs(1),
	RunE: runAst,
}

func init() {
	astCmd.Flags().StringVarP(&astLanguage, "language", "l", "", "language of the file (default: detected from the extension)")
	rootCmd.AddCommand(astCmd)
}

func runAst(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", args[0], err)
	}
	text, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	_, cfg, done, err := prepare([]string{filepath.Dir(path)})
	if err != nil {
		return err
	}
	defer done()

	language := astLanguage
	if language == "" {
		language = lang.Detect(path, cfg.Analysis.DefaultLanguage)
	}
	if _, err := lang.Get(language); err != nil {
		return err
	}

	bcfg := cfg.ToBackendConfig()
	bcfg.Preload = false
	b, err := backend.New(bcfg)
	if err != nil {
		return err
	}
	defer b.Shutdown()

	uri := document.URIOf(path)
	if _, err := b.Open(uri, language, string(text)); err != nil {
		return err
	}
	a, err := b.GetAst(cmd.Context(), uri, -1)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, a.DebugString())
	if a.Degraded() {
		fmt.Fprintf(out, "%d syntax errors\n", len(a.Errors()))
	}
	return nil
}
