package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/atoms-stack/testflow/internal/engine"
	"github.com/atoms-stack/testflow/internal/script"
	"github.com/atoms-stack/testflow/internal/status"
)

var validateCmd = &cobra.Command{
	Use:   "validate <script>",
	Short: "Validate a script",
	Long: `Parse an .atoms script without executing it.

Reports:
- the executable window
- nodes, loops, variables and workflows
- structural warnings (dangling references, redeclarations)
- result columns and step total
- estimated time spent in waits and delays
- instrument addresses`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

var (
	validateJSON            bool
	validateCaseInsensitive bool
	validateStrict          bool
)

func init() {
	validateCmd.Flags().BoolVarP(&validateJSON, "json", "j", false, "Output as JSON")
	validateCmd.Flags().BoolVar(&validateCaseInsensitive, "case-insensitive", false, "match markers case-insensitively")
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "Exit non-zero when the script has warnings")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	dir, err := getWorkDir()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return err
	}

	path := args[0]
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	caseSensitive := cfg.Engine.CaseSensitive && !validateCaseInsensitive
	prog, err := engine.Load(path, script.Options{CaseSensitive: caseSensitive})
	if err != nil {
		return err
	}

	summary := status.NewScriptSummary(prog)
	if validateJSON {
		data, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	} else {
		opts := status.FormatOptions{NoColor: !term.IsTerminal(int(os.Stdout.Fd()))}
		fmt.Fprint(cmd.OutOrStdout(), status.FormatScript(summary, opts))
	}

	if validateStrict && len(summary.Warnings) > 0 {
		return &ExitError{Code: ExitFailed, Message: fmt.Sprintf("%d warning(s)", len(summary.Warnings))}
	}
	return nil
}
