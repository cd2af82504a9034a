package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/atoms-stack/testflow/internal/config"
	"github.com/atoms-stack/testflow/internal/control"
	"github.com/atoms-stack/testflow/internal/engine"
	"github.com/atoms-stack/testflow/internal/logging"
	"github.com/atoms-stack/testflow/internal/results"
	"github.com/atoms-stack/testflow/internal/runstore"
	"github.com/atoms-stack/testflow/internal/script"
	"github.com/atoms-stack/testflow/internal/transport"
)

var runCmd = &cobra.Command{
	Use:   "run <script>",
	Short: "Run a test script",
	Long: `Run an .atoms script against the configured instrument transport.

Results are written to <output>/<script>_<YYYY-MM-DD_HH-MM-SS>/ together with
the run log, captured images and the run-state token. The run is recorded in
the run store so 'testflow status', 'pause', 'resume' and 'stop' can find it.

Ctrl+C stops the run cooperatively: the partial row is kept and the result
file is flushed.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runOutput          string
	runDebug           bool
	runCaseInsensitive bool
	runTransport       string
	runSimFile         string
	runVars            []string
)

func init() {
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "output directory (default: paths.output_dir)")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "wait for Enter after every node")
	runCmd.Flags().BoolVar(&runCaseInsensitive, "case-insensitive", false, "match markers case-insensitively")
	runCmd.Flags().StringVar(&runTransport, "transport", "", "instrument transport: sim or tcp (default: transport.instrument)")
	runCmd.Flags().StringVar(&runSimFile, "sim-file", "", "simulator definition file (YAML)")
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "initial variable value (format: name=value)")
	rootCmd.AddCommand(runCmd)
}

// parseVars splits name=value flags.
func parseVars(flags []string) (map[string]string, error) {
	vars := make(map[string]string)
	for _, v := range flags {
		parts := strings.SplitN(v, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid variable format: %s (expected name=value)", v)
		}
		vars[strings.TrimSpace(parts[0])] = parts[1]
	}
	return vars, nil
}

// applyRunFlags layers command-line overrides on top of the configuration.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, dir string) error {
	if runCaseInsensitive {
		cfg.Engine.CaseSensitive = false
	}
	if cmd.Flags().Changed("transport") {
		cfg.Transport.Instrument = config.TransportKind(runTransport)
	}
	if runSimFile != "" {
		cfg.Transport.SimFile = runSimFile
		if !filepath.IsAbs(runSimFile) {
			cfg.Transport.SimFile = filepath.Join(dir, runSimFile)
		}
	}
	if runOutput != "" {
		cfg.Paths.OutputDir = runOutput
		if !filepath.IsAbs(runOutput) {
			cfg.Paths.OutputDir = filepath.Join(dir, runOutput)
		}
	}
	return cfg.Validate()
}

func runRun(cmd *cobra.Command, args []string) error {
	dir, err := getWorkDir()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(dir)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg, dir); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if runDebug && !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("--debug needs an interactive terminal on stdin")
	}

	scriptPath := args[0]
	if !filepath.IsAbs(scriptPath) {
		scriptPath = filepath.Join(dir, scriptPath)
	}

	// Compile before touching the output directory
	prog, err := engine.Load(scriptPath, script.Options{CaseSensitive: cfg.Engine.CaseSensitive})
	if err != nil {
		return err
	}
	overrides, err := parseVars(runVars)
	if err != nil {
		return err
	}
	for name, value := range overrides {
		if err := prog.Vars.Override(name, value); err != nil {
			return err
		}
	}

	started := time.Now()
	layout := results.NewLayout(cfg.OutputDir(dir), scriptPath, started)
	if err := layout.Create(); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}

	store, err := openStore(cfg, dir)
	if err != nil {
		return err
	}
	id := runstore.NewID()
	lock, err := store.Lock(id)
	if err != nil {
		return fmt.Errorf("acquiring run lock: %w", err)
	}
	defer lock.Release()

	logger, closer, err := logging.NewForRun(cfg, layout.LogPath)
	if err != nil {
		return fmt.Errorf("opening run log: %w", err)
	}
	defer closer.Close()
	logger = logging.WithRun(logger, id)

	manifest := runstore.NewManifest(id, scriptPath, layout, started)
	manifest.Total = prog.Total
	for _, w := range prog.Graph.Warnings {
		manifest.Warnings = append(manifest.Warnings, w.String())
	}
	if err := store.Create(context.Background(), manifest); err != nil {
		return fmt.Errorf("recording run: %w", err)
	}

	instrument, err := transport.Open(cfg.Transport.Instrument, cfg.SimFile(dir), cfg.Transport)
	if err != nil {
		return finishEarly(store, manifest, err)
	}
	defer transport.Close(instrument)
	serial, err := transport.Open(cfg.Transport.Serial, cfg.SimFile(dir), cfg.Transport)
	if err != nil {
		return finishEarly(store, manifest, err)
	}
	defer transport.Close(serial)

	// Set up signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := engine.OptionsFromConfig(cfg)
	opts.Debug = runDebug
	deps := engine.Deps{
		Instrument: instrument,
		Serial:     serial,
		RunState:   control.NewFile(layout.TokenPath),
		Artifacts:  results.Artifacts{Dir: layout.Dir},
		Sink:       results.NewCSVFile(layout.ResultPath, cfg.Results.WriteRetries, cfg.Results.WriteBackoff, logger),
	}
	if runDebug {
		deps.Hook = debugHook(os.Stdin, os.Stderr)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %s (%d steps)\n", id, filepath.Base(scriptPath), prog.Total)
	fmt.Fprintf(out, "Results: %s\n", layout.Dir)
	if verbose {
		fmt.Fprintf(out, "Token:   %s\n", layout.TokenPath)
	}

	res, runErr := engine.New(prog, opts, deps, logger).Run(ctx)

	manifest.Finish(runstore.Status(res.Status), res.Steps, res.Total, res.Rows, runErr, time.Now())
	if err := store.Save(context.WithoutCancel(ctx), manifest); err != nil {
		logger.Warn("cannot update run manifest", "error", err)
	}

	fmt.Fprintf(out, "\nRun %s: %s (%d/%d steps, %d rows)\n", id, res.Status, res.Steps, res.Total, res.Rows)
	switch res.Status {
	case engine.StatusFailed:
		return &ExitError{Code: ExitFailed, Message: fmt.Sprintf("Error: %v", runErr)}
	case engine.StatusStopped:
		return &ExitError{Code: ExitStopped, Message: "Run stopped before completion."}
	}
	return nil
}

// finishEarly marks a recorded run as failed before the engine started.
func finishEarly(store *runstore.Store, m *runstore.Manifest, err error) error {
	m.Finish(runstore.StatusFailed, 0, m.Total, 0, err, time.Now())
	if saveErr := store.Save(context.Background(), m); saveErr != nil {
		return fmt.Errorf("%w (and updating run manifest: %v)", err, saveErr)
	}
	return err
}
