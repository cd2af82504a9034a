package cmd

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/atoms-stack/testflow/internal/config"
)

//go:embed templates/example.atoms templates/sim.yaml
var embeddedTemplates embed.FS

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a TestFlow project",
	Long: `Initialize a new TestFlow project in the current directory.

Creates the following structure:

  .testflow/
  ├── config.toml      # Project configuration
  ├── sim.yaml         # Simulated instrument replies
  └── runs/            # Run manifests (gitignored)
  example.atoms        # Starter script

Run the starter script with 'testflow run example.atoms'.`,
	RunE: runInit,
}

var initSkipExample bool

func init() {
	initCmd.Flags().BoolVar(&initSkipExample, "skip-example", false, "skip writing the example script")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := getWorkDir()
	if err != nil {
		return err
	}

	projectDir := filepath.Join(dir, ".testflow")
	if _, err := os.Stat(projectDir); err == nil {
		return fmt.Errorf("TestFlow project already initialized (found .testflow directory)")
	}
	if err := os.MkdirAll(filepath.Join(projectDir, "runs"), 0755); err != nil {
		return fmt.Errorf("creating project directory: %w", err)
	}

	cfg := config.Default()
	cfg.Transport.SimFile = filepath.Join(".testflow", "sim.yaml")
	if err := writeConfig(filepath.Join(projectDir, "config.toml"), cfg); err != nil {
		return err
	}

	if err := copyTemplate("templates/sim.yaml", filepath.Join(projectDir, "sim.yaml")); err != nil {
		return err
	}
	if !initSkipExample {
		if err := copyTemplate("templates/example.atoms", filepath.Join(dir, "example.atoms")); err != nil {
			return err
		}
	}

	gitignore := filepath.Join(projectDir, ".gitignore")
	if err := os.WriteFile(gitignore, []byte("runs/\n"), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized TestFlow project in %s\n", dir)
	if !initSkipExample {
		fmt.Fprintln(out, "\nNext: testflow validate example.atoms && testflow run example.atoms")
	}
	return nil
}

func writeConfig(path string, cfg *config.Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func copyTemplate(name, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil // keep user files
	}
	data, err := embeddedTemplates.ReadFile(name)
	if err != nil {
		return fmt.Errorf("reading embedded %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return nil
}
