package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// LogLevel specifies the logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat specifies the log output format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// TransportKind selects the binding used to reach instruments.
type TransportKind string

const (
	TransportSim TransportKind = "sim" // Replies from a YAML definition file
	TransportTCP TransportKind = "tcp" // Raw SCPI over a socket
)

// Valid reports whether k names a known transport binding.
func (k TransportKind) Valid() bool {
	return k == TransportSim || k == TransportTCP
}

// PathsConfig holds path configuration.
type PathsConfig struct {
	OutputDir string `toml:"output_dir"`
	RunsDir   string `toml:"runs_dir"`
}

// EngineConfig holds interpreter settings.
type EngineConfig struct {
	// CaseSensitive controls marker matching. Action titles are always
	// matched case-insensitively.
	CaseSensitive bool `toml:"case_sensitive"`

	// PauseTick is the interval at which a paused run re-reads its run-state.
	PauseTick time.Duration `toml:"pause_tick"`

	// QuerySettle is slept after every query so the instrument can settle.
	QuerySettle time.Duration `toml:"query_settle"`

	MaxWorkflowDepth int           `toml:"max_workflow_depth"`
	DefaultDelay     time.Duration `toml:"default_delay"` // Used when a Delay line cannot be parsed
}

// ResultsConfig holds result stream settings.
type ResultsConfig struct {
	WriteRetries  int           `toml:"write_retries"`
	WriteBackoff  time.Duration `toml:"write_backoff"`
	FlushEveryRow bool          `toml:"flush_every_row"`
}

// TransportConfig holds instrument transport settings.
type TransportConfig struct {
	Instrument TransportKind `toml:"instrument"`
	Serial     TransportKind `toml:"serial"`
	SimFile    string        `toml:"sim_file"`
	TCPPort    int           `toml:"tcp_port"`
	Timeout    time.Duration `toml:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  LogLevel  `toml:"level"`
	Format LogFormat `toml:"format"`
	File   string    `toml:"file"`
}

// Config is the main configuration struct for TestFlow.
type Config struct {
	Version   string          `toml:"version"`
	Paths     PathsConfig     `toml:"paths"`
	Engine    EngineConfig    `toml:"engine"`
	Results   ResultsConfig   `toml:"results"`
	Transport TransportConfig `toml:"transport"`
	Logging   LoggingConfig   `toml:"logging"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: "1",
		Paths: PathsConfig{
			OutputDir: "results",
			RunsDir:   ".testflow/runs",
		},
		Engine: EngineConfig{
			CaseSensitive:    true,
			PauseTick:        time.Second,
			QuerySettle:      80 * time.Millisecond,
			MaxWorkflowDepth: 8,
			DefaultDelay:     10 * time.Millisecond,
		},
		Results: ResultsConfig{
			WriteRetries:  100,
			WriteBackoff:  time.Second,
			FlushEveryRow: true,
		},
		Transport: TransportConfig{
			Instrument: TransportSim,
			Serial:     TransportSim,
			TCPPort:    5025,
			Timeout:    5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
			File:   "", // Per-run logs next to the result file
		},
	}
}

// Load loads configuration from file, merging with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults if no config file
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from the standard locations in a directory.
// Applies in order: defaults -> ~/.testflow/config.toml -> .testflow/config.toml
// Later configs override earlier ones (project-level takes precedence).
func LoadFromDir(dir string) (*Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err == nil {
		globalConfig := filepath.Join(home, ".testflow", "config.toml")
		if data, err := os.ReadFile(globalConfig); err == nil {
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing global config: %w", err)
			}
		}
	}

	projectConfig := filepath.Join(dir, ".testflow", "config.toml")
	if data, err := os.ReadFile(projectConfig); err == nil {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing project config: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("config version is required")
	}
	if c.Paths.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if c.Paths.RunsDir == "" {
		return fmt.Errorf("runs_dir is required")
	}
	if c.Engine.PauseTick <= 0 {
		return fmt.Errorf("pause_tick must be positive")
	}
	if c.Engine.QuerySettle < 0 {
		return fmt.Errorf("query_settle must not be negative")
	}
	if c.Engine.MaxWorkflowDepth < 1 {
		return fmt.Errorf("max_workflow_depth must be at least 1")
	}
	if c.Results.WriteRetries < 1 {
		return fmt.Errorf("write_retries must be at least 1")
	}
	if c.Results.WriteBackoff < 0 {
		return fmt.Errorf("write_backoff must not be negative")
	}
	if !c.Transport.Instrument.Valid() {
		return fmt.Errorf("unknown instrument transport %q", c.Transport.Instrument)
	}
	if !c.Transport.Serial.Valid() {
		return fmt.Errorf("unknown serial transport %q", c.Transport.Serial)
	}
	if c.Transport.TCPPort <= 0 || c.Transport.TCPPort > 65535 {
		return fmt.Errorf("tcp_port %d out of range", c.Transport.TCPPort)
	}
	return nil
}

// OutputDir returns the absolute output directory path.
func (c *Config) OutputDir(baseDir string) string {
	if filepath.IsAbs(c.Paths.OutputDir) {
		return c.Paths.OutputDir
	}
	return filepath.Join(baseDir, c.Paths.OutputDir)
}

// RunsDir returns the absolute runs directory path.
func (c *Config) RunsDir(baseDir string) string {
	if filepath.IsAbs(c.Paths.RunsDir) {
		return c.Paths.RunsDir
	}
	return filepath.Join(baseDir, c.Paths.RunsDir)
}

// SimFile returns the absolute path of the simulator definition, or "" if unset.
func (c *Config) SimFile(baseDir string) string {
	if c.Transport.SimFile == "" || filepath.IsAbs(c.Transport.SimFile) {
		return c.Transport.SimFile
	}
	return filepath.Join(baseDir, c.Transport.SimFile)
}

// LogFile returns the absolute path of the shared log file, or "" if unset.
func (c *Config) LogFile(baseDir string) string {
	if c.Logging.File == "" || filepath.IsAbs(c.Logging.File) {
		return c.Logging.File
	}
	return filepath.Join(baseDir, c.Logging.File)
}
