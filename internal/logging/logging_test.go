package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atoms-stack/testflow/internal/config"
)

// decodeLines parses JSON log output, one record per line.
func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var records []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("log line is not JSON: %v (%s)", err, sc.Text())
		}
		records = append(records, rec)
	}
	return records
}

func runConfig(level config.LogLevel) *config.Config {
	cfg := config.Default()
	cfg.Logging.Level = level
	cfg.Logging.Format = config.LogFormatJSON
	return cfg
}

func TestNewForRun_PersistsRunLog(t *testing.T) {
	// the run directory does not exist yet when the log is opened
	logPath := filepath.Join(t.TempDir(), "sweep_2026-10-14_09-00-00", "sweep.log")

	logger, closer, err := NewForRun(runConfig(config.LogLevelDebug), logPath)
	if err != nil {
		t.Fatalf("NewForRun failed: %v", err)
	}
	logger = WithRun(logger, "run-0001")
	WithNode(logger, 2, "standard").Debug("node dispatched", "step", 1, "total", 3)
	WithWorkflow(logger, "cal", 1).Warn("query failed", "address", "DMM")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading run log: %v", err)
	}
	records := decodeLines(t, data)
	if len(records) != 2 {
		t.Fatalf("run log has %d records, want 2:\n%s", len(records), data)
	}

	node := records[0]
	if node["msg"] != "node dispatched" || node["run_id"] != "run-0001" {
		t.Errorf("first record = %v", node)
	}
	if node["node"] != float64(2) || node["node_kind"] != "standard" || node["step"] != float64(1) {
		t.Errorf("node context = %v", node)
	}

	wf := records[1]
	if wf["level"] != "WARN" || wf["workflow"] != "cal" || wf["depth"] != float64(1) {
		t.Errorf("workflow record = %v", wf)
	}
}

func TestNewForRun_AppendsAndFilters(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "run.log")
	if err := os.WriteFile(logPath, []byte(`{"msg":"earlier"}`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	logger, closer, err := NewForRun(runConfig(config.LogLevelWarn), logPath)
	if err != nil {
		t.Fatalf("NewForRun failed: %v", err)
	}
	logger.Info("suppressed")
	logger.Error("kept")
	closer.Close()

	data, _ := os.ReadFile(logPath)
	records := decodeLines(t, data)
	if len(records) != 2 || records[0]["msg"] != "earlier" || records[1]["msg"] != "kept" {
		t.Errorf("records = %v", records)
	}
}

func TestNewFromConfig(t *testing.T) {
	t.Run("stderr only", func(t *testing.T) {
		logger, closer, err := NewFromConfig(config.Default(), t.TempDir())
		if err != nil {
			t.Fatalf("NewFromConfig failed: %v", err)
		}
		if closer != nil {
			t.Error("no closer expected without a log file")
		}
		if logger == nil {
			t.Fatal("logger is nil")
		}
	})

	t.Run("project log file", func(t *testing.T) {
		dir := t.TempDir()
		cfg := runConfig(config.LogLevelInfo)
		cfg.Logging.File = "logs/testflow.log"

		logger, closer, err := NewFromConfig(cfg, dir)
		if err != nil {
			t.Fatalf("NewFromConfig failed: %v", err)
		}
		logger.Info("validated", "script", "sweep.atoms")
		closer.Close()

		data, err := os.ReadFile(cfg.LogFile(dir))
		if err != nil {
			t.Fatalf("reading log file: %v", err)
		}
		if recs := decodeLines(t, data); len(recs) != 1 || recs[0]["script"] != "sweep.atoms" {
			t.Errorf("records = %s", data)
		}
	})
}

func TestParseLevel(t *testing.T) {
	tests := map[config.LogLevel]slog.Level{
		config.LogLevelDebug: slog.LevelDebug,
		config.LogLevelInfo:  slog.LevelInfo,
		config.LogLevelWarn:  slog.LevelWarn,
		config.LogLevelError: slog.LevelError,
		"verbose":            slog.LevelInfo,
		"":                   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewHandler_Formats(t *testing.T) {
	var buf bytes.Buffer
	slog.New(newHandler(config.LogFormatText, &buf, slog.LevelInfo)).Info("row complete", "row", 3)
	if !strings.Contains(buf.String(), "row=3") {
		t.Errorf("text output = %q", buf.String())
	}

	buf.Reset()
	slog.New(newHandler("", &buf, slog.LevelInfo)).Info("row complete")
	if strings.HasPrefix(buf.String(), "{") {
		t.Errorf("unknown format should fall back to text: %q", buf.String())
	}

	buf.Reset()
	slog.New(newHandler(config.LogFormatJSON, &buf, slog.LevelInfo)).Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug line written at info level: %q", buf.String())
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(config.LogFormatJSON, &buf, slog.LevelInfo))
	WithFields(logger, "column", "Meas(N1|A1)", "row", 4).Info("cell written")

	recs := decodeLines(t, buf.Bytes())
	if len(recs) != 1 || recs[0]["column"] != "Meas(N1|A1)" || recs[0]["row"] != float64(4) {
		t.Errorf("records = %v", recs)
	}
}

func TestNewForTest(t *testing.T) {
	logger := NewForTest()
	if logger.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("test logger should only enable errors")
	}
}
