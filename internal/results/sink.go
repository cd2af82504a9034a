package results

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tferrors "github.com/atoms-stack/testflow/internal/errors"
)

// Sink persists a complete result table.
type Sink interface {
	Write(header []string, rows [][]string) error
}

// CSVFile rewrites a CSV file atomically on every Write: the table goes to a
// temporary file in the same directory which is then renamed over the
// target. A failed attempt (typically the file being held open by another
// process) is retried Retries times with a fixed Backoff.
type CSVFile struct {
	Path    string
	Retries int
	Backoff time.Duration
	Logger  *slog.Logger

	sleep func(time.Duration)
	write func(path string, data []byte) error
}

// NewCSVFile returns a sink for path.
func NewCSVFile(path string, retries int, backoff time.Duration, logger *slog.Logger) *CSVFile {
	if retries < 1 {
		retries = 1
	}
	return &CSVFile{
		Path:    path,
		Retries: retries,
		Backoff: backoff,
		Logger:  logger,
		sleep:   time.Sleep,
		write:   replaceFile,
	}
}

// Write encodes the table and replaces the file.
func (f *CSVFile) Write(header []string, rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return tferrors.IOWriteError(f.Path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		return tferrors.IOWriteError(f.Path, err)
	}

	var lastErr error
	for attempt := 1; attempt <= f.Retries; attempt++ {
		if lastErr = f.write(f.Path, buf.Bytes()); lastErr == nil {
			return nil
		}
		if f.Logger != nil {
			f.Logger.Warn("result file busy, retrying",
				"path", f.Path,
				"attempt", attempt,
				"of", f.Retries,
				"error", lastErr,
			)
		}
		if attempt < f.Retries {
			f.sleep(f.Backoff)
		}
	}
	return tferrors.WriteContention(f.Path, f.Retries, lastErr)
}

// replaceFile writes data to a temporary sibling of path and renames it.
func replaceFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadCSV loads a result file written by CSVFile.
func ReadCSV(path string) (header []string, rows [][]string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, nil
	}
	return records[0], records[1:], nil
}
