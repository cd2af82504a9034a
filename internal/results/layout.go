package results

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TokenFile is the name of the run-state token inside a run directory.
const TokenFile = "status.txt"

// Layout is the set of paths owned by one run.
type Layout struct {
	Dir        string // <output>/<script-stem>_<YYYY-MM-DD_HH-MM-SS>
	ResultPath string // Out<YYYY-MM-DD>_<HHMM>.csv
	LogPath    string // same stem, .log
	TokenPath  string
}

// NewLayout computes the paths of a run started at now.
func NewLayout(outputDir, scriptPath string, now time.Time) Layout {
	stem := strings.TrimSuffix(filepath.Base(scriptPath), filepath.Ext(scriptPath))
	dir := filepath.Join(outputDir, stem+"_"+now.Format("2006-01-02_15-04-05"))
	name := "Out" + now.Format("2006-01-02_1504")
	return Layout{
		Dir:        dir,
		ResultPath: filepath.Join(dir, name+".csv"),
		LogPath:    filepath.Join(dir, name+".log"),
		TokenPath:  filepath.Join(dir, TokenFile),
	}
}

// Create makes the run directory.
func (l Layout) Create() error {
	return os.MkdirAll(l.Dir, 0755)
}

// Artifacts names and writes binary captures into a run directory.
type Artifacts struct {
	Dir string
}

// Reserve returns a free path image_<row>.<ext>, appending "(n)" when the
// plain name is taken. row is 1-based.
func (a Artifacts) Reserve(row int, ext string) string {
	base := fmt.Sprintf("image_%d", row)
	path := filepath.Join(a.Dir, base+"."+ext)
	for n := 1; exists(path); n++ {
		path = filepath.Join(a.Dir, fmt.Sprintf("%s(%d).%s", base, n, ext))
	}
	return path
}

// Save writes data to a reserved path and returns it.
func (a Artifacts) Save(row int, ext string, data []byte) (string, error) {
	if err := os.MkdirAll(a.Dir, 0755); err != nil {
		return "", err
	}
	path := a.Reserve(row, ext)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
