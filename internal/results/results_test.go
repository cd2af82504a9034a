package results

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tferrors "github.com/atoms-stack/testflow/internal/errors"
	"github.com/atoms-stack/testflow/internal/logging"
	"github.com/atoms-stack/testflow/internal/script"
)

func TestDeriveSchema(t *testing.T) {
	g, err := script.Parse(`#START_SCRIPT
Loop_start(2):2
Variable:volt
Range:(1,2),(1,2,1)
Loop_start(1):2
#NODE1
#ACTION:(Set up)
CMD:*RST
#ACTION:(Read Volt.)
QRY:MEAS?
#ACTION:(Screen)
PNG:HCOP?
#END_NODE1
Loop_end(1)
Loop_end(2)
#NODE2
#ACTION:(State)
SET:MMEM?
SER:TEMP?
#END_NODE2
#END_SCRIPT
#START_WORKFLOW(w)
#NODE9
#ACTION:(Hidden)
QRY:X?
#END_NODE9
#END_WORKFLOW(w)`, script.Options{CaseSensitive: true})
	require.NoError(t, err)

	s := DeriveSchema(g)
	assert.Equal(t, []string{
		"N",
		"Loop(1)",
		"Loop(2)",
		"volt",
		"Read_Volt(N1|A2)",
		"Screenimg(N1|A3)",
		"State(N2|A1)",
		"Stateset(N2|A1)",
		"Date",
		"Time",
	}, s.Names())

	idx, ok := s.Index("Loop(2)")
	assert.True(t, ok)
	assert.Equal(t, 2, idx)
	_, ok = s.Index("Screen(N1|A3)")
	assert.False(t, ok, "capture-only actions get no value column")
	_, ok = s.Index("Hidden(N9|A1)")
	assert.False(t, ok, "workflow bodies are outside the window")
}

func TestSanitize(t *testing.T) {
	tests := map[string]string{
		"Read voltage":   "Read_voltage",
		"a  b":           "a__b",
		"V(dc)/2 [mV]":   "Vdc2_mV",
		"temp-probe_1":   "temp-probe_1",
		"  Température ": "Température",
	}
	for in, want := range tests {
		assert.Equal(t, want, Sanitize(in), "Sanitize(%q)", in)
	}
}

func testSchema() *Schema {
	return NewSchema([]Column{
		{Name: RowColumn, Kind: ColRow},
		{Name: "Loop(1)", Kind: ColLoop, Loop: 1},
		{Name: "V(N1|A1)", Kind: ColValue, Node: 1, Action: 1},
		{Name: RowColumn, Kind: ColRow}, // duplicate dropped
		{Name: DateColumn, Kind: ColDate},
	})
}

func TestRecorder_Set(t *testing.T) {
	rec := NewRecorder(testSchema(), nil)
	require.Equal(t, 4, rec.Schema().Len())

	require.NoError(t, rec.Set(2, "V(N1|A1)", "1.5"))
	assert.Equal(t, 3, rec.Len(), "rows are appended up to the written one")
	assert.Equal(t, []string{"", "", "1.5", ""}, rec.Rows()[2])

	require.NoError(t, rec.Set(2, "V(N1|A1)", "1.6"))
	assert.Equal(t, "1.6", rec.Get(2, "V(N1|A1)"), "last write wins")

	require.NoError(t, rec.SetAt(0, 1, "3"))
	assert.Equal(t, "3", rec.Get(0, "Loop(1)"))

	err := rec.Set(0, "Nope", "x")
	require.Error(t, err)
	assert.True(t, tferrors.HasCode(err, tferrors.CodeUnknownColumn))

	assert.Error(t, rec.SetAt(0, 9, "x"))
	assert.Error(t, rec.SetAt(-1, 0, "x"))
	assert.Equal(t, "", rec.Get(7, "V(N1|A1)"))
}

func TestRecorder_Splice(t *testing.T) {
	rec := NewRecorder(testSchema(), nil)
	require.NoError(t, rec.Set(0, RowColumn, "1"))
	require.NoError(t, rec.Set(1, RowColumn, "2"))

	block := [][]string{{"c1"}, {"c2", "x"}, DelimiterRow("cal"), rec.Schema().Names()}
	next := rec.Splice(1, block)
	assert.Equal(t, 5, next)

	rows := rec.Rows()
	require.Len(t, rows, 6)
	assert.Equal(t, "1", rows[0][0])
	assert.Equal(t, "c1", rows[1][0])
	assert.Equal(t, "*** Sub_script cal ended ***", rows[3][0])
	assert.Equal(t, "N", rows[4][0])
	assert.Equal(t, "2", rows[5][0], "rows after the splice point shift down")

	// past the end pads with blank rows
	next = rec.Splice(8, [][]string{{"z"}})
	assert.Equal(t, 9, next)
	assert.Equal(t, 9, rec.Len())

	// block is copied
	block[0][0] = "mutated"
	assert.Equal(t, "c1", rec.Rows()[1][0])
}

func TestCSVFile_WriteAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run", "Out.csv")
	sink := NewCSVFile(path, 3, 0, logging.NewForTest())

	rec := NewRecorder(testSchema(), sink)
	require.NoError(t, rec.Set(0, "V(N1|A1)", "a,b"))
	rec.Splice(1, [][]string{DelimiterRow("w")})
	require.NoError(t, rec.Flush())

	header, rows, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"N", "Loop(1)", "V(N1|A1)", "Date"}, header)
	require.Len(t, rows, 2)
	assert.Equal(t, "a,b", rows[0][2], "commas survive quoting")
	assert.Equal(t, []string{"*** Sub_script w ended ***"}, rows[1])

	// rewrite replaces the whole file and leaves no temp files behind
	require.NoError(t, rec.Set(0, "Date", "2026-10-14"))
	require.NoError(t, rec.Flush())
	_, rows, err = ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-14", rows[0][3])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}
}

func TestCSVFile_RetriesThenSucceeds(t *testing.T) {
	sink := NewCSVFile("/unused/Out.csv", 5, 20*time.Millisecond, logging.NewForTest())
	var slept []time.Duration
	sink.sleep = func(d time.Duration) { slept = append(slept, d) }
	calls := 0
	sink.write = func(string, []byte) error {
		calls++
		if calls < 3 {
			return errors.New("file in use")
		}
		return nil
	}

	require.NoError(t, sink.Write([]string{"N"}, [][]string{{"1"}}))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{20 * time.Millisecond, 20 * time.Millisecond}, slept)
}

func TestCSVFile_ExhaustsRetries(t *testing.T) {
	sink := NewCSVFile("/unused/Out.csv", 4, time.Second, nil)
	sleeps := 0
	sink.sleep = func(time.Duration) { sleeps++ }
	sink.write = func(string, []byte) error { return errors.New("locked") }

	err := sink.Write([]string{"N"}, nil)
	require.Error(t, err)
	assert.True(t, tferrors.HasCode(err, tferrors.CodeWriteContention))
	assert.Equal(t, 3, sleeps, "no sleep after the final attempt")
}

func TestNewLayout(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 5, 7, 0, time.UTC)
	l := NewLayout("/data/out", "/scripts/sweep.atoms", now)

	assert.Equal(t, "/data/out/sweep_2026-10-14_09-05-07", l.Dir)
	assert.Equal(t, "/data/out/sweep_2026-10-14_09-05-07/Out2026-10-14_0905.csv", l.ResultPath)
	assert.Equal(t, "/data/out/sweep_2026-10-14_09-05-07/Out2026-10-14_0905.log", l.LogPath)
	assert.Equal(t, "/data/out/sweep_2026-10-14_09-05-07/status.txt", l.TokenPath)
}

func TestArtifacts(t *testing.T) {
	a := Artifacts{Dir: t.TempDir()}

	p1, err := a.Save(3, "png", []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(a.Dir, "image_3.png"), p1)

	p2, err := a.Save(3, "png", []byte("again"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(a.Dir, "image_3(1).png"), p2)

	p3, err := a.Save(3, "set", []byte("state"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(a.Dir, "image_3.set"), p3)

	data, err := os.ReadFile(p2)
	require.NoError(t, err)
	assert.Equal(t, "again", string(data))
}
