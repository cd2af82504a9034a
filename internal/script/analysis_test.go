package script

import (
	"reflect"
	"testing"
	"time"
)

func TestTotalSteps(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   int
	}{
		{
			name:   "no loops counts nodes",
			script: "#START_SCRIPT\n#NODE1\n#END_NODE1\n#NODE2\n#END_NODE2\n#NODE3_IF(1)\nTRUE:X\nFALSE:X\n#END_IF\n#END_SCRIPT",
			want:   3,
		},
		{
			name: "loop multiplies",
			script: `#START_SCRIPT
Loop_start(1):4
#NODE1
#END_NODE1
#NODE2
#END_NODE2
Loop_end(1)
#END_SCRIPT`,
			want: 8,
		},
		{
			name: "nested loops multiply",
			script: `#START_SCRIPT
Loop_start(1):2
#NODE1
#END_NODE1
Loop_start(2):3
#NODE2
#END_NODE2
#NODE3
#END_NODE3
Loop_end(2)
Loop_end(1)
#END_SCRIPT`,
			want: 2 + 2*3*2,
		},
		{
			name: "sibling loops add",
			script: `#START_SCRIPT
#NODE9
#END_NODE9
Loop_start(1):2
#NODE1
#END_NODE1
Loop_end(1)
Loop_start(2):5
#NODE2
#END_NODE2
Loop_end(2)
#END_SCRIPT`,
			want: 1 + 2 + 5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := mustParse(t, tt.script)
			if got := g.TotalSteps(); got != tt.want {
				t.Errorf("TotalSteps() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEstimateWait(t *testing.T) {
	text := `#START_SCRIPT
Delay:1,S
Loop_start(1):3
#NODE1
CMD:wait(100)
Delay:bogus
#END_NODE1
Loop_end(1)
#END_SCRIPT`
	g := mustParse(t, text)

	want := time.Second + 300*time.Millisecond
	if got := g.EstimateWait(); got != want {
		t.Errorf("EstimateWait() = %v, want %v", got, want)
	}
}

func TestAddresses(t *testing.T) {
	text := `#START_SCRIPT
#NODE1
INST::GPIB0::5::INSTR
#END_NODE1
#NODE2
INST::"TCPIP0::10.0.0.9::5025::SOCKET"
INST::GPIB0::5::INSTR
#END_NODE2
#END_SCRIPT
INST::OUTSIDE`
	g := mustParse(t, text)

	want := []string{"GPIB0::5::INSTR", "TCPIP0::10.0.0.9::5025::SOCKET"}
	if got := g.Addresses(); !reflect.DeepEqual(got, want) {
		t.Errorf("Addresses() = %v, want %v", got, want)
	}
}
