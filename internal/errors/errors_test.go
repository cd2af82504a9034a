package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

func TestFlowError_Error(t *testing.T) {
	plain := StructuralParse(0, "#START_SCRIPT not found")
	if got, want := plain.Error(), "[SCRIPT_001] structural parse error: #START_SCRIPT not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if _, ok := plain.Details["line"]; ok {
		t.Error("line 0 should not be recorded as a detail")
	}

	wrapped := Transport("TCPIP0::10.0.0.5::INSTR", "query", fmt.Errorf("i/o timeout"))
	if got, want := wrapped.Error(), "[TRANSPORT_001] query on TCPIP0::10.0.0.5::INSTR failed: i/o timeout"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestKindConstructors(t *testing.T) {
	tests := []struct {
		name    string
		err     *FlowError
		code    string
		details map[string]any
	}{
		{"unresolved reference", UnresolvedReference(12, "N9"), CodeUnresolvedReference,
			map[string]any{"line": 12, "target": "N9"}},
		{"range format", RangeFormat(4, "(1,x),2", "bad interval"), CodeRangeFormat,
			map[string]any{"line": 4, "text": "(1,x),2"}},
		{"range length", RangeLength("volt", 3, 5), CodeRangeLength,
			map[string]any{"variable": "volt", "values": 3, "iterations": 5}},
		{"expression", Expression("abs(1)", "calls are not supported"), CodeExpression,
			map[string]any{"expression": "abs(1)"}},
		{"missing variable", MissingVariable("vout"), CodeMissingVariable,
			map[string]any{"variable": "vout"}},
		{"workflow not found", WorkflowNotFound("cal"), CodeWorkflowNotFound,
			map[string]any{"workflow": "cal"}},
		{"workflow depth", WorkflowDepthReached("cal", 8), CodeWorkflowDepthReached,
			map[string]any{"workflow": "cal", "depth": 8}},
		{"write contention", WriteContention("out.csv", 100, fs.ErrPermission), CodeWriteContention,
			map[string]any{"path": "out.csv", "attempts": 100}},
		{"unknown column", UnknownColumn("Meas(N1|A9)"), CodeUnknownColumn,
			map[string]any{"column": "Meas(N1|A9)"}},
		{"config value", ConfigInvalidValue("engine.pause_tick", "-1s", "must be positive"), CodeConfigInvalidValue,
			map[string]any{"field": "engine.pause_tick", "value": "-1s"}},
		{"config field", ConfigMissingField("paths.output_dir"), CodeConfigMissingField,
			map[string]any{"field": "paths.output_dir"}},
		{"file not found", IOFileNotFound("sweep.atoms"), CodeIOFileNotFound,
			map[string]any{"path": "sweep.atoms"}},
		{"read", IOReadError("sweep.atoms", fs.ErrClosed), CodeIOReadError,
			map[string]any{"path": "sweep.atoms"}},
		{"write", IOWriteError("out.csv", fs.ErrClosed), CodeIOWriteError,
			map[string]any{"path": "out.csv"}},
		{"permission", IOPermissionDenied("out.csv", fs.ErrPermission), CodeIOPermission,
			map[string]any{"path": "out.csv"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			for k, want := range tt.details {
				if got := tt.err.Details[k]; got != want {
					t.Errorf("Details[%q] = %v, want %v", k, got, want)
				}
			}
		})
	}
}

func TestCausesSurviveWrapping(t *testing.T) {
	engineErr := fmt.Errorf("run failed: %w", WriteContention("out.csv", 3, fs.ErrPermission))

	if !errors.Is(engineErr, fs.ErrPermission) {
		t.Error("errors.Is should reach the file error through the FlowError")
	}
	if !HasCode(engineErr, CodeWriteContention) {
		t.Errorf("HasCode(%v, RESULT_001) = false", engineErr)
	}
	if HasCode(engineErr, CodeTransport) {
		t.Error("HasCode matched the wrong code")
	}
	if got := Code(engineErr); got != CodeWriteContention {
		t.Errorf("Code() = %q, want RESULT_001", got)
	}
	if got := Code(fs.ErrPermission); got != "" {
		t.Errorf("Code() of a plain error = %q, want empty", got)
	}

	var ferr *FlowError
	if !errors.As(engineErr, &ferr) || ferr.Details["attempts"] != 3 {
		t.Errorf("errors.As() = %v", ferr)
	}
}

func TestNewfAndWrapf(t *testing.T) {
	err := Newf(CodeStructuralParse, "node %d opened twice", 3).WithDetail("line", 7)
	if err.Message != "node 3 opened twice" || err.Details["line"] != 7 {
		t.Errorf("Newf() = %+v", err)
	}

	cause := errors.New("connection refused")
	w := Wrapf(CodeTransport, cause, "%s on %s", "send", "DMM")
	if w.Message != "send on DMM" || w.Unwrap() != cause {
		t.Errorf("Wrapf() = %+v", w)
	}
	if w := Wrap(CodeIOReadError, "reading", nil); w.Error() != "[IO_004] reading" {
		t.Errorf("Wrap with nil cause = %q", w.Error())
	}
	if w := New(CodeExpression, "x").WithCause(cause); !errors.Is(w, cause) {
		t.Error("WithCause should set the unwrap target")
	}
}

func TestFlowError_MarshalJSON(t *testing.T) {
	err := Transport("DMM", "query", errors.New("timeout"))

	data, jsonErr := json.Marshal(err)
	if jsonErr != nil {
		t.Fatalf("Marshal failed: %v", jsonErr)
	}

	var got struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
		Cause   string         `json:"cause"`
	}
	if jsonErr := json.Unmarshal(data, &got); jsonErr != nil {
		t.Fatalf("Unmarshal failed: %v", jsonErr)
	}
	if got.Code != CodeTransport || got.Cause != "timeout" || got.Details["address"] != "DMM" {
		t.Errorf("JSON = %s", data)
	}

	data, _ = json.Marshal(UnknownColumn("X"))
	if strings.Contains(string(data), `"cause"`) {
		t.Errorf("cause should be omitted when nil: %s", data)
	}
}
