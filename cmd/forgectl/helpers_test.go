package main

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

// resetFlags restores every global flag to its default and applies a
// small workload to wf.
func resetFlags(t *testing.T, wf *workloadFlags) {
	t.Helper()
	verbose, quiet, jsonOut = false, false, false
	optStrategy, optThreshold, optPageSize, optSegmentSize, optLimit, optSizeClasses = "", "", "", "", "", ""
	optArenas, optDebug, optUnsafe = 0, false, false
	dumpBlocks = false
	if wf != nil {
		*wf = workloadFlags{
			goroutines: 2,
			ops:        400,
			minSize:    "1",
			maxSize:    "2KiB",
			maxLive:    64,
			retain:     0.5,
			seed:       7,
		}
	}
}

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		done <- buf.Bytes()
	}()

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout
	return string(<-done), fnErr
}

// decodeJSON unmarshals output into v or fails the test
func decodeJSON(t *testing.T, output string, v interface{}) {
	t.Helper()
	if err := json.Unmarshal([]byte(output), v); err != nil {
		t.Fatalf("invalid JSON output: %v\nOutput: %s", err, output)
	}
}

// assertContains checks that output contains all expected strings
func assertContains(t *testing.T, output string, expected []string) {
	t.Helper()
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("output missing expected string %q\nGot: %s", want, output)
		}
	}
}
