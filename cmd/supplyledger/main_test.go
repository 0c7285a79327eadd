package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunPrintsVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--version"}, &stdout, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "supplyledger") {
		t.Fatalf("expected version output, got %q", stdout.String())
	}
}

func TestRunReportsErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"product", "show", "abc", "--url", "http://127.0.0.1:1"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "product id must be an unsigned integer") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}
