package main

import "testing"

func TestBuildLoggerAppliesValidLevel(t *testing.T) {
	logger := buildLogger("debug")
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	if !logger.Core().Enabled(-1) {
		t.Fatal("expected debug level enabled")
	}
}

func TestBuildLoggerFallsBackOnInvalidLevel(t *testing.T) {
	logger := buildLogger("not-a-real-level")
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	if !logger.Core().Enabled(0) {
		t.Fatal("expected info level enabled by default")
	}
}
