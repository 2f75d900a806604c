package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("custom logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("test message")
	if called {
		t.Error("no-op logger should not have triggered the previous callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf should not be nil by default")
	}
}

func TestPrefixed(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	logf := Prefixed("Dispatch")
	logf("frame %s kept %d points", "f-1", 12)

	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if want := "[Dispatch] frame f-1 kept 12 points"; lines[0] != want {
		t.Errorf("got %q, want %q", lines[0], want)
	}
}

func TestPrefixed_FollowsSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	logf := Prefixed("Server")

	count := 0
	SetLogger(func(string, ...interface{}) { count++ })
	logf("hello")
	SetLogger(nil)
	logf("muted")

	if count != 1 {
		t.Errorf("got %d calls, want 1", count)
	}
}
