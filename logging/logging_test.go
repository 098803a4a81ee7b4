// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package logging

import "testing"

func TestGetLevel(t *testing.T) {
	cases := map[string]Level{
		"":      Info,
		"info":  Info,
		"debug": Debug,
		"warn":  Warn,
		"error": Error,
	}
	for in, want := range cases {
		got, err := GetLevel(in)
		if err != nil {
			t.Fatalf("GetLevel(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("GetLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := GetLevel("bogus"); err == nil {
		t.Fatal("expected an error for an invalid level")
	}
}

func TestStandardLoggerSetLevel(t *testing.T) {
	l := New()
	l.SetLevel(Debug)
	if l.GetLevel() != Debug {
		t.Fatalf("expected Debug, got %v", l.GetLevel())
	}
}

func TestNoOpLoggerDiscardsEverything(t *testing.T) {
	l := NewNoOpLogger()
	l.Info("should not panic: %d", 1)
	if w := l.WithFields(map[string]interface{}{"a": 1}); w == nil {
		t.Fatal("expected WithFields to return a non-nil Logger")
	}
}
