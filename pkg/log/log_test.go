// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	expected := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if diff := cmp.Diff(expected, tw.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

type recorder struct {
	lines []string
}

func (r *recorder) Emit(_ int, level Level, _ time.Time, format string, v ...any) {
	r.lines = append(r.lines, level.String()+": "+fmt.Sprintf(format, v...))
}

func TestLevels(t *testing.T) {
	r := &recorder{}
	l := &BasicLogger{Level: Info, Emitter: r}
	l.Debugf("hidden")
	l.Infof("boot %s", "ok")
	l.Warningf("leak %#x", 0x1000)
	l.SetLevel(Debug)
	l.Debugf("visible")

	want := []string{"Info: boot ok", "Warning: leak 0x1000", "Debug: visible"}
	if diff := cmp.Diff(want, r.lines); diff != "" {
		t.Errorf("emitted lines mismatch (-want +got):\n%s", diff)
	}
}

func TestGoogleEmitter(t *testing.T) {
	var buf bytes.Buffer
	l := &BasicLogger{Level: Debug, Emitter: GoogleEmitter{&Writer{Next: &buf}}}
	l.Warningf("frame %d", 7)

	got := buf.String()
	if !strings.HasPrefix(got, "W") {
		t.Errorf("line %q does not start with level W", got)
	}
	if !strings.Contains(got, "log_test.go:") {
		t.Errorf("line %q does not name the caller", got)
	}
	if !strings.HasSuffix(got, "] frame 7\n") {
		t.Errorf("line %q does not end with the message", got)
	}
	header := regexp.MustCompile(`^W\d{4} \d{2}:\d{2}:\d{2}\.\d{6} +\d+ log_test\.go:\d+\] `)
	if !header.MatchString(got) {
		t.Errorf("line %q does not have a glog header", got)
	}
}

func TestMultiEmitter(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	l := &BasicLogger{Level: Info, Emitter: &MultiEmitter{a, b}}
	l.Infof("x")
	if len(a.lines) != 1 || len(b.lines) != 1 {
		t.Errorf("got %d and %d lines, want 1 each", len(a.lines), len(b.lines))
	}
}

func TestRateLimited(t *testing.T) {
	r := &recorder{}
	rl := RateLimitedLogger(&BasicLogger{Level: Info, Emitter: r}, time.Hour)
	for i := 0; i < 5; i++ {
		rl.Warningf("fault %d", i)
	}
	if diff := cmp.Diff([]string{"Warning: fault 0"}, r.lines); diff != "" {
		t.Errorf("rate limited lines mismatch (-want +got):\n%s", diff)
	}

	// Debug messages below the logger's level neither emit nor count.
	rl.Debugf("quiet")
	lim := rl.(*rateLimitedLogger)
	if got := lim.suppressed.Load(); got != 4 {
		t.Errorf("suppressed = %d, want 4", got)
	}
}

func TestRateLimitedSuppressedSuffix(t *testing.T) {
	r := &recorder{}
	rl := RateLimitedLogger(&BasicLogger{Level: Info, Emitter: r}, time.Nanosecond).(*rateLimitedLogger)
	rl.suppressed.Store(3)
	time.Sleep(time.Millisecond)
	rl.Infof("again")
	if diff := cmp.Diff([]string{"Info: again (3 similar messages suppressed)"}, r.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLevel(t *testing.T) {
	for _, test := range []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", Debug, false},
		{"INFO", Info, false},
		{"warning", Warning, false},
		{"loud", 0, true},
	} {
		got, err := ParseLevel(test.in)
		if (err != nil) != test.wantErr || got != test.want {
			t.Errorf("ParseLevel(%q) = (%v, %v), want (%v, err=%t)", test.in, got, err, test.want, test.wantErr)
		}
	}
}

func TestFileOptsBuild(t *testing.T) {
	opts := FileOpts{Command: "run", Time: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	got := opts.Build("/tmp/rvmm/%COMMAND%-%TIMESTAMP%.log")
	want := "/tmp/rvmm/run-20260102-030405.000000.log"
	if got != want {
		t.Errorf("Build = %q, want %q", got, want)
	}
}
