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

package scenario

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/rvmm/pkg/machine"
	"gvisor.dev/rvmm/pkg/mm"
	"gvisor.dev/rvmm/pkg/pgalloc"
)

func newMachine(t *testing.T) *machine.Machine {
	t.Helper()
	m, err := machine.New(mm.DefaultLayout())
	if err != nil {
		t.Fatalf("machine.New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func run(t *testing.T, text string) (*Report, error) {
	t.Helper()
	s, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return Run(newMachine(t), s)
}

func TestTestdata(t *testing.T) {
	files, err := filepath.Glob("testdata/*.yaml")
	if err != nil || len(files) == 0 {
		t.Fatalf("no scenarios found: %v", err)
	}
	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			s, err := Load(f)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			rep, err := Run(newMachine(t), s)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if rep.Steps != len(s.Steps) {
				t.Errorf("ran %d of %d steps", rep.Steps, len(s.Steps))
			}
			t.Logf("%v", rep)
		})
	}
}

func TestLifecycleReport(t *testing.T) {
	s, err := Load("testdata/lifecycle.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rep, err := Run(newMachine(t), s)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []ProcessReport{
		{Name: "init", ThreadID: 1, Exited: true},
		{Name: "child", ThreadID: 2, Exited: true, Reason: "protection fault at 0xc0000000 (-w-)"},
	}
	if diff := cmp.Diff(want, rep.Processes); diff != "" {
		t.Errorf("processes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(pgalloc.Stats{Free: 2001, Total: 2001}, rep.Stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestExpectedHalt(t *testing.T) {
	s, err := Load("testdata/oom.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rep, err := Run(newMachine(t), s)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Halt == nil || rep.Halt.Module != "pgalloc" {
		t.Errorf("Halt = %v, want pgalloc halt", rep.Halt)
	}
}

func TestUnexpectedHalt(t *testing.T) {
	_, err := run(t, `
steps:
- {op: spawn, proc: p}
- {op: map, proc: p, addr: 0xc0000000, size: 1, perms: uw}
`)
	if err == nil || !strings.Contains(err.Error(), "step 2 (map): kernel halted") {
		t.Errorf("Run = %v, want halt in step 2", err)
	}
}

func TestMissingHalt(t *testing.T) {
	_, err := run(t, `
steps:
- {op: spawn, proc: p, halt: true}
`)
	if err == nil || !strings.Contains(err.Error(), "did not halt") {
		t.Errorf("Run = %v, want missing halt", err)
	}
}

func TestFailingSteps(t *testing.T) {
	for _, test := range []struct {
		name  string
		steps string
		want  string
	}{
		{
			name:  "wrong value",
			steps: "- {op: map, proc: p, addr: 0xc0000000, size: 1, perms: urw}\n- {op: load, proc: p, addr: 0xc0000000, want: 1}",
			want:  "step 3 (load): load 0xc0000000 = 0x0, want 0x1",
		},
		{
			name:  "unexpected fault",
			steps: "- {op: load, proc: p, addr: 0xc0000000}",
			want:  "step 2 (load)",
		},
		{
			name:  "missing fault",
			steps: "- {op: map, proc: p, addr: 0xc0000000, size: 1, perms: urw}\n- {op: load, proc: p, addr: 0xc0000000, fault: protection}",
			want:  "want protection fault",
		},
		{
			name:  "validation mismatch",
			steps: "- {op: validate, proc: p, addr: 0xc0000000, size: 1, perms: ur}",
			want:  "validate at 0xc0000000 = false, want true",
		},
		{
			name:  "still running",
			steps: "- {op: expect-exited, proc: p}",
			want:  "is running",
		},
		{
			name:  "stats",
			steps: "- {op: stats, in-use: 0}",
			want:  "frames in use = 1, want 0",
		},
		{
			name:  "unknown process",
			steps: "- {op: exit, proc: q}",
			want:  "no such process",
		},
		{
			name:  "exit twice",
			steps: "- {op: exit, proc: p}\n- {op: exit, proc: p}",
			want:  "process has exited",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := run(t, "steps:\n- {op: spawn, proc: p}\n"+test.steps+"\n")
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("Run = %v, want error containing %q", err, test.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, test := range []struct {
		name string
		text string
	}{
		{"unknown field", "steps:\n- {op: spawn, proc: p, colour: red}\n"},
		{"unknown op", "steps:\n- {op: reboot, proc: p}\n"},
		{"missing proc", "steps:\n- {op: spawn}\n"},
		{"missing child", "steps:\n- {op: fork, proc: p}\n"},
		{"bad width", "steps:\n- {op: load, proc: p, width: 4}\n"},
		{"bad fault", "steps:\n- {op: load, proc: p, fault: segv}\n"},
		{"bad perms", "steps:\n- {op: map, proc: p, perms: rwz}\n"},
	} {
		t.Run(test.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(test.text)); err == nil {
				t.Errorf("Parse succeeded")
			}
		})
	}
}

func TestImage(t *testing.T) {
	s, err := Parse(strings.NewReader(`
steps:
- op: exec
  proc: p
  segments:
  - {addr: 0xc0000000, perms: rx, text: "abc"}
  - {addr: 0xc0001000, size: 0x2000, perms: rw}
  regions:
  - {name: heap, start: 0xc0100000, end: 0xc0101000}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	img, err := s.Steps[0].Image()
	if err != nil {
		t.Fatalf("Image: %v", err)
	}
	var sizes []uint64
	for _, seg := range img.Segments {
		sizes = append(sizes, seg.Size)
	}
	if diff := cmp.Diff([]uint64{3, 0x2000}, sizes); diff != "" {
		t.Errorf("segment sizes mismatch (-want +got):\n%s", diff)
	}
	if len(img.Regions) != 1 || img.Regions[0].Range.Length() != 0x1000 {
		t.Errorf("regions = %v", img.Regions)
	}
}
