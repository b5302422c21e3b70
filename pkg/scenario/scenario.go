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

// Package scenario runs scripted workloads against a machine.
//
// A scenario is a YAML document naming a sequence of steps. Each step is one
// kernel-level action (spawn, fork, exec, exit), a user access performed by a
// process (load, store), a system call boundary check (validate,
// read-string, write-string) or an expectation about machine state.
//
//	name: grow heap
//	steps:
//	- {op: spawn, proc: init}
//	- op: exec
//	  proc: init
//	  regions: [{name: heap, start: 0xc0100000, end: 0xc0110000}]
//	- {op: store, proc: init, addr: 0xc0100000, value: 7}
//	- {op: load, proc: init, addr: 0xc0100000, want: 7}
package scenario

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
	"gvisor.dev/rvmm/pkg/fault"
	"gvisor.dev/rvmm/pkg/pagetables"
	"gvisor.dev/rvmm/pkg/proc"
	"gvisor.dev/rvmm/pkg/riscv"
)

// Scenario is a named list of steps.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Segment describes a loadable segment of an exec step.
type Segment struct {
	Addr  riscv.Addr `yaml:"addr"`
	Size  uint64     `yaml:"size"`
	Perms string     `yaml:"perms"`
	Text  string     `yaml:"text"`
}

// Region describes a growable region.
type Region struct {
	Name  string     `yaml:"name"`
	Start riscv.Addr `yaml:"start"`
	End   riscv.Addr `yaml:"end"`
}

// Step is a single action. Which fields are used depends on Op.
type Step struct {
	Op    string `yaml:"op"`
	Proc  string `yaml:"proc"`
	Child string `yaml:"child"`

	Addr  riscv.Addr `yaml:"addr"`
	Size  uint64     `yaml:"size"`
	Perms string     `yaml:"perms"`

	// Width is the access size of loads and stores: 1 (default) or 8.
	Width int     `yaml:"width"`
	Value uint64  `yaml:"value"`
	Want  *uint64 `yaml:"want"`

	// Fault is the fault a load or store must terminate the process with
	// ("protection" or "out-of-bounds"), or the exit reason expected by
	// expect-exited. Empty means no fault.
	Fault string `yaml:"fault"`

	// Valid is the expected result of validate, validate-string and
	// read-string.
	Valid *bool `yaml:"valid"`

	Text string `yaml:"text"`
	Max  int    `yaml:"max"`

	Segments []Segment `yaml:"segments"`
	Regions  []Region  `yaml:"regions"`

	// Free and InUse are checked by stats.
	Free  *uint64 `yaml:"free"`
	InUse *uint64 `yaml:"in-use"`

	// Halt marks a step expected to halt the kernel. The scenario ends
	// there.
	Halt bool `yaml:"halt"`
}

// Parse decodes a scenario. Unknown fields and ops are errors.
func Parse(r io.Reader) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decoding scenario: %w", err)
	}
	if err := s.check(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads and parses the scenario in the named file. A scenario without
// a name is named after the file.
func Load(filename string) (*Scenario, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if s.Name == "" {
		s.Name = filename
	}
	return s, nil
}

func (s *Scenario) check() error {
	for i := range s.Steps {
		st := &s.Steps[i]
		if _, ok := ops[st.Op]; !ok {
			return fmt.Errorf("step %d: unknown op %q", i+1, st.Op)
		}
		if st.Op != "stats" && st.Proc == "" {
			return fmt.Errorf("step %d (%s): missing proc", i+1, st.Op)
		}
		if st.Op == "fork" && st.Child == "" {
			return fmt.Errorf("step %d (fork): missing child", i+1)
		}
		if st.Width != 0 && st.Width != 1 && st.Width != 8 {
			return fmt.Errorf("step %d (%s): invalid width %d", i+1, st.Op, st.Width)
		}
		if _, err := parseFault(st.Fault); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, st.Op, err)
		}
		if _, err := pagetables.ParseFlags(st.Perms); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, st.Op, err)
		}
	}
	return nil
}

// parseFault converts a fault name. The empty string means no fault and
// returns a nil reason.
func parseFault(s string) (*fault.Reason, error) {
	var r fault.Reason
	switch s {
	case "":
		return nil, nil
	case "out-of-bounds":
		r = fault.OutOfBounds
	case "protection":
		r = fault.Protection
	default:
		return nil, fmt.Errorf("invalid fault %q", s)
	}
	return &r, nil
}

// Image converts the segments and regions of an exec step.
func (st *Step) Image() (*proc.Image, error) {
	img := &proc.Image{}
	for _, seg := range st.Segments {
		flags, err := pagetables.ParseFlags(seg.Perms)
		if err != nil {
			return nil, err
		}
		size := seg.Size
		if size == 0 {
			size = uint64(len(seg.Text))
		}
		img.Segments = append(img.Segments, proc.Segment{
			VA:    seg.Addr,
			Data:  []byte(seg.Text),
			Size:  size,
			Flags: flags,
		})
	}
	img.Regions = st.regions()
	return img, nil
}

func (st *Step) regions() []fault.Region {
	var rs []fault.Region
	for _, r := range st.Regions {
		rs = append(rs, fault.Region{
			Name:  r.Name,
			Range: riscv.AddrRange{Start: r.Start, End: r.End},
		})
	}
	return rs
}
