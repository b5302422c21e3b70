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

// Package proc is a minimal process manager. It drives the address space
// lifecycle (spawn, fork, exec and exit) and performs user accesses through
// the hart, handing page faults to the fault policy.
package proc

import (
	"errors"
	"fmt"
	"sort"

	"gvisor.dev/rvmm/pkg/fault"
	"gvisor.dev/rvmm/pkg/log"
	"gvisor.dev/rvmm/pkg/mm"
)

var (
	// ErrExited is returned for operations on a process that has exited.
	ErrExited = errors.New("process has exited")

	// ErrExists is returned when a process name is already taken.
	ErrExists = errors.New("process exists")

	// ErrNoProcess is returned when a process name is unknown.
	ErrNoProcess = errors.New("no such process")
)

// ThreadID is a process identifier.
type ThreadID int32

// Process is a single-threaded user process.
type Process struct {
	table *Table

	name string
	tid  ThreadID

	as      *mm.AddressSpace
	regions *fault.RegionSet

	// exited is set once the address space has been reclaimed.
	exited bool

	// reason is why the process exited. nil means a normal exit.
	reason error

	// reclaimed is what exiting returned to the allocator.
	reclaimed mm.ReclaimStats
}

// Name returns the process name.
func (p *Process) Name() string {
	return p.name
}

// ThreadID returns the process identifier.
func (p *Process) ThreadID() ThreadID {
	return p.tid
}

// AddressSpace implements fault.Task.AddressSpace.
func (p *Process) AddressSpace() *mm.AddressSpace {
	return p.as
}

// Regions implements fault.Task.Regions.
func (p *Process) Regions() *fault.RegionSet {
	return p.regions
}

// Exit implements fault.Task.Exit.
func (p *Process) Exit(reason error) {
	p.table.exit(p, reason)
}

// Exited returns true once the process has exited.
func (p *Process) Exited() bool {
	return p.exited
}

// ExitReason returns why the process exited.
func (p *Process) ExitReason() error {
	return p.reason
}

// Reclaimed returns the frames freed when the process exited.
func (p *Process) Reclaimed() mm.ReclaimStats {
	return p.reclaimed
}

// String implements fmt.Stringer.String.
func (p *Process) String() string {
	return fmt.Sprintf("%s[%d]", p.name, p.tid)
}

// Table is the set of processes of one machine.
type Table struct {
	mm     *mm.Manager
	policy *fault.Policy

	// procs indexes processes, exited ones included, by name.
	procs   map[string]*Process
	nextTID ThreadID
}

// NewTable returns an empty process table.
func NewTable(m *mm.Manager, policy *fault.Policy) *Table {
	return &Table{
		mm:      m,
		policy:  policy,
		procs:   make(map[string]*Process),
		nextTID: 1,
	}
}

func (t *Table) add(name string, as *mm.AddressSpace, regions *fault.RegionSet) *Process {
	p := &Process{
		table:   t,
		name:    name,
		tid:     t.nextTID,
		as:      as,
		regions: regions,
	}
	t.nextTID++
	t.procs[name] = p
	return p
}

// Spawn creates a process with an empty address space.
func (t *Table) Spawn(name string) (*Process, error) {
	if _, ok := t.procs[name]; ok {
		return nil, fmt.Errorf("spawn %q: %w", name, ErrExists)
	}
	p := t.add(name, t.mm.NewSpace(), fault.NewRegionSet())
	log.Debugf("proc: spawned %v in %v", p, p.as)
	return p, nil
}

// Fork creates a process whose memory and regions are private copies of
// parent's.
func (t *Table) Fork(parent *Process, name string) (*Process, error) {
	if parent.exited {
		return nil, fmt.Errorf("fork %v: %w", parent, ErrExited)
	}
	if _, ok := t.procs[name]; ok {
		return nil, fmt.Errorf("fork %q: %w", name, ErrExists)
	}
	p := t.add(name, t.mm.Clone(parent.as), parent.regions.Clone())
	log.Debugf("proc: forked %v from %v", p, parent)
	return p, nil
}

// Run makes p the running process by switching to its address space.
func (t *Table) Run(p *Process) error {
	if p.exited {
		return fmt.Errorf("run %v: %w", p, ErrExited)
	}
	if t.mm.Active() != p.as {
		t.mm.Switch(p.as.Tag())
	}
	return nil
}

// Exit terminates p with the given reason and reclaims its address space.
// It returns ErrExited if p has already exited.
func (t *Table) Exit(p *Process, reason error) (mm.ReclaimStats, error) {
	if p.exited {
		return mm.ReclaimStats{}, fmt.Errorf("exit %v: %w", p, ErrExited)
	}
	t.exit(p, reason)
	return p.reclaimed, nil
}

func (t *Table) exit(p *Process, reason error) {
	if p.exited {
		return
	}
	p.reclaimed = t.mm.Reclaim(p.as)
	p.exited = true
	p.reason = reason
	if reason != nil {
		log.Infof("proc: %v exited: %v", p, reason)
	} else {
		log.Debugf("proc: %v exited", p)
	}
}

// Lookup returns the process with the given name.
func (t *Table) Lookup(name string) (*Process, error) {
	p, ok := t.procs[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNoProcess)
	}
	return p, nil
}

// Processes returns every process, exited ones included, ordered by thread
// ID.
func (t *Table) Processes() []*Process {
	ps := make([]*Process, 0, len(t.procs))
	for _, p := range t.procs {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].tid < ps[j].tid })
	return ps
}

// Running returns the number of processes that have not exited.
func (t *Table) Running() int {
	n := 0
	for _, p := range t.procs {
		if !p.exited {
			n++
		}
	}
	return n
}
