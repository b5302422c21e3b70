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

package proc

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/rvmm/pkg/fault"
	"gvisor.dev/rvmm/pkg/hart"
	"gvisor.dev/rvmm/pkg/mm"
	"gvisor.dev/rvmm/pkg/pagetables"
	"gvisor.dev/rvmm/pkg/pgalloc"
	"gvisor.dev/rvmm/pkg/physmem"
	"gvisor.dev/rvmm/pkg/riscv"
)

var userBase = mm.DefaultLayout().User.Start

const (
	rx = pagetables.Read | pagetables.Execute
	rw = pagetables.Read | pagetables.Write
)

func newTable(t *testing.T) (*mm.Manager, *Table) {
	t.Helper()
	l := mm.DefaultLayout()
	mem, err := physmem.New(l.RAMBase, l.RAMSize)
	if err != nil {
		t.Fatalf("physmem.New: %v", err)
	}
	t.Cleanup(func() { mem.Close() })
	m, err := mm.NewManager(mem, pgalloc.New(mem), hart.New(mem), l)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m.InitKernelSpace()
	return m, NewTable(m, fault.NewPolicy(m))
}

func inUse(m *mm.Manager) uint64 {
	return m.Allocator().Stats().InUse
}

func testImage() *Image {
	return &Image{
		Segments: []Segment{
			{VA: userBase, Data: []byte("text"), Size: riscv.PageSize, Flags: rx},
			{VA: userBase + 0x1000, Data: []byte("data"), Size: 0x1800, Flags: rw},
		},
		Regions: []fault.Region{
			{Name: "heap", Range: riscv.AddrRange{Start: userBase + 0x100000, End: userBase + 0x110000}},
			{Name: "stack", Range: riscv.AddrRange{Start: 0xffff0000, End: 0x100000000}},
		},
	}
}

func spawnExec(t *testing.T, tbl *Table, name string) *Process {
	t.Helper()
	p, err := tbl.Spawn(name)
	if err != nil {
		t.Fatalf("Spawn(%q): %v", name, err)
	}
	if err := tbl.Exec(p, testImage()); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	return p
}

func load(t *testing.T, tbl *Table, p *Process, va riscv.Addr) byte {
	t.Helper()
	v, err := tbl.Load8(p, va)
	if err != nil {
		t.Fatalf("Load8(%v, %v): %v", p, va, err)
	}
	return v
}

func TestExecLoadsSegments(t *testing.T) {
	m, tbl := newTable(t)
	p := spawnExec(t, tbl, "init")

	// Root, two intermediate tables and three segment pages.
	if got := inUse(m); got != 6 {
		t.Errorf("frames in use = %d, want 6", got)
	}
	for _, test := range []struct {
		va   riscv.Addr
		want byte
	}{
		{userBase, 't'},
		{userBase + 3, 't'},
		{userBase + 0x1000, 'd'},
		{userBase + 0x1004, 0},
		{userBase + 0x27ff, 0},
	} {
		if got := load(t, tbl, p, test.va); got != test.want {
			t.Errorf("Load8(%v) = %q, want %q", test.va, got, test.want)
		}
	}

	text, ok := m.Lookup(p.AddressSpace(), userBase)
	if !ok || text.Flags()&pagetables.PermMask != pagetables.User|rx {
		t.Errorf("text entry = %v, want user r-x", text)
	}
	if err := tbl.Store8(p, userBase+0x1000, 'D'); err != nil {
		t.Fatalf("Store8 data: %v", err)
	}
	if got := load(t, tbl, p, userBase+0x1000); got != 'D' {
		t.Errorf("Load8 after store = %q, want 'D'", got)
	}
}

func TestExecReplacesMemory(t *testing.T) {
	m, tbl := newTable(t)
	p := spawnExec(t, tbl, "init")
	if err := tbl.Store8(p, userBase+0x100000, 1); err != nil {
		t.Fatalf("Store8 heap: %v", err)
	}
	before := inUse(m)
	if err := tbl.Exec(p, testImage()); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	// The grown heap page is gone.
	if got, want := inUse(m), before-1; got != want {
		t.Errorf("frames in use = %d, want %d", got, want)
	}
	if _, ok := m.Lookup(p.AddressSpace(), userBase+0x100000); ok {
		t.Errorf("heap page survived exec")
	}
}

func TestStoreToTextTerminates(t *testing.T) {
	m, tbl := newTable(t)
	p := spawnExec(t, tbl, "init")

	err := tbl.Store8(p, userBase+8, 0)
	var ferr *fault.Error
	if !errors.As(err, &ferr) || ferr.Reason != fault.Protection {
		t.Fatalf("Store8 to text = %v, want protection fault", err)
	}
	if !p.Exited() {
		t.Fatalf("process still running")
	}
	if diff := cmp.Diff(mm.ReclaimStats{Pages: 3, Tables: 3}, p.Reclaimed()); diff != "" {
		t.Errorf("reclaimed mismatch (-want +got):\n%s", diff)
	}
	if got := inUse(m); got != 0 {
		t.Errorf("frames in use after exit = %d, want 0", got)
	}
	if m.Active() != m.KernelSpace() {
		t.Errorf("active space = %v, want kernel", m.Active())
	}
	if _, err := tbl.Load8(p, userBase); !errors.Is(err, ErrExited) {
		t.Errorf("Load8 after exit = %v, want ErrExited", err)
	}
}

func TestHeapGrowth(t *testing.T) {
	m, tbl := newTable(t)
	p := spawnExec(t, tbl, "init")
	before := inUse(m)

	va := userBase + 0x108008
	if err := tbl.Store64(p, va, 0xdeadbeef); err != nil {
		t.Fatalf("Store64 heap: %v", err)
	}
	if got, err := tbl.Load64(p, va); err != nil || got != 0xdeadbeef {
		t.Errorf("Load64 = (%#x, %v), want 0xdeadbeef", got, err)
	}
	// One data page. The heap shares the segments' leaf table.
	if got, want := inUse(m), before+1; got != want {
		t.Errorf("frames in use = %d, want %d", got, want)
	}
	pte, ok := m.Lookup(p.AddressSpace(), va)
	if !ok || !pte.HasFlags(fault.GrowFlags) {
		t.Errorf("heap entry = (%v, %t), want %v", pte, ok, fault.GrowFlags)
	}

	// Stack at the top of the user range needs a new leaf table.
	if err := tbl.Store8(p, 0xfffffff0, 1); err != nil {
		t.Fatalf("Store8 stack: %v", err)
	}
	if got, want := inUse(m), before+3; got != want {
		t.Errorf("frames in use = %d, want %d", got, want)
	}
}

func TestOutOfBoundsTerminates(t *testing.T) {
	_, tbl := newTable(t)
	p := spawnExec(t, tbl, "init")

	va := userBase + 0x500000
	_, err := tbl.Load8(p, va)
	var ferr *fault.Error
	if !errors.As(err, &ferr) {
		t.Fatalf("Load8 = %v, want *fault.Error", err)
	}
	if diff := cmp.Diff(&fault.Error{Addr: va, Access: riscv.Read, Reason: fault.OutOfBounds}, ferr); diff != "" {
		t.Errorf("fault mismatch (-want +got):\n%s", diff)
	}
	if !errors.Is(p.ExitReason(), ferr) {
		t.Errorf("ExitReason() = %v, want %v", p.ExitReason(), ferr)
	}
}

func TestForkCopiesMemory(t *testing.T) {
	m, tbl := newTable(t)
	parent := spawnExec(t, tbl, "parent")
	data := userBase + 0x1000
	if err := tbl.Store8(parent, data, 'P'); err != nil {
		t.Fatalf("Store8: %v", err)
	}

	child, err := tbl.Fork(parent, "child")
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if got := load(t, tbl, child, data); got != 'P' {
		t.Errorf("child Load8 = %q, want 'P'", got)
	}
	if err := tbl.Store8(child, data, 'C'); err != nil {
		t.Fatalf("child Store8: %v", err)
	}
	if got := load(t, tbl, parent, data); got != 'P' {
		t.Errorf("parent Load8 after child store = %q, want 'P'", got)
	}

	// Regions were copied: the child can grow its heap, privately.
	heap := userBase + 0x100000
	if err := tbl.Store8(child, heap, 1); err != nil {
		t.Fatalf("child heap Store8: %v", err)
	}
	if _, ok := m.Lookup(parent.AddressSpace(), heap); ok {
		t.Errorf("child heap page visible in parent")
	}

	for _, p := range []*Process{parent, child} {
		if _, err := tbl.Exit(p, nil); err != nil {
			t.Errorf("Exit(%v): %v", p, err)
		}
	}
	if got := inUse(m); got != 0 {
		t.Errorf("frames in use after exits = %d, want 0", got)
	}
	if got := tbl.Running(); got != 0 {
		t.Errorf("Running() = %d, want 0", got)
	}
}

func TestNames(t *testing.T) {
	_, tbl := newTable(t)
	a, err := tbl.Spawn("a")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if _, err := tbl.Spawn("a"); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate Spawn = %v, want ErrExists", err)
	}
	if _, err := tbl.Fork(a, "a"); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate Fork = %v, want ErrExists", err)
	}
	if _, err := tbl.Lookup("b"); !errors.Is(err, ErrNoProcess) {
		t.Errorf("Lookup(b) = %v, want ErrNoProcess", err)
	}
	b, _ := tbl.Fork(a, "b")
	if got, err := tbl.Lookup("b"); err != nil || got != b {
		t.Errorf("Lookup(b) = (%v, %v), want %v", got, err, b)
	}

	tbl.Exit(a, nil)
	if _, err := tbl.Exit(a, nil); !errors.Is(err, ErrExited) {
		t.Errorf("second Exit = %v, want ErrExited", err)
	}
	if _, err := tbl.Fork(a, "c"); !errors.Is(err, ErrExited) {
		t.Errorf("Fork of exited process = %v, want ErrExited", err)
	}

	var names []string
	for _, p := range tbl.Processes() {
		names = append(names, p.Name())
	}
	if diff := cmp.Diff([]string{"a", "b"}, names); diff != "" {
		t.Errorf("Processes() mismatch (-want +got):\n%s", diff)
	}
}

func TestExecRejectsBadImages(t *testing.T) {
	heap := fault.Region{Name: "heap", Range: riscv.AddrRange{Start: userBase + 0x100000, End: userBase + 0x101000}}
	for _, test := range []struct {
		name string
		img  Image
	}{
		{
			name: "unaligned",
			img:  Image{Segments: []Segment{{VA: userBase + 1, Size: 1, Flags: rw}}},
		},
		{
			name: "data exceeds size",
			img:  Image{Segments: []Segment{{VA: userBase, Data: []byte("abc"), Size: 2, Flags: rw}}},
		},
		{
			name: "write without read",
			img:  Image{Segments: []Segment{{VA: userBase, Size: 1, Flags: pagetables.Write}}},
		},
		{
			name: "no access",
			img:  Image{Segments: []Segment{{VA: userBase, Size: 1}}},
		},
		{
			name: "user only",
			img:  Image{Segments: []Segment{{VA: userBase, Size: 1, Flags: pagetables.User}}},
		},
		{
			name: "global",
			img:  Image{Segments: []Segment{{VA: userBase, Size: 1, Flags: rw | pagetables.Global}}},
		},
		{
			name: "empty",
			img:  Image{Segments: []Segment{{VA: userBase, Flags: rw}}},
		},
		{
			name: "kernel address",
			img:  Image{Segments: []Segment{{VA: 0x80000000, Size: 1, Flags: rw}}},
		},
		{
			name: "overlapping segments",
			img: Image{Segments: []Segment{
				{VA: userBase, Size: 0x1001, Flags: rw},
				{VA: userBase + 0x1000, Size: 1, Flags: rw},
			}},
		},
		{
			name: "region over segment",
			img: Image{
				Segments: []Segment{{VA: heap.Range.Start, Size: 1, Flags: rw}},
				Regions:  []fault.Region{heap},
			},
		},
		{
			name: "overlapping regions",
			img:  Image{Regions: []fault.Region{heap, heap}},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			m, tbl := newTable(t)
			p := spawnExec(t, tbl, "init")
			before := inUse(m)
			if err := tbl.Exec(p, &test.img); err == nil {
				t.Fatalf("Exec succeeded")
			}
			if got := inUse(m); got != before {
				t.Errorf("frames in use = %d, want %d", got, before)
			}
			if got := load(t, tbl, p, userBase); got != 't' {
				t.Errorf("image replaced after failed exec")
			}
		})
	}
}

func TestStrings(t *testing.T) {
	_, tbl := newTable(t)
	p := spawnExec(t, tbl, "init")
	va := userBase + 0x1ffd

	if err := tbl.WriteString(p, va, "hello"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if got, err := tbl.ReadString(p, va, 16); err != nil || got != "hello" {
		t.Errorf("ReadString = (%q, %v), want hello", got, err)
	}
	if _, err := tbl.ReadString(p, va, 3); !errors.Is(err, mm.ErrStringTooLong) {
		t.Errorf("ReadString short = %v, want ErrStringTooLong", err)
	}
	if ok, err := tbl.ValidateString(p, va, pagetables.User|pagetables.Read); err != nil || !ok {
		t.Errorf("ValidateString = (%t, %v), want true", ok, err)
	}
	if err := tbl.WriteString(p, userBase, "text"); !errors.Is(err, mm.ErrFault) {
		t.Errorf("WriteString to text = %v, want ErrFault", err)
	}
	if ok, _ := tbl.ValidateRange(p, userBase+0x2800, 0x1000, pagetables.User|pagetables.Read); ok {
		t.Errorf("ValidateRange past the data segment succeeded")
	}
}
