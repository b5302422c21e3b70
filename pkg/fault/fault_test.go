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

package fault

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/rvmm/pkg/halt"
	"gvisor.dev/rvmm/pkg/hart"
	"gvisor.dev/rvmm/pkg/mm"
	"gvisor.dev/rvmm/pkg/pagetables"
	"gvisor.dev/rvmm/pkg/pgalloc"
	"gvisor.dev/rvmm/pkg/physmem"
	"gvisor.dev/rvmm/pkg/riscv"
)

var userBase = mm.DefaultLayout().User.Start

type testTask struct {
	as      *mm.AddressSpace
	regions *RegionSet
	exited  error
}

func (t *testTask) AddressSpace() *mm.AddressSpace { return t.as }
func (t *testTask) Regions() *RegionSet          { return t.regions }
func (t *testTask) Exit(reason error)            { t.exited = reason }

func newPolicy(t *testing.T) (*mm.Manager, *Policy, *testTask) {
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
	as := m.NewSpace()
	m.Switch(as.Tag())

	task := &testTask{as: as, regions: NewRegionSet()}
	heap := Region{Name: "heap", Range: riscv.AddrRange{Start: userBase + 0x100000, End: userBase + 0x110000}}
	if err := task.regions.Add(heap); err != nil {
		t.Fatalf("Add(%v): %v", heap, err)
	}
	return m, NewPolicy(m), task
}

func TestFaultGrowsRegion(t *testing.T) {
	m, p, task := newPolicy(t)
	addr := userBase + 0x100123

	if got := p.HandlePageFault(task, addr, riscv.Write); got != Grow {
		t.Fatalf("HandlePageFault = %v, want grow", got)
	}
	if task.exited != nil {
		t.Errorf("task exited: %v", task.exited)
	}
	pte, ok := m.Lookup(task.as, addr)
	if !ok || !pte.HasFlags(GrowFlags) {
		t.Errorf("grown page = (%v, %t), want mapped %v", pte, ok, GrowFlags)
	}
	if err := m.Hart().Store8(addr, 1, hart.UserMode); err != nil {
		t.Errorf("store after grow: %v", err)
	}
	for i, b := range m.Memory().FrameToBytes(pte.PPN()) {
		if b != 0 && i != 0x123 {
			t.Fatalf("grown page not zeroed at %#x", i)
		}
	}
}

func TestFaultOutsideRegionsTerminates(t *testing.T) {
	m, p, task := newPolicy(t)
	before := m.Allocator().Stats()
	addr := userBase + 0x200000

	if got := p.HandlePageFault(task, addr, riscv.Read); got != Terminate {
		t.Fatalf("HandlePageFault = %v, want terminate", got)
	}
	var ferr *Error
	if !errors.As(task.exited, &ferr) {
		t.Fatalf("exit reason = %v, want *Error", task.exited)
	}
	if diff := cmp.Diff(&Error{Addr: addr, Access: riscv.Read, Reason: OutOfBounds}, ferr); diff != "" {
		t.Errorf("exit reason mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(before, m.Allocator().Stats()); diff != "" {
		t.Errorf("terminating fault allocated frames (-want +got):\n%s", diff)
	}
}

func TestProtectionFaultTerminates(t *testing.T) {
	m, p, task := newPolicy(t)
	addr := userBase + 0x100000
	m.MapPage(task.as, addr, pagetables.User|pagetables.Read)

	if got := p.HandlePageFault(task, addr, riscv.Write); got != Terminate {
		t.Fatalf("HandlePageFault = %v, want terminate", got)
	}
	var ferr *Error
	if !errors.As(task.exited, &ferr) || ferr.Reason != Protection {
		t.Errorf("exit reason = %v, want protection fault", task.exited)
	}
}

func TestKernelAddressTerminates(t *testing.T) {
	m, p, task := newPolicy(t)
	addr := riscv.Addr(m.Layout().RAMBase)
	if got := p.HandlePageFault(task, addr, riscv.Read); got != Terminate {
		t.Errorf("HandlePageFault(kernel text) = %v, want terminate", got)
	}
	var ferr *Error
	if !errors.As(task.exited, &ferr) || ferr.Reason != Protection {
		t.Errorf("exit reason = %v, want protection fault", task.exited)
	}
}

func TestStaleTranslationRetries(t *testing.T) {
	m, p, task := newPolicy(t)
	addr := userBase + 0x100000
	m.MapPage(task.as, addr, pagetables.User|pagetables.Read)
	h := m.Hart()
	if _, err := h.Load8(addr, hart.UserMode); err != nil {
		t.Fatalf("Load8: %v", err)
	}

	// Upgrade the entry behind the TLB's back.
	pte, err := task.as.PageTables().Slot(addr, false)
	if err != nil || pte == nil {
		t.Fatalf("Slot: %v", err)
	}
	pte.SetPerms(GrowFlags)

	if err := h.Store8(addr, 1, hart.UserMode); err == nil {
		t.Fatalf("store through stale read-only translation succeeded")
	}
	if got := p.HandlePageFault(task, addr, riscv.Write); got != Retry {
		t.Fatalf("HandlePageFault = %v, want retry", got)
	}
	if err := h.Store8(addr, 1, hart.UserMode); err != nil {
		t.Errorf("store after retry: %v", err)
	}
}

func TestDecision(t *testing.T) {
	if Terminate.Resumes() || !Grow.Resumes() || !Retry.Resumes() {
		t.Errorf("Resumes mismatch")
	}
	if got := Decision(7).String(); got != "Decision(7)" {
		t.Errorf("String() = %q", got)
	}
}

func TestMalformedEntryHalts(t *testing.T) {
	m, p, task := newPolicy(t)
	addr := userBase + 0x100000
	frame := m.MapPage(task.as, addr, pagetables.User|pagetables.Read|pagetables.Write)
	pte, err := task.as.PageTables().Slot(addr, false)
	if err != nil || pte == nil {
		t.Fatalf("Slot: %v", err)
	}
	pte.SetPerms(pagetables.User | pagetables.Write)
	before := m.Allocator().Stats()

	herr := halt.Catch(func() { p.HandlePageFault(task, addr, riscv.Read) })
	if herr == nil || herr.Module != "fault" {
		t.Fatalf("HandlePageFault over a W-only entry: halt = %v, want fault halt", herr)
	}
	if task.exited != nil {
		t.Errorf("task exited: %v", task.exited)
	}
	if got := pte.PPN(); got != frame {
		t.Errorf("entry frame = %v, want %v", got, frame)
	}
	if diff := cmp.Diff(before, m.Allocator().Stats()); diff != "" {
		t.Errorf("halted fault allocated frames (-want +got):\n%s", diff)
	}
}
