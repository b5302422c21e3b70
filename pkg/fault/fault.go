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

// Package fault decides what happens when a user access page faults.
//
// A fault inside one of the task's growable regions on an unmapped page maps
// a fresh zeroed page and resumes the task. A fault on a page that is mapped
// and already permits the access was caused by a stale translation; the TLB
// entry is flushed and the task resumes. Every other fault terminates the
// task.
package fault

import (
	"errors"
	"fmt"
	"time"

	"gvisor.dev/rvmm/pkg/halt"
	"gvisor.dev/rvmm/pkg/log"
	"gvisor.dev/rvmm/pkg/mm"
	"gvisor.dev/rvmm/pkg/pagetables"
	"gvisor.dev/rvmm/pkg/riscv"
)

// Decision is the outcome of handling a fault.
type Decision int

// Decisions.
const (
	// Terminate means the task was ended and must not be resumed.
	Terminate Decision = iota

	// Grow means a page was mapped; the access should be retried.
	Grow

	// Retry means nothing was mapped but the access should be retried.
	Retry
)

// String implements fmt.Stringer.String.
func (d Decision) String() string {
	switch d {
	case Terminate:
		return "terminate"
	case Grow:
		return "grow"
	case Retry:
		return "retry"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Resumes returns true if the faulting access should be retried.
func (d Decision) Resumes() bool {
	return d != Terminate
}

// Reason classifies a fatal fault.
type Reason int

// Reasons.
const (
	// OutOfBounds is a fault outside every growable region.
	OutOfBounds Reason = iota

	// Protection is a fault on a mapped page that does not permit the access.
	Protection
)

// String implements fmt.Stringer.String.
func (r Reason) String() string {
	if r == Protection {
		return "protection fault"
	}
	return "out-of-bounds fault"
}

// Error is the exit reason given to a terminated task.
type Error struct {
	// Addr is the faulting address.
	Addr riscv.Addr

	// Access is the attempted access.
	Access riscv.AccessType

	// Reason classifies the fault.
	Reason Reason
}

// Error implements error.Error.
func (e *Error) Error() string {
	return fmt.Sprintf("%v at %v (%s)", e.Reason, e.Addr, e.Access)
}

// Task is the faulting process as seen by the policy.
type Task interface {
	// AddressSpace returns the task's address space.
	AddressSpace() *mm.AddressSpace

	// Regions returns the task's growable regions.
	Regions() *RegionSet

	// Exit terminates the task with the given reason.
	Exit(reason error)
}

// GrowFlags are the permissions of pages mapped on demand.
const GrowFlags = pagetables.User | pagetables.Read | pagetables.Write

// Policy handles page faults for user tasks.
type Policy struct {
	mm *mm.Manager

	// logger limits fault logging so a task faulting in a loop cannot flood
	// the log.
	logger log.Logger
}

// NewPolicy returns a policy mapping pages through m.
func NewPolicy(m *mm.Manager) *Policy {
	return &Policy{
		mm:     m,
		logger: log.BasicRateLimitedLogger(time.Second),
	}
}

// required returns the flags a leaf needs to permit access from user mode.
func required(access riscv.AccessType) pagetables.Flags {
	f := pagetables.User
	if access.Read {
		f |= pagetables.Read
	}
	if access.Write {
		f |= pagetables.Write
	}
	if access.Execute {
		f |= pagetables.Execute
	}
	return f
}

// HandlePageFault handles a user-mode fault at addr. On Terminate the task's
// Exit has been called.
func (p *Policy) HandlePageFault(t Task, addr riscv.Addr, access riscv.AccessType) Decision {
	as := t.AddressSpace()
	page := addr.RoundDown()
	log.Debugf("fault: %s at %v in %v", access, addr, as)

	slot, err := as.PageTables().Slot(page, false)
	if errors.Is(err, pagetables.ErrMalformed) || (slot != nil && (slot.Malformed() || slot.IsPointer())) {
		halt.Halt("fault", "malformed page table entry for %v in %v", page, as)
	}
	if pte, ok := p.mm.Lookup(as, page); ok {
		if pte.Usable() && pte.HasFlags(required(access)) {
			p.mm.Hart().FlushPage(page)
			return Retry
		}
		return p.terminate(t, &Error{Addr: addr, Access: access, Reason: Protection})
	}

	r, ok := t.Regions().Find(addr)
	if !ok {
		return p.terminate(t, &Error{Addr: addr, Access: access, Reason: OutOfBounds})
	}
	p.mm.MapPage(as, page, GrowFlags)
	log.Debugf("fault: grew %s at %v", r.Name, page)
	return Grow
}

func (p *Policy) terminate(t Task, err *Error) Decision {
	p.logger.Warningf("fault: terminating task: %v", err)
	t.Exit(err)
	return Terminate
}
