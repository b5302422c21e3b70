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
	"fmt"

	"gvisor.dev/rvmm/pkg/hart"
	"gvisor.dev/rvmm/pkg/pagetables"
	"gvisor.dev/rvmm/pkg/riscv"
)

// access runs fn as a user access by p. A page fault is handed to the fault
// policy and, if the policy resumes p, fn is retried once.
func (t *Table) access(p *Process, fn func() error) error {
	if err := t.Run(p); err != nil {
		return err
	}
	err := fn()
	var pf *hart.PageFault
	if !errors.As(err, &pf) {
		return err
	}
	if d := t.policy.HandlePageFault(p, pf.Addr, pf.Access); !d.Resumes() {
		return fmt.Errorf("%v: %w", p, p.reason)
	}
	return fn()
}

// Load8 loads the byte at va as p.
func (t *Table) Load8(p *Process, va riscv.Addr) (byte, error) {
	var v byte
	err := t.access(p, func() (err error) {
		v, err = t.mm.Hart().Load8(va, hart.UserMode)
		return
	})
	return v, err
}

// Store8 stores v at va as p.
func (t *Table) Store8(p *Process, va riscv.Addr, v byte) error {
	return t.access(p, func() error {
		return t.mm.Hart().Store8(va, v, hart.UserMode)
	})
}

// Load64 loads the doubleword at va as p.
func (t *Table) Load64(p *Process, va riscv.Addr) (uint64, error) {
	var v uint64
	err := t.access(p, func() (err error) {
		v, err = t.mm.Hart().Load64(va, hart.UserMode)
		return
	})
	return v, err
}

// Store64 stores the doubleword v at va as p.
func (t *Table) Store64(p *Process, va riscv.Addr, v uint64) error {
	return t.access(p, func() error {
		return t.mm.Hart().Store64(va, v, hart.UserMode)
	})
}

// ValidateRange checks a system call buffer of p.
func (t *Table) ValidateRange(p *Process, va riscv.Addr, n uint64, flags pagetables.Flags) (bool, error) {
	if p.exited {
		return false, fmt.Errorf("validate %v: %w", p, ErrExited)
	}
	return t.mm.ValidateRange(p.as, va, n, flags), nil
}

// ValidateString checks a system call string argument of p.
func (t *Table) ValidateString(p *Process, va riscv.Addr, flags pagetables.Flags) (bool, error) {
	if p.exited {
		return false, fmt.Errorf("validate %v: %w", p, ErrExited)
	}
	return t.mm.ValidateCString(p.as, va, flags), nil
}

// ReadString copies in a NUL-terminated string of at most maxlen bytes from
// p, as a system call reading a path would.
func (t *Table) ReadString(p *Process, va riscv.Addr, maxlen int) (string, error) {
	if p.exited {
		return "", fmt.Errorf("read %v: %w", p, ErrExited)
	}
	return t.mm.CopyInString(p.as, va, maxlen)
}

// WriteString copies s and a terminating NUL out to p.
func (t *Table) WriteString(p *Process, va riscv.Addr, s string) error {
	if p.exited {
		return fmt.Errorf("write %v: %w", p, ErrExited)
	}
	b := make([]byte, len(s)+1)
	copy(b, s)
	return t.mm.CopyOut(p.as, va, b)
}
