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
	"errors"
	"fmt"

	"gvisor.dev/rvmm/pkg/fault"
	"gvisor.dev/rvmm/pkg/halt"
	"gvisor.dev/rvmm/pkg/log"
	"gvisor.dev/rvmm/pkg/machine"
	"gvisor.dev/rvmm/pkg/pagetables"
	"gvisor.dev/rvmm/pkg/pgalloc"
	"gvisor.dev/rvmm/pkg/proc"
	"gvisor.dev/rvmm/pkg/riscv"
)

// ProcessReport is the final state of one process.
type ProcessReport struct {
	Name     string
	ThreadID proc.ThreadID
	Exited   bool
	Reason   string
}

// Report is the outcome of running a scenario.
type Report struct {
	Name string

	// Steps is the number of steps run.
	Steps int

	// Halt is set if the last step halted the kernel as expected.
	Halt *halt.Error

	Processes []ProcessReport
	Stats     pgalloc.Stats
}

// String implements fmt.Stringer.String.
func (r *Report) String() string {
	s := fmt.Sprintf("%s: %d steps, %d free / %d in use / %d frames", r.Name, r.Steps, r.Stats.Free, r.Stats.InUse, r.Stats.Total)
	if r.Halt != nil {
		s += fmt.Sprintf(", halted: %v", r.Halt)
	}
	return s
}

type runner struct {
	m     *machine.Machine
	procs *proc.Table
}

type opFunc func(r *runner, st *Step) error

var ops = map[string]opFunc{
	"spawn":           (*runner).spawn,
	"fork":            (*runner).fork,
	"exec":            (*runner).exec,
	"map":             (*runner).mapRange,
	"protect":         (*runner).protect,
	"region":          (*runner).region,
	"store":           (*runner).store,
	"load":            (*runner).load,
	"validate":        (*runner).validate,
	"validate-string": (*runner).validateString,
	"write-string":    (*runner).writeString,
	"read-string":     (*runner).readString,
	"exit":            (*runner).exit,
	"expect-exited":   (*runner).expectExited,
	"expect-running":  (*runner).expectRunning,
	"stats":           (*runner).stats,
}

// Run executes s on m. It stops at the first failing step.
func Run(m *machine.Machine, s *Scenario) (*Report, error) {
	r := &runner{m: m, procs: m.Procs}
	rep := &Report{Name: s.Name}
	for i := range s.Steps {
		st := &s.Steps[i]
		log.Debugf("scenario %s: step %d: %s %s", s.Name, i+1, st.Op, st.Proc)
		var err error
		herr := halt.Catch(func() {
			err = ops[st.Op](r, st)
		})
		rep.Steps++
		switch {
		case herr != nil && st.Halt:
			rep.Halt = herr
		case herr != nil:
			return nil, fmt.Errorf("step %d (%s): kernel halted: %w", i+1, st.Op, herr)
		case st.Halt:
			return nil, fmt.Errorf("step %d (%s): kernel did not halt", i+1, st.Op)
		case err != nil:
			return nil, fmt.Errorf("step %d (%s): %w", i+1, st.Op, err)
		}
		if rep.Halt != nil {
			break
		}
	}
	if rep.Halt == nil {
		rep.Stats = m.Alloc.Stats()
	}
	for _, p := range r.procs.Processes() {
		pr := ProcessReport{Name: p.Name(), ThreadID: p.ThreadID(), Exited: p.Exited()}
		if p.ExitReason() != nil {
			pr.Reason = p.ExitReason().Error()
		}
		rep.Processes = append(rep.Processes, pr)
	}
	return rep, nil
}

func (r *runner) proc(name string) (*proc.Process, error) {
	return r.procs.Lookup(name)
}

func (r *runner) spawn(st *Step) error {
	_, err := r.procs.Spawn(st.Proc)
	return err
}

func (r *runner) fork(st *Step) error {
	p, err := r.proc(st.Proc)
	if err != nil {
		return err
	}
	_, err = r.procs.Fork(p, st.Child)
	return err
}

func (r *runner) exec(st *Step) error {
	p, err := r.proc(st.Proc)
	if err != nil {
		return err
	}
	img, err := st.Image()
	if err != nil {
		return err
	}
	return r.procs.Exec(p, img)
}

// running returns the named process, which must not have exited.
func (r *runner) running(name string) (*proc.Process, error) {
	p, err := r.proc(name)
	if err != nil {
		return nil, err
	}
	if p.Exited() {
		return nil, fmt.Errorf("%v: %w", p, proc.ErrExited)
	}
	return p, nil
}

func (r *runner) mapRange(st *Step) error {
	p, err := r.running(st.Proc)
	if err != nil {
		return err
	}
	flags, _ := pagetables.ParseFlags(st.Perms)
	r.m.MM.MapRange(p.AddressSpace(), st.Addr, st.Size, flags)
	return nil
}

func (r *runner) protect(st *Step) error {
	p, err := r.running(st.Proc)
	if err != nil {
		return err
	}
	flags, _ := pagetables.ParseFlags(st.Perms)
	r.m.MM.SetRangeFlags(p.AddressSpace(), st.Addr, st.Size, flags)
	return nil
}

func (r *runner) region(st *Step) error {
	p, err := r.running(st.Proc)
	if err != nil {
		return err
	}
	for _, reg := range st.regions() {
		if err := p.Regions().Add(reg); err != nil {
			return err
		}
	}
	return nil
}

// checkFault compares the result of a user access with the fault st
// expects.
func checkFault(st *Step, err error) error {
	want, _ := parseFault(st.Fault)
	if want == nil {
		return err
	}
	var ferr *fault.Error
	if !errors.As(err, &ferr) {
		return fmt.Errorf("got %v, want %v", err, *want)
	}
	if ferr.Reason != *want {
		return fmt.Errorf("got %v, want %v", ferr, *want)
	}
	return nil
}

func (r *runner) store(st *Step) error {
	p, err := r.proc(st.Proc)
	if err != nil {
		return err
	}
	if st.Width == 8 {
		err = r.procs.Store64(p, st.Addr, st.Value)
	} else {
		err = r.procs.Store8(p, st.Addr, byte(st.Value))
	}
	return checkFault(st, err)
}

func (r *runner) load(st *Step) error {
	p, err := r.proc(st.Proc)
	if err != nil {
		return err
	}
	var v uint64
	if st.Width == 8 {
		v, err = r.procs.Load64(p, st.Addr)
	} else {
		var b byte
		b, err = r.procs.Load8(p, st.Addr)
		v = uint64(b)
	}
	if err != nil || st.Fault != "" {
		return checkFault(st, err)
	}
	if st.Want != nil && v != *st.Want {
		return fmt.Errorf("load %v = %#x, want %#x", st.Addr, v, *st.Want)
	}
	return nil
}

func checkValid(st *Step, got bool) error {
	if want := st.Valid == nil || *st.Valid; got != want {
		return fmt.Errorf("%s at %v = %t, want %t", st.Op, st.Addr, got, want)
	}
	return nil
}

func (r *runner) validate(st *Step) error {
	p, err := r.proc(st.Proc)
	if err != nil {
		return err
	}
	flags, _ := pagetables.ParseFlags(st.Perms)
	ok, err := r.procs.ValidateRange(p, st.Addr, st.Size, flags)
	if err != nil {
		return err
	}
	return checkValid(st, ok)
}

func (r *runner) validateString(st *Step) error {
	p, err := r.proc(st.Proc)
	if err != nil {
		return err
	}
	flags, _ := pagetables.ParseFlags(st.Perms)
	ok, err := r.procs.ValidateString(p, st.Addr, flags)
	if err != nil {
		return err
	}
	return checkValid(st, ok)
}

func (r *runner) writeString(st *Step) error {
	p, err := r.proc(st.Proc)
	if err != nil {
		return err
	}
	return r.procs.WriteString(p, st.Addr, st.Text)
}

func (r *runner) readString(st *Step) error {
	p, err := r.proc(st.Proc)
	if err != nil {
		return err
	}
	maxlen := st.Max
	if maxlen == 0 {
		maxlen = riscv.PageSize
	}
	s, err := r.procs.ReadString(p, st.Addr, maxlen)
	if errors.Is(err, proc.ErrExited) {
		return err
	}
	if verr := checkValid(st, err == nil); verr != nil {
		return verr
	}
	if err == nil && s != st.Text {
		return fmt.Errorf("read %q at %v, want %q", s, st.Addr, st.Text)
	}
	return nil
}

func (r *runner) exit(st *Step) error {
	p, err := r.proc(st.Proc)
	if err != nil {
		return err
	}
	_, err = r.procs.Exit(p, nil)
	return err
}

func (r *runner) expectExited(st *Step) error {
	p, err := r.proc(st.Proc)
	if err != nil {
		return err
	}
	if !p.Exited() {
		return fmt.Errorf("%v is running", p)
	}
	if st.Fault == "" {
		return nil
	}
	return checkFault(st, p.ExitReason())
}

func (r *runner) expectRunning(st *Step) error {
	p, err := r.proc(st.Proc)
	if err != nil {
		return err
	}
	if p.Exited() {
		return fmt.Errorf("%v exited: %v", p, p.ExitReason())
	}
	return nil
}

func (r *runner) stats(st *Step) error {
	s := r.m.Alloc.Stats()
	if st.Free != nil && s.Free != *st.Free {
		return fmt.Errorf("free frames = %d, want %d", s.Free, *st.Free)
	}
	if st.InUse != nil && s.InUse != *st.InUse {
		return fmt.Errorf("frames in use = %d, want %d", s.InUse, *st.InUse)
	}
	return nil
}
