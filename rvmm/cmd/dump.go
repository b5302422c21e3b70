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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/rvmm/pkg/machine"
	"gvisor.dev/rvmm/pkg/mm"
	"gvisor.dev/rvmm/pkg/scenario"
	"gvisor.dev/rvmm/rvmm/config"
)

// Dump implements subcommands.Command for the "dump" command.
type Dump struct {
	// proc is the process whose space is dumped. Empty means the kernel's.
	proc string

	// raw disables coalescing of adjacent mappings.
	raw bool
}

// Name implements subcommands.Command.Name.
func (*Dump) Name() string {
	return "dump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Dump) Synopsis() string {
	return "print the mappings of an address space"
}

// Usage implements subcommands.Command.Usage.
func (*Dump) Usage() string {
	return `dump [flags] [scenario.yaml] - boot a machine, optionally run a scenario, and print the mappings of the kernel space or of a process.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Dump) SetFlags(f *flag.FlagSet) {
	f.StringVar(&d.proc, "proc", "", "dump the user mappings of this process instead of the kernel space.")
	f.BoolVar(&d.raw, "raw", false, "print every leaf instead of merging contiguous ones.")
}

// Execute implements subcommands.Command.Execute.
func (d *Dump) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() > 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	m, err := machine.New(conf.Layout())
	if err != nil {
		Fatalf("booting machine: %v", err)
	}
	defer m.Close()

	if f.NArg() == 1 {
		s, err := scenario.Load(f.Arg(0))
		if err != nil {
			Fatalf("%v", err)
		}
		if _, err := scenario.Run(m, s); err != nil {
			Fatalf("%s: %v", f.Arg(0), err)
		}
	}
	if err := d.dump(os.Stdout, m); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

func (d *Dump) dump(w io.Writer, m *machine.Machine) error {
	as, userOnly := m.MM.KernelSpace(), false
	if d.proc != "" {
		p, err := m.Procs.Lookup(d.proc)
		if err != nil {
			return err
		}
		if p.Exited() {
			return fmt.Errorf("%v has exited: %v", p, p.ExitReason())
		}
		as, userOnly = p.AddressSpace(), true
	}
	ms := m.MM.Mappings(as, userOnly)
	if !d.raw {
		ms = mm.Coalesce(ms)
	}
	fmt.Fprintf(w, "%v: %d mappings\n", as, len(ms))
	for _, mp := range ms {
		fmt.Fprintf(w, "%v\n", mp)
	}
	return nil
}
