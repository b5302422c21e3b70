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
	"gvisor.dev/rvmm/pkg/riscv"
	"gvisor.dev/rvmm/rvmm/config"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct{}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot a machine and print its memory layout"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] - boot a machine and print its memory layout and frame allocator state.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Boot) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Boot) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	m, err := machine.New(conf.Layout())
	if err != nil {
		Fatalf("booting machine: %v", err)
	}
	defer m.Close()
	printLayout(os.Stdout, m)
	return subcommands.ExitSuccess
}

func physRange(start, end uint64) riscv.AddrRange {
	return riscv.AddrRange{Start: riscv.Addr(start), End: riscv.Addr(end)}
}

// printLayout writes the physical memory map of m.
func printLayout(w io.Writer, m *machine.Machine) {
	l := m.MM.Layout()
	first, last := l.FreeFrames()
	root, _, _ := l.BootTables()
	st := m.Alloc.Stats()
	fmt.Fprintf(w, "%-14s %v\n", "ram", physRange(l.RAMBase, l.RAMEnd()))
	fmt.Fprintf(w, "%-14s %v\n", "text", l.Text())
	fmt.Fprintf(w, "%-14s %v\n", "rodata", l.ROData())
	fmt.Fprintf(w, "%-14s %v\n", "data", l.Data())
	fmt.Fprintf(w, "%-14s %v\n", "boot tables", physRange(root.Addr(), uint64(l.ImageEnd())))
	fmt.Fprintf(w, "%-14s %v\n", "heap", l.Heap())
	fmt.Fprintf(w, "%-14s %v\n", "free frames", physRange(first.Addr(), last.Addr()))
	fmt.Fprintf(w, "%-14s %v\n", "user", l.User)
	fmt.Fprintf(w, "%-14s %v\n", "satp", m.Hart.SATP())
	fmt.Fprintf(w, "%-14s %d free, %d in use, %d total\n", "frames", st.Free, st.InUse, st.Total)
}
