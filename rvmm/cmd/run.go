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
	"runtime"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/rvmm/pkg/log"
	"gvisor.dev/rvmm/pkg/machine"
	"gvisor.dev/rvmm/pkg/scenario"
	"gvisor.dev/rvmm/rvmm/config"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	// jobs is the number of machines run at once.
	jobs int

	// verbose prints the final state of every process.
	verbose bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "run scenarios, each on a freshly booted machine"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <scenario.yaml>... - run scenarios, each on its own machine.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.IntVar(&r.jobs, "j", runtime.GOMAXPROCS(0), "number of machines to run concurrently.")
	f.BoolVar(&r.verbose, "v", false, "print the final state of every process.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 || r.jobs < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	reports, err := runScenarios(ctx, conf, f.Args(), r.jobs)
	if err != nil {
		Fatalf("%v", err)
	}
	for _, rep := range reports {
		printReport(os.Stdout, rep, r.verbose)
	}
	return subcommands.ExitSuccess
}

// runScenarios runs every file on its own machine, at most jobs at a time.
// Reports are returned in the order of files.
func runScenarios(ctx context.Context, conf *config.Config, files []string, jobs int) ([]*scenario.Report, error) {
	reports := make([]*scenario.Report, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rep, err := runScenario(conf, file)
			if err != nil {
				return err
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func runScenario(conf *config.Config, file string) (*scenario.Report, error) {
	s, err := scenario.Load(file)
	if err != nil {
		return nil, err
	}
	m, err := machine.New(conf.Layout())
	if err != nil {
		return nil, fmt.Errorf("%s: booting machine: %w", file, err)
	}
	defer m.Close()
	log.Infof("Running scenario %q from %s", s.Name, file)
	rep, err := scenario.Run(m, s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return rep, nil
}

func printReport(w io.Writer, rep *scenario.Report, verbose bool) {
	fmt.Fprintf(w, "PASS %v\n", rep)
	if !verbose {
		return
	}
	for _, p := range rep.Processes {
		state := "running"
		if p.Exited {
			state = "exited"
		}
		if p.Reason != "" {
			state += ": " + p.Reason
		}
		fmt.Fprintf(w, "  %-12s %4d %s\n", p.Name, p.ThreadID, state)
	}
}
