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

// Package cli is the main entrypoint for rvmm.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/rvmm/pkg/log"
	"gvisor.dev/rvmm/rvmm/cmd"
	"gvisor.dev/rvmm/rvmm/config"
)

// Main is the main entrypoint.
func Main() {
	forEachCmd(subcommands.Register)
	config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		cmd.Fatalf("%v", err)
	}
	if err := setupLogging(conf, flag.CommandLine.Arg(0)); err != nil {
		cmd.Fatalf("%v", err)
	}

	log.Infof("rvmm %s: %s/%s, pid %d", flag.CommandLine.Arg(0), runtime.Version(), runtime.GOARCH, os.Getpid())
	log.Infof("Args: %v", os.Args)
	conf.Log()

	status := subcommands.Execute(context.Background(), conf)
	if status != subcommands.ExitSuccess {
		log.Warningf("%s exited with status %d", flag.CommandLine.Arg(0), status)
	}
	os.Exit(int(status))
}

// setupLogging points the global logger at the log file, stderr, or both.
func setupLogging(conf *config.Config, command string) error {
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	var targets log.MultiEmitter
	if conf.LogFilename != "" {
		f, err := log.OpenFile(conf.LogFilename, log.FileOpts{Command: command, Time: time.Now()})
		if err != nil {
			return fmt.Errorf("opening log file %q: %w", conf.LogFilename, err)
		}
		cmd.ErrorLogger = f
		targets = append(targets, newEmitter(conf.LogFormat, f))
	}
	if conf.LogFilename == "" || conf.AlsoLogToStderr {
		targets = append(targets, newEmitter(conf.LogFormat, os.Stderr))
	}

	if len(targets) == 1 {
		log.SetTarget(targets[0])
	} else {
		log.SetTarget(&targets)
	}
	return nil
}

// forEachCmd invokes the passed callback for each command supported by rvmm.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.Boot), "")
	cb(new(cmd.Run), "")

	const debugGroup = "debug"
	cb(new(cmd.Dump), debugGroup)
}

// newEmitter returns an emitter writing to w. The format was checked by
// Config.Validate.
func newEmitter(format string, w io.Writer) log.Emitter {
	if format == "json" {
		return log.JSONEmitter{Writer: &log.Writer{Next: w}}
	}
	return log.GoogleEmitter{Emitter: &log.Writer{Next: w}}
}
