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

// Package config provides basic infrastructure to set configuration settings
// for rvmm. Each setting is a field of Config, registered as a command line
// flag and loadable from a TOML machine description.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/mohae/deepcopy"
	"gvisor.dev/rvmm/pkg/log"
	"gvisor.dev/rvmm/pkg/mm"
	"gvisor.dev/rvmm/pkg/riscv"
)

// Config holds configuration that is not part of a scenario.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name and the TOML key.
//  3. Register the flag in RegisterFlags().
type Config struct {
	// ConfigFile is a TOML file overriding the defaults. Flags set on the
	// command line override the file.
	ConfigFile string `flag:"config" toml:"-"`

	// RAMBase is the physical address of the first byte of RAM.
	RAMBase uint64 `flag:"ram-base" toml:"ram-base"`

	// RAMSize is the size of RAM in bytes.
	RAMSize uint64 `flag:"ram-size" toml:"ram-size"`

	// TextSize, RODataSize and DataSize are the sizes of the kernel image
	// sections, placed at RAMBase in that order.
	TextSize   uint64 `flag:"text-size" toml:"text-size"`
	RODataSize uint64 `flag:"rodata-size" toml:"rodata-size"`
	DataSize   uint64 `flag:"data-size" toml:"data-size"`

	// HeapMin is the minimum size of the kernel byte heap.
	HeapMin uint64 `flag:"heap-min" toml:"heap-min"`

	// UserStart and UserEnd bound the user part of every address space.
	UserStart uint64 `flag:"user-start" toml:"user-start"`
	UserEnd   uint64 `flag:"user-end" toml:"user-end"`

	// Debug enables debug logging.
	Debug bool `flag:"debug" toml:"debug"`

	// LogFilename is the file pattern logs are written to. %COMMAND% and
	// %TIMESTAMP% are expanded.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format: text or json.
	LogFormat string `flag:"log-format" toml:"log-format"`

	// AlsoLogToStderr writes logs to stderr in addition to LogFilename.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr"`
}

// defaultConfig mirrors the default layout. RegisterFlags uses it for flag
// defaults.
var defaultConfig = func() Config {
	l := mm.DefaultLayout()
	return Config{
		RAMBase:    l.RAMBase,
		RAMSize:    l.RAMSize,
		TextSize:   l.TextSize,
		RODataSize: l.RODataSize,
		DataSize:   l.DataSize,
		HeapMin:    l.HeapMin,
		UserStart:  uint64(l.User.Start),
		UserEnd:    uint64(l.User.End),
		LogFormat:  "text",
	}
}()

// Default returns a new Config holding the defaults.
func Default() *Config {
	return deepcopy.Copy(&defaultConfig).(*Config)
}

// LoadFile decodes the TOML file at path into c. Keys the file sets replace
// the values in c; keys it does not set are left alone. Unknown keys are an
// error.
func (c *Config) LoadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("error decoding %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys in %q: %v", path, undecoded)
	}
	return nil
}

// Layout returns the machine memory layout.
func (c *Config) Layout() mm.Layout {
	return mm.Layout{
		RAMBase:    c.RAMBase,
		RAMSize:    c.RAMSize,
		TextSize:   c.TextSize,
		RODataSize: c.RODataSize,
		DataSize:   c.DataSize,
		HeapMin:    c.HeapMin,
		User:       riscv.AddrRange{Start: riscv.Addr(c.UserStart), End: riscv.Addr(c.UserEnd)},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if err := c.Layout().Validate(); err != nil {
		return fmt.Errorf("invalid machine layout: %w", err)
	}
	return nil
}

// Log logs every setting that differs from its default.
func (c *Config) Log() {
	log.Infof("Config:")
	for _, f := range c.ToFlags() {
		log.Infof("\t%s", f)
	}
}
