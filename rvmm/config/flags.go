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

package config

import (
	"flag"
	"fmt"
	"reflect"
	"strconv"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	d := &defaultConfig
	flagSet.String("config", "", "TOML machine description. Flags given on the command line override it.")

	// Machine layout flags.
	flagSet.Uint64("ram-base", d.RAMBase, "physical address of RAM.")
	flagSet.Uint64("ram-size", d.RAMSize, "size of RAM in bytes.")
	flagSet.Uint64("text-size", d.TextSize, "size of the kernel text section.")
	flagSet.Uint64("rodata-size", d.RODataSize, "size of the kernel read-only data section.")
	flagSet.Uint64("data-size", d.DataSize, "size of the kernel data section.")
	flagSet.Uint64("heap-min", d.HeapMin, "minimum size of the kernel heap.")
	flagSet.Uint64("user-start", d.UserStart, "first user virtual address.")
	flagSet.Uint64("user-end", d.UserEnd, "end of the user virtual address range.")

	// Debugging flags.
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr. The following variables are available: %TIMESTAMP%, %COMMAND%.")
	flagSet.String("log-format", d.LogFormat, "log format: text (default) or json.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr.")
}

// fields calls fn for every Config field that has a flag tag, with the flag
// registered under that name.
func fields(c *Config, flagSet *flag.FlagSet, fn func(fl *flag.Flag, field reflect.Value)) {
	obj := reflect.ValueOf(c).Elem()
	for _, f := range reflect.VisibleFields(obj.Type()) {
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("config field %s has unregistered flag %q", f.Name, name))
		}
		fn(fl, obj.FieldByIndex(f.Index))
	}
}

// NewFromFlags creates a new Config. Values come from the defaults, then the
// file named by --config, then every flag set explicitly on flagSet.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := Default()
	if name := flagSet.Lookup("config").Value.String(); name != "" {
		if err := conf.LoadFile(name); err != nil {
			return nil, err
		}
	}

	explicit := make(map[string]bool)
	flagSet.Visit(func(fl *flag.Flag) { explicit[fl.Name] = true })
	fields(conf, flagSet, func(fl *flag.Flag, field reflect.Value) {
		if explicit[fl.Name] || fl.Name == "config" {
			field.Set(reflect.ValueOf(fl.Value.(flag.Getter).Get()))
		}
	})

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// ToFlags returns the command line flags that reproduce c, omitting those
// left at their default.
func (c *Config) ToFlags() []string {
	flagSet := flag.NewFlagSet("config", flag.ContinueOnError)
	RegisterFlags(flagSet)

	var args []string
	fields(c, flagSet, func(fl *flag.Flag, field reflect.Value) {
		if val := formatValue(field); val != fl.DefValue {
			args = append(args, "--"+fl.Name+"="+val)
		}
	})
	return args
}

func formatValue(field reflect.Value) string {
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Uint64:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	}
	panic(fmt.Sprintf("config field of kind %v cannot be a flag", field.Kind()))
}
