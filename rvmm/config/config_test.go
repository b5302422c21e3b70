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
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/rvmm/pkg/mm"
)

func newFlagSet() *flag.FlagSet {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	return testFlags
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlagSet())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(mm.DefaultLayout(), c.Layout()); diff != "" {
		t.Errorf("default layout mismatch (-want +got):\n%s", diff)
	}

	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
}

func TestDefaultIsACopy(t *testing.T) {
	c := Default()
	c.RAMSize = 1
	if got := Default().RAMSize; got == 1 {
		t.Errorf("Default() shares state between calls")
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := newFlagSet()
	for name, val := range map[string]string{
		"ram-size":   "0x1000000",
		"debug":      "true",
		"log-format": "json",
	} {
		if err := testFlags.Set(name, val); err != nil {
			t.Errorf("Flag set %s=%s: %v", name, val, err)
		}
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	want.RAMSize = 0x1000000
	want.Debug = true
	want.LogFormat = "json"
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}

	flags := c.ToFlags()
	if diff := cmp.Diff([]string{"--ram-size=16777216", "--debug=true", "--log-format=json"}, flags); diff != "" {
		t.Errorf("ToFlags() mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigFile(t *testing.T) {
	testFlags := newFlagSet()
	testFlags.Set("config", "testdata/small.toml")
	// Explicit flags win over the file.
	testFlags.Set("heap-min", "0x40000")

	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	want.ConfigFile = "testdata/small.toml"
	want.RAMSize = 0x400000
	want.HeapMin = 0x40000
	want.Debug = true
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigFileErrors(t *testing.T) {
	for _, test := range []struct {
		file string
		want string
	}{
		{"testdata/unknown.toml", "unknown keys"},
		{"testdata/missing.toml", "error decoding"},
	} {
		testFlags := newFlagSet()
		testFlags.Set("config", test.file)
		if _, err := NewFromFlags(testFlags); err == nil || !strings.Contains(err.Error(), test.want) {
			t.Errorf("NewFromFlags(%s) = %v, want error containing %q", test.file, err, test.want)
		}
	}
}

func TestValidate(t *testing.T) {
	for _, test := range []struct {
		name   string
		modify func(c *Config)
		want   string
	}{
		{
			name:   "log format",
			modify: func(c *Config) { c.LogFormat = "json-k8s" },
			want:   "invalid log format",
		},
		{
			name:   "unaligned RAM",
			modify: func(c *Config) { c.RAMSize = 0x400800 },
			want:   "RAM size",
		},
		{
			name:   "user range in kernel half",
			modify: func(c *Config) { c.UserStart = 0x80000000 },
			want:   "overlaps",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := Default()
			test.modify(c)
			if err := c.Validate(); err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, test.want)
			}
		})
	}
}
