// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package spmdconfig provides a mechanism to create a process group
// from a shared configuration. Spmdconfig uses the configuration
// mechanism in package github.com/grailbio/base/config, and reads a
// default profile from $HOME/.spmd/config. Profiles may be written
// with the spmd command's setup subcommand.
//
// By default the group's messages are kept in memory. When
// spmd.system names a bigmachine system instance, such as
// spmd/bigmachine/local, the group's mailboxes are instead hosted on
// spmd.machines machines of that system.
package spmdconfig

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/spmd/comm"
	"github.com/grailbio/spmd/machine"
)

// Path determines the location of the spmd profile read by Parse.
var Path = os.ExpandEnv("$HOME/.spmd/config")

// Config is a configured process group together with the rank that
// holds task data.
type Config struct {
	Group *comm.Group
	Root  int

	machines int
	shutdown func()
}

// String describes the configuration.
func (c *Config) String() string {
	if c.machines > 0 {
		return fmt.Sprintf("procs=%d root=%d machines=%d", c.Group.Size(), c.Root, c.machines)
	}
	return fmt.Sprintf("procs=%d root=%d", c.Group.Size(), c.Root)
}

// Shutdown releases the machines started for the group, if any.
func (c *Config) Shutdown() {
	if c.shutdown != nil {
		c.shutdown()
	}
}

func init() {
	config.Register("spmd/bigmachine/local", func(inst *config.Constructor) {
		inst.Doc = "spmd/bigmachine/local runs machines as local processes"
		inst.New = func() (interface{}, error) {
			return bigmachine.Local, nil
		}
	})
	config.Register("spmd", func(inst *config.Constructor) {
		var (
			procs, root, machines int
			system                bigmachine.System
		)
		inst.IntVar(&procs, "procs", runtime.NumCPU(), "number of ranks in the process group")
		inst.IntVar(&root, "root", comm.Root, "rank that holds task data")
		inst.InstanceVar(&system, "system", "", "the bigmachine system hosting the group's mailboxes; empty keeps them in memory")
		inst.IntVar(&machines, "machines", 1, "number of machines hosting mailboxes when a system is set")
		inst.Doc = "spmd configures the process group used to run tasks"
		inst.New = func() (interface{}, error) {
			if procs < 1 {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("spmd: procs %d < 1", procs))
			}
			if root < 0 || root >= procs {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("spmd: root %d out of range [0, %d)", root, procs))
			}
			if system == nil {
				return &Config{Group: comm.NewGroup(procs), Root: root}, nil
			}
			if machines < 1 {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("spmd: machines %d < 1", machines))
			}
			b := bigmachine.Start(system)
			t, err := machine.Start(context.Background(), b, procs, machines)
			if err != nil {
				b.Shutdown()
				return nil, err
			}
			return &Config{
				Group:    comm.NewTransportGroup(procs, t),
				Root:     root,
				machines: machines,
				shutdown: b.Shutdown,
			}, nil
		}
	})
}

// Parse registers configuration flags and calls flag.Parse. It reads
// the spmd configuration from Path defined in this package. Parse
// returns the configuration as amended by any flags provided, and
// panics if the configuration is invalid. The caller should call the
// configuration's Shutdown when done with its group.
func Parse() *Config {
	config.RegisterFlags("", Path)
	flag.Parse()
	must.Nil(config.ProcessFlags())
	var cfg *Config
	config.Must("spmd", &cfg)
	return cfg
}
