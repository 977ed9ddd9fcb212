// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/spmd/spmdconfig"
)

func setupCmd(args []string) {
	var (
		flags    = newFlags("setup", "[-procs n] [-root rank] [-system instance] [-machines n]")
		procs    = flags.Int("procs", runtime.NumCPU(), "number of ranks in the process group")
		root     = flags.Int("root", 0, "rank that holds task data")
		system   = flags.String("system", "", "bigmachine system hosting mailboxes, e.g. spmd/bigmachine/local")
		machines = flags.Int("machines", 1, "number of machines hosting mailboxes when -system is set")
	)
	flags.Parse(args)
	if flags.NArg() != 0 {
		flags.Usage()
	}

	profile := config.New()
	f, err := os.Open(spmdconfig.Path)
	if err == nil {
		must.Nil(profile.Parse(f))
		must.Nil(f.Close())
	} else {
		must.True(os.IsNotExist(err), err)
	}
	must.Nil(profile.Set("spmd.procs", strconv.Itoa(*procs)))
	must.Nil(profile.Set("spmd.root", strconv.Itoa(*root)))
	if *system != "" {
		must.Nil(profile.Set("spmd.system", *system))
		must.Nil(profile.Set("spmd.machines", strconv.Itoa(*machines)))
	}
	var buf bytes.Buffer
	must.Nil(profile.PrintTo(&buf))
	must.Nil(os.MkdirAll(filepath.Dir(spmdconfig.Path), 0777))
	must.Nil(os.WriteFile(spmdconfig.Path+".setup", buf.Bytes(), 0666))
	must.Nil(os.Rename(spmdconfig.Path+".setup", spmdconfig.Path))
	log.Print("wrote configuration to ", spmdconfig.Path)
}
