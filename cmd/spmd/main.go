// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command spmd runs the representative tasks over a local process
// group. Inputs are read from whitespace-separated text files, which
// may be local or on S3.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/spmd/spmdconfig"
)

func init() {
	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(
			s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: spmd [flags] command [arguments]

Spmd runs a task over a process group of spmd.procs ranks, with task
data held by rank spmd.root. These are read from the profile at %s
and may be overridden with -set, as in -set spmd.procs=8.

The commands are:

	reduce      reduce an integer vector
	blur        Gaussian blur of an 8-bit image
	label       label the connected components of a binary image
	jacobi      solve a diagonally dominant linear system
	hull        compute the convex hull of a set of points
	route       route a payload along a line of ranks
	partition   print the partition of a number of elements
	setup       write the spmd profile

Flags:
`, spmdconfig.Path)
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.AddFlags()
	log.SetFlags(0)
	log.SetPrefix("spmd: ")
	must.Func = log.Fatal
	flag.Usage = usage
	var opts options
	opts.register(flag.CommandLine)
	cfg := spmdconfig.Parse()
	defer cfg.Shutdown()
	if flag.NArg() == 0 {
		flag.Usage()
	}

	ctx := context.Background()
	cmd, args := flag.Arg(0), flag.Args()[1:]
	var (
		j   *job
		err error
	)
	switch cmd {
	default:
		fmt.Fprintln(os.Stderr, "unknown command", cmd)
		flag.Usage()
	case "setup":
		setupCmd(args)
		return
	case "partition":
		must.Nil(partitionCmd(args), cmd)
		return
	case "reduce":
		j, err = reduceCmd(ctx, args)
	case "blur":
		j, err = blurCmd(ctx, args)
	case "label":
		j, err = labelCmd(ctx, args)
	case "jacobi":
		j, err = jacobiCmd(ctx, args)
	case "hull":
		j, err = hullCmd(ctx, args)
	case "route":
		j, err = routeCmd(ctx, cfg.Group.Size(), args)
	}
	must.Nil(err, cmd)
	opts.displayStatus()
	log.Printf("%s: %s", cmd, cfg)
	ok, err := run(ctx, cmd, cfg, j, &opts)
	must.Nil(err, cmd)
	if !ok {
		log.Error.Printf("%s: validation failed", cmd)
		cfg.Shutdown()
		os.Exit(1)
	}
	j.print(os.Stdout)
}
