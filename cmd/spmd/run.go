// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/spmd/comm"
	"github.com/grailbio/spmd/spmdconfig"
	"github.com/grailbio/spmd/task"
)

// options are the flags that control how a job is run.
type options struct {
	sequential    bool
	perfRuns      int
	perfMode      string
	consoleStatus bool
	httpAddr      string

	status status.Status
}

func (o *options) register(flags *flag.FlagSet) {
	flags.BoolVar(&o.sequential, "seq", false, "run the sequential version of the task on a single process")
	flags.IntVar(&o.perfRuns, "perf", 0, "if positive, time this many runs of the task and report the mean")
	flags.StringVar(&o.perfMode, "perfmode", "pipeline", "what -perf times: pipeline (whole lifecycle) or task_run (Run only)")
	flags.BoolVar(&o.consoleStatus, "status", false, "print run status to stderr")
	flags.StringVar(&o.httpAddr, "http", "", "if set, serve run status at /debug/status on this address")
}

// displayStatus arranges for run status to be displayed on the
// console and/or a web page, as requested by the flags.
func (o *options) displayStatus() {
	if o.consoleStatus {
		var console status.Reporter
		go console.Go(os.Stderr, &o.status)
	}
	if o.httpAddr != "" {
		http.Handle("/debug/status", status.Handler(&o.status))
		go func() {
			log.Printf("HTTP status at: %s", o.httpAddr)
			if err := http.ListenAndServe(o.httpAddr, nil); err != nil {
				log.Error.Printf("failed to start HTTP at %s: %v", o.httpAddr, err)
			}
		}()
	}
}

// run runs j as configured. It returns false if the task's data was
// rejected and an error if the task failed after validation.
func run(ctx context.Context, name string, cfg *spmdconfig.Config, j *job, o *options) (bool, error) {
	grp := o.status.Groupf("spmd %s", name)
	if o.sequential {
		if o.perfRuns > 0 {
			return measure(ctx, name, j.sequential, grp, o)
		}
		return task.Execute(ctx, j.sequential)
	}
	var valid bool
	err := cfg.Group.Run(ctx, func(ctx context.Context, c comm.Comm) error {
		var (
			isRoot = c.Context().IsRoot(cfg.Root)
			data   *task.Data
			ok     bool
			err    error
		)
		if isRoot {
			data = j.data
		}
		t := j.parallel(c, cfg.Root, data)
		switch {
		case o.perfRuns > 0 && isRoot:
			ok, err = measure(ctx, name, t, grp, o)
		case o.perfRuns > 0:
			ok, err = measure(ctx, name, t, nil, o)
		default:
			ok, err = task.Execute(ctx, t)
		}
		if isRoot {
			valid = ok
		}
		return err
	})
	log.Printf("%s: traffic: %s", name, cfg.Group)
	return valid, err
}

// measure runs the Perf harness on t. Results are logged only when
// grp is not nil.
func measure(ctx context.Context, name string, t task.Task, grp *status.Group, o *options) (bool, error) {
	var (
		perf = task.NewPerf(t)
		attr = task.Attr{Runs: o.perfRuns}
		res  task.Result
		err  error
	)
	perf.Status = grp
	switch o.perfMode {
	case task.PipelineRun.String():
		res, err = perf.PipelineRun(ctx, attr)
	case task.TaskRun.String():
		res, err = perf.TaskRun(ctx, attr)
	default:
		return false, errors.E(errors.Invalid, fmt.Sprintf("unknown perf mode %q", o.perfMode))
	}
	if errors.Is(errors.Invalid, err) {
		// The task's data was rejected.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if grp != nil {
		log.Printf("%s: %d runs: %s", name, o.perfRuns, res)
	}
	return true, nil
}
