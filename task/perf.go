// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package task

import (
	"context"
	"fmt"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/status"
)

// RunType identifies the kind of measurement performed by Perf.
type RunType int

const (
	// None is the type of an empty result.
	None RunType = iota
	// PipelineRun measures full lifecycle cycles.
	PipelineRun
	// TaskRun measures repeated calls to Run.
	TaskRun
)

// String returns the run type's name.
func (t RunType) String() string {
	switch t {
	case None:
		return "none"
	case PipelineRun:
		return "pipeline"
	case TaskRun:
		return "task_run"
	default:
		return fmt.Sprintf("RunType(%d)", int(t))
	}
}

// Attr parameterizes a measurement.
type Attr struct {
	// Runs is the number of cycles (PipelineRun) or calls to Run
	// (TaskRun) to measure. It defaults to 1.
	Runs int
	// Now returns the time elapsed since an arbitrary fixed point.
	// It defaults to the wall clock.
	Now func() time.Duration
}

// A Result is the outcome of a measurement.
type Result struct {
	Type RunType
	// Time is the mean time per run.
	Time time.Duration
}

// String returns a summary of the result.
func (r Result) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.Time)
}

// Perf measures the running time of a task.
type Perf struct {
	// Status, if not nil, receives progress reports.
	Status *status.Group

	task *Runner
}

// NewPerf returns a Perf that measures t.
func NewPerf(t Task) *Perf {
	r, ok := t.(*Runner)
	if !ok {
		r = NewRunner(t)
	}
	return &Perf{task: r}
}

func (a Attr) defaults() Attr {
	if a.Runs < 1 {
		a.Runs = 1
	}
	if a.Now == nil {
		start := time.Now()
		a.Now = func() time.Duration { return time.Since(start) }
	}
	return a
}

// PipelineRun times attr.Runs full cycles of the task and returns
// the mean time per cycle. It fails if any call fails; the error is
// of kind errors.Invalid if validation failed.
func (p *Perf) PipelineRun(ctx context.Context, attr Attr) (Result, error) {
	attr = attr.defaults()
	st := p.start("pipeline", attr.Runs)
	defer done(st)
	begin := attr.Now()
	for i := 0; i < attr.Runs; i++ {
		if !Pipeline(ctx, p.task) {
			return Result{}, p.failed(st, i)
		}
		printf(st, "pipeline %d/%d", i+1, attr.Runs)
	}
	return p.result(st, PipelineRun, attr.Now()-begin, attr.Runs), nil
}

// TaskRun validates and preprocesses the task once, times attr.Runs
// calls to Run, and postprocesses once. It returns the mean time per
// call to Run.
func (p *Perf) TaskRun(ctx context.Context, attr Attr) (Result, error) {
	attr = attr.defaults()
	st := p.start("task_run", attr.Runs)
	defer done(st)
	if !p.task.Validation(ctx) || !p.task.PreProcessing(ctx) {
		return Result{}, p.failed(st, 0)
	}
	begin := attr.Now()
	for i := 0; i < attr.Runs; i++ {
		if !p.task.Run(ctx) {
			return Result{}, p.failed(st, i)
		}
		printf(st, "run %d/%d", i+1, attr.Runs)
	}
	elapsed := attr.Now() - begin
	if !p.task.PostProcessing(ctx) {
		return Result{}, p.failed(st, attr.Runs)
	}
	return p.result(st, TaskRun, elapsed, attr.Runs), nil
}

func (p *Perf) start(kind string, runs int) *status.Task {
	if p.Status == nil {
		return nil
	}
	return p.Status.Startf("%s x%d", kind, runs)
}

// failed abandons the runner's cycle so that p may be used again. The
// returned error is of kind errors.Invalid when validation rejected
// the task's data.
func (p *Perf) failed(st *status.Task, run int) error {
	state := p.task.State()
	p.task.Reset()
	var err error
	if state == Init {
		err = errors.E(errors.Invalid, fmt.Sprintf("task.Perf: run %d: validation rejected the task's data", run))
	} else {
		err = errors.E(fmt.Sprintf("task.Perf: run %d failed in state %s", run, state))
	}
	printf(st, "%v", err)
	return err
}

func (p *Perf) result(st *status.Task, typ RunType, elapsed time.Duration, runs int) Result {
	r := Result{Type: typ, Time: elapsed / time.Duration(runs)}
	printf(st, "%s", r)
	return r
}

func printf(st *status.Task, format string, args ...interface{}) {
	if st != nil {
		st.Printf(format, args...)
	}
}

func done(st *status.Task) {
	if st != nil {
		st.Done()
	}
}
