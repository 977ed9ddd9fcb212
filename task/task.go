// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package task defines the lifecycle shared by all tasks, sequential
// and distributed, along with the positional buffers through which
// tasks receive inputs and deliver outputs, and a harness to time
// them.
//
// A task is driven through four calls, in order: Validation,
// PreProcessing, Run, and PostProcessing. Validation must reject
// malformed inputs before any other work is done, and a task whose
// validation fails must not be driven further. Each call reports its
// success as a boolean; reasons for failure are logged.
//
// Distributed tasks are driven by every rank of a process group in
// lockstep. Their Validation agrees on a single verdict across all
// ranks, so that every rank takes the same branch.
package task

import (
	"context"
	"sync"

	"github.com/grailbio/base/log"
)

// Task is the lifecycle interface implemented by all tasks.
type Task interface {
	// Validation checks the task's inputs and returns false if the
	// task cannot proceed.
	Validation(ctx context.Context) bool
	// PreProcessing reads the task's inputs into its working state.
	PreProcessing(ctx context.Context) bool
	// Run performs the computation. Run may be called repeatedly;
	// each call computes the same result.
	Run(ctx context.Context) bool
	// PostProcessing writes results into the task's outputs.
	PostProcessing(ctx context.Context) bool
}

// State is the lifecycle state of a task driven by a Runner.
type State int

const (
	// Init is the state of a task that has not been validated, or
	// whose last validation failed.
	Init State = iota
	// Validated indicates that the task passed validation.
	Validated
	// PreProcessed indicates that the task's inputs have been read.
	PreProcessed
	// Ran indicates that the task has run at least once in the
	// current cycle.
	Ran
	// Done indicates that the task's outputs have been written. A
	// new cycle may begin with Validation.
	Done

	maxState
)

var states = [...]string{
	Init:         "INIT",
	Validated:    "VALIDATED",
	PreProcessed: "PREPROCESSED",
	Ran:          "RAN",
	Done:         "DONE",
}

// String returns the state's name.
func (s State) String() string {
	if s < 0 || s >= maxState {
		return "UNKNOWN"
	}
	return states[s]
}

// A Runner guards a Task's lifecycle: it panics if the task's
// methods are called out of order. A failed call leaves the runner
// in the state before the call, except that a failed Validation
// returns the runner to Init.
type Runner struct {
	Task

	mu    sync.Mutex
	state State
}

// NewRunner returns a Runner for the provided task.
func NewRunner(t Task) *Runner {
	return &Runner{Task: t}
}

// State returns the runner's current state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) expect(call string, from ...State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range from {
		if r.state == s {
			return
		}
	}
	log.Panicf("task: %s called in state %s (expected one of %v)", call, r.state, from)
}

func (r *Runner) set(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Reset abandons the current cycle, if any, and returns the runner
// to Init.
func (r *Runner) Reset() {
	r.set(Init)
}

// Validation validates the task. It may be called to begin a new
// cycle, that is, in states Init or Done.
func (r *Runner) Validation(ctx context.Context) bool {
	r.expect("Validation", Init, Done)
	if !r.Task.Validation(ctx) {
		r.set(Init)
		return false
	}
	r.set(Validated)
	return true
}

// PreProcessing may only be called after a successful Validation.
func (r *Runner) PreProcessing(ctx context.Context) bool {
	r.expect("PreProcessing", Validated)
	if !r.Task.PreProcessing(ctx) {
		return false
	}
	r.set(PreProcessed)
	return true
}

// Run may be called after PreProcessing, any number of times.
func (r *Runner) Run(ctx context.Context) bool {
	r.expect("Run", PreProcessed, Ran)
	if !r.Task.Run(ctx) {
		return false
	}
	r.set(Ran)
	return true
}

// PostProcessing may only be called after Run.
func (r *Runner) PostProcessing(ctx context.Context) bool {
	r.expect("PostProcessing", Ran)
	if !r.Task.PostProcessing(ctx) {
		return false
	}
	r.set(Done)
	return true
}

// Pipeline drives t through one full cycle, stopping at the first
// call that fails. It returns whether the cycle succeeded.
func Pipeline(ctx context.Context, t Task) bool {
	return t.Validation(ctx) &&
		t.PreProcessing(ctx) &&
		t.Run(ctx) &&
		t.PostProcessing(ctx)
}
