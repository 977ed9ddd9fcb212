// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package reduction implements a task that reduces a vector of
// integers to a single value with a reduction operator.
//
// Inputs: [0] []int64, the vector (at least one element).
// Outputs: [0] []int64 of count 1, the reduced value.
package reduction

import (
	"context"

	"github.com/grailbio/spmd/comm"
	"github.com/grailbio/spmd/partition"
	"github.com/grailbio/spmd/reduce"
	"github.com/grailbio/spmd/task"
)

func validate(data *task.Data) bool {
	if data == nil || len(data.Inputs) != 1 || len(data.Outputs) != 1 {
		return task.Failf("reduction: expected 1 input and 1 output")
	}
	in, err := task.Input[int64](data, 0)
	if !task.Check(err, "reduction") {
		return false
	}
	if len(in) < 1 {
		return task.Failf("reduction: empty input vector")
	}
	out, err := task.Output[int64](data, 0)
	if !task.Check(err, "reduction") {
		return false
	}
	if len(out) != 1 {
		return task.Failf("reduction: output holds %d elements, expected 1", len(out))
	}
	return true
}

// Sequential reduces its input on a single process.
type Sequential struct {
	data   *task.Data
	op     reduce.Op
	in     []int64
	result int64
}

// NewSequential returns a sequential reduction of data with op.
func NewSequential(data *task.Data, op reduce.Op) *Sequential {
	return &Sequential{data: data, op: op}
}

func (s *Sequential) Validation(ctx context.Context) bool {
	return validate(s.data)
}

func (s *Sequential) PreProcessing(ctx context.Context) bool {
	var err error
	s.in, err = task.Input[int64](s.data, 0)
	return task.Check(err, "reduction")
}

func (s *Sequential) Run(ctx context.Context) bool {
	s.result = reduce.Fold(s.op, s.in)
	return true
}

func (s *Sequential) PostProcessing(ctx context.Context) bool {
	out, err := task.Output[int64](s.data, 0)
	if !task.Check(err, "reduction") {
		return false
	}
	out[0] = s.result
	return true
}

// Parallel reduces its input over a process group: the root
// scatters the vector, each rank folds its chunk, and the partial
// results are combined along the reduction tree. Only the root's
// data is consulted.
type Parallel struct {
	c      comm.Comm
	root   int
	data   *task.Data
	op     reduce.Op
	local  []int64
	result int64
}

// NewParallel returns a distributed reduction of the root's data
// with op.
func NewParallel(c comm.Comm, root int, data *task.Data, op reduce.Op) *Parallel {
	return &Parallel{c: c, root: root, data: data, op: op}
}

func (p *Parallel) Validation(ctx context.Context) bool {
	return task.Agree(ctx, p.c, p.root, true, func() bool { return validate(p.data) })
}

func (p *Parallel) PreProcessing(ctx context.Context) bool {
	var (
		in    []int64
		total []int64
	)
	if p.c.Context().IsRoot(p.root) {
		in, _ = task.Input[int64](p.data, 0)
		total = []int64{int64(len(in))}
	}
	total, err := comm.BcastSlice(ctx, p.c, p.root, total)
	if !task.Check(err, "reduction") {
		return false
	}
	if len(total) != 1 {
		return task.Failf("reduction: malformed vector length")
	}
	d := partition.New(int(total[0]), p.c.Context().Size)
	p.local, err = comm.Scatterv(ctx, p.c, p.root, d, in)
	return task.Check(err, "reduction")
}

func (p *Parallel) Run(ctx context.Context) bool {
	var err error
	p.result, err = reduce.Reduce(ctx, p.c, p.root, p.op, reduce.Fold(p.op, p.local))
	return task.Check(err, "reduction")
}

func (p *Parallel) PostProcessing(ctx context.Context) bool {
	if !p.c.Context().IsRoot(p.root) {
		return true
	}
	out, err := task.Output[int64](p.data, 0)
	if !task.Check(err, "reduction") {
		return false
	}
	out[0] = p.result
	return true
}
