// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package jacobi implements a task that solves a strictly diagonally
// dominant linear system Ax = b by Jacobi iteration.
//
// Inputs: [0] []float64, the n*n matrix A, row-major; [1] []float64,
// the n elements of b.
// Outputs: [0] []float64 of count n, the solution x.
package jacobi

import (
	"context"
	"math"

	"github.com/grailbio/spmd/comm"
	"github.com/grailbio/spmd/partition"
	"github.com/grailbio/spmd/reduce"
	"github.com/grailbio/spmd/task"
)

// Params control the iteration.
type Params struct {
	// Tolerance is the largest change of any element of x between
	// two iterations at which the iteration has converged.
	Tolerance float64
	// MaxIter is the iteration budget.
	MaxIter int
}

// DefaultParams are the parameters used when none are given.
var DefaultParams = Params{Tolerance: 1e-9, MaxIter: 10000}

func validate(data *task.Data) bool {
	if data == nil || len(data.Inputs) != 2 || len(data.Outputs) != 1 {
		return task.Failf("jacobi: expected 2 inputs and 1 output")
	}
	b, err := task.Input[float64](data, 1)
	if !task.Check(err, "jacobi") {
		return false
	}
	n := len(b)
	if n < 1 {
		return task.Failf("jacobi: empty system")
	}
	a, err := task.Input[float64](data, 0)
	if !task.Check(err, "jacobi") {
		return false
	}
	if len(a) != n*n {
		return task.Failf("jacobi: matrix holds %d elements, expected %d", len(a), n*n)
	}
	x, err := task.Output[float64](data, 0)
	if !task.Check(err, "jacobi") {
		return false
	}
	if len(x) != n {
		return task.Failf("jacobi: output holds %d elements, expected %d", len(x), n)
	}
	for i := 0; i < n; i++ {
		diag := math.Abs(a[i*n+i])
		if diag == 0 {
			return task.Failf("jacobi: zero diagonal element in row %d", i)
		}
		var off float64
		for j := 0; j < n; j++ {
			if j != i {
				off += math.Abs(a[i*n+j])
			}
		}
		if diag <= off {
			return task.Failf("jacobi: row %d is not strictly diagonally dominant", i)
		}
	}
	return true
}

// sweep computes one Jacobi update of rows [first, first+len(next))
// of the system, given the rows of A and elements of b for those
// rows and the full current iterate x. It returns the largest change
// of any updated element.
func sweep(next, rows, b, x []float64, first int) float64 {
	var (
		n     = len(x)
		delta float64
	)
	for r := range next {
		i := first + r
		row := rows[r*n : (r+1)*n]
		sum := b[r]
		for j, v := range row {
			if j != i {
				sum -= v * x[j]
			}
		}
		next[r] = sum / row[i]
		if d := math.Abs(next[r] - x[i]); d > delta {
			delta = d
		}
	}
	return delta
}

// Sequential solves its system on a single process.
type Sequential struct {
	data   *task.Data
	params Params
	a, b   []float64
	x      []float64
}

// NewSequential returns a sequential solver for data.
func NewSequential(data *task.Data, params Params) *Sequential {
	return &Sequential{data: data, params: params}
}

func (s *Sequential) Validation(ctx context.Context) bool {
	return validate(s.data)
}

func (s *Sequential) PreProcessing(ctx context.Context) bool {
	s.a, _ = task.Input[float64](s.data, 0)
	s.b, _ = task.Input[float64](s.data, 1)
	return true
}

func (s *Sequential) Run(ctx context.Context) bool {
	var (
		x    = make([]float64, len(s.b))
		next = make([]float64, len(s.b))
	)
	for iter := 0; iter < s.params.MaxIter; iter++ {
		delta := sweep(next, s.a, s.b, x, 0)
		x, next = next, x
		if delta < s.params.Tolerance {
			s.x = x
			return true
		}
	}
	return task.Failf("jacobi: no convergence after %d iterations", s.params.MaxIter)
}

func (s *Sequential) PostProcessing(ctx context.Context) bool {
	out, err := task.Output[float64](s.data, 0)
	if !task.Check(err, "jacobi") {
		return false
	}
	copy(out, s.x)
	return true
}

// Parallel solves its system over a process group. Each rank owns a
// block of rows of the system and updates the corresponding elements
// of x; after each sweep the blocks are gathered on every rank and
// the largest change is agreed by reduction. Only the root's data is
// consulted.
type Parallel struct {
	c      comm.Comm
	root   int
	data   *task.Data
	params Params

	d    partition.Descriptor
	rows []float64
	b    []float64
	x    []float64
}

// NewParallel returns a distributed solver for the root's data.
func NewParallel(c comm.Comm, root int, data *task.Data, params Params) *Parallel {
	return &Parallel{c: c, root: root, data: data, params: params}
}

func (p *Parallel) Validation(ctx context.Context) bool {
	return task.Agree(ctx, p.c, p.root, true, func() bool { return validate(p.data) })
}

func (p *Parallel) PreProcessing(ctx context.Context) bool {
	var (
		a, b []float64
		dims []int64
		size = p.c.Context().Size
	)
	if p.c.Context().IsRoot(p.root) {
		a, _ = task.Input[float64](p.data, 0)
		b, _ = task.Input[float64](p.data, 1)
		dims = []int64{int64(len(b))}
	}
	dims, err := comm.BcastSlice(ctx, p.c, p.root, dims)
	if !task.Check(err, "jacobi") {
		return false
	}
	if len(dims) != 1 {
		return task.Failf("jacobi: malformed system size")
	}
	n := int(dims[0])
	p.d = partition.New(n, size)
	if p.rows, err = comm.Scatterv(ctx, p.c, p.root, partition.Rows(n, n, size), a); !task.Check(err, "jacobi") {
		return false
	}
	p.b, err = comm.Scatterv(ctx, p.c, p.root, p.d, b)
	return task.Check(err, "jacobi")
}

func (p *Parallel) Run(ctx context.Context) bool {
	var (
		rank  = p.c.Context().Rank
		x     = make([]float64, p.d.Total())
		next  = make([]float64, p.d.Counts[rank])
		first = p.d.Offsets[rank]
		err   error
	)
	for iter := 0; iter < p.params.MaxIter; iter++ {
		delta := sweep(next, p.rows, p.b, x, first)
		if x, err = comm.Allgatherv(ctx, p.c, p.d, next); !task.Check(err, "jacobi") {
			return false
		}
		if delta, err = reduce.Allreduce(ctx, p.c, reduce.Max, delta); !task.Check(err, "jacobi") {
			return false
		}
		if delta < p.params.Tolerance {
			p.x = x
			return true
		}
	}
	return task.Failf("jacobi: rank %d: no convergence after %d iterations", rank, p.params.MaxIter)
}

func (p *Parallel) PostProcessing(ctx context.Context) bool {
	if !p.c.Context().IsRoot(p.root) {
		return true
	}
	out, err := task.Output[float64](p.data, 0)
	if !task.Check(err, "jacobi") {
		return false
	}
	copy(out, p.x)
	return true
}
