// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/spmd/comm"
	"github.com/grailbio/spmd/partition"
	"github.com/grailbio/spmd/reduce"
	"github.com/grailbio/spmd/stencil"
	"github.com/grailbio/spmd/task"
	"github.com/grailbio/spmd/tasks/gauss"
	"github.com/grailbio/spmd/tasks/hull"
	"github.com/grailbio/spmd/tasks/jacobi"
	"github.com/grailbio/spmd/tasks/reduction"
	"github.com/grailbio/spmd/tasks/router"
	"github.com/grailbio/spmd/tasks/segment"
)

// A job is a task instance ready to run, either on a single process
// or over a process group.
type job struct {
	data       *task.Data
	sequential task.Task
	parallel   func(c comm.Comm, root int, data *task.Data) task.Task
	// print writes the task's outputs once it has run.
	print func(w io.Writer)
}

func newFlags(name, usage string) *flag.FlagSet {
	flags := flag.NewFlagSet("spmd "+name, flag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: spmd %s %s\n", name, usage)
		flags.PrintDefaults()
		os.Exit(2)
	}
	return flags
}

func reduceCmd(ctx context.Context, args []string) (*job, error) {
	var (
		flags = newFlags("reduce", "[-op op] -in path")
		opstr = flags.String("op", "sum", "reduction operator, by name or symbol")
		in    = flags.String("in", "", "path of the integer vector to reduce")
	)
	flags.Parse(args)
	op, err := reduce.ParseOp(*opstr)
	if err != nil {
		return nil, err
	}
	fields, err := readFields(ctx, *in)
	if err != nil {
		return nil, err
	}
	vals, err := parseInts(fields)
	if err != nil {
		return nil, errors.E(err, *in)
	}
	var (
		out  = make([]int64, 1)
		data = new(task.Data)
	)
	data.AddInput(vals, len(vals))
	data.AddOutput(out, len(out))
	return &job{
		data:       data,
		sequential: reduction.NewSequential(data, op),
		parallel: func(c comm.Comm, root int, data *task.Data) task.Task {
			return reduction.NewParallel(c, root, data, op)
		},
		print: func(w io.Writer) { fmt.Fprintln(w, out[0]) },
	}, nil
}

// image reads the pixels of a width by height image from the -in
// path and returns the task data holding them.
func image(ctx context.Context, path string, width, height int) (*task.Data, error) {
	fields, err := readFields(ctx, path)
	if err != nil {
		return nil, err
	}
	pix, err := parsePixels(fields)
	if err != nil {
		return nil, errors.E(err, path)
	}
	if width < 1 || height < 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("invalid image dimensions %dx%d", width, height))
	}
	data := new(task.Data)
	data.AddInput(pix, len(pix))
	data.AddInput([]int64{int64(width), int64(height)}, 2)
	return data, nil
}

func blurCmd(ctx context.Context, args []string) (*job, error) {
	var (
		flags  = newFlags("blur", "-w width -h height [-border clamp|zero] -in path")
		width  = flags.Int("w", 0, "image width")
		height = flags.Int("h", 0, "image height")
		policy = flags.String("border", "clamp", "border policy: clamp or zero")
		in     = flags.String("in", "", "path of the image's pixel values, row by row")
	)
	flags.Parse(args)
	border, err := stencil.ParseBorder(*policy)
	if err != nil {
		return nil, err
	}
	data, err := image(ctx, *in, *width, *height)
	if err != nil {
		return nil, err
	}
	out := make([]float64, (*width+2)*(*height+2))
	data.AddOutput(out, len(out))
	return &job{
		data:       data,
		sequential: gauss.NewSequential(data, border),
		parallel: func(c comm.Comm, root int, data *task.Data) task.Task {
			return gauss.NewParallel(c, root, data, border)
		},
		print: func(w io.Writer) { printGrid(w, out, *width+2, "%g") },
	}, nil
}

func labelCmd(ctx context.Context, args []string) (*job, error) {
	var (
		flags  = newFlags("label", "-w width -h height -in path")
		width  = flags.Int("w", 0, "image width")
		height = flags.Int("h", 0, "image height")
		in     = flags.String("in", "", "path of the binary image's pixel values (0 or 255), row by row")
	)
	flags.Parse(args)
	data, err := image(ctx, *in, *width, *height)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, *width**height)
	data.AddOutput(out, len(out))
	return &job{
		data:       data,
		sequential: segment.NewSequential(data),
		parallel: func(c comm.Comm, root int, data *task.Data) task.Task {
			return segment.NewParallel(c, root, data)
		},
		print: func(w io.Writer) { printGrid(w, out, *width, "%d") },
	}, nil
}

func jacobiCmd(ctx context.Context, args []string) (*job, error) {
	var (
		flags   = newFlags("jacobi", "-n n [-tol tolerance] [-maxiter iterations] -in path")
		n       = flags.Int("n", 0, "number of unknowns")
		tol     = flags.Float64("tol", jacobi.DefaultParams.Tolerance, "convergence tolerance")
		maxIter = flags.Int("maxiter", jacobi.DefaultParams.MaxIter, "iteration budget")
		in      = flags.String("in", "", "path of the n*n matrix, row by row, followed by the n right-hand side values")
	)
	flags.Parse(args)
	fields, err := readFields(ctx, *in)
	if err != nil {
		return nil, err
	}
	vals, err := parseFloats(fields)
	if err != nil {
		return nil, errors.E(err, *in)
	}
	if *n < 1 || len(vals) != *n**n+*n {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("%s: %d values, expected %d for n=%d", *in, len(vals), *n**n+*n, *n))
	}
	var (
		a, b   = vals[:*n**n], vals[*n**n:]
		x      = make([]float64, *n)
		params = jacobi.Params{Tolerance: *tol, MaxIter: *maxIter}
		data   = new(task.Data)
	)
	data.AddInput(a, len(a))
	data.AddInput(b, len(b))
	data.AddOutput(x, len(x))
	return &job{
		data:       data,
		sequential: jacobi.NewSequential(data, params),
		parallel: func(c comm.Comm, root int, data *task.Data) task.Task {
			return jacobi.NewParallel(c, root, data, params)
		},
		print: func(w io.Writer) { printGrid(w, x, 1, "%g") },
	}, nil
}

func hullCmd(ctx context.Context, args []string) (*job, error) {
	var (
		flags = newFlags("hull", "-in path")
		in    = flags.String("in", "", "path of the points' x, y coordinates")
	)
	flags.Parse(args)
	fields, err := readFields(ctx, *in)
	if err != nil {
		return nil, err
	}
	xy, err := parseFloats(fields)
	if err != nil {
		return nil, errors.E(err, *in)
	}
	var (
		out  = make([]float64, len(xy))
		n    = make([]int64, 1)
		data = new(task.Data)
	)
	data.AddInput(xy, len(xy))
	data.AddOutput(out, len(out))
	data.AddOutput(n, len(n))
	return &job{
		data:       data,
		sequential: hull.NewSequential(data),
		parallel: func(c comm.Comm, root int, data *task.Data) task.Task {
			return hull.NewParallel(c, root, data)
		},
		print: func(w io.Writer) { printGrid(w, out[:2*n[0]], 2, "%g") },
	}, nil
}

func routeCmd(ctx context.Context, size int, args []string) (*job, error) {
	var (
		flags    = newFlags("route", "-from rank -to rank -in path")
		sender   = flags.Int("from", 0, "sending rank")
		receiver = flags.Int("to", 0, "receiving rank")
		in       = flags.String("in", "", "path of the integer payload")
	)
	flags.Parse(args)
	fields, err := readFields(ctx, *in)
	if err != nil {
		return nil, err
	}
	payload, err := parseInts(fields)
	if err != nil {
		return nil, errors.E(err, *in)
	}
	var (
		out  = make([]int64, len(payload))
		path = make([]int64, len(router.Path(*sender, *receiver)))
		data = new(task.Data)
	)
	data.AddInput(payload, len(payload))
	data.AddInput([]int64{int64(*sender), int64(*receiver)}, 2)
	data.AddOutput(out, len(out))
	data.AddOutput(path, len(path))
	return &job{
		data:       data,
		sequential: router.NewSequential(data, size),
		parallel: func(c comm.Comm, root int, data *task.Data) task.Task {
			return router.NewParallel(c, root, data)
		},
		print: func(w io.Writer) {
			fmt.Fprintln(w, "path:", joinInts(path))
			fmt.Fprintln(w, "payload:", joinInts(out))
		},
	}, nil
}

func partitionCmd(args []string) error {
	if len(args) != 2 {
		return errors.E(errors.Invalid, "usage: spmd partition total n")
	}
	total, err := strconv.Atoi(args[0])
	if err != nil {
		return errors.E(errors.Invalid, "total", err)
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return errors.E(errors.Invalid, "n", err)
	}
	if total < 0 || n < 1 {
		return errors.E(errors.Invalid, fmt.Sprintf("cannot partition %d elements over %d ranks", total, n))
	}
	d := partition.New(total, n)
	for rank := 0; rank < n; rank++ {
		begin, end := d.Range(rank)
		fmt.Printf("rank %d: [%d, %d) count %d\n", rank, begin, end, d.Counts[rank])
	}
	return nil
}

func printGrid[T any](w io.Writer, vals []T, width int, format string) {
	for i := 0; i < len(vals); i += width {
		row := make([]string, width)
		for j := range row {
			row[j] = fmt.Sprintf(format, vals[i+j])
		}
		fmt.Fprintln(w, strings.Join(row, " "))
	}
}

func joinInts(vals []int64) string {
	strs := make([]string, len(vals))
	for i, v := range vals {
		strs[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(strs, " ")
}
