// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package reduce implements reductions over a process group. Values
// are combined along a binary tree rooted at a chosen rank: each rank
// waits for the partial results of its children, folds them with its
// own value, and passes the result to its parent. The tree has
// logarithmic depth, so a reduction over n ranks completes in
// O(log n) message rounds.
package reduce

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/spmd/comm"
)

// Tags used by reductions. They lie below the range used by the
// collectives of package comm.
const (
	tagReduce      comm.Tag = -64
	tagReduceSlice comm.Tag = -65
)

// Reduce combines every rank's value with op. The result is returned
// on the root; other ranks return the partial result of their
// subtree.
func Reduce[T comm.Number](ctx context.Context, c comm.Comm, root int, op Op, value T) (T, error) {
	vals, err := reduce(ctx, c, root, op, tagReduce, []T{value})
	if err != nil {
		var zero T
		return zero, err
	}
	return vals[0], nil
}

// ReduceSlice combines, element-wise, every rank's vector with op.
// Every rank must supply a vector of the same length. The result is
// returned on the root.
func ReduceSlice[T comm.Number](ctx context.Context, c comm.Comm, root int, op Op, vals []T) ([]T, error) {
	return reduce(ctx, c, root, op, tagReduceSlice, vals)
}

// Allreduce is Reduce followed by a broadcast of the result: every
// rank returns the reduced value.
func Allreduce[T comm.Number](ctx context.Context, c comm.Comm, op Op, value T) (T, error) {
	vals, err := AllreduceSlice(ctx, c, op, []T{value})
	if err != nil {
		var zero T
		return zero, err
	}
	return vals[0], nil
}

// AllreduceSlice is ReduceSlice followed by a broadcast of the
// result.
func AllreduceSlice[T comm.Number](ctx context.Context, c comm.Comm, op Op, vals []T) ([]T, error) {
	acc, err := reduce(ctx, c, comm.Root, op, tagReduceSlice, vals)
	if err != nil {
		return nil, err
	}
	return comm.BcastSlice(ctx, c, comm.Root, acc)
}

func reduce[T comm.Number](ctx context.Context, c comm.Comm, root int, op Op, tag comm.Tag, vals []T) ([]T, error) {
	if err := Check[T](op); err != nil {
		return nil, err
	}
	cx := c.Context()
	if root < 0 || root >= cx.Size {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("reduce: root %d out of range [0, %d)", root, cx.Size))
	}
	topo := Topology{Rank: cx.Rank, Size: cx.Size, Root: root}
	acc := make([]T, len(vals))
	for i, v := range vals {
		acc[i] = normalize(op, v)
	}
	for _, child := range topo.Children() {
		partial, err := comm.RecvSlice[T](ctx, c, child, tag)
		if err != nil {
			return nil, err
		}
		if len(partial) != len(acc) {
			return nil, errors.E(errors.Invalid,
				fmt.Sprintf("reduce: rank %d contributed %d values, rank %d has %d", child, len(partial), cx.Rank, len(acc)))
		}
		foldInto(op, acc, partial)
	}
	if parent := topo.Parent(); parent >= 0 {
		if err := comm.SendSlice(ctx, c, parent, tag, acc); err != nil {
			return nil, err
		}
	}
	return acc, nil
}
