// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package reduction

import (
	"context"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/spmd/comm"
	"github.com/grailbio/spmd/reduce"
	"github.com/grailbio/spmd/task"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func newData(vec []int64) (*task.Data, []int64) {
	out := make([]int64, 1)
	data := new(task.Data)
	data.AddInput(vec, len(vec))
	data.AddOutput(out, len(out))
	return data, out
}

func iota1(n int) []int64 {
	vec := make([]int64, n)
	for i := range vec {
		vec[i] = int64(i + 1)
	}
	return vec
}

// runParallel drives a parallel reduction of data over size ranks.
// It returns the validation verdict; the root's output is written to
// data.
func runParallel(t *testing.T, size int, data *task.Data, op reduce.Op) bool {
	t.Helper()
	var valid bool
	err := comm.Run(context.Background(), size, func(ctx context.Context, c comm.Comm) error {
		var d *task.Data
		if c.Context().Rank == comm.Root {
			d = data
		}
		ok, err := task.Execute(ctx, NewParallel(c, comm.Root, d, op))
		if c.Context().Rank == comm.Root {
			valid = ok
		}
		return err
	})
	assert.NoError(t, err)
	return valid
}

func TestSum(t *testing.T) {
	const N = 200000
	vec := iota1(N)
	data, out := newData(vec)
	assert.True(t, task.Pipeline(context.Background(), NewSequential(data, reduce.Sum)))
	expect.EQ(t, out[0], int64(20000100000))
	for size := 1; size <= 8; size++ {
		data, out := newData(vec)
		assert.True(t, runParallel(t, size, data, reduce.Sum))
		if got, want := out[0], int64(20000100000); got != want {
			t.Errorf("size %d: got %v, want %v", size, got, want)
		}
	}
}

func TestOps(t *testing.T) {
	vec := []int64{4, -9, 17, 3, 0, 8, -2}
	for op := reduce.Sum; op <= reduce.BXor; op++ {
		want := reduce.Fold(op, vec)
		for _, size := range []int{1, 3, 8, 10} {
			data, out := newData(vec)
			assert.True(t, runParallel(t, size, data, op))
			if got := out[0]; got != want {
				t.Errorf("%s size %d: got %v, want %v", op, size, got, want)
			}
		}
	}
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	empty, _ := newData(nil)
	twoOut := new(task.Data)
	twoOut.AddInput([]int64{1, 2}, 2)
	twoOut.AddOutput(make([]int64, 2), 2)
	wrongType := new(task.Data)
	wrongType.AddInput([]int32{1, 2}, 2)
	wrongType.AddOutput(make([]int64, 1), 1)
	for _, data := range []*task.Data{empty, twoOut, wrongType, nil} {
		assert.False(t, NewSequential(data, reduce.Sum).Validation(ctx))
		for _, size := range []int{1, 4} {
			assert.False(t, runParallel(t, size, data, reduce.Sum))
		}
	}
}

func TestRepeatedRun(t *testing.T) {
	data, out := newData(iota1(100))
	var results []int64
	err := comm.Run(context.Background(), 3, func(ctx context.Context, c comm.Comm) error {
		var d *task.Data
		if c.Context().Rank == comm.Root {
			d = data
		}
		r := task.NewRunner(NewParallel(c, comm.Root, d, reduce.Sum))
		if !r.Validation(ctx) || !r.PreProcessing(ctx) {
			return errors.E("setup failed")
		}
		for i := 0; i < 3; i++ {
			if !r.Run(ctx) {
				return errors.E("run failed")
			}
		}
		if !r.PostProcessing(ctx) {
			return errors.E("post failed")
		}
		if c.Context().Rank == comm.Root {
			results = append(results, out[0])
		}
		return nil
	})
	assert.NoError(t, err)
	expect.EQ(t, results, []int64{5050})
}
