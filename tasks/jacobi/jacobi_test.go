// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package jacobi

import (
	"context"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/grailbio/spmd/comm"
	"github.com/grailbio/spmd/task"
	"github.com/grailbio/testutil/assert"
)

func newData(a, b []float64) (*task.Data, []float64) {
	x := make([]float64, len(b))
	data := new(task.Data)
	data.AddInput(a, len(a))
	data.AddInput(b, len(b))
	data.AddOutput(x, len(x))
	return data, x
}

func runParallel(size int, data *task.Data, params Params) (bool, error) {
	root := size / 2
	var valid bool
	err := comm.Run(context.Background(), size, func(ctx context.Context, c comm.Comm) error {
		var d *task.Data
		if c.Context().Rank == root {
			d = data
		}
		ok, err := task.Execute(ctx, NewParallel(c, root, d, params))
		if c.Context().Rank == root {
			valid = ok
		}
		return err
	})
	return valid, err
}

func TestSolve(t *testing.T) {
	var (
		a = []float64{
			4, -1, 0,
			-1, 4, -1,
			0, -1, 4,
		}
		b    = []float64{2, 4, 10}
		want = []float64{1, 2, 3}
	)
	data, x := newData(a, b)
	assert.True(t, task.Pipeline(context.Background(), NewSequential(data, DefaultParams)))
	for i := range want {
		if math.Abs(x[i]-want[i]) > 1e-6 {
			t.Errorf("x[%d]: got %v, want %v", i, x[i], want[i])
		}
	}
	for size := 1; size <= 8; size++ {
		data, got := newData(a, b)
		valid, err := runParallel(size, data, DefaultParams)
		assert.NoError(t, err)
		assert.True(t, valid)
		if !reflect.DeepEqual(got, x) {
			t.Errorf("size %d: got %v, want %v", size, got, x)
		}
	}
}

func TestRandom(t *testing.T) {
	const n = 25
	r := rand.New(rand.NewSource(1))
	a := make([]float64, n*n)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		var off float64
		for j := 0; j < n; j++ {
			if i != j {
				a[i*n+j] = r.Float64()*2 - 1
				off += math.Abs(a[i*n+j])
			}
		}
		a[i*n+i] = off + 1 + r.Float64()
		b[i] = r.Float64() * 10
	}
	data, x := newData(a, b)
	assert.True(t, task.Pipeline(context.Background(), NewSequential(data, DefaultParams)))
	// Check the residual.
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < n; j++ {
			sum += a[i*n+j] * x[j]
		}
		if math.Abs(sum-b[i]) > 1e-6 {
			t.Errorf("row %d: residual %v", i, sum-b[i])
		}
	}
	for _, size := range []int{2, 5, 8} {
		data, got := newData(a, b)
		valid, err := runParallel(size, data, DefaultParams)
		assert.NoError(t, err)
		assert.True(t, valid)
		if !reflect.DeepEqual(got, x) {
			t.Errorf("size %d: distributed solution differs from sequential", size)
		}
	}
}

func TestNoConvergence(t *testing.T) {
	a := []float64{10, 1, 1, 10}
	b := []float64{11, 11}
	params := Params{Tolerance: 1e-12, MaxIter: 2}
	data, _ := newData(a, b)
	r := task.NewRunner(NewSequential(data, params))
	ctx := context.Background()
	assert.True(t, r.Validation(ctx))
	assert.True(t, r.PreProcessing(ctx))
	assert.False(t, r.Run(ctx))
	for _, size := range []int{1, 2, 3} {
		data, _ := newData(a, b)
		valid, err := runParallel(size, data, params)
		assert.True(t, valid)
		if err == nil {
			t.Errorf("size %d: expected error", size)
		}
	}
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	zeroDiag, _ := newData([]float64{0, 1, 1, 4}, []float64{1, 1})
	notDominant, _ := newData([]float64{2, 3, 1, 4}, []float64{1, 1})
	wrongCount, _ := newData([]float64{4, 1, 1}, []float64{1, 1})
	empty, _ := newData(nil, nil)
	for _, data := range []*task.Data{zeroDiag, notDominant, wrongCount, empty} {
		assert.False(t, NewSequential(data, DefaultParams).Validation(ctx))
		valid, err := runParallel(3, data, DefaultParams)
		assert.NoError(t, err)
		assert.False(t, valid)
	}
}
