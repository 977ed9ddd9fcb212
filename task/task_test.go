// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package task

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/status"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

// doubler doubles its input vector into its output vector.
type doubler struct {
	data  *Data
	in    []int64
	out   []int64
	calls []string
	fail  string
}

func (d *doubler) call(name string) bool {
	d.calls = append(d.calls, name)
	return name != d.fail
}

func (d *doubler) Validation(ctx context.Context) bool {
	if !d.call("validation") {
		return false
	}
	in, err := Input[int64](d.data, 0)
	if err != nil {
		return false
	}
	out, err := Output[int64](d.data, 0)
	return err == nil && len(in) == len(out)
}

func (d *doubler) PreProcessing(ctx context.Context) bool {
	d.in, _ = Input[int64](d.data, 0)
	d.out = make([]int64, len(d.in))
	return d.call("pre")
}

func (d *doubler) Run(ctx context.Context) bool {
	for i, v := range d.in {
		d.out[i] = 2 * v
	}
	return d.call("run")
}

func (d *doubler) PostProcessing(ctx context.Context) bool {
	out, _ := Output[int64](d.data, 0)
	copy(out, d.out)
	return d.call("post")
}

func newDoubler(n int) (*doubler, []int64) {
	var (
		data = new(Data)
		in   = make([]int64, n)
		out  = make([]int64, n)
	)
	for i := range in {
		in[i] = int64(i)
	}
	data.AddInput(in, n)
	data.AddOutput(out, n)
	return &doubler{data: data}, out
}

func TestPipeline(t *testing.T) {
	ctx := context.Background()
	d, out := newDoubler(5)
	r := NewRunner(d)
	assert.True(t, Pipeline(ctx, r))
	expect.EQ(t, out, []int64{0, 2, 4, 6, 8})
	expect.EQ(t, r.State(), Done)
	expect.EQ(t, strings.Join(d.calls, ","), "validation,pre,run,post")
}

func TestPipelineStops(t *testing.T) {
	ctx := context.Background()
	d, out := newDoubler(3)
	d.fail = "pre"
	r := NewRunner(d)
	assert.False(t, Pipeline(ctx, r))
	expect.EQ(t, strings.Join(d.calls, ","), "validation,pre")
	expect.EQ(t, r.State(), Validated)
	expect.EQ(t, out, []int64{0, 0, 0})
}

func TestValidationRejects(t *testing.T) {
	ctx := context.Background()
	d, _ := newDoubler(3)
	d.data.Outputs[0].Count = 2
	r := NewRunner(d)
	assert.False(t, r.Validation(ctx))
	expect.EQ(t, r.State(), Init)
}

func expectPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	fn()
}

func TestRunnerOrder(t *testing.T) {
	ctx := context.Background()
	d, _ := newDoubler(3)
	r := NewRunner(d)
	expectPanic(t, func() { r.Run(ctx) })
	expectPanic(t, func() { r.PreProcessing(ctx) })
	expectPanic(t, func() { r.PostProcessing(ctx) })
	assert.True(t, r.Validation(ctx))
	expectPanic(t, func() { r.Validation(ctx) })
	expectPanic(t, func() { r.Run(ctx) })
	assert.True(t, r.PreProcessing(ctx))
	expectPanic(t, func() { r.PostProcessing(ctx) })
	assert.True(t, r.Run(ctx))
	assert.True(t, r.Run(ctx))
	expectPanic(t, func() { r.PreProcessing(ctx) })
	assert.True(t, r.PostProcessing(ctx))
	expectPanic(t, func() { r.Run(ctx) })
	// A new cycle.
	assert.True(t, Pipeline(ctx, r))
}

func TestData(t *testing.T) {
	var d Data
	d.AddInput([]float64{1, 2, 3}, 2)
	d.AddInput([]uint8{1}, 5)
	d.AddOutput([]int32{0}, 1)

	in, err := Input[float64](&d, 0)
	assert.NoError(t, err)
	expect.EQ(t, in, []float64{1, 2})
	if _, err := Input[int64](&d, 0); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	if _, err := Input[uint8](&d, 1); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	if _, err := Input[uint8](&d, 2); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	out, err := Output[int32](&d, 0)
	assert.NoError(t, err)
	out[0] = 7
	expect.EQ(t, d.Outputs[0].Data, []int32{7})
	if _, err := Output[int32](&d, 1); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}

// fakeClock advances by one tick every time it is read.
func fakeClock(tick time.Duration) func() time.Duration {
	var now time.Duration
	return func() time.Duration {
		now += tick
		return now
	}
}

func TestPerf(t *testing.T) {
	ctx := context.Background()
	d, out := newDoubler(4)
	var s status.Status
	perf := NewPerf(d)
	perf.Status = s.Group("perf")
	res, err := perf.PipelineRun(ctx, Attr{Runs: 4, Now: fakeClock(10 * time.Millisecond)})
	assert.NoError(t, err)
	expect.EQ(t, res, Result{PipelineRun, 2500 * time.Microsecond})
	expect.EQ(t, res.String(), "pipeline:2.5ms")
	expect.EQ(t, out, []int64{0, 2, 4, 6})

	res, err = perf.TaskRun(ctx, Attr{Runs: 5, Now: fakeClock(time.Second)})
	assert.NoError(t, err)
	expect.EQ(t, res, Result{TaskRun, 200 * time.Millisecond})
	// 4 pipeline cycles, then one cycle with 5 runs.
	expect.EQ(t, len(d.calls), 4*4+8)
}

func TestPerfFailure(t *testing.T) {
	ctx := context.Background()
	d, _ := newDoubler(2)
	d.fail = "validation"
	_, err := NewPerf(d).TaskRun(ctx, Attr{})
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}

func TestPerfReuse(t *testing.T) {
	ctx := context.Background()
	d, out := newDoubler(3)
	perf := NewPerf(d)
	d.fail = "run"
	_, err := perf.PipelineRun(ctx, Attr{Runs: 2})
	if err == nil || errors.Is(errors.Invalid, err) {
		t.Errorf("expected run failure, got %v", err)
	}
	d.fail = "pre"
	_, err = perf.TaskRun(ctx, Attr{Runs: 2})
	if err == nil || errors.Is(errors.Invalid, err) {
		t.Errorf("expected preprocessing failure, got %v", err)
	}
	d.fail = ""
	_, err = perf.PipelineRun(ctx, Attr{Runs: 2})
	assert.NoError(t, err)
	expect.EQ(t, out, []int64{0, 2, 4})
	_, err = perf.TaskRun(ctx, Attr{Runs: 2})
	assert.NoError(t, err)
}

func TestRunnerReset(t *testing.T) {
	ctx := context.Background()
	d, _ := newDoubler(2)
	r := NewRunner(d)
	assert.True(t, r.Validation(ctx))
	assert.True(t, r.PreProcessing(ctx))
	r.Reset()
	expect.EQ(t, r.State(), Init)
	assert.True(t, Pipeline(ctx, r))
	expect.EQ(t, r.State(), Done)
}
