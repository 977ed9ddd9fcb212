// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package task

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// A Buffer is a caller-owned slice passed to or from a task, along
// with its declared element count.
type Buffer struct {
	// Data is the buffer itself: a slice of the element type the
	// task expects at this position.
	Data interface{}
	// Count is the number of elements the caller declares Data to
	// hold.
	Count int
}

// Data carries a task's positional input and output buffers. It is
// built by the caller before the task is constructed. Tasks read
// their inputs and write their results into the outputs, but never
// resize any buffer.
type Data struct {
	Inputs, Outputs []Buffer
}

// AddInput appends an input buffer of the given declared count.
func (d *Data) AddInput(data interface{}, count int) {
	d.Inputs = append(d.Inputs, Buffer{data, count})
}

// AddOutput appends an output buffer of the given declared count.
func (d *Data) AddOutput(data interface{}, count int) {
	d.Outputs = append(d.Outputs, Buffer{data, count})
}

// Input returns the i'th input buffer as a []T of its declared
// count.
func Input[T any](d *Data, i int) ([]T, error) {
	if d == nil || i < 0 || i >= len(d.Inputs) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("task: no input %d", i))
	}
	return view[T](d.Inputs[i], "input", i)
}

// Output returns the i'th output buffer as a []T of its declared
// count. Writes through the returned slice are visible to the
// caller.
func Output[T any](d *Data, i int) ([]T, error) {
	if d == nil || i < 0 || i >= len(d.Outputs) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("task: no output %d", i))
	}
	return view[T](d.Outputs[i], "output", i)
}

func view[T any](b Buffer, kind string, i int) ([]T, error) {
	vals, ok := b.Data.([]T)
	if !ok {
		var zero T
		return nil, errors.E(errors.Invalid, fmt.Sprintf("task: %s %d is %T, not []%T", kind, i, b.Data, zero))
	}
	if b.Count < 0 || b.Count > len(vals) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("task: %s %d declares %d elements but holds %d", kind, i, b.Count, len(vals)))
	}
	return vals[:b.Count], nil
}
