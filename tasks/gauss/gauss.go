// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package gauss implements a task that blurs an 8-bit image with the
// 3x3 Gaussian kernel.
//
// Inputs: [0] []uint8, the image pixels, row-major; [1] []int64
// {width, height}, both at least 3.
// Outputs: [0] []float64 of count (width+2)*(height+2): the blurred
// image inside a one-pixel frame of zeros.
package gauss

import (
	"context"
	"math"

	"github.com/grailbio/spmd/comm"
	"github.com/grailbio/spmd/stencil"
	"github.com/grailbio/spmd/task"
)

// MinSize is the minimum width and height of an image.
const MinSize = 3

// MaxSize is the maximum width and height of an image. It keeps the
// pixel counts of the image and of its framed blur within int64.
const MaxSize = math.MaxInt32

func dims(data *task.Data) (width, height int, ok bool) {
	if data == nil || len(data.Inputs) != 2 || len(data.Outputs) != 1 {
		return 0, 0, task.Failf("gauss: expected 2 inputs and 1 output")
	}
	d, err := task.Input[int64](data, 1)
	if !task.Check(err, "gauss") {
		return 0, 0, false
	}
	if len(d) != 2 {
		return 0, 0, task.Failf("gauss: dimensions hold %d elements, expected 2", len(d))
	}
	if d[0] > MaxSize || d[1] > MaxSize {
		return 0, 0, task.Failf("gauss: image is %dx%d, dimensions may not exceed %d", d[0], d[1], MaxSize)
	}
	return int(d[0]), int(d[1]), true
}

func validate(data *task.Data) bool {
	width, height, ok := dims(data)
	if !ok {
		return false
	}
	if width < MinSize || height < MinSize {
		return task.Failf("gauss: image is %dx%d, must be at least %dx%d", width, height, MinSize, MinSize)
	}
	pix, err := task.Input[uint8](data, 0)
	if !task.Check(err, "gauss") {
		return false
	}
	if len(pix) != width*height {
		return task.Failf("gauss: %d pixels for a %dx%d image", len(pix), width, height)
	}
	out, err := task.Output[float64](data, 0)
	if !task.Check(err, "gauss") {
		return false
	}
	if want := (width + 2) * (height + 2); len(out) != want {
		return task.Failf("gauss: output holds %d pixels, expected %d", len(out), want)
	}
	return true
}

func load(data *task.Data) *stencil.Image {
	width, height, _ := dims(data)
	pix, _ := task.Input[uint8](data, 0)
	return stencil.FromBytes(pix, width, height)
}

func store(data *task.Data, img *stencil.Image) bool {
	out, err := task.Output[float64](data, 0)
	if !task.Check(err, "gauss") {
		return false
	}
	copy(out, stencil.Frame(img).Pix)
	return true
}

// Sequential blurs its image on a single process.
type Sequential struct {
	data   *task.Data
	border stencil.Border
	img    *stencil.Image
	result *stencil.Image
}

// NewSequential returns a sequential blur of data, supplying pixels
// beyond the image's edges according to border.
func NewSequential(data *task.Data, border stencil.Border) *Sequential {
	return &Sequential{data: data, border: border}
}

func (s *Sequential) Validation(ctx context.Context) bool {
	return validate(s.data)
}

func (s *Sequential) PreProcessing(ctx context.Context) bool {
	s.img = load(s.data)
	return true
}

func (s *Sequential) Run(ctx context.Context) bool {
	s.result = stencil.Convolve(s.img, stencil.Gaussian, s.border)
	return true
}

func (s *Sequential) PostProcessing(ctx context.Context) bool {
	return store(s.data, s.result)
}

// Parallel blurs its image over a process group by rows, exchanging
// halo rows between neighboring ranks. Only the root's data is
// consulted.
type Parallel struct {
	c      comm.Comm
	root   int
	data   *task.Data
	border stencil.Border
	img    *stencil.Image
	result *stencil.Image
}

// NewParallel returns a distributed blur of the root's data.
func NewParallel(c comm.Comm, root int, data *task.Data, border stencil.Border) *Parallel {
	return &Parallel{c: c, root: root, data: data, border: border}
}

func (p *Parallel) Validation(ctx context.Context) bool {
	return task.Agree(ctx, p.c, p.root, true, func() bool { return validate(p.data) })
}

func (p *Parallel) PreProcessing(ctx context.Context) bool {
	if p.c.Context().IsRoot(p.root) {
		p.img = load(p.data)
	}
	return true
}

func (p *Parallel) Run(ctx context.Context) bool {
	var err error
	p.result, err = stencil.Distributed(ctx, p.c, p.root, p.img, stencil.Gaussian, p.border)
	return task.Check(err, "gauss")
}

func (p *Parallel) PostProcessing(ctx context.Context) bool {
	if !p.c.Context().IsRoot(p.root) {
		return true
	}
	return store(p.data, p.result)
}
