// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package segment implements a task that labels the connected
// components of a binary image.
//
// Inputs: [0] []uint8, the image pixels, row-major, drawn from
// {0, 1} or {0, 255}; [1] []int64 {width, height}.
// Outputs: [0] []uint32 of count width*height, the component labels:
// 0 for background, and 2, 3, ... for components in order of first
// appearance.
package segment

import (
	"context"

	"github.com/grailbio/spmd/comm"
	"github.com/grailbio/spmd/label"
	"github.com/grailbio/spmd/task"
)

func validate(data *task.Data) bool {
	if data == nil || len(data.Inputs) != 2 || len(data.Outputs) != 1 {
		return task.Failf("segment: expected 2 inputs and 1 output")
	}
	dims, err := task.Input[int64](data, 1)
	if !task.Check(err, "segment") {
		return false
	}
	if len(dims) != 2 {
		return task.Failf("segment: invalid dimensions %v", dims)
	}
	n, ok := label.Pixels(dims[0], dims[1])
	if !ok {
		return task.Failf("segment: invalid dimensions %dx%d", dims[0], dims[1])
	}
	pix, err := task.Input[uint8](data, 0)
	if !task.Check(err, "segment") {
		return false
	}
	if len(pix) != n {
		return task.Failf("segment: %d pixels for a %dx%d image", len(pix), dims[0], dims[1])
	}
	if !label.Binary(pix) {
		return task.Failf("segment: image is not binary")
	}
	out, err := task.Output[uint32](data, 0)
	if !task.Check(err, "segment") {
		return false
	}
	if len(out) != n {
		return task.Failf("segment: output holds %d labels, expected %d", len(out), n)
	}
	return true
}

type image struct {
	pix           []uint8
	width, height int
}

func load(data *task.Data) image {
	pix, _ := task.Input[uint8](data, 0)
	dims, _ := task.Input[int64](data, 1)
	return image{pix, int(dims[0]), int(dims[1])}
}

func store(data *task.Data, labels []label.Label) bool {
	out, err := task.Output[uint32](data, 0)
	if !task.Check(err, "segment") {
		return false
	}
	for i, l := range labels {
		out[i] = uint32(l)
	}
	return true
}

// Sequential labels its image on a single process.
type Sequential struct {
	data   *task.Data
	img    image
	labels []label.Label
}

// NewSequential returns a sequential labeling of data.
func NewSequential(data *task.Data) *Sequential {
	return &Sequential{data: data}
}

func (s *Sequential) Validation(ctx context.Context) bool {
	return validate(s.data)
}

func (s *Sequential) PreProcessing(ctx context.Context) bool {
	s.img = load(s.data)
	return true
}

func (s *Sequential) Run(ctx context.Context) bool {
	s.labels = label.Sequential(s.img.pix, s.img.width, s.img.height)
	return true
}

func (s *Sequential) PostProcessing(ctx context.Context) bool {
	return store(s.data, s.labels)
}

// Parallel labels its image over a process group: each rank labels
// a strip of rows, and the root merges the strips' equivalences.
// Only the root's data is consulted.
type Parallel struct {
	c      comm.Comm
	root   int
	data   *task.Data
	img    image
	labels []label.Label
}

// NewParallel returns a distributed labeling of the root's data.
func NewParallel(c comm.Comm, root int, data *task.Data) *Parallel {
	return &Parallel{c: c, root: root, data: data}
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
	p.labels, err = label.Distributed(ctx, p.c, p.root, p.img.pix, p.img.width, p.img.height)
	return task.Check(err, "segment")
}

func (p *Parallel) PostProcessing(ctx context.Context) bool {
	if !p.c.Context().IsRoot(p.root) {
		return true
	}
	return store(p.data, p.labels)
}
