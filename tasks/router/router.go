// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package router implements a task that routes a message along a
// line of ranks, from a sender rank to a receiver rank, each rank
// forwarding the message to its neighbor.
//
// Inputs: [0] []int64, the payload; [1] []int64 {sender, receiver}.
// Outputs: [0] []int64, the payload as delivered, of the payload's
// count; [1] []int64, the ranks visited from sender to receiver, of
// count |receiver-sender|+1.
package router

import (
	"context"
	"fmt"

	"github.com/grailbio/spmd/comm"
	"github.com/grailbio/spmd/task"
)

// Message tags.
const (
	tagPayload comm.Tag = iota
	tagPath
	tagDeliver
)

// Path returns the ranks visited by a message routed from sender to
// receiver.
func Path(sender, receiver int) []int64 {
	step := 1
	if receiver < sender {
		step = -1
	}
	path := []int64{int64(sender)}
	for r := sender; r != receiver; {
		r += step
		path = append(path, int64(r))
	}
	return path
}

func validate(data *task.Data, size int) bool {
	if data == nil || len(data.Inputs) != 2 || len(data.Outputs) != 2 {
		return task.Failf("router: expected 2 inputs and 2 outputs")
	}
	route, err := task.Input[int64](data, 1)
	if !task.Check(err, "router") {
		return false
	}
	if len(route) != 2 {
		return task.Failf("router: route holds %d elements, expected 2", len(route))
	}
	sender, receiver := route[0], route[1]
	if sender < 0 || sender >= int64(size) {
		return task.Failf("router: sender %d out of range [0, %d)", sender, size)
	}
	if receiver < 0 || receiver >= int64(size) {
		return task.Failf("router: receiver %d out of range [0, %d)", receiver, size)
	}
	payload, err := task.Input[int64](data, 0)
	if !task.Check(err, "router") {
		return false
	}
	out, err := task.Output[int64](data, 0)
	if !task.Check(err, "router") {
		return false
	}
	if len(out) != len(payload) {
		return task.Failf("router: output holds %d elements, payload %d", len(out), len(payload))
	}
	path, err := task.Output[int64](data, 1)
	if !task.Check(err, "router") {
		return false
	}
	if want := len(Path(int(sender), int(receiver))); len(path) != want {
		return task.Failf("router: path output holds %d elements, expected %d", len(path), want)
	}
	return true
}

func store(data *task.Data, payload, path []int64) bool {
	out, err := task.Output[int64](data, 0)
	if !task.Check(err, "router") {
		return false
	}
	copy(out, payload)
	if out, err = task.Output[int64](data, 1); !task.Check(err, "router") {
		return false
	}
	copy(out, path)
	return true
}

// Sequential simulates the route on a single process, over a line of
// size ranks.
type Sequential struct {
	data          *task.Data
	size          int
	payload, path []int64
}

// NewSequential returns a sequential route of data over size ranks.
func NewSequential(data *task.Data, size int) *Sequential {
	return &Sequential{data: data, size: size}
}

func (s *Sequential) Validation(ctx context.Context) bool {
	return validate(s.data, s.size)
}

func (s *Sequential) PreProcessing(ctx context.Context) bool {
	s.payload, _ = task.Input[int64](s.data, 0)
	return true
}

func (s *Sequential) Run(ctx context.Context) bool {
	route, _ := task.Input[int64](s.data, 1)
	s.path = Path(int(route[0]), int(route[1]))
	return true
}

func (s *Sequential) PostProcessing(ctx context.Context) bool {
	return store(s.data, s.payload, s.path)
}

// Parallel routes the root's payload through the ranks of a process
// group: the root hands the payload to the sender, each rank on the
// line forwards it, with the path so far, to its neighbor, and the
// receiver returns the payload and path to the root.
type Parallel struct {
	c                 comm.Comm
	root              int
	data              *task.Data
	sender, receiver  int
	payload, path     []int64
	delivered, routed []int64
}

// NewParallel returns a distributed route of the root's data.
func NewParallel(c comm.Comm, root int, data *task.Data) *Parallel {
	return &Parallel{c: c, root: root, data: data}
}

func (p *Parallel) Validation(ctx context.Context) bool {
	return task.Agree(ctx, p.c, p.root, true, func() bool { return validate(p.data, p.c.Context().Size) })
}

func (p *Parallel) PreProcessing(ctx context.Context) bool {
	var route []int64
	if p.c.Context().IsRoot(p.root) {
		route, _ = task.Input[int64](p.data, 1)
		p.payload, _ = task.Input[int64](p.data, 0)
	}
	route, err := comm.BcastSlice(ctx, p.c, p.root, route)
	if !task.Check(err, "router") {
		return false
	}
	if len(route) != 2 {
		return task.Failf("router: malformed route")
	}
	p.sender, p.receiver = int(route[0]), int(route[1])
	return true
}

func (p *Parallel) Run(ctx context.Context) bool {
	return task.Check(p.route(ctx), fmt.Sprintf("router: rank %d", p.c.Context().Rank))
}

func (p *Parallel) route(ctx context.Context) error {
	var (
		rank    = p.c.Context().Rank
		isRoot  = rank == p.root
		payload = p.payload
		path    []int64
		err     error
	)
	if isRoot && p.sender != p.root {
		if err = comm.SendSlice(ctx, p.c, p.sender, tagPayload, payload); err != nil {
			return err
		}
	}
	lo, hi := p.sender, p.receiver
	if lo > hi {
		lo, hi = hi, lo
	}
	if rank >= lo && rank <= hi {
		step := 1
		if p.receiver < p.sender {
			step = -1
		}
		switch rank {
		case p.sender:
			if !isRoot {
				if payload, err = comm.RecvSlice[int64](ctx, p.c, p.root, tagPayload); err != nil {
					return err
				}
			}
		default:
			prev := rank - step
			if payload, err = comm.RecvSlice[int64](ctx, p.c, prev, tagPayload); err != nil {
				return err
			}
			if path, err = comm.RecvSlice[int64](ctx, p.c, prev, tagPath); err != nil {
				return err
			}
		}
		path = append(path, int64(rank))
		if rank != p.receiver {
			if err = comm.SendSlice(ctx, p.c, rank+step, tagPayload, payload); err != nil {
				return err
			}
			if err = comm.SendSlice(ctx, p.c, rank+step, tagPath, path); err != nil {
				return err
			}
		} else if !isRoot {
			if err = comm.SendSlice(ctx, p.c, p.root, tagDeliver, payload); err != nil {
				return err
			}
			if err = comm.SendSlice(ctx, p.c, p.root, tagDeliver, path); err != nil {
				return err
			}
		}
	}
	if !isRoot {
		return nil
	}
	if p.receiver != p.root {
		if payload, err = comm.RecvSlice[int64](ctx, p.c, p.receiver, tagDeliver); err != nil {
			return err
		}
		if path, err = comm.RecvSlice[int64](ctx, p.c, p.receiver, tagDeliver); err != nil {
			return err
		}
	}
	p.delivered, p.routed = payload, path
	return nil
}

func (p *Parallel) PostProcessing(ctx context.Context) bool {
	if !p.c.Context().IsRoot(p.root) {
		return true
	}
	return store(p.data, p.delivered, p.routed)
}
