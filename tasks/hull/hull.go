// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package hull implements a task that computes the convex hull of a
// set of points in the plane.
//
// Inputs: [0] []float64, the points as x, y pairs (more than 2
// points).
// Outputs: [0] []float64 of the input's count, receiving the hull's
// vertices as x, y pairs in counterclockwise order starting from the
// vertex with the smallest x (then y); [1] []int64 of count 1, the
// number of hull vertices.
package hull

import (
	"context"
	"sort"

	"github.com/grailbio/spmd/comm"
	"github.com/grailbio/spmd/partition"
	"github.com/grailbio/spmd/task"
)

// A Point is a point in the plane.
type Point struct{ X, Y float64 }

func cross(o, a, b Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

// Convex returns the convex hull of points by Andrew's monotone
// chain: its vertices in counterclockwise order, starting from the
// point with the smallest x (then y). Points on the hull's edges are
// not vertices. Convex does not modify points.
func Convex(points []Point) []Point {
	ps := append([]Point(nil), points...)
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].X != ps[j].X {
			return ps[i].X < ps[j].X
		}
		return ps[i].Y < ps[j].Y
	})
	uniq := ps[:0]
	for _, p := range ps {
		if len(uniq) == 0 || p != uniq[len(uniq)-1] {
			uniq = append(uniq, p)
		}
	}
	ps = uniq
	if len(ps) < 3 {
		return ps
	}
	hull := make([]Point, 0, 2*len(ps))
	for _, p := range ps {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(ps) - 2; i >= 0; i-- {
		p := ps[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	// The last point repeats the first.
	return hull[:len(hull)-1]
}

func points(xy []float64) []Point {
	ps := make([]Point, len(xy)/2)
	for i := range ps {
		ps[i] = Point{xy[2*i], xy[2*i+1]}
	}
	return ps
}

func coords(ps []Point) []float64 {
	xy := make([]float64, 0, 2*len(ps))
	for _, p := range ps {
		xy = append(xy, p.X, p.Y)
	}
	return xy
}

func validate(data *task.Data) bool {
	if data == nil || len(data.Inputs) != 1 || len(data.Outputs) != 2 {
		return task.Failf("hull: expected 1 input and 2 outputs")
	}
	xy, err := task.Input[float64](data, 0)
	if !task.Check(err, "hull") {
		return false
	}
	if len(xy)%2 != 0 {
		return task.Failf("hull: odd number of coordinates %d", len(xy))
	}
	if len(xy)/2 <= 2 {
		return task.Failf("hull: %d points, need more than 2", len(xy)/2)
	}
	out, err := task.Output[float64](data, 0)
	if !task.Check(err, "hull") {
		return false
	}
	if len(out) != len(xy) {
		return task.Failf("hull: output holds %d coordinates, expected %d", len(out), len(xy))
	}
	n, err := task.Output[int64](data, 1)
	if !task.Check(err, "hull") {
		return false
	}
	if len(n) != 1 {
		return task.Failf("hull: length output holds %d elements, expected 1", len(n))
	}
	return true
}

func store(data *task.Data, hull []Point) bool {
	out, err := task.Output[float64](data, 0)
	if !task.Check(err, "hull") {
		return false
	}
	copy(out, coords(hull))
	n, err := task.Output[int64](data, 1)
	if !task.Check(err, "hull") {
		return false
	}
	n[0] = int64(len(hull))
	return true
}

// Sequential computes the hull on a single process.
type Sequential struct {
	data         *task.Data
	points, hull []Point
}

// NewSequential returns a sequential hull of data.
func NewSequential(data *task.Data) *Sequential {
	return &Sequential{data: data}
}

func (s *Sequential) Validation(ctx context.Context) bool {
	return validate(s.data)
}

func (s *Sequential) PreProcessing(ctx context.Context) bool {
	xy, _ := task.Input[float64](s.data, 0)
	s.points = points(xy)
	return true
}

func (s *Sequential) Run(ctx context.Context) bool {
	s.hull = Convex(s.points)
	return true
}

func (s *Sequential) PostProcessing(ctx context.Context) bool {
	return store(s.data, s.hull)
}

// Parallel computes the hull over a process group: the root scatters
// the points, each rank computes the hull of its share, and the root
// computes the hull of the gathered hulls. Only the root's data is
// consulted.
type Parallel struct {
	c     comm.Comm
	root  int
	data  *task.Data
	local []Point
	hull  []Point
}

// NewParallel returns a distributed hull of the root's data.
func NewParallel(c comm.Comm, root int, data *task.Data) *Parallel {
	return &Parallel{c: c, root: root, data: data}
}

func (p *Parallel) Validation(ctx context.Context) bool {
	return task.Agree(ctx, p.c, p.root, true, func() bool { return validate(p.data) })
}

func (p *Parallel) PreProcessing(ctx context.Context) bool {
	var (
		xy    []float64
		count []int64
	)
	if p.c.Context().IsRoot(p.root) {
		xy, _ = task.Input[float64](p.data, 0)
		count = []int64{int64(len(xy) / 2)}
	}
	count, err := comm.BcastSlice(ctx, p.c, p.root, count)
	if !task.Check(err, "hull") {
		return false
	}
	if len(count) != 1 {
		return task.Failf("hull: malformed point count")
	}
	// Each point is a row of two coordinates.
	d := partition.Rows(int(count[0]), 2, p.c.Context().Size)
	local, err := comm.Scatterv(ctx, p.c, p.root, d, xy)
	if !task.Check(err, "hull") {
		return false
	}
	p.local = points(local)
	return true
}

func (p *Parallel) Run(ctx context.Context) bool {
	hulls, err := comm.GatherBytes(ctx, p.c, p.root, comm.Encode(coords(Convex(p.local))))
	if !task.Check(err, "hull") || !p.c.Context().IsRoot(p.root) {
		return err == nil
	}
	var candidates []Point
	for rank, msg := range hulls {
		xy, err := comm.Decode[float64](msg)
		if err != nil {
			return task.Failf("hull: hull from rank %d: %v", rank, err)
		}
		candidates = append(candidates, points(xy)...)
	}
	p.hull = Convex(candidates)
	return true
}

func (p *Parallel) PostProcessing(ctx context.Context) bool {
	if !p.c.Context().IsRoot(p.root) {
		return true
	}
	return store(p.data, p.hull)
}
