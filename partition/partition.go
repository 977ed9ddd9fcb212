// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package partition computes contiguous, balanced assignments of a
// global index range to the ranks of a process group. Every rank can
// derive the same Descriptor from the total count and the group size,
// so no communication is needed to agree on it.
package partition

import (
	"bytes"
	"fmt"

	"github.com/grailbio/base/must"
)

// A Descriptor describes how a buffer of Total() elements is split
// among Len() ranks. Rank i owns the half-open range
// [Offsets[i], Offsets[i]+Counts[i]).
type Descriptor struct {
	// Counts holds the number of elements assigned to each rank.
	Counts []int
	// Offsets holds the index of the first element of each rank's
	// chunk in the global buffer.
	Offsets []int

	// width is the number of elements per row for row partitions;
	// it is 1 for flat partitions.
	width int
}

// New partitions total elements among n ranks. Each rank receives
// total/n elements; the first total%n ranks receive one more. When n
// exceeds total, trailing ranks receive empty chunks whose offset is
// total. New panics if n < 1 or total < 0.
func New(total, n int) Descriptor {
	must.True(n >= 1, "partition: n < 1")
	must.True(total >= 0, "partition: total < 0")
	d := Descriptor{
		Counts:  make([]int, n),
		Offsets: make([]int, n),
		width:   1,
	}
	base, rem := total/n, total%n
	for i := range d.Counts {
		d.Counts[i] = base
		if i < rem {
			d.Counts[i]++
		}
		if i > 0 {
			d.Offsets[i] = d.Offsets[i-1] + d.Counts[i-1]
		}
	}
	return d
}

// Rows partitions rows of the given width among n ranks. The rows
// are distributed as by New; counts and offsets are then scaled by
// width so that the descriptor addresses elements of a row-major
// buffer.
func Rows(rows, width, n int) Descriptor {
	must.True(width >= 1, "partition: width < 1")
	d := New(rows, n)
	for i := range d.Counts {
		d.Counts[i] *= width
		d.Offsets[i] *= width
	}
	d.width = width
	return d
}

// Len returns the number of ranks in the partition.
func (d Descriptor) Len() int { return len(d.Counts) }

// Total returns the total number of elements covered by the
// partition.
func (d Descriptor) Total() int {
	if len(d.Counts) == 0 {
		return 0
	}
	last := len(d.Counts) - 1
	return d.Offsets[last] + d.Counts[last]
}

// Width returns the row width of a row partition, or 1 for a flat
// partition.
func (d Descriptor) Width() int {
	if d.width == 0 {
		return 1
	}
	return d.width
}

// Range returns the half-open element range owned by the given rank.
func (d Descriptor) Range(rank int) (begin, end int) {
	return d.Offsets[rank], d.Offsets[rank] + d.Counts[rank]
}

// Rows returns the number of rows owned by the given rank. It is
// only meaningful for descriptors returned by Rows.
func (d Descriptor) Rows(rank int) int {
	return d.Counts[rank] / d.Width()
}

// RowOffset returns the index of the first row owned by the given
// rank.
func (d Descriptor) RowOffset(rank int) int {
	return d.Offsets[rank] / d.Width()
}

// NonEmpty returns the number of ranks that own at least one
// element. Because remainders are assigned to the lowest ranks,
// these are always ranks 0 through NonEmpty()-1.
func (d Descriptor) NonEmpty() int {
	n := 0
	for _, c := range d.Counts {
		if c > 0 {
			n++
		}
	}
	return n
}

// String returns a compact representation of the partition, listing
// the range of each rank.
func (d Descriptor) String() string {
	var b bytes.Buffer
	for i := range d.Counts {
		if i > 0 {
			b.WriteString(" ")
		}
		begin, end := d.Range(i)
		fmt.Fprintf(&b, "%d:[%d,%d)", i, begin, end)
	}
	return b.String()
}

// Chunk returns the slice of buf owned by the given rank.
func Chunk[T any](d Descriptor, rank int, buf []T) []T {
	begin, end := d.Range(rank)
	return buf[begin:end]
}
