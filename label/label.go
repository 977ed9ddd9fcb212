// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package label implements connected-component labeling of binary
	images, sequentially and distributed over a process group.

	Labeling proceeds in two passes. The first pass scans the image in
	raster order, assigning a provisional label to each foreground
	pixel from its upper and left neighbors (4-connectivity), or a
	fresh label when neither is foreground. When the two neighbors
	carry different labels, the labels are recorded as equivalent in a
	Table. The second pass closes the table, maps every provisional
	label to the minimum label of its class, and renumbers the
	surviving labels densely from First, in the order in which their
	components first appear in the image.

	In the distributed form each rank scans a strip of rows. A rank's
	provisional labels start at First plus the offset of its strip in
	the image, so labels are unique across ranks without
	communication. The root gathers the strips and the ranks' tables,
	unions the tables, records the equivalences across strip seams, and
	resolves. The result is identical to sequential labeling.
*/
package label

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/spmd/comm"
	"github.com/grailbio/spmd/partition"
)

// A Label identifies a connected component.
type Label uint32

const (
	// Background is the label of background pixels.
	Background Label = 0
	// Unlabeled is reserved for foreground pixels that have not
	// been labeled.
	Unlabeled Label = 1
	// First is the first component label.
	First Label = 2
)

// MaxPixels is the size of the largest image that can be labeled:
// every pixel must be able to carry its own provisional label.
const MaxPixels int64 = math.MaxUint32 - int64(First)

// Pixels returns the number of pixels of a width by height image. It
// returns false if either dimension is not positive or the image
// holds more than MaxPixels pixels.
func Pixels(width, height int64) (int, bool) {
	if width < 1 || height < 1 || width > MaxPixels/height {
		return 0, false
	}
	return int(width * height), true
}

// Binary tells whether pix is a binary image: its pixel values are
// drawn from {0, 1} or from {0, 255}.
func Binary(pix []uint8) bool {
	var one, full bool
	for _, p := range pix {
		switch p {
		case 0:
		case 1:
			one = true
		case 255:
			full = true
		default:
			return false
		}
	}
	return !(one && full)
}

// trivial classifies images that need no equivalence merging.
type trivial int64

const (
	nontrivial trivial = iota
	allBackground
	allForeground
)

func classify(pix []uint8) trivial {
	var bg, fg bool
	for _, p := range pix {
		if p == 0 {
			bg = true
		} else {
			fg = true
		}
		if bg && fg {
			return nontrivial
		}
	}
	if fg {
		return allForeground
	}
	return allBackground
}

func (t trivial) labels(n int) []Label {
	labels := make([]Label, n)
	if t == allForeground {
		for i := range labels {
			labels[i] = First
		}
	}
	return labels
}

// Scan performs the first labeling pass over a strip of rows of the
// given width. Nonzero pixels are foreground. Fresh labels are
// allocated from base upward; a strip never allocates more labels
// than it has pixels. Scan returns the provisional labels and the
// equivalences discovered among them.
func Scan(pix []uint8, width, rows int, base Label) ([]Label, *Table) {
	var (
		labels = make([]Label, width*rows)
		table  = NewTable()
		next   = base
	)
	for y := 0; y < rows; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			if pix[i] == 0 {
				continue
			}
			var up, left Label
			if y > 0 {
				up = labels[i-width]
			}
			if x > 0 {
				left = labels[i-1]
			}
			switch {
			case up == Background && left == Background:
				labels[i] = next
				table.add(next, next)
				next++
			case up == Background:
				labels[i] = left
			case left == Background:
				labels[i] = up
			default:
				labels[i] = up
				if up != left {
					table.Merge(up, left)
				}
			}
		}
	}
	return labels, table
}

// mergeSeam records the equivalences between vertically adjacent
// foreground pixels of two rows.
func mergeSeam(table *Table, above, below []Label) {
	for x := range above {
		if above[x] != Background && below[x] != Background && above[x] != below[x] {
			table.Merge(above[x], below[x])
		}
	}
}

// Resolve performs the second labeling pass in place: it closes
// table, replaces every label with the minimum label of its class,
// and renumbers the resulting labels densely from First in ascending
// order. Background pixels are left untouched.
func Resolve(labels []Label, table *Table) {
	table.Close()
	canon := table.Canonical()
	seen := make(map[Label]bool)
	for i, l := range labels {
		if l == Background {
			continue
		}
		if c, ok := canon[l]; ok {
			l = c
		}
		labels[i] = l
		seen[l] = true
	}
	distinct := make([]Label, 0, len(seen))
	for l := range seen {
		distinct = append(distinct, l)
	}
	sort.Slice(distinct, func(i, j int) bool { return distinct[i] < distinct[j] })
	dense := make(map[Label]Label, len(distinct))
	for i, l := range distinct {
		dense[l] = First + Label(i)
	}
	for i, l := range labels {
		if l != Background {
			labels[i] = dense[l]
		}
	}
}

// Sequential labels the binary image pix of the provided dimensions.
func Sequential(pix []uint8, width, height int) []Label {
	if t := classify(pix); t != nontrivial {
		return t.labels(len(pix))
	}
	labels, table := Scan(pix, width, height, First)
	Resolve(labels, table)
	return labels
}

// Distributed labels the root's binary image pix over the ranks of c.
// The pix, width, and height arguments are ignored on non-root ranks.
// The root returns the labels; other ranks return nil.
func Distributed(ctx context.Context, c comm.Comm, root int, pix []uint8, width, height int) ([]Label, error) {
	cx := c.Context()
	var header []int64
	if cx.IsRoot(root) {
		if n, ok := Pixels(int64(width), int64(height)); !ok || len(pix) != n {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("label.Distributed: %d pixels for a %dx%d image", len(pix), width, height))
		}
		header = []int64{int64(width), int64(height), int64(classify(pix))}
	}
	header, err := comm.BcastSlice(ctx, c, root, header)
	if err != nil {
		return nil, err
	}
	if len(header) != 3 {
		return nil, errors.E(errors.Integrity, "label.Distributed: malformed header")
	}
	width, height = int(header[0]), int(header[1])
	if t := trivial(header[2]); t != nontrivial {
		if !cx.IsRoot(root) {
			return nil, nil
		}
		return t.labels(width * height), nil
	}
	d := partition.Rows(height, width, cx.Size)
	local, err := comm.Scatterv(ctx, c, root, d, pix)
	if err != nil {
		return nil, err
	}
	labels, table := Scan(local, width, d.Rows(cx.Rank), First+Label(d.Offsets[cx.Rank]))
	enc, err := table.MarshalBinary()
	if err != nil {
		return nil, err
	}
	encs, err := comm.GatherBytes(ctx, c, root, enc)
	if err != nil {
		return nil, err
	}
	all, err := comm.Gatherv(ctx, c, root, d, labels)
	if err != nil || !cx.IsRoot(root) {
		return nil, err
	}
	global := NewTable()
	for rank, enc := range encs {
		t := NewTable()
		if err := t.UnmarshalBinary(enc); err != nil {
			return nil, errors.E(fmt.Sprintf("label.Distributed: table from rank %d", rank), err)
		}
		global.Union(t)
	}
	for rank := 1; rank < d.NonEmpty(); rank++ {
		y := d.RowOffset(rank)
		mergeSeam(global, all[(y-1)*width:y*width], all[y*width:(y+1)*width])
	}
	Resolve(all, global)
	return all, nil
}
