// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stencil

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/spmd/comm"
	"github.com/grailbio/spmd/partition"
)

// Halo exchange tags. A row sent to the rank above travels with
// tagUp; a row sent to the rank below travels with tagDown.
const (
	tagUp   comm.Tag = -72
	tagDown comm.Tag = -73
)

// Exchange fills the halo rows of the calling rank's padded strip.
// The strip holds d.Rows(rank) rows of width d.Width(), preceded and
// followed by one halo row. Each rank sends its first row to the rank
// above and its last row to the rank below, and receives their
// adjacent rows into its halo. The first rank, and the last rank
// holding rows, fill their outer halo rows by the border policy
// instead. Ranks without rows take no part in the exchange.
func Exchange(ctx context.Context, c comm.Comm, d partition.Descriptor, padded []float64, border Border) error {
	var (
		rank  = c.Context().Rank
		rows  = d.Rows(rank)
		width = d.Width()
	)
	if rows == 0 {
		return nil
	}
	if got, want := len(padded), (rows+2)*width; got != want {
		return errors.E(errors.Invalid, fmt.Sprintf("stencil.Exchange: padded strip has %d pixels, expected %d", got, want))
	}
	var (
		top    = padded[:width]
		first  = padded[width : 2*width]
		last   = padded[rows*width : (rows+1)*width]
		bottom = padded[(rows+1)*width:]
		up     = rank > 0
		down   = rank+1 < d.NonEmpty()
	)
	// Sends complete without waiting for the matching receive, so
	// both directions may be posted before either is received.
	if up {
		if err := comm.SendSlice(ctx, c, rank-1, tagUp, first); err != nil {
			return err
		}
	}
	if down {
		if err := comm.SendSlice(ctx, c, rank+1, tagDown, last); err != nil {
			return err
		}
	}
	if up {
		if err := recvRow(ctx, c, rank-1, tagDown, top); err != nil {
			return err
		}
	} else {
		fillEdge(top, first, border)
	}
	if down {
		if err := recvRow(ctx, c, rank+1, tagUp, bottom); err != nil {
			return err
		}
	} else {
		fillEdge(bottom, last, border)
	}
	return nil
}

func recvRow(ctx context.Context, c comm.Comm, src int, tag comm.Tag, halo []float64) error {
	row, err := comm.RecvSlice[float64](ctx, c, src, tag)
	if err != nil {
		return err
	}
	if len(row) != len(halo) {
		return errors.E(errors.Integrity, fmt.Sprintf("stencil: rank %d sent a halo row of %d pixels, expected %d", src, len(row), len(halo)))
	}
	copy(halo, row)
	return nil
}

// Distributed convolves the root's img with k over the ranks of c.
// The img argument is ignored on non-root ranks. The root broadcasts
// the image dimensions, scatters its rows, and every rank convolves
// its strip after a halo exchange; the strips are then gathered back
// on the root, which returns the convolved image. Non-root ranks
// return nil. The result is identical to Convolve(img, k, border).
func Distributed(ctx context.Context, c comm.Comm, root int, img *Image, k Kernel, border Border) (*Image, error) {
	cx := c.Context()
	var dims []int64
	if cx.IsRoot(root) {
		dims = []int64{int64(img.Width), int64(img.Height)}
	}
	dims, err := comm.BcastSlice(ctx, c, root, dims)
	if err != nil {
		return nil, err
	}
	if len(dims) != 2 {
		return nil, errors.E(errors.Integrity, "stencil.Distributed: malformed dimensions")
	}
	width, height := int(dims[0]), int(dims[1])
	if width < 1 || height < 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("stencil.Distributed: invalid dimensions %dx%d", width, height))
	}
	d := partition.Rows(height, width, cx.Size)
	var pix []float64
	if cx.IsRoot(root) {
		pix = img.Pix
	}
	local, err := comm.Scatterv(ctx, c, root, d, pix)
	if err != nil {
		return nil, err
	}
	rows := d.Rows(cx.Rank)
	var out []float64
	if rows > 0 {
		padded := make([]float64, (rows+2)*width)
		copy(padded[width:], local)
		if err := Exchange(ctx, c, d, padded, border); err != nil {
			return nil, err
		}
		out = make([]float64, rows*width)
		convolveRows(out, padded, width, rows, k, border)
	}
	all, err := comm.Gatherv(ctx, c, root, d, out)
	if err != nil || !cx.IsRoot(root) {
		return nil, err
	}
	return &Image{Width: width, Height: height, Pix: all}, nil
}
