// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stencil implements 3x3 convolution of images, both
// sequentially and distributed over a process group by rows. In the
// distributed form each rank holds a strip of rows padded with one
// halo row above and below; halo rows are filled by exchanging edge
// rows with the neighboring ranks, or by the image's border policy
// at the top and bottom of the image. Both forms compute every
// output pixel with the same arithmetic, so their results are
// identical.
package stencil

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
)

// An Image is a row-major grid of pixel values.
type Image struct {
	Width, Height int
	Pix           []float64
}

// NewImage returns a zero image of the provided dimensions.
func NewImage(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]float64, width*height)}
}

// FromBytes returns an image with 8-bit pixels pix.
func FromBytes(pix []uint8, width, height int) *Image {
	img := NewImage(width, height)
	for i, p := range pix {
		img.Pix[i] = float64(p)
	}
	return img
}

// At returns the pixel at column x, row y.
func (m *Image) At(x, y int) float64 {
	return m.Pix[y*m.Width+x]
}

// Set sets the pixel at column x, row y.
func (m *Image) Set(x, y int, v float64) {
	m.Pix[y*m.Width+x] = v
}

// Frame returns a copy of m embedded in a frame of zero pixels one
// pixel wide: the returned image has dimensions (Width+2)x(Height+2)
// and its pixel (x+1, y+1) is m's pixel (x, y).
func Frame(m *Image) *Image {
	framed := NewImage(m.Width+2, m.Height+2)
	for y := 0; y < m.Height; y++ {
		copy(framed.Pix[(y+1)*framed.Width+1:], m.Pix[y*m.Width:(y+1)*m.Width])
	}
	return framed
}

// A Kernel is a 3x3 convolution kernel, indexed [row][column].
type Kernel [3][3]float64

var (
	// Gaussian is the 1-2-1 binomial blur kernel.
	Gaussian = Kernel{
		{1.0 / 16, 2.0 / 16, 1.0 / 16},
		{2.0 / 16, 4.0 / 16, 2.0 / 16},
		{1.0 / 16, 2.0 / 16, 1.0 / 16},
	}
	// SobelX responds to horizontal gradients.
	SobelX = Kernel{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	}
	// SobelY responds to vertical gradients.
	SobelY = Kernel{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	}
	// Box is the 3x3 mean filter.
	Box = Kernel{
		{1.0 / 9, 1.0 / 9, 1.0 / 9},
		{1.0 / 9, 1.0 / 9, 1.0 / 9},
		{1.0 / 9, 1.0 / 9, 1.0 / 9},
	}
)

var kernels = map[string]Kernel{
	"gaussian": Gaussian,
	"sobelx":   SobelX,
	"sobely":   SobelY,
	"box":      Box,
}

// ParseKernel returns the kernel with the provided name.
func ParseKernel(name string) (Kernel, error) {
	k, ok := kernels[strings.ToLower(name)]
	if !ok {
		return Kernel{}, errors.E(errors.Invalid, fmt.Sprintf("stencil: unknown kernel %q", name))
	}
	return k, nil
}

// Border is the policy used to supply pixels outside of the image.
type Border int

const (
	// Clamp replicates the nearest edge pixel.
	Clamp Border = iota
	// Zero treats pixels outside the image as 0.
	Zero
)

// String returns the border policy's name.
func (b Border) String() string {
	switch b {
	case Clamp:
		return "clamp"
	case Zero:
		return "zero"
	default:
		return fmt.Sprintf("Border(%d)", int(b))
	}
}

// ParseBorder returns the border policy with the provided name.
func ParseBorder(name string) (Border, error) {
	switch strings.ToLower(name) {
	case "clamp":
		return Clamp, nil
	case "zero":
		return Zero, nil
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("stencil: unknown border policy %q", name))
}

// Convolve is the sequential reference convolution: it returns the
// convolution of every pixel of img with k, supplying pixels beyond
// the image edges according to border.
func Convolve(img *Image, k Kernel, border Border) *Image {
	w, h := img.Width, img.Height
	padded := make([]float64, (h+2)*w)
	copy(padded[w:], img.Pix)
	fillEdge(padded[:w], padded[w:2*w], border)
	fillEdge(padded[(h+1)*w:], padded[h*w:(h+1)*w], border)
	out := NewImage(w, h)
	convolveRows(out.Pix, padded, w, h, k, border)
	return out
}

// fillEdge fills a halo row from the adjacent image row according to
// the border policy.
func fillEdge(halo, edge []float64, border Border) {
	switch border {
	case Clamp:
		copy(halo, edge)
	default:
		for i := range halo {
			halo[i] = 0
		}
	}
}

// convolveRows convolves the rows rows of padded, which carries one
// halo row above and below them, into out. Columns beyond the left
// and right edges are supplied by the border policy.
func convolveRows(out, padded []float64, width, rows int, k Kernel, border Border) {
	for y := 0; y < rows; y++ {
		for x := 0; x < width; x++ {
			var sum float64
			for i := 0; i < 3; i++ {
				row := padded[(y+i)*width : (y+i+1)*width]
				for j := 0; j < 3; j++ {
					xx := x + j - 1
					var p float64
					switch {
					case xx >= 0 && xx < width:
						p = row[xx]
					case border == Clamp && xx < 0:
						p = row[0]
					case border == Clamp:
						p = row[width-1]
					}
					sum += k[i][j] * p
				}
			}
			out[y*width+x] = sum
		}
	}
}
