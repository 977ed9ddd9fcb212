// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/grailbio/base/errors"
	"github.com/spaolacci/murmur3"
	"golang.org/x/exp/constraints"
)

// Number is the set of element types that may be carried in a frame.
type Number interface {
	constraints.Integer | constraints.Float
}

// checksumSize is the size of the murmur3 trailer of each frame.
const checksumSize = 4

// Encode encodes a vector of numbers into a self-describing frame:
//
//	uvarint(len(vals)) | little-endian elements | murmur3(sum32)
//
// Elements are stored with their native size. The checksum covers
// everything that precedes it.
func Encode[T Number](vals []T) []byte {
	var (
		size  = elemSize[T]()
		float = isFloat[T]()
		b     = make([]byte, binary.MaxVarintLen64+len(vals)*size+checksumSize)
		n     = binary.PutUvarint(b, uint64(len(vals)))
	)
	for _, v := range vals {
		var u uint64
		switch {
		case float && size == 4:
			u = uint64(math.Float32bits(float32(v)))
		case float:
			u = math.Float64bits(float64(v))
		default:
			u = uint64(v)
		}
		for i := 0; i < size; i++ {
			b[n+i] = byte(u >> (8 * uint(i)))
		}
		n += size
	}
	binary.LittleEndian.PutUint32(b[n:], murmur3.Sum32(b[:n]))
	return b[:n+checksumSize]
}

// Decode decodes a frame produced by Encode. Frames that are
// truncated, have trailing data, or fail their checksum are rejected
// with an error of kind errors.Integrity.
func Decode[T Number](b []byte) ([]T, error) {
	if len(b) < checksumSize {
		return nil, errors.E(errors.Integrity, "comm: short frame")
	}
	body := b[:len(b)-checksumSize]
	if sum, want := murmur3.Sum32(body), binary.LittleEndian.Uint32(b[len(body):]); sum != want {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("comm: computed checksum %x but expected checksum %x", sum, want))
	}
	count, n := binary.Uvarint(body)
	if n <= 0 {
		return nil, errors.E(errors.Integrity, "comm: bad frame length")
	}
	size := elemSize[T]()
	if rest := uint64(len(body) - n); count > rest || rest != count*uint64(size) {
		return nil, errors.E(errors.Integrity,
			fmt.Sprintf("comm: frame holds %d bytes for %d elements of size %d", len(body)-n, count, size))
	}
	var (
		float = isFloat[T]()
		vals  = make([]T, count)
	)
	for i := range vals {
		var u uint64
		for j := 0; j < size; j++ {
			u |= uint64(body[n+j]) << (8 * uint(j))
		}
		n += size
		switch {
		case float && size == 4:
			vals[i] = T(math.Float32frombits(uint32(u)))
		case float:
			vals[i] = T(math.Float64frombits(u))
		default:
			vals[i] = T(u)
		}
	}
	return vals, nil
}

func elemSize[T Number]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// isFloat tells whether T is a floating point type: only those
// represent one half as a nonzero value.
func isFloat[T Number]() bool {
	half := 0.5
	return T(half) != 0
}
