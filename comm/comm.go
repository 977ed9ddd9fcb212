// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package comm implements message passing among the ranks of a
	fixed-size process group. A program is written once and executed
	by every rank of the group (SPMD); ranks cooperate only by
	exchanging tagged messages through a Comm.

	All operations are blocking from the caller's point of view: Send
	returns once the destination owns the message, and Recv returns
	once a message from the requested source and tag is available.
	Messages between a pair of ranks that carry the same tag are
	delivered in the order they were sent, so successive collectives
	on the same Comm never interfere.

	Blocking operations take a context. When a rank of a Group fails,
	the contexts of all other ranks are canceled so that ranks blocked
	on a message that will never arrive return an error instead of
	hanging.

	Collective operations (Bcast, Scatterv, Gatherv, GatherBytes,
	Allgatherv, Barrier, Agree) are package functions over any Comm.
	They must be called by every rank of the group, in the same order.
*/
package comm

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// Root is the rank conventionally used to hold and reassemble global
// buffers.
const Root = 0

// A Context identifies a process within its group: its rank and the
// size of the group.
type Context struct {
	Rank, Size int
}

// Valid tells whether the context describes a rank within a
// non-empty group.
func (c Context) Valid() bool {
	return c.Size > 0 && c.Rank >= 0 && c.Rank < c.Size
}

// IsRoot tells whether the context's rank is the provided root.
func (c Context) IsRoot(root int) bool {
	return c.Rank == root
}

// String returns the context formatted as "rank/size".
func (c Context) String() string {
	return fmt.Sprintf("%d/%d", c.Rank, c.Size)
}

// A Tag disambiguates messages exchanged between the same pair of
// ranks. User tags must be non-negative; negative tags are reserved
// for collective operations.
type Tag int

// Comm is the point-to-point interface to a process group, as seen
// from a single rank.
type Comm interface {
	// Context returns the rank and group size of this endpoint.
	Context() Context

	// Send transmits msg to rank dst with the provided tag. The
	// caller may reuse msg once Send returns.
	Send(ctx context.Context, dst int, tag Tag, msg []byte) error

	// Recv returns the next message sent by rank src with the
	// provided tag, blocking until one arrives or the context is
	// done.
	Recv(ctx context.Context, src int, tag Tag) ([]byte, error)
}

// checkRank returns an error if rank is not a member of c's group.
func checkRank(c Comm, rank int) error {
	if size := c.Context().Size; rank < 0 || rank >= size {
		return errors.E(errors.Invalid, fmt.Sprintf("comm: rank %d out of range [0, %d)", rank, size))
	}
	return nil
}

// SendSlice encodes vals and sends them to dst.
func SendSlice[T Number](ctx context.Context, c Comm, dst int, tag Tag, vals []T) error {
	return c.Send(ctx, dst, tag, Encode(vals))
}

// RecvSlice receives and decodes a frame sent by SendSlice.
func RecvSlice[T Number](ctx context.Context, c Comm, src int, tag Tag) ([]T, error) {
	msg, err := c.Recv(ctx, src, tag)
	if err != nil {
		return nil, err
	}
	return Decode[T](msg)
}

// Printf logs a message on rank 0 only; other ranks are silent.
func Printf(c Comm, format string, v ...interface{}) {
	if c.Context().Rank != 0 {
		return
	}
	log.Printf(format, v...)
}

// AllPrintf logs a message on every rank, prefixed with the rank.
// It is mostly useful to debug communication itself.
func AllPrintf(c Comm, format string, v ...interface{}) {
	log.Printf(fmt.Sprintf("P%d: ", c.Context().Rank)+format, v...)
}
