// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/spmd/partition"
)

// Tags reserved for collectives. Each collective uses its own tag so
// that a collective can never consume a message of another. Tags in
// [-63, -1] belong to this package; collectives built elsewhere use
// tags below -63.
const (
	tagBcast Tag = -1 - iota
	tagScatter
	tagGather
	tagGatherBytes
	tagAgree
)

// Bcast distributes the root's msg to every rank. The msg argument
// is ignored on non-root ranks; every rank returns the root's
// message.
func Bcast(ctx context.Context, c Comm, root int, msg []byte) ([]byte, error) {
	if err := checkRank(c, root); err != nil {
		return nil, err
	}
	cx := c.Context()
	if cx.Rank != root {
		return c.Recv(ctx, root, tagBcast)
	}
	for rank := 0; rank < cx.Size; rank++ {
		if rank == root {
			continue
		}
		if err := c.Send(ctx, rank, tagBcast, msg); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// BcastSlice broadcasts the root's vals to every rank.
func BcastSlice[T Number](ctx context.Context, c Comm, root int, vals []T) ([]T, error) {
	var msg []byte
	if c.Context().IsRoot(root) {
		msg = Encode(vals)
	}
	msg, err := Bcast(ctx, c, root, msg)
	if err != nil {
		return nil, err
	}
	return Decode[T](msg)
}

// Scatterv delivers to each rank r its chunk of the root's buffer,
// buf[d.Offsets[r]:d.Offsets[r]+d.Counts[r]]. The buf argument is
// ignored on non-root ranks. On the root, len(buf) must equal
// d.Total(). A partition with no elements delivers empty chunks.
func Scatterv[T Number](ctx context.Context, c Comm, root int, d partition.Descriptor, buf []T) ([]T, error) {
	if err := checkCollective(c, root, d); err != nil {
		return nil, err
	}
	cx := c.Context()
	if cx.Rank != root {
		local, err := RecvSlice[T](ctx, c, root, tagScatter)
		if err != nil {
			return nil, err
		}
		if got, want := len(local), d.Counts[cx.Rank]; got != want {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("comm.Scatterv: received %d elements, expected %d", got, want))
		}
		return local, nil
	}
	if got, want := len(buf), d.Total(); got != want {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("comm.Scatterv: buffer has %d elements, partition covers %d", got, want))
	}
	for rank := 0; rank < cx.Size; rank++ {
		if rank == root {
			continue
		}
		if err := SendSlice(ctx, c, rank, tagScatter, partition.Chunk(d, rank, buf)); err != nil {
			return nil, err
		}
	}
	local := make([]T, d.Counts[root])
	copy(local, partition.Chunk(d, root, buf))
	return local, nil
}

// Gatherv is the inverse of Scatterv: the root receives the
// concatenation, in rank order, of every rank's local buffer. Each
// rank r must supply exactly d.Counts[r] elements. Non-root ranks
// return a nil slice.
func Gatherv[T Number](ctx context.Context, c Comm, root int, d partition.Descriptor, local []T) ([]T, error) {
	if err := checkCollective(c, root, d); err != nil {
		return nil, err
	}
	cx := c.Context()
	if got, want := len(local), d.Counts[cx.Rank]; got != want {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("comm.Gatherv: rank %d supplied %d elements, expected %d", cx.Rank, got, want))
	}
	if cx.Rank != root {
		return nil, SendSlice(ctx, c, root, tagGather, local)
	}
	out := make([]T, d.Total())
	for rank := 0; rank < cx.Size; rank++ {
		chunk := partition.Chunk(d, rank, out)
		if rank == root {
			copy(chunk, local)
			continue
		}
		vals, err := RecvSlice[T](ctx, c, rank, tagGather)
		if err != nil {
			return nil, err
		}
		if got, want := len(vals), len(chunk); got != want {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("comm.Gatherv: rank %d sent %d elements, expected %d", rank, got, want))
		}
		copy(chunk, vals)
	}
	return out, nil
}

// Allgatherv gathers every rank's chunk and distributes the
// concatenation to all ranks.
func Allgatherv[T Number](ctx context.Context, c Comm, d partition.Descriptor, local []T) ([]T, error) {
	all, err := Gatherv(ctx, c, Root, d, local)
	if err != nil {
		return nil, err
	}
	return BcastSlice(ctx, c, Root, all)
}

// GatherBytes collects one variable-length message from every rank
// on the root, indexed by rank. Non-root ranks return nil.
func GatherBytes(ctx context.Context, c Comm, root int, msg []byte) ([][]byte, error) {
	if err := checkRank(c, root); err != nil {
		return nil, err
	}
	cx := c.Context()
	if cx.Rank != root {
		return nil, c.Send(ctx, root, tagGatherBytes, msg)
	}
	msgs := make([][]byte, cx.Size)
	for rank := range msgs {
		if rank == root {
			msgs[rank] = msg
			continue
		}
		var err error
		if msgs[rank], err = c.Recv(ctx, rank, tagGatherBytes); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

// Barrier returns only after every rank of the group has entered it.
func Barrier(ctx context.Context, c Comm) error {
	if _, err := GatherBytes(ctx, c, Root, nil); err != nil {
		return err
	}
	_, err := Bcast(ctx, c, Root, nil)
	return err
}

// Agree computes the logical AND of every rank's verdict and returns
// it on every rank. It is used so that all ranks take the same
// branch after a local check, such as task validation, that may
// disagree across ranks.
func Agree(ctx context.Context, c Comm, root int, ok bool) (bool, error) {
	if err := checkRank(c, root); err != nil {
		return false, err
	}
	cx := c.Context()
	var verdict byte
	if ok {
		verdict = 1
	}
	if cx.Rank != root {
		if err := c.Send(ctx, root, tagAgree, []byte{verdict}); err != nil {
			return false, err
		}
	} else {
		for rank := 0; rank < cx.Size; rank++ {
			if rank == root {
				continue
			}
			msg, err := c.Recv(ctx, rank, tagAgree)
			if err != nil {
				return false, err
			}
			if len(msg) != 1 {
				return false, errors.E(errors.Integrity, "comm.Agree: malformed verdict")
			}
			verdict &= msg[0]
		}
	}
	msg, err := Bcast(ctx, c, root, []byte{verdict})
	if err != nil {
		return false, err
	}
	if len(msg) != 1 {
		return false, errors.E(errors.Integrity, "comm.Agree: malformed verdict")
	}
	return msg[0] == 1, nil
}

func checkCollective(c Comm, root int, d partition.Descriptor) error {
	if err := checkRank(c, root); err != nil {
		return err
	}
	if got, want := d.Len(), c.Context().Size; got != want {
		return errors.E(errors.Invalid, fmt.Sprintf("comm: partition has %d ranks, group has %d", got, want))
	}
	return nil
}
