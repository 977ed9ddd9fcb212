// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/spmd/partition"
	"github.com/grailbio/testutil/assert"
)

const maxProcs = 8

// forEachSize runs test once for every group size in [1, maxProcs],
// concurrently.
func forEachSize(t *testing.T, test func(size int) error) {
	t.Helper()
	err := traverse.Limit(maxProcs).Each(maxProcs, func(i int) error {
		if err := test(i + 1); err != nil {
			return fmt.Errorf("size %d: %v", i+1, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSendRecvOrder(t *testing.T) {
	ctx := context.Background()
	const N = 100
	err := Run(ctx, 2, func(ctx context.Context, c Comm) error {
		if c.Context().Rank == 0 {
			for i := 0; i < N; i++ {
				if err := SendSlice(ctx, c, 1, 7, []int64{int64(i)}); err != nil {
					return err
				}
				if err := SendSlice(ctx, c, 1, 8, []int64{int64(-i)}); err != nil {
					return err
				}
			}
			return nil
		}
		// Drain tag 8 first: tags are independent queues.
		for i := 0; i < N; i++ {
			vals, err := RecvSlice[int64](ctx, c, 0, 8)
			if err != nil {
				return err
			}
			if got, want := vals[0], int64(-i); got != want {
				return fmt.Errorf("tag 8: got %v, want %v", got, want)
			}
		}
		for i := 0; i < N; i++ {
			vals, err := RecvSlice[int64](ctx, c, 0, 7)
			if err != nil {
				return err
			}
			if got, want := vals[0], int64(i); got != want {
				return fmt.Errorf("tag 7: got %v, want %v", got, want)
			}
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestSendCopies(t *testing.T) {
	ctx := context.Background()
	err := Run(ctx, 2, func(ctx context.Context, c Comm) error {
		if c.Context().Rank == 0 {
			msg := []byte("hello")
			if err := c.Send(ctx, 1, 0, msg); err != nil {
				return err
			}
			msg[0] = 'j'
			return nil
		}
		msg, err := c.Recv(ctx, 0, 0)
		if err != nil {
			return err
		}
		if got, want := string(msg), "hello"; got != want {
			return fmt.Errorf("got %q, want %q", got, want)
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestInvalidRank(t *testing.T) {
	ctx := context.Background()
	err := Run(ctx, 3, func(ctx context.Context, c Comm) error {
		if c.Context().Rank != 0 {
			return nil
		}
		return c.Send(ctx, 3, 0, nil)
	})
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}

func TestFailureUnblocks(t *testing.T) {
	ctx := context.Background()
	failure := errors.New("rank failed")
	err := Run(ctx, 4, func(ctx context.Context, c Comm) error {
		if c.Context().Rank == 3 {
			return failure
		}
		// Every other rank waits for a message that never comes.
		_, err := c.Recv(ctx, 3, 0)
		return err
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestGroupReuse(t *testing.T) {
	var (
		ctx = context.Background()
		g   = NewGroup(4)
	)
	for i := 0; i < 3; i++ {
		err := g.Run(ctx, func(ctx context.Context, c Comm) error {
			return Barrier(ctx, c)
		})
		assert.NoError(t, err)
	}
	stats := g.Stats()
	// Each barrier is a gather (3 messages) and a broadcast (3 messages).
	assert.EQ(t, stats["messages"], int64(3*6))
}

func TestBcast(t *testing.T) {
	forEachSize(t, func(size int) error {
		return Run(context.Background(), size, func(ctx context.Context, c Comm) error {
			root := size - 1
			var vals []float64
			if c.Context().IsRoot(root) {
				vals = []float64{1, 2.5, -3}
			}
			got, err := BcastSlice(ctx, c, root, vals)
			if err != nil {
				return err
			}
			if want := []float64{1, 2.5, -3}; !reflect.DeepEqual(got, want) {
				return fmt.Errorf("rank %d: got %v, want %v", c.Context().Rank, got, want)
			}
			return nil
		})
	})
}

func TestScatterGather(t *testing.T) {
	for _, total := range []int{0, 1, 5, 100, 1001} {
		buf := make([]int32, total)
		for i := range buf {
			buf[i] = int32(i * 3)
		}
		forEachSize(t, func(size int) error {
			d := partition.New(total, size)
			return Run(context.Background(), size, func(ctx context.Context, c Comm) error {
				rank := c.Context().Rank
				var in []int32
				if rank == Root {
					in = buf
				}
				local, err := Scatterv(ctx, c, Root, d, in)
				if err != nil {
					return err
				}
				if want := partition.Chunk(d, rank, buf); len(local) != len(want) || (len(want) > 0 && !reflect.DeepEqual(local, want)) {
					return fmt.Errorf("rank %d: got %v, want %v", rank, local, want)
				}
				out, err := Gatherv(ctx, c, Root, d, local)
				if err != nil {
					return err
				}
				if rank != Root {
					if out != nil {
						return fmt.Errorf("rank %d: non-root received %v", rank, out)
					}
					return nil
				}
				if len(out) != total || (total > 0 && !reflect.DeepEqual(out, buf)) {
					return fmt.Errorf("total %d: gather mismatch", total)
				}
				return nil
			})
		})
	}
}

func TestGathervWrongCount(t *testing.T) {
	d := partition.New(4, 2)
	err := Run(context.Background(), 2, func(ctx context.Context, c Comm) error {
		_, err := Gatherv(ctx, c, Root, d, []int64{1})
		return err
	})
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
}

func TestAllgatherv(t *testing.T) {
	forEachSize(t, func(size int) error {
		d := partition.New(10, size)
		return Run(context.Background(), size, func(ctx context.Context, c Comm) error {
			begin, end := d.Range(c.Context().Rank)
			local := make([]uint16, 0, end-begin)
			for i := begin; i < end; i++ {
				local = append(local, uint16(i))
			}
			all, err := Allgatherv(ctx, c, d, local)
			if err != nil {
				return err
			}
			for i, v := range all {
				if int(v) != i {
					return fmt.Errorf("rank %d: got %v", c.Context().Rank, all)
				}
			}
			return nil
		})
	})
}

func TestGatherBytes(t *testing.T) {
	forEachSize(t, func(size int) error {
		return Run(context.Background(), size, func(ctx context.Context, c Comm) error {
			rank := c.Context().Rank
			msgs, err := GatherBytes(ctx, c, Root, []byte(fmt.Sprint("rank", rank)))
			if err != nil {
				return err
			}
			if rank != Root {
				return nil
			}
			for i, msg := range msgs {
				if got, want := string(msg), fmt.Sprint("rank", i); got != want {
					return fmt.Errorf("got %q, want %q", got, want)
				}
			}
			return nil
		})
	})
}

func TestAgree(t *testing.T) {
	forEachSize(t, func(size int) error {
		for dissenter := -1; dissenter < size; dissenter++ {
			dissenter := dissenter
			err := Run(context.Background(), size, func(ctx context.Context, c Comm) error {
				ok, err := Agree(ctx, c, Root, c.Context().Rank != dissenter)
				if err != nil {
					return err
				}
				if got, want := ok, dissenter < 0; got != want {
					return fmt.Errorf("dissenter %d rank %d: got %v, want %v", dissenter, c.Context().Rank, got, want)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func TestContext(t *testing.T) {
	c := Context{Rank: 2, Size: 4}
	assert.EQ(t, c.Valid(), true)
	assert.EQ(t, c.IsRoot(2), true)
	assert.EQ(t, c.String(), "2/4")
	assert.EQ(t, Context{Rank: 4, Size: 4}.Valid(), false)
}

func TestMailboxes(t *testing.T) {
	ctx := context.Background()
	m := NewMailboxes(2)
	assert.NoError(t, m.Put(ctx, 1, 0, 3, []byte("a")))
	assert.NoError(t, m.Put(ctx, 1, 0, 3, []byte("b")))
	assert.NoError(t, m.Put(ctx, 0, 1, 3, []byte("c")))
	msg, err := m.Get(ctx, 1, 0, 3)
	assert.NoError(t, err)
	if got, want := string(msg), "a"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := m.Put(ctx, 2, 0, 3, nil); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	if _, err := m.Get(ctx, -1, 0, 3); !errors.Is(errors.Invalid, err) {
		t.Errorf("expected invalid error, got %v", err)
	}
	n, err := m.Drain(ctx)
	assert.NoError(t, err)
	if got, want := n, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	ctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := m.Get(ctx, 1, 0, 3); err == nil {
		t.Error("expected error after drain")
	}
}
