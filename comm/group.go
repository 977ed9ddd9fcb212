// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/sync/ctxsync"
	"golang.org/x/sync/errgroup"
)

// A Transport holds the messages delivered to the ranks of a group
// but not yet received. Messages queued for the same destination,
// source, and tag are returned in the order they were put.
type Transport interface {
	// Put queues msg for rank dst as sent by rank src with the
	// provided tag. The transport owns msg once Put returns.
	Put(ctx context.Context, dst, src int, tag Tag, msg []byte) error

	// Get returns the oldest message queued for rank dst from rank
	// src with the provided tag, waiting for one to arrive if
	// necessary. It returns the context's error if the context is
	// done first.
	Get(ctx context.Context, dst, src int, tag Tag) ([]byte, error)

	// Drain discards all queued messages, returning their number.
	Drain(ctx context.Context) (int, error)
}

// A Group is a process group whose ranks each run in their own
// goroutine and communicate only through the group's transport. A
// Group may be reused for any number of sequential runs, but runs
// may not overlap.
type Group struct {
	size      int
	transport Transport
	traffic   traffic

	mu      sync.Mutex
	running bool
}

// NewGroup returns a new group of the provided size whose messages
// are kept in memory. NewGroup panics if size < 1.
func NewGroup(size int) *Group {
	return NewTransportGroup(size, NewMailboxes(size))
}

// NewTransportGroup returns a new group of the provided size whose
// messages are carried by t. It panics if size < 1.
func NewTransportGroup(size int, t Transport) *Group {
	if size < 1 {
		log.Panicf("comm.NewGroup: size %d < 1", size)
	}
	return &Group{size: size, transport: t}
}

// Size returns the number of ranks in the group.
func (g *Group) Size() int { return g.size }

// Run invokes fn once for each rank of the group, concurrently, and
// waits for all invocations to return. Run returns the first error
// returned by any rank; when a rank fails, the context passed to the
// remaining ranks is canceled.
func (g *Group) Run(ctx context.Context, fn func(ctx context.Context, c Comm) error) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		log.Panicf("comm.Group: concurrent runs on a group of size %d", g.size)
	}
	g.running = true
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.running = false
		g.mu.Unlock()
	}()

	grp, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < g.size; rank++ {
		c := &endpoint{group: g, rank: rank}
		grp.Go(func() error {
			if err := fn(gctx, c); err != nil {
				return errors.E(fmt.Sprintf("rank %d", c.rank), err)
			}
			return nil
		})
	}
	err := grp.Wait()
	n, derr := g.transport.Drain(context.Background())
	switch {
	case derr != nil:
		log.Error.Printf("comm.Group: drain: %v", derr)
	case n > 0 && err == nil:
		log.Error.Printf("comm.Group: discarded %d undelivered messages", n)
	}
	return err
}

// Stats returns a snapshot of the messages and bytes delivered by
// the group so far.
func (g *Group) Stats() Values {
	return g.traffic.snapshot()
}

// String returns a summary of the group and its traffic.
func (g *Group) String() string {
	return fmt.Sprintf("group(%d) %s", g.size, g.Stats())
}

// Run is a convenience that creates a group of the provided size
// and runs fn on it.
func Run(ctx context.Context, size int, fn func(ctx context.Context, c Comm) error) error {
	return NewGroup(size).Run(ctx, fn)
}

// Mailboxes is an in-memory Transport with one mailbox per rank.
type Mailboxes struct {
	boxes []*mailbox
}

// NewMailboxes returns mailboxes for n ranks.
func NewMailboxes(n int) *Mailboxes {
	m := &Mailboxes{boxes: make([]*mailbox, n)}
	for i := range m.boxes {
		m.boxes[i] = newMailbox()
	}
	return m
}

func (m *Mailboxes) box(rank int) (*mailbox, error) {
	if rank < 0 || rank >= len(m.boxes) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("comm: no mailbox for rank %d", rank))
	}
	return m.boxes[rank], nil
}

// Put implements Transport.
func (m *Mailboxes) Put(ctx context.Context, dst, src int, tag Tag, msg []byte) error {
	box, err := m.box(dst)
	if err != nil {
		return err
	}
	box.put(mailboxKey{src, tag}, msg)
	return nil
}

// Get implements Transport.
func (m *Mailboxes) Get(ctx context.Context, dst, src int, tag Tag) ([]byte, error) {
	box, err := m.box(dst)
	if err != nil {
		return nil, err
	}
	return box.get(ctx, mailboxKey{src, tag})
}

// Drain implements Transport.
func (m *Mailboxes) Drain(ctx context.Context) (int, error) {
	var n int
	for _, box := range m.boxes {
		box.mu.Lock()
		for k, q := range box.queues {
			n += len(q)
			delete(box.queues, k)
		}
		box.mu.Unlock()
	}
	return n, nil
}

type mailboxKey struct {
	src int
	tag Tag
}

// A mailbox holds the messages delivered to a rank but not yet
// received, queued per source and tag.
type mailbox struct {
	mu     sync.Mutex
	cond   *ctxsync.Cond
	queues map[mailboxKey][][]byte
}

func newMailbox() *mailbox {
	m := &mailbox{queues: make(map[mailboxKey][][]byte)}
	m.cond = ctxsync.NewCond(&m.mu)
	return m
}

func (m *mailbox) put(key mailboxKey, msg []byte) {
	m.mu.Lock()
	m.queues[key] = append(m.queues[key], msg)
	m.cond.Broadcast()
	m.mu.Unlock()
}

// get returns the oldest message queued under key, waiting for one to
// arrive if necessary. It returns the context's error if the context
// is done first.
func (m *mailbox) get(ctx context.Context, key mailboxKey) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.queues[key]) == 0 {
		if err := m.cond.Wait(ctx); err != nil {
			return nil, err
		}
	}
	q := m.queues[key]
	msg := q[0]
	if len(q) == 1 {
		delete(m.queues, key)
	} else {
		m.queues[key] = q[1:]
	}
	return msg, nil
}

// An endpoint is a rank's view of a Group.
type endpoint struct {
	group *Group
	rank  int
}

func (e *endpoint) Context() Context {
	return Context{Rank: e.rank, Size: e.group.size}
}

func (e *endpoint) Send(ctx context.Context, dst int, tag Tag, msg []byte) error {
	if err := checkRank(e, dst); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p := make([]byte, len(msg))
	copy(p, msg)
	if err := e.group.transport.Put(ctx, dst, e.rank, tag, p); err != nil {
		return err
	}
	e.group.traffic.add(len(p))
	log.Debug.Printf("comm: %d -> %d tag %d: %d bytes", e.rank, dst, tag, len(p))
	return nil
}

func (e *endpoint) Recv(ctx context.Context, src int, tag Tag) ([]byte, error) {
	if err := checkRank(e, src); err != nil {
		return nil, err
	}
	return e.group.transport.Get(ctx, e.rank, src, tag)
}
