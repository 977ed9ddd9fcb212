// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package machine implements a comm.Transport whose mailboxes are
// hosted on bigmachine machines. Ranks still run in the calling
// process, but every message is put to and taken from its
// destination's mailbox by machine RPC.
//
// Machines are started on a bigmachine.B; with bigmachine.Local each
// machine is a separate process running the same binary, so
// bigmachine.Start must be called early in main.
package machine

import (
	"context"
	"encoding/gob"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/spmd/comm"
)

func init() {
	gob.Register(new(mailboxService))
}

// message is the argument of Mailbox.Put.
type message struct {
	Dst, Src int
	Tag      comm.Tag
	Data     []byte
}

// address is the argument of Mailbox.Get.
type address struct {
	Dst, Src int
	Tag      comm.Tag
}

// mailboxService is the bigmachine service that hosts the mailboxes
// of a group on a machine.
type mailboxService struct {
	// Ranks is the size of the group.
	Ranks int

	boxes *comm.Mailboxes
}

func (s *mailboxService) Init(b *bigmachine.B) error {
	if s.Ranks < 1 {
		return errors.E(errors.Invalid, fmt.Sprintf("machine: %d ranks", s.Ranks))
	}
	s.boxes = comm.NewMailboxes(s.Ranks)
	return nil
}

// Put queues a message.
func (s *mailboxService) Put(ctx context.Context, m message, _ *struct{}) error {
	return s.boxes.Put(ctx, m.Dst, m.Src, m.Tag, m.Data)
}

// Get returns the next message for an address, blocking until one
// arrives.
func (s *mailboxService) Get(ctx context.Context, a address, data *[]byte) (err error) {
	*data, err = s.boxes.Get(ctx, a.Dst, a.Src, a.Tag)
	return
}

// Drain discards the machine's queued messages.
func (s *mailboxService) Drain(ctx context.Context, _ struct{}, n *int) (err error) {
	*n, err = s.boxes.Drain(ctx)
	return
}

// Transport carries the messages of a group of fixed size through
// mailboxes hosted on a set of machines. The mailbox of rank r lives
// on machine r modulo the number of machines.
type Transport struct {
	size     int
	machines []*bigmachine.Machine
}

// Start starts n machines on b that together host the mailboxes of a
// group of the provided size, and waits for them to run. Start fails
// if any machine fails to start.
func Start(ctx context.Context, b *bigmachine.B, size, n int) (*Transport, error) {
	if size < 1 || n < 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("machine: cannot host %d ranks on %d machines", size, n))
	}
	machines, err := b.Start(ctx, n, bigmachine.Services{
		"Mailbox": &mailboxService{Ranks: size},
	})
	if err != nil {
		return nil, errors.E("machine: start", err)
	}
	for _, m := range machines {
		<-m.Wait(bigmachine.Running)
		if err := m.Err(); err != nil {
			for _, m := range machines {
				m.Cancel()
			}
			return nil, errors.E(errors.Unavailable, fmt.Sprintf("machine %s failed to start", m.Addr), err)
		}
		log.Printf("machine %s is ready", m.Addr)
	}
	return &Transport{size: size, machines: machines}, nil
}

// Machines returns the number of machines hosting mailboxes.
func (t *Transport) Machines() int { return len(t.machines) }

func (t *Transport) host(rank int) (*bigmachine.Machine, error) {
	if rank < 0 || rank >= t.size {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("machine: no mailbox for rank %d", rank))
	}
	return t.machines[rank%len(t.machines)], nil
}

// Put implements comm.Transport.
func (t *Transport) Put(ctx context.Context, dst, src int, tag comm.Tag, msg []byte) error {
	m, err := t.host(dst)
	if err != nil {
		return err
	}
	return m.Call(ctx, "Mailbox.Put", message{dst, src, tag, msg}, nil)
}

// Get implements comm.Transport.
func (t *Transport) Get(ctx context.Context, dst, src int, tag comm.Tag) ([]byte, error) {
	m, err := t.host(dst)
	if err != nil {
		return nil, err
	}
	var data []byte
	if err := m.Call(ctx, "Mailbox.Get", address{dst, src, tag}, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// Drain implements comm.Transport.
func (t *Transport) Drain(ctx context.Context) (int, error) {
	var total int
	for _, m := range t.machines {
		var n int
		if err := m.Call(ctx, "Mailbox.Drain", struct{}{}, &n); err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
