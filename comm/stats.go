// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/grailbio/base/data"
)

// Values is a snapshot of a group's traffic counters.
type Values map[string]int64

// String returns the values sorted by key. Byte counts are
// abbreviated.
func (v Values) String() string {
	var keys []string
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for i, key := range keys {
		if key == "bytes" {
			keys[i] = fmt.Sprintf("%s:%s", key, data.Size(v[key]))
		} else {
			keys[i] = fmt.Sprintf("%s:%d", key, v[key])
		}
	}
	return strings.Join(keys, " ")
}

// traffic counts the messages and bytes delivered by a group. Its
// counters are updated atomically by concurrent senders.
type traffic struct {
	messages, bytes int64
}

func (t *traffic) add(n int) {
	atomic.AddInt64(&t.messages, 1)
	atomic.AddInt64(&t.bytes, int64(n))
}

func (t *traffic) snapshot() Values {
	return Values{
		"messages": atomic.LoadInt64(&t.messages),
		"bytes":    atomic.LoadInt64(&t.bytes),
	}
}
