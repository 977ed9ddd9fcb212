// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package label

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/base/errors"
)

// A Table records equivalences among labels: it maps each label to
// the set of labels known to denote the same component. The relation
// is kept symmetric; Close makes it transitive.
type Table struct {
	sets map[Label]map[Label]struct{}
}

// NewTable returns a new, empty table.
func NewTable() *Table {
	return &Table{sets: make(map[Label]map[Label]struct{})}
}

// Len returns the number of labels in the table.
func (t *Table) Len() int { return len(t.sets) }

// Merge records that labels a and b belong to the same component.
func (t *Table) Merge(a, b Label) {
	t.add(a, b)
	t.add(b, a)
}

func (t *Table) add(key, val Label) {
	set := t.sets[key]
	if set == nil {
		set = make(map[Label]struct{})
		t.sets[key] = set
	}
	if key != val {
		set[val] = struct{}{}
	}
}

// Union adds every equivalence recorded in u to t.
func (t *Table) Union(u *Table) {
	for key, set := range u.sets {
		t.add(key, key)
		for val := range set {
			t.Merge(key, val)
		}
	}
}

// Close closes the relation transitively: afterwards the set of every
// label holds every other label of its component.
func (t *Table) Close() {
	for _, class := range t.Classes() {
		for _, key := range class {
			set := make(map[Label]struct{}, len(class)-1)
			for _, val := range class {
				if val != key {
					set[val] = struct{}{}
				}
			}
			t.sets[key] = set
		}
	}
}

// Classes returns the equivalence classes of the table, each sorted,
// ordered by their minimum label.
func (t *Table) Classes() [][]Label {
	var (
		seen    = make(map[Label]bool, len(t.sets))
		classes [][]Label
	)
	for _, key := range t.keys() {
		if seen[key] {
			continue
		}
		seen[key] = true
		class := []Label{key}
		for i := 0; i < len(class); i++ {
			for val := range t.sets[class[i]] {
				if !seen[val] {
					seen[val] = true
					class = append(class, val)
				}
			}
		}
		sort.Slice(class, func(i, j int) bool { return class[i] < class[j] })
		classes = append(classes, class)
	}
	return classes
}

// Canonical returns the canonical label of each label in the table:
// the minimum label of its class.
func (t *Table) Canonical() map[Label]Label {
	canon := make(map[Label]Label, len(t.sets))
	for _, class := range t.Classes() {
		for _, l := range class {
			canon[l] = class[0]
		}
	}
	return canon
}

// keys returns the table's labels in ascending order.
func (t *Table) keys() []Label {
	keys := make([]Label, 0, len(t.sets))
	for key := range t.sets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// String returns the table formatted as "key:v1,v2;key:v1;...",
// keys and values in ascending order.
func (t *Table) String() string {
	var b strings.Builder
	for _, key := range t.keys() {
		fmt.Fprintf(&b, "%d:", key)
		for i, val := range t.values(key) {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprint(&b, val)
		}
		b.WriteByte(';')
	}
	return b.String()
}

func (t *Table) values(key Label) []Label {
	vals := make([]Label, 0, len(t.sets[key]))
	for val := range t.sets[key] {
		vals = append(vals, val)
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	return vals
}

// MarshalBinary encodes the table as a flat sequence of varints:
//
//	nkeys (key count value...)...
//
// with keys, and the values of each key, in ascending order. Equal
// tables have equal encodings.
func (t *Table) MarshalBinary() ([]byte, error) {
	var (
		b   []byte
		buf [binary.MaxVarintLen64]byte
	)
	put := func(v uint64) {
		n := binary.PutUvarint(buf[:], v)
		b = append(b, buf[:n]...)
	}
	put(uint64(len(t.sets)))
	for _, key := range t.keys() {
		vals := t.values(key)
		put(uint64(key))
		put(uint64(len(vals)))
		for _, val := range vals {
			put(uint64(val))
		}
	}
	return b, nil
}

// UnmarshalBinary replaces the contents of t with the table encoded
// in p by MarshalBinary. Malformed encodings return an error of kind
// errors.Integrity.
func (t *Table) UnmarshalBinary(p []byte) error {
	get := func() (Label, error) {
		v, n := binary.Uvarint(p)
		if n <= 0 {
			return 0, errors.E(errors.Integrity, "label: truncated table")
		}
		if v > uint64(^Label(0)) {
			return 0, errors.E(errors.Integrity, fmt.Sprintf("label: value %d overflows label", v))
		}
		p = p[n:]
		return Label(v), nil
	}
	nkeys, err := get()
	if err != nil {
		return err
	}
	sets := make(map[Label]map[Label]struct{})
	for i := Label(0); i < nkeys; i++ {
		key, err := get()
		if err != nil {
			return err
		}
		if _, ok := sets[key]; ok {
			return errors.E(errors.Integrity, fmt.Sprintf("label: duplicate key %d", key))
		}
		count, err := get()
		if err != nil {
			return err
		}
		set := make(map[Label]struct{})
		for j := Label(0); j < count; j++ {
			val, err := get()
			if err != nil {
				return err
			}
			set[val] = struct{}{}
		}
		sets[key] = set
	}
	if len(p) != 0 {
		return errors.E(errors.Integrity, fmt.Sprintf("label: %d trailing bytes after table", len(p)))
	}
	t.sets = sets
	return nil
}
