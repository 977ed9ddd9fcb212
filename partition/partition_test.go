// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package partition

import (
	"reflect"
	"testing"

	fuzz "github.com/google/gofuzz"
)

func checkInvariants(t *testing.T, d Descriptor, total, n int) {
	t.Helper()
	if got, want := d.Len(), n; got != want {
		t.Fatalf("total %d n %d: got %v ranks, want %v", total, n, got, want)
	}
	var sum int
	min, max := d.Counts[0], d.Counts[0]
	for i, c := range d.Counts {
		sum += c
		if c < min {
			min = c
		}
		if c > max {
			max = c
		}
		if i < n-1 {
			if got, want := d.Offsets[i]+c, d.Offsets[i+1]; got != want {
				t.Errorf("total %d n %d: rank %d ends at %d, next begins at %d", total, n, i, got, want)
			}
		}
	}
	if got, want := sum, total; got != want {
		t.Errorf("total %d n %d: counts sum to %v, want %v", total, n, got, want)
	}
	if got, want := d.Total(), total; got != want {
		t.Errorf("total %d n %d: got total %v, want %v", total, n, got, want)
	}
	if d.Offsets[0] != 0 {
		t.Errorf("total %d n %d: first offset %d", total, n, d.Offsets[0])
	}
	if max-min > 1 {
		t.Errorf("total %d n %d: unbalanced partition %v", total, n, d)
	}
}

func TestNew(t *testing.T) {
	d := New(10, 3)
	if got, want := d.Counts, []int{4, 3, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := d.Offsets, []int{0, 4, 7}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := d.String(), "0:[0,4) 1:[4,7) 2:[7,10)"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestMoreRanksThanElements(t *testing.T) {
	d := New(3, 5)
	if got, want := d.Counts, []int{1, 1, 1, 0, 0}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	for i := 3; i < 5; i++ {
		if got, want := d.Offsets[i], 3; got != want {
			t.Errorf("rank %d: got offset %v, want %v", i, got, want)
		}
	}
	if got, want := d.NonEmpty(), 3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	checkInvariants(t, New(0, 4), 0, 4)
}

func TestInvariants(t *testing.T) {
	fz := fuzz.NewWithSeed(12345)
	for i := 0; i < 1000; i++ {
		var total, n uint16
		fz.Fuzz(&total)
		fz.Fuzz(&n)
		nprocs := int(n%64) + 1
		checkInvariants(t, New(int(total), nprocs), int(total), nprocs)
	}
}

func TestRows(t *testing.T) {
	const width = 7
	d := Rows(5, width, 3)
	if got, want := d.Counts, []int{14, 14, 7}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := d.Offsets, []int{0, 14, 28}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	for rank, want := range []int{2, 2, 1} {
		if got := d.Rows(rank); got != want {
			t.Errorf("rank %d: got %v rows, want %v", rank, got, want)
		}
	}
	if got, want := d.RowOffset(2), 4; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := d.Total(), 35; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestChunk(t *testing.T) {
	buf := []int{0, 1, 2, 3, 4, 5, 6}
	d := New(len(buf), 3)
	var joined []int
	for rank := 0; rank < d.Len(); rank++ {
		joined = append(joined, Chunk(d, rank, buf)...)
	}
	if !reflect.DeepEqual(joined, buf) {
		t.Errorf("got %v, want %v", joined, buf)
	}
	if got, want := Chunk(d, 2, buf), []int{5, 6}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestInvalid(t *testing.T) {
	for _, test := range []struct{ total, n int }{{1, 0}, {-1, 2}} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("%v: expected panic", test)
				}
			}()
			New(test.total, test.n)
		}()
	}
}
