// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package reduce

import "fmt"

// A Topology places a rank in the binary reduction tree of a group.
// The tree is laid out level by level over rank positions relative
// to the root: position 0 is the root, positions 1 and 2 form level
// 1, positions 3 through 6 form level 2, and so on. The children of
// position p are 2p+1 and 2p+2.
//
// Topology stores no links: parents and children are computed in
// closed form from the rank, the group size, and the root.
type Topology struct {
	Rank, Size, Root int
}

// LevelIndex returns the position of the first node of level n:
// 2^n - 1.
func LevelIndex(n int) int {
	return 1<<uint(n) - 1
}

// Position returns the rank's position relative to the root.
func (t Topology) Position() int {
	return (t.Rank - t.Root + t.Size) % t.Size
}

// Level returns the tree level of the rank; the root is at level 0.
func (t Topology) Level() int {
	pos := t.Position()
	level := 0
	for LevelIndex(level+1) <= pos {
		level++
	}
	return level
}

// Parent returns the rank of the parent, or -1 for the root.
func (t Topology) Parent() int {
	if t.Rank == t.Root {
		return -1
	}
	return (((t.Rank+t.Size-1-t.Root)%t.Size)/2 + t.Root) % t.Size
}

// Begin returns the rank of the first child, or -1 if the rank is a
// leaf.
func (t Topology) Begin() int {
	level := t.Level()
	first := LevelIndex(level+1) + 2*(t.Position()-LevelIndex(level))
	if first >= t.Size {
		return -1
	}
	return (first + t.Root) % t.Size
}

// Children returns the ranks of the rank's children, at most two.
func (t Topology) Children() []int {
	begin := t.Begin()
	if begin < 0 {
		return nil
	}
	children := []int{begin}
	if second := t.Position()*2 + 2; second < t.Size {
		children = append(children, (second+t.Root)%t.Size)
	}
	return children
}

// String returns a description of the rank's place in the tree.
func (t Topology) String() string {
	return fmt.Sprintf("rank %d (level %d): parent %d children %v", t.Rank, t.Level(), t.Parent(), t.Children())
}
