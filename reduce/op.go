// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package reduce

import (
	"fmt"
	"math"
	"strings"
	"unsafe"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/spmd/comm"
)

// Op is a commutative, associative binary reduction operator.
type Op int

const (
	// Sum adds values. Integer sums wrap on overflow.
	Sum Op = iota
	// Prod multiplies values.
	Prod
	// Min selects the smallest value.
	Min
	// Max selects the largest value.
	Max
	// LAnd is logical conjunction: the result is 1 if both operands
	// are nonzero and 0 otherwise.
	LAnd
	// LOr is logical disjunction.
	LOr
	// LXor is logical exclusive or.
	LXor
	// BAnd is bitwise and. It is defined only on integers, as are
	// BOr and BXor.
	BAnd
	BOr
	BXor

	maxOp
)

var ops = [...]struct {
	name, symbol string
}{
	Sum:  {"sum", "+"},
	Prod: {"prod", "*"},
	Min:  {"min", "min"},
	Max:  {"max", "max"},
	LAnd: {"land", "&&"},
	LOr:  {"lor", "||"},
	LXor: {"lxor", "^^"},
	BAnd: {"band", "&"},
	BOr:  {"bor", "|"},
	BXor: {"bxor", "^"},
}

// String returns the operator's name.
func (op Op) String() string {
	if op < 0 || op >= maxOp {
		return fmt.Sprintf("Op(%d)", int(op))
	}
	return ops[op].name
}

// Bitwise tells whether op operates on the bits of its operands.
func (op Op) Bitwise() bool {
	return op == BAnd || op == BOr || op == BXor
}

// ParseOp returns the operator named by s, which may be either the
// operator's name (e.g., "sum") or its symbol (e.g., "+").
func ParseOp(s string) (Op, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for op := Op(0); op < maxOp; op++ {
		if s == ops[op].name || s == ops[op].symbol {
			return op, nil
		}
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("reduce: unknown operator %q", s))
}

// Check returns an error if op cannot be applied to values of type T.
func Check[T comm.Number](op Op) error {
	if op < 0 || op >= maxOp {
		return errors.E(errors.Invalid, fmt.Sprintf("reduce: invalid operator %d", int(op)))
	}
	if op.Bitwise() && isFloat[T]() {
		var zero T
		return errors.E(errors.NotSupported, fmt.Sprintf("reduce: operator %s not defined on %T", op, zero))
	}
	return nil
}

// Apply combines a and b with op. Apply panics if op is a bitwise
// operator and T is a floating point type; use Check to test this
// ahead of time.
func Apply[T comm.Number](op Op, a, b T) T {
	switch op {
	case Sum:
		return a + b
	case Prod:
		return a * b
	case Min:
		if b < a {
			return b
		}
		return a
	case Max:
		if b > a {
			return b
		}
		return a
	case LAnd:
		return truth[T](a != 0 && b != 0)
	case LOr:
		return truth[T](a != 0 || b != 0)
	case LXor:
		return truth[T]((a != 0) != (b != 0))
	case BAnd, BOr, BXor:
		if isFloat[T]() {
			panic(fmt.Sprintf("reduce: bitwise operator %s applied to %T", op, a))
		}
		// Conversion through uint64 sign-extends signed operands and
		// truncates back; the low bits are exactly those of the
		// native operation.
		x, y := uint64(a), uint64(b)
		switch op {
		case BAnd:
			return T(x & y)
		case BOr:
			return T(x | y)
		default:
			return T(x ^ y)
		}
	default:
		panic(fmt.Sprintf("reduce: invalid operator %d", int(op)))
	}
}

// Identity returns the identity element of op over T: the value v
// for which Apply(op, v, x) == x for every x.
func Identity[T comm.Number](op Op) T {
	switch op {
	case Sum, LOr, LXor, BOr, BXor:
		return 0
	case Prod, LAnd:
		return 1
	case BAnd:
		ones := ^uint64(0)
		return T(ones)
	case Min:
		return maxValue[T]()
	case Max:
		return minValue[T]()
	default:
		panic(fmt.Sprintf("reduce: invalid operator %d", int(op)))
	}
}

// Fold is the sequential reference reduction: it combines vals from
// left to right. Fold of an empty slice returns op's identity.
func Fold[T comm.Number](op Op, vals []T) T {
	if len(vals) == 0 {
		return Identity[T](op)
	}
	acc := normalize(op, vals[0])
	for _, v := range vals[1:] {
		acc = Apply(op, acc, v)
	}
	return acc
}

// foldInto combines src into dst, element-wise.
func foldInto[T comm.Number](op Op, dst, src []T) {
	for i := range dst {
		dst[i] = Apply(op, dst[i], src[i])
	}
}

// normalize maps v to 0 or 1 for the logical operators, so that a
// single operand reduces to the same value as a combination.
func normalize[T comm.Number](op Op, v T) T {
	if op == LAnd || op == LOr || op == LXor {
		return truth[T](v != 0)
	}
	return v
}

func truth[T comm.Number](b bool) T {
	if b {
		return 1
	}
	return 0
}

func isFloat[T comm.Number]() bool {
	half := 0.5
	return T(half) != 0
}

func maxValue[T comm.Number]() T {
	if isFloat[T]() {
		inf := math.Inf(1)
		return T(inf)
	}
	var v T
	v--
	if v > 0 {
		// Unsigned: zero wrapped around to its maximum.
		return v
	}
	// Signed: all bits but the sign bit.
	bits := 8*uint(unsafe.Sizeof(v)) - 1
	return T(uint64(1)<<bits - 1)
}

func minValue[T comm.Number]() T {
	if isFloat[T]() {
		inf := math.Inf(-1)
		return T(inf)
	}
	var v T
	v--
	if v > 0 {
		return 0
	}
	return -maxValue[T]() - 1
}
