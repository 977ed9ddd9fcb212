// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package task

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/spmd/comm"
)

// Failf logs a task failure and returns false, for use as the result
// of a lifecycle method.
func Failf(format string, v ...interface{}) bool {
	log.Error.Printf(format, v...)
	return false
}

// Check reports err, if any, as a task failure.
func Check(err error, what string) bool {
	if err != nil {
		return Failf("%s: %v", what, err)
	}
	return true
}

// Agree runs check on the root rank of c and distributes its verdict:
// every rank returns true only if check succeeded on the root and
// every rank's local verdict ok is true. A communication failure
// yields false.
func Agree(ctx context.Context, c comm.Comm, root int, ok bool, check func() bool) bool {
	if c.Context().IsRoot(root) && ok {
		ok = check()
	}
	agreed, err := comm.Agree(ctx, c, root, ok)
	if err != nil {
		return Failf("rank %d: validation: %v", c.Context().Rank, err)
	}
	return agreed
}

// Execute drives t through one full cycle under a Runner. It returns
// false, with no error, if t fails validation; a failure after
// validation is an error. In a process group, every rank executes
// its own instance of the task.
func Execute(ctx context.Context, t Task) (bool, error) {
	r := NewRunner(t)
	if !r.Validation(ctx) {
		return false, nil
	}
	if !r.PreProcessing(ctx) || !r.Run(ctx) || !r.PostProcessing(ctx) {
		return true, errors.E(fmt.Sprintf("task failed in state %s", r.State()))
	}
	return true, nil
}
