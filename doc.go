// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package spmd is the root of a set of packages for writing
	distributed-memory programs in the single program, multiple data
	style: one function is run by every rank of a fixed-size process
	group, and ranks share data only by exchanging messages.

	Package comm provides the process group, tagged point-to-point
	messaging, and the basic collectives (broadcast, scatter, gather,
	barrier). Package partition splits a global buffer into
	contiguous per-rank chunks. Package reduce combines values along
	a binary tree of ranks. Packages stencil and label implement
	row-partitioned image convolution with halo exchange and
	distributed connected-component labeling.

	Package task defines the lifecycle that all computations follow
	(validation, preprocessing, run, postprocessing), and the
	packages under tasks/ implement representative computations, each
	in a sequential and a distributed version that produce the same
	result. The spmd command runs them from the command line:

		spmd -set spmd.procs=8 reduce -op max -in s3://bucket/vector.txt
*/
package spmd
