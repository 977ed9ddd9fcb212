// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"fmt"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
)

// readFields reads the whitespace-separated fields of the file at
// path, which may be any path supported by package file.
func readFields(ctx context.Context, path string) (fields []string, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(ctx); err == nil {
			err = cerr
		}
	}()
	scan := bufio.NewScanner(f.Reader(ctx))
	scan.Buffer(nil, 1<<20)
	scan.Split(bufio.ScanWords)
	for scan.Scan() {
		fields = append(fields, scan.Text())
	}
	if err := scan.Err(); err != nil {
		return nil, errors.E(err, "reading", path)
	}
	return fields, nil
}

func parseInts(fields []string) ([]int64, error) {
	vals := make([]int64, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("field %d", i), err)
		}
		vals[i] = v
	}
	return vals, nil
}

func parseFloats(fields []string) ([]float64, error) {
	vals := make([]float64, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("field %d", i), err)
		}
		vals[i] = v
	}
	return vals, nil
}

// parsePixels parses 8-bit pixel values.
func parsePixels(fields []string) ([]uint8, error) {
	pix := make([]uint8, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseUint(field, 10, 8)
		if err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("pixel %d", i), err)
		}
		pix[i] = uint8(v)
	}
	return pix, nil
}
