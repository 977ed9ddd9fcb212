// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package spmdconfig

import (
	"context"
	"runtime"
	"strings"
	"testing"

	"github.com/grailbio/base/config"
	"github.com/grailbio/bigmachine/testsystem"
	"github.com/grailbio/spmd/comm"
	"github.com/grailbio/testutil/assert"
)

func init() {
	config.Register("spmd/test/testsystem", func(inst *config.Constructor) {
		inst.New = func() (interface{}, error) {
			return testsystem.New(), nil
		}
	})
}

func TestDefaults(t *testing.T) {
	profile := config.New()
	var cfg *Config
	assert.NoError(t, profile.Instance("spmd", &cfg))
	assert.EQ(t, cfg.Group.Size(), runtime.NumCPU())
	assert.EQ(t, cfg.Root, 0)
}

func TestProfile(t *testing.T) {
	profile := config.New()
	assert.NoError(t, profile.Parse(strings.NewReader(`
param spmd procs = 5
param spmd root = 3
`)))
	var cfg *Config
	assert.NoError(t, profile.Instance("spmd", &cfg))
	assert.EQ(t, cfg.Group.Size(), 5)
	assert.EQ(t, cfg.Root, 3)
	if got, want := cfg.String(), "procs=5 root=3"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestInvalid(t *testing.T) {
	for _, set := range [][2]string{
		{"spmd.procs", "0"},
		{"spmd.root", "-1"},
	} {
		profile := config.New()
		assert.NoError(t, profile.Set(set[0], set[1]))
		var cfg *Config
		if err := profile.Instance("spmd", &cfg); err == nil {
			t.Errorf("%s=%s: expected error", set[0], set[1])
		}
	}
	profile := config.New()
	assert.NoError(t, profile.Set("spmd.procs", "2"))
	assert.NoError(t, profile.Set("spmd.root", "2"))
	var cfg *Config
	if err := profile.Instance("spmd", &cfg); err == nil {
		t.Error("expected error")
	}
}

func TestMachines(t *testing.T) {
	profile := config.New()
	assert.NoError(t, profile.Parse(strings.NewReader(`
param spmd procs = 3
param spmd root = 1
param spmd system = spmd/test/testsystem
param spmd machines = 2
`)))
	var cfg *Config
	assert.NoError(t, profile.Instance("spmd", &cfg))
	defer cfg.Shutdown()
	if got, want := cfg.String(), "procs=3 root=1 machines=2"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	var got []int64
	err := cfg.Group.Run(context.Background(), func(ctx context.Context, c comm.Comm) error {
		var data []int64
		if c.Context().IsRoot(cfg.Root) {
			data = []int64{7, 8}
		}
		vals, err := comm.BcastSlice(ctx, c, cfg.Root, data)
		if c.Context().Rank == 2 {
			got = vals
		}
		return err
	})
	assert.NoError(t, err)
	assert.EQ(t, got, []int64{7, 8})

	profile = config.New()
	assert.NoError(t, profile.Set("spmd.system", "spmd/test/testsystem"))
	assert.NoError(t, profile.Set("spmd.machines", "0"))
	var bad *Config
	if err := profile.Instance("spmd", &bad); err == nil {
		t.Error("expected error")
	}
}
