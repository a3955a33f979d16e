// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package main

import (
	"errors"

	"github.com/aclements/go-brbe/perfbranch"
)

func probeHost(bst perfbranch.BranchSampleType, ncpu int) (int, error) {
	return 0, errors.New("host probing requires linux")
}
