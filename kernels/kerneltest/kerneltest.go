// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kerneltest holds test utilities shared by packages that compare
// kernel matrices: a cached test backend and closeness assertions tolerant to
// Monte Carlo sampling noise.
package kerneltest

import (
	"sync"
	"testing"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var (
	backendOnce   sync.Once
	cachedBackend backends.Backend
)

// Backend returns a process-wide backend for tests. It defaults to the pure-Go
// backend so `go test` needs no accelerator; GOMLX_BACKEND overrides it.
func Backend() backends.Backend {
	backendOnce.Do(func() {
		if backends.DefaultConfig == "" {
			backends.DefaultConfig = "go"
		}
		cachedBackend = backends.MustNew()
	})
	return cachedBackend
}

// RelativeDistance returns 2*|a-b| / (|a|+|b|) in Frobenius norm, the scale
// free distance used to judge agreement between an empirical kernel estimate
// and its closed form. Two zero matrices have distance 0.
func RelativeDistance(a, b mat.Matrix) float64 {
	var diff mat.Dense
	diff.Sub(a, b)
	denom := mat.Norm(a, 2) + mat.Norm(b, 2)
	if denom == 0 {
		return 0
	}
	return 2 * mat.Norm(&diff, 2) / denom
}

// AssertClose fails the test if got is not within rtol relative Frobenius
// distance of want.
func AssertClose(t *testing.T, want, got mat.Matrix, rtol float64) {
	t.Helper()
	dist := RelativeDistance(want, got)
	require.LessOrEqualf(t, dist, rtol,
		"matrices differ: relative distance %.4g > rtol %.4g\nwant:\n%.4v\ngot:\n%.4v",
		dist, rtol, mat.Formatted(want), mat.Formatted(got))
}

// AssertEqual fails the test unless got matches want to within delta
// elementwise -- for checks that must hold exactly (up to float rounding),
// not merely up to sampling noise.
func AssertEqual(t *testing.T, want, got mat.Matrix, delta float64) {
	t.Helper()
	wr, wc := want.Dims()
	gr, gc := got.Dims()
	require.Equal(t, []int{wr, wc}, []int{gr, gc}, "matrix dimensions differ")
	for i := 0; i < wr; i++ {
		for j := 0; j < wc; j++ {
			require.InDeltaf(t, want.At(i, j), got.At(i, j), delta,
				"entry (%d,%d) differs", i, j)
		}
	}
}
