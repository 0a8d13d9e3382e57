// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels defines the data model shared by analytic (closed-form) and
// Monte Carlo (empirical) infinite-width kernel functions: the Kernel
// pair-covariance state, the request vocabulary (Kind) and the KernelFn
// signature both sides implement, so call sites can use them interchangeably.
package kernels

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

//go:generate go run github.com/dmarkham/enumer -type=Kind -trimprefix=Kind -transform=lower -values -text kind.go

// Kind selects what a kernel function should compute and return.
//
// A request is an ordered list of kinds; results come back in the same order.
type Kind int

const (
	// KindNNGP is the Neural Network Gaussian Process kernel: the covariance
	// of network outputs over random parameter draws.
	KindNNGP Kind = iota

	// KindNTK is the Neural Tangent Kernel: the parameter-space inner product
	// of output gradients at two inputs.
	KindNTK

	// KindShape1 is the output batch shape for a forward pass on x1.
	KindShape1

	// KindShape2 is the output batch shape for a forward pass on x2
	// (same as KindShape1 when x2 is nil).
	KindShape2
)

// KernelFn computes kernel values for a pair of input batches.
//
// x1 has shape (n1, features...); x2 has shape (n2, features...) with the same
// feature dimensions, or is nil to mean "compare x1 against itself". The
// returned slice has one entry per requested Kind, in request order:
// *mat.Dense for KindNNGP/KindNTK, []int for KindShape1/KindShape2.
// An empty request defaults to (KindNNGP, KindNTK).
//
// Both the analytic propagator (wide.Layer.KernelFn) and the empirical
// estimator (montecarlo.NewKernelFn) return this type.
type KernelFn func(x1, x2 *tensors.Tensor, get ...Kind) ([]any, error)

var (
	// ErrInvalidRequest is wrapped by errors returned for an unrecognized Kind.
	ErrInvalidRequest = errors.New("invalid kernel request")

	// ErrShapeMismatch is wrapped by errors returned when input batches are
	// incompatible with each other or with the network's expected input rank.
	ErrShapeMismatch = errors.New("shape mismatch")
)
