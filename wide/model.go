// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package wide

import (
	"slices"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/tangents/kernels"
)

// NewParams returns a context with a fresh parameter draw: a deterministic RNG
// state derived from seed and a unit normal default initializer, which is what
// the NTK parameterization layers expect.
func NewParams(seed int64) *context.Context {
	ctx := context.New()
	_ = ctx.SetRNGStateFromSeed(seed)
	return ctx.WithInitializer(initializers.RandomNormalFn(ctx, 1.0))
}

// NewApplyExec returns an executor of the layer's forward pass with the
// parameters held by ctx. Variables are created on first execution.
func (l Layer) NewApplyExec(backend backends.Backend, ctx *context.Context) *context.Exec {
	return context.MustNewExec(backend, ctx, func(ctx *context.Context, x *Node) *Node {
		return l.Apply(ctx, x)
	})
}

// KernelFn returns the analytic (closed-form) infinite-width kernel function
// of the layer. See kernels.KernelFn for the calling convention.
func (l Layer) KernelFn() kernels.KernelFn {
	return func(x1, x2 *tensors.Tensor, get ...kernels.Kind) ([]any, error) {
		k, err := kernels.NewInput(x1, x2)
		if err != nil {
			return nil, err
		}
		out1, err := l.OutputShape(x1.Shape())
		if err != nil {
			return nil, err
		}
		out2 := out1
		if x2 != nil {
			if out2, err = l.OutputShape(x2.Shape()); err != nil {
				return nil, err
			}
		}
		if err = exceptions.TryCatch[error](func() { k = l.Propagate(k) }); err != nil {
			return nil, err
		}
		k.Shape1 = slices.Clone(out1.Dimensions)
		k.Shape2 = slices.Clone(out2.Dimensions)
		return k.Get(get...)
	}
}
