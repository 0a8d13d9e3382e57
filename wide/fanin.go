// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package wide

import (
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/tangents/kernels"
	"github.com/pkg/errors"
)

// FanInSum feeds the same input through each branch and sums the branch
// outputs. All branches must produce the same output shape.
//
// Summing independent branches adds their kernels entrywise. The additivity of
// the NNGP only holds when at most one branch output is non-Gaussian: two
// non-Gaussian branches would contribute a cross term the closed form cannot
// express, and Propagate panics on such a composition.
func FanInSum(branches ...Layer) Layer {
	if len(branches) < 2 {
		Panicf("wide.FanInSum requires at least 2 branches, got %d", len(branches))
	}
	return Layer{
		Name: "fan_in_sum",
		Apply: func(ctx *context.Context, x *Node) *Node {
			var sum *Node
			for i, branch := range branches {
				y := branch.Apply(ctx.Inf("branch%02d_%s", i, branch.Name), x)
				if sum == nil {
					sum = y
				} else {
					sum = graph.Add(sum, y)
				}
			}
			return sum
		},
		Propagate: func(k *kernels.Kernel) *kernels.Kernel {
			out := branches[0].Propagate(k.Clone())
			nonGaussian := 0
			if !out.Gaussian {
				nonGaussian++
			}
			for _, branch := range branches[1:] {
				bk := branch.Propagate(k.Clone())
				if !bk.Gaussian {
					nonGaussian++
				}
				out.NNGP.Add(out.NNGP, bk.NNGP)
				out.NTK.Add(out.NTK, bk.NTK)
				out.Var1.AddVec(out.Var1, bk.Var1)
				out.Var2.AddVec(out.Var2, bk.Var2)
			}
			if nonGaussian > 1 {
				Panicf("wide.FanInSum: %d branches have non-Gaussian outputs, at most 1 is allowed "+
					"-- end each branch with a Dense layer", nonGaussian)
			}
			out.Gaussian = nonGaussian == 0
			return out
		},
		OutputShape: func(input shapes.Shape) (shapes.Shape, error) {
			output, err := branches[0].OutputShape(input)
			if err != nil {
				return shapes.Shape{}, err
			}
			for i, branch := range branches[1:] {
				other, err := branch.OutputShape(input)
				if err != nil {
					return shapes.Shape{}, err
				}
				if !other.Equal(output) {
					return shapes.Shape{}, errors.Wrapf(kernels.ErrShapeMismatch,
						"fan-in sum branches disagree on output shape: branch 0 gives %s, branch %d gives %s",
						output, i+1, other)
				}
			}
			return output, nil
		},
	}
}

// Residual is the skip connection x + block(x), FanInSum(Identity(), block).
func Residual(block Layer) Layer {
	layer := FanInSum(Identity(), block)
	layer.Name = "residual"
	return layer
}
