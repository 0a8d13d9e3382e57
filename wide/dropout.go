// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package wide

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/tangents/kernels"
)

// Dropout keeps each unit with probability keep and rescales by 1/keep, so the
// mean activation is preserved. keep must be in (0, 1].
//
// Dropout masks are independent across units, so in the infinite-width limit
// off-diagonal kernel entries between distinct inputs are unchanged, while the
// variances, and with them the diagonal entries of a kernel computed against
// the same inputs, pick up a factor 1/keep.
func Dropout(keep float64) Layer {
	if keep <= 0 || keep > 1 {
		Panicf("wide.Dropout keep probability must be in (0, 1], got %g", keep)
	}
	return Layer{
		Name: fmt.Sprintf("dropout_%g", keep),
		Apply: func(ctx *context.Context, x *Node) *Node {
			if keep == 1 {
				return x
			}
			mask := ctx.RandomBernoulli(graph.ConstAs(x, keep), x.Shape())
			return graph.DivScalar(graph.Mul(x, mask), keep)
		},
		Propagate: func(k *kernels.Kernel) *kernels.Kernel {
			factor := 1 / keep
			n1, n2 := k.NNGP.Dims()
			for i := 0; i < n1; i++ {
				k.Var1.SetVec(i, factor*k.Var1.AtVec(i))
			}
			for j := 0; j < n2; j++ {
				k.Var2.SetVec(j, factor*k.Var2.AtVec(j))
			}
			if k.SameInputs {
				// Entry (i,i) pairs an input with itself and shares the mask.
				for i := 0; i < min(n1, n2); i++ {
					k.NNGP.Set(i, i, factor*k.NNGP.At(i, i))
					k.NTK.Set(i, i, factor*k.NTK.At(i, i))
				}
			}
			k.Gaussian = false
			return k
		},
		OutputShape: func(input shapes.Shape) (shapes.Shape, error) {
			return input, nil
		},
	}
}
