// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package wide

import (
	"math"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/nn"
	"github.com/gomlx/tangents/kernels"
)

// layerNormEpsilon stabilizes the finite-width normalization; in the
// infinite-width limit the variance concentrates and the epsilon vanishes.
const layerNormEpsilon = 1e-12

// LayerNorm normalizes each example over its feature (last) axis, without
// learned scale or shift.
//
// In the infinite-width limit the per-example variance concentrates on the
// diagonal of the NNGP, so the kernel rule divides entry (i,j) of both the
// NNGP and the NTK by √(Σ11ᵢ·Σ22ⱼ) and resets the variances to 1.
func LayerNorm() Layer {
	return Layer{
		Name: "layer_norm",
		Apply: func(_ *context.Context, x *Node) *Node {
			return nn.LayerNorm(x, []int{-1}, layerNormEpsilon, nil, nil, nil)
		},
		Propagate: func(k *kernels.Kernel) *kernels.Kernel {
			n1, n2 := k.NNGP.Dims()
			for i := 0; i < n1; i++ {
				for j := 0; j < n2; j++ {
					norm := math.Sqrt(k.Var1.AtVec(i) * k.Var2.AtVec(j))
					k.NNGP.Set(i, j, k.NNGP.At(i, j)/norm)
					k.NTK.Set(i, j, k.NTK.At(i, j)/norm)
				}
			}
			for i := 0; i < n1; i++ {
				k.Var1.SetVec(i, 1)
			}
			for j := 0; j < n2; j++ {
				k.Var2.SetVec(j, 1)
			}
			k.Gaussian = false
			return k
		},
		OutputShape: func(input shapes.Shape) (shapes.Shape, error) {
			return input, nil
		},
	}
}
