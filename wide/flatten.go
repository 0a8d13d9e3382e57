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

// Flatten reshapes (batch, features...) to (batch, flattened features).
//
// Input kernels are already computed over flattened features (see
// kernels.NewInput), so its kernel rule is the identity.
func Flatten() Layer {
	return Layer{
		Name: "flatten",
		Apply: func(_ *context.Context, x *Node) *Node {
			if x.Rank() < 2 {
				Panicf("wide.Flatten requires rank >= 2 input (batch, features...), got shape %s", x.Shape())
			}
			if x.Rank() == 2 {
				return x
			}
			batch := x.Shape().Dimensions[0]
			return graph.Reshape(x, batch, x.Shape().Size()/batch)
		},
		Propagate: func(k *kernels.Kernel) *kernels.Kernel { return k },
		OutputShape: func(input shapes.Shape) (shapes.Shape, error) {
			if input.Rank() < 2 {
				return shapes.Shape{}, errors.Wrapf(kernels.ErrShapeMismatch,
					"flatten layer requires rank >= 2 input, got shape %s", input)
			}
			batch := input.Dimensions[0]
			return shapes.Make(input.DType, batch, input.Size()/batch), nil
		},
	}
}
