// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package montecarlo

import (
	"sort"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/tangents/wide"
)

// forwardAndJacobian builds the forward pass of model and the Jacobian of its
// flattened outputs with respect to every trainable parameter. It returns
// [y, jac], with y the raw forward output and jac of shape
// (batch·outputDim, totalParams): row r·outputDim+c holds ∂y[r,c]/∂params.
//
// Parameters are sorted by scope-and-name, so Jacobian columns line up between
// the separate graphs built for x1 and x2.
func forwardAndJacobian(model wide.Layer, ctx *context.Context, x *Node) []*Node {
	g := x.Graph()
	y := model.Apply(ctx, x)
	batch := y.Shape().Dimensions[0]
	outputDim := y.Shape().Size() / batch
	yFlat := y
	if y.Rank() != 2 {
		yFlat = Reshape(y, batch, outputDim)
	}

	var vars []*context.Variable
	ctx.EnumerateVariables(func(v *context.Variable) {
		if v.Trainable && v.InUseByGraph(g) {
			vars = append(vars, v)
		}
	})
	sort.Slice(vars, func(i, j int) bool {
		return vars[i].ScopeAndName() < vars[j].ScopeAndName()
	})
	params := make([]*Node, len(vars))
	for i, v := range vars {
		params[i] = v.ValueGraph(g)
	}

	rows := make([]*Node, 0, batch*outputDim)
	for r := 0; r < batch; r++ {
		for c := 0; c < outputDim; c++ {
			element := Squeeze(Slice(yFlat, AxisElem(r), AxisElem(c)))
			grads := Gradient(element, params...)
			parts := make([]*Node, len(grads))
			for i, grad := range grads {
				parts[i] = Reshape(grad, grad.Shape().Size())
			}
			rows = append(rows, Concatenate(parts, 0))
		}
	}
	return []*Node{y, Stack(rows, 0)}
}
