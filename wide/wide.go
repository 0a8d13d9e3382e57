// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package wide builds finite networks and their infinite-width kernels from
// the same layer description.
//
// A Layer bundles three views of one network block:
//
//   - Apply builds the forward computation graph of a finite-width instance,
//     creating its parameters as variables on a context.Context;
//   - Propagate is the closed-form rule mapping the input pair-covariance
//     (kernels.Kernel) to the output one, in the infinite-width limit;
//   - OutputShape is the static shape rule, the declared output shape for a
//     given input batch shape.
//
// Layers compose with Serial, branch with FanInSum/Residual, and a composed
// Layer exposes the analytic kernel function via Layer.KernelFn. The Monte
// Carlo estimator in package montecarlo consumes the same Layer to validate
// the closed forms against sampled finite networks.
package wide

import (
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/tangents/kernels"
)

// Node is an alias to a graph node, for shorter signatures.
type Node = graph.Node

// ApplyFn builds the forward graph of a finite-width layer instance. Layer
// parameters are created as (or reused from) variables in ctx's current scope.
type ApplyFn func(ctx *context.Context, x *Node) *Node

// PropagateFn is a layer's closed-form kernel rule. It updates k in place and
// returns it.
type PropagateFn func(k *kernels.Kernel) *kernels.Kernel

// ShapeFn maps an input batch shape to the layer's output batch shape, or
// fails wrapping kernels.ErrShapeMismatch if the input is incompatible.
type ShapeFn func(input shapes.Shape) (shapes.Shape, error)

// Layer is a network block: a forward builder, its infinite-width kernel rule
// and its shape rule. Construct them with the layer constructors in this
// package and compose with Serial.
type Layer struct {
	Name        string
	Apply       ApplyFn
	Propagate   PropagateFn
	OutputShape ShapeFn
}

// Serial composes layers sequentially. Each layer's variables live in their
// own child scope, so layer parameters never collide.
func Serial(layers ...Layer) Layer {
	return Layer{
		Name: "serial",
		Apply: func(ctx *context.Context, x *Node) *Node {
			for i, layer := range layers {
				x = layer.Apply(ctx.Inf("%03d_%s", i, layer.Name), x)
			}
			return x
		},
		Propagate: func(k *kernels.Kernel) *kernels.Kernel {
			for _, layer := range layers {
				k = layer.Propagate(k)
			}
			return k
		},
		OutputShape: func(input shapes.Shape) (shapes.Shape, error) {
			var err error
			for _, layer := range layers {
				input, err = layer.OutputShape(input)
				if err != nil {
					return shapes.Shape{}, err
				}
			}
			return input, nil
		},
	}
}

// Identity is the no-op layer. Useful as a branch in FanInSum.
func Identity() Layer {
	return Layer{
		Name:        "identity",
		Apply:       func(_ *context.Context, x *Node) *Node { return x },
		Propagate:   func(k *kernels.Kernel) *kernels.Kernel { return k },
		OutputShape: func(input shapes.Shape) (shapes.Shape, error) { return input, nil },
	}
}
