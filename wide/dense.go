// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package wide

import (
	"fmt"
	"math"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/tangents/kernels"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Parameterization selects how a Dense layer scales its random weights.
type Parameterization int

const (
	// ParameterizationNTK draws W, b ~ N(0,1) and scales in the forward pass:
	// y = (wStd/√fanIn)·xW + bStd·b. Its NTK has a width-free limit.
	ParameterizationNTK Parameterization = iota

	// ParameterizationStandard bakes the scales into the draw,
	// W ~ N(0, wStd²/fanIn) and b ~ N(0, bStd²), with y = xW + b. Its NTK
	// scales with the actual layer fan-in.
	ParameterizationStandard
)

func (p Parameterization) String() string {
	switch p {
	case ParameterizationNTK:
		return "ntk"
	case ParameterizationStandard:
		return "standard"
	}
	return fmt.Sprintf("Parameterization(%d)", int(p))
}

// Dense is a fully-connected layer with the NTK parameterization, output
// covariance wStd²·K + bStd².
//
// The input must be rank-2 (batch, features); use Flatten first for higher
// rank inputs.
func Dense(width int, wStd, bStd float64) Layer {
	return DenseParameterized(width, wStd, bStd, ParameterizationNTK)
}

// DenseParameterized is Dense with an explicit weight parameterization.
func DenseParameterized(width int, wStd, bStd float64, param Parameterization) Layer {
	if width <= 0 {
		Panicf("wide.Dense width must be positive, got %d", width)
	}
	return Layer{
		Name:        fmt.Sprintf("dense%d", width),
		Apply:       denseApply(width, wStd, bStd, param),
		Propagate:   densePropagate(width, wStd, bStd, param),
		OutputShape: denseShape(width),
	}
}

func denseApply(width int, wStd, bStd float64, param Parameterization) ApplyFn {
	return func(ctx *context.Context, x *Node) *Node {
		g := x.Graph()
		if x.Rank() != 2 {
			Panicf("wide.Dense requires rank-2 input (batch, features), got shape %s -- add wide.Flatten() first",
				x.Shape())
		}
		fanIn := x.Shape().Dimensions[1]
		dtype := x.DType()
		wShape := shapes.Make(dtype, fanIn, width)
		bShape := shapes.Make(dtype, width)

		switch param {
		case ParameterizationNTK:
			w := ctx.VariableWithShape("weights", wShape).ValueGraph(g)
			b := ctx.VariableWithShape("biases", bShape).ValueGraph(g)
			y := graph.MulScalar(graph.MatMul(x, w), wStd/math.Sqrt(float64(fanIn)))
			return graph.Add(y, graph.MulScalar(graph.ExpandLeftToRank(b, 2), bStd))

		case ParameterizationStandard:
			wCtx := ctx.WithInitializer(initializers.RandomNormalFn(ctx, wStd/math.Sqrt(float64(fanIn))))
			w := wCtx.VariableWithShape("weights", wShape).ValueGraph(g)
			bCtx := ctx.WithInitializer(initializers.RandomNormalFn(ctx, bStd))
			b := bCtx.VariableWithShape("biases", bShape).ValueGraph(g)
			return graph.Add(graph.MatMul(x, w), graph.ExpandLeftToRank(b, 2))
		}
		Panicf("wide.Dense: unknown parameterization %s", param)
		return nil
	}
}

// densePropagate applies the affine kernel rule. With K the incoming NNGP and
// Θ the incoming NTK:
//
//	K' = wStd²·K + bStd²                          (both parameterizations)
//	Θ' = K' + wStd²·Θ                             (NTK parameterization)
//	Θ' = fanIn·K + 1 + wStd²·Θ                    (standard parameterization)
//
// The standard rule's weight-gradient contraction recovers the raw (not
// fan-in normalized) input second moment and a unit bias gradient, so it
// needs the actual fan-in, tracked on the Kernel.
func densePropagate(width int, wStd, bStd float64, param Parameterization) PropagateFn {
	w2, b2 := wStd*wStd, bStd*bStd
	return func(k *kernels.Kernel) *kernels.Kernel {
		n1, n2 := k.NNGP.Dims()
		newNTK := mat.NewDense(n1, n2, nil)
		for i := 0; i < n1; i++ {
			for j := 0; j < n2; j++ {
				nngp := k.NNGP.At(i, j)
				ntk := k.NTK.At(i, j)
				switch param {
				case ParameterizationNTK:
					newNTK.Set(i, j, w2*nngp+b2+w2*ntk)
				case ParameterizationStandard:
					newNTK.Set(i, j, float64(k.FanIn)*nngp+1+w2*ntk)
				}
				k.NNGP.Set(i, j, w2*nngp+b2)
			}
		}
		k.NTK = newNTK
		for i := 0; i < n1; i++ {
			k.Var1.SetVec(i, w2*k.Var1.AtVec(i)+b2)
		}
		for j := 0; j < n2; j++ {
			k.Var2.SetVec(j, w2*k.Var2.AtVec(j)+b2)
		}
		k.FanIn = width
		k.Gaussian = true
		return k
	}
}

func denseShape(width int) ShapeFn {
	return func(input shapes.Shape) (shapes.Shape, error) {
		if input.Rank() != 2 {
			return shapes.Shape{}, errors.Wrapf(kernels.ErrShapeMismatch,
				"dense layer requires rank-2 input (batch, features), got shape %s", input)
		}
		return shapes.Make(input.DType, input.Dimensions[0], width), nil
	}
}
