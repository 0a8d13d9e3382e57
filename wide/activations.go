// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package wide

import (
	"fmt"
	"math"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/tangents/kernels"
)

// ABRelu is the generalized rectifier f(x) = a·min(x,0) + b·max(x,0).
//
// Special cases: ABRelu(0,1) is ReLU, ABRelu(α,1) is LeakyReLU(α),
// ABRelu(-1,1) is Abs, and ABRelu(a,a) is a·Identity.
//
// Its kernel rule is the arccos kernel. With Σ the incoming NNGP entry,
// σ1,σ2 the input standard deviations and θ = acos(Σ/(σ1σ2)):
//
//	T(Σ)  = ((a+b)²/4)·Σ + ((b-a)²/4)·(2/π)·σ1σ2·(sinθ + (π/2-θ)·cosθ)
//	Ṫ(Σ)  = (a+b)²/4 + ((b-a)²/4)·(1 - 2θ/π)
//
// and the layer maps K → T(K), Θ → Ṫ(K)⊙Θ.
func ABRelu(a, b float64) Layer {
	sumSq := (a + b) * (a + b) / 4
	diffSq := (b - a) * (b - a) / 4
	return Layer{
		Name: fmt.Sprintf("ab_relu_%g_%g", a, b),
		Apply: func(_ *context.Context, x *Node) *Node {
			neg := graph.MulScalar(graph.MinScalar(x, 0), a)
			pos := graph.MulScalar(graph.MaxScalar(x, 0), b)
			return graph.Add(neg, pos)
		},
		Propagate: elementwisePropagate(
			func(sigma, v1, v2 float64) (nngp, ntkFactor float64) {
				prod := math.Sqrt(v1 * v2)
				if prod == 0 {
					// Degenerate input: one side is almost surely zero.
					return 0, sumSq
				}
				cos := clamp(sigma/prod, -1, 1)
				theta := math.Acos(cos)
				nngp = sumSq*sigma + diffSq*(2/math.Pi)*prod*(math.Sin(theta)+(math.Pi/2-theta)*cos)
				ntkFactor = sumSq + diffSq*(1-2*theta/math.Pi)
				return
			}),
		OutputShape: identityShape,
	}
}

// Relu is the rectified linear activation, ABRelu(0, 1).
func Relu() Layer { return ABRelu(0, 1) }

// LeakyRelu is the leaky rectifier with negative slope alpha, ABRelu(alpha, 1).
func LeakyRelu(alpha float64) Layer { return ABRelu(alpha, 1) }

// Abs is the absolute value activation, ABRelu(-1, 1).
func Abs() Layer { return ABRelu(-1, 1) }

// Erf is the Gauss error function activation. Its kernel rule:
//
//	T(Σ)  = (2/π)·asin(2Σ / √((1+2Σ11)(1+2Σ22)))
//	Ṫ(Σ)  = (4/π) / √((1+2Σ11)(1+2Σ22) - 4Σ²)
func Erf() Layer {
	return Layer{
		Name: "erf",
		Apply: func(_ *context.Context, x *Node) *Node {
			return graph.Erf(x)
		},
		Propagate: elementwisePropagate(
			func(sigma, v1, v2 float64) (nngp, ntkFactor float64) {
				prod := (1 + 2*v1) * (1 + 2*v2)
				nngp = (2 / math.Pi) * math.Asin(clamp(2*sigma/math.Sqrt(prod), -1, 1))
				ntkFactor = (4 / math.Pi) / math.Sqrt(math.Max(prod-4*sigma*sigma, minErfDet))
				return
			}),
		OutputShape: identityShape,
	}
}

// minErfDet guards the Erf derivative rule where 2Σ → √((1+2Σ11)(1+2Σ22)),
// which only happens at perfectly correlated inputs.
const minErfDet = 1e-30

// elementwisePropagate lifts a scalar rule (Σ, Σ11, Σ22) → (T, Ṫ) to the
// kernel transform of a parameter-free activation: K → T, Θ → Ṫ⊙Θ, variances
// via the Σ == Σ11 == Σ22 diagonal.
func elementwisePropagate(rule func(sigma, v1, v2 float64) (nngp, ntkFactor float64)) PropagateFn {
	return func(k *kernels.Kernel) *kernels.Kernel {
		n1, n2 := k.NNGP.Dims()
		for i := 0; i < n1; i++ {
			v1 := k.Var1.AtVec(i)
			for j := 0; j < n2; j++ {
				nngp, ntkFactor := rule(k.NNGP.At(i, j), v1, k.Var2.AtVec(j))
				k.NNGP.Set(i, j, nngp)
				k.NTK.Set(i, j, ntkFactor*k.NTK.At(i, j))
			}
		}
		for i := 0; i < n1; i++ {
			v := k.Var1.AtVec(i)
			nngp, _ := rule(v, v, v)
			k.Var1.SetVec(i, nngp)
		}
		for j := 0; j < n2; j++ {
			v := k.Var2.AtVec(j)
			nngp, _ := rule(v, v, v)
			k.Var2.SetVec(j, nngp)
		}
		k.Gaussian = false
		return k
	}
}

func identityShape(input shapes.Shape) (shapes.Shape, error) {
	return input, nil
}

func clamp(x, lo, hi float64) float64 {
	return math.Min(math.Max(x, lo), hi)
}
