// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package wide

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/tangents/kernels"
	"github.com/gomlx/tangents/kernels/kerneltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func testInputs(t *testing.T) (x1, x2 *tensors.Tensor) {
	t.Helper()
	x1 = tensors.FromFlatDataAndDimensions([]float64{
		0.2, -1.1, 0.7,
		1.3, 0.4, -0.6}, 2, 3)
	x2 = tensors.FromFlatDataAndDimensions([]float64{
		-0.5, 0.9, 0.1,
		0.8, -0.3, 1.2,
		-1.0, -0.2, 0.4}, 3, 3)
	return
}

func inputKernel(t *testing.T, x1, x2 *tensors.Tensor) *kernels.Kernel {
	t.Helper()
	k, err := kernels.NewInput(x1, x2)
	require.NoError(t, err)
	return k
}

func TestDensePropagateNTKParameterization(t *testing.T) {
	x1, x2 := testInputs(t)
	k := inputKernel(t, x1, x2)
	k0 := k.Clone()

	const wStd, bStd = 1.5, 0.5
	w2, b2 := wStd*wStd, bStd*bStd
	k = Dense(7, wStd, bStd).Propagate(k)

	assert.Equal(t, 7, k.FanIn)
	assert.True(t, k.Gaussian)
	n1, n2 := k.NNGP.Dims()
	for i := 0; i < n1; i++ {
		for j := 0; j < n2; j++ {
			wantNNGP := w2*k0.NNGP.At(i, j) + b2
			assert.InDelta(t, wantNNGP, k.NNGP.At(i, j), 1e-12)
			// The input NTK is zero, so the output NTK equals the output NNGP.
			assert.InDelta(t, wantNNGP, k.NTK.At(i, j), 1e-12)
		}
	}
	for i := 0; i < n1; i++ {
		assert.InDelta(t, w2*k0.Var1.AtVec(i)+b2, k.Var1.AtVec(i), 1e-12)
	}

	// One more affine layer: Θ2 = K2 + wStd²·Θ1.
	k1 := k.Clone()
	k = Dense(3, wStd, bStd).Propagate(k)
	for i := 0; i < n1; i++ {
		for j := 0; j < n2; j++ {
			wantNNGP := w2*k1.NNGP.At(i, j) + b2
			assert.InDelta(t, wantNNGP, k.NNGP.At(i, j), 1e-12)
			assert.InDelta(t, wantNNGP+w2*k1.NTK.At(i, j), k.NTK.At(i, j), 1e-12)
		}
	}
}

func TestDensePropagateStandardParameterization(t *testing.T) {
	x1, x2 := testInputs(t)
	k := inputKernel(t, x1, x2)
	k0 := k.Clone()
	require.Equal(t, 3, k0.FanIn)

	const wStd, bStd = 1.2, 0.7
	w2 := wStd * wStd
	k = DenseParameterized(5, wStd, bStd, ParameterizationStandard).Propagate(k)

	n1, n2 := k.NNGP.Dims()
	for i := 0; i < n1; i++ {
		for j := 0; j < n2; j++ {
			assert.InDelta(t, w2*k0.NNGP.At(i, j)+bStd*bStd, k.NNGP.At(i, j), 1e-12)
			// Θ' = fanIn·K + 1 + wStd²·Θ, with Θ = 0 at the input.
			assert.InDelta(t, 3*k0.NNGP.At(i, j)+1, k.NTK.At(i, j), 1e-12)
		}
	}
	assert.Equal(t, 5, k.FanIn)
}

func TestSerialComposition(t *testing.T) {
	x1, x2 := testInputs(t)
	l1 := Dense(8, 1.3, 0.4)
	l2 := ABRelu(0.1, 1)
	l3 := Dense(4, 0.9, 0.2)

	flat, err := Serial(l1, l2, l3).KernelFn()(x1, x2)
	require.NoError(t, err)
	nested, err := Serial(Serial(l1, l2), l3).KernelFn()(x1, x2)
	require.NoError(t, err)
	kerneltest.AssertEqual(t, flat[0].(*mat.Dense), nested[0].(*mat.Dense), 1e-12)
	kerneltest.AssertEqual(t, flat[1].(*mat.Dense), nested[1].(*mat.Dense), 1e-12)

	// And both match chaining the rules by hand.
	k := inputKernel(t, x1, x2)
	k = l3.Propagate(l2.Propagate(l1.Propagate(k)))
	kerneltest.AssertEqual(t, k.NNGP, flat[0].(*mat.Dense), 1e-12)
	kerneltest.AssertEqual(t, k.NTK, flat[1].(*mat.Dense), 1e-12)
}

// TestBlockCompositionLaw checks that the kernel of a composed block equals
// the second block's kernel rule applied to the first block's kernel output:
// kernel(Block∘Block) == propagate_Block(propagate_Block(input kernel)).
func TestBlockCompositionLaw(t *testing.T) {
	rng := rand.New(rand.NewPCG(2, 4))
	data := make([]float64, 10*10)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	x := tensors.FromFlatDataAndDimensions(data, 10, 10)
	block := Serial(Dense(256, math.Sqrt2, 0.5), Relu())

	composed, err := Serial(block, block).KernelFn()(x, nil)
	require.NoError(t, err)

	k := inputKernel(t, x, nil)
	k = block.Propagate(block.Propagate(k))
	kerneltest.AssertEqual(t, k.NNGP, composed[0].(*mat.Dense), 1e-12)
	kerneltest.AssertEqual(t, k.NTK, composed[1].(*mat.Dense), 1e-12)
}

func TestLayerNormPropagate(t *testing.T) {
	x1, x2 := testInputs(t)
	k := Dense(6, 1.4, 0.3).Propagate(inputKernel(t, x1, x2))
	k0 := k.Clone()
	k = LayerNorm().Propagate(k)

	n1, n2 := k.NNGP.Dims()
	for i := 0; i < n1; i++ {
		assert.InDelta(t, 1.0, k.Var1.AtVec(i), 1e-12)
	}
	for j := 0; j < n2; j++ {
		assert.InDelta(t, 1.0, k.Var2.AtVec(j), 1e-12)
	}
	for i := 0; i < n1; i++ {
		for j := 0; j < n2; j++ {
			// Normalized entries are correlations, bounded by 1.
			assert.LessOrEqual(t, k.NNGP.At(i, j), 1.0+1e-12)
			norm := math.Sqrt(k0.Var1.AtVec(i) * k0.Var2.AtVec(j))
			assert.InDelta(t, k0.NNGP.At(i, j), k.NNGP.At(i, j)*norm, 1e-12)
		}
	}
	assert.False(t, k.Gaussian)
}

func TestDropoutPropagate(t *testing.T) {
	x1, _ := testInputs(t)

	t.Run("same_inputs", func(t *testing.T) {
		k := Dense(6, 1.1, 0.2).Propagate(inputKernel(t, x1, nil))
		k0 := k.Clone()
		k = Dropout(0.5).Propagate(k)
		n, _ := k.NNGP.Dims()
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				want := k0.NNGP.At(i, j)
				if i == j {
					want *= 2
				}
				assert.InDelta(t, want, k.NNGP.At(i, j), 1e-12)
			}
			assert.InDelta(t, 2*k0.Var1.AtVec(i), k.Var1.AtVec(i), 1e-12)
		}
	})

	t.Run("distinct_inputs", func(t *testing.T) {
		_, x2 := testInputs(t)
		k := Dense(6, 1.1, 0.2).Propagate(inputKernel(t, x1, x2))
		k0 := k.Clone()
		k = Dropout(0.5).Propagate(k)
		// Distinct inputs never share a mask: the kernel matrix is untouched.
		kerneltest.AssertEqual(t, k0.NNGP, k.NNGP, 1e-12)
		kerneltest.AssertEqual(t, k0.NTK, k.NTK, 1e-12)
		assert.InDelta(t, 2*k0.Var1.AtVec(0), k.Var1.AtVec(0), 1e-12)
	})

	t.Run("keep_all", func(t *testing.T) {
		k := inputKernel(t, x1, nil)
		k0 := k.Clone()
		k = Dropout(1).Propagate(k)
		kerneltest.AssertEqual(t, k0.NNGP, k.NNGP, 1e-12)
	})

	t.Run("invalid_keep", func(t *testing.T) {
		require.Panics(t, func() { Dropout(0) })
		require.Panics(t, func() { Dropout(1.5) })
	})
}

func TestFanInSum(t *testing.T) {
	x1, x2 := testInputs(t)

	t.Run("adds_kernels", func(t *testing.T) {
		branch := Dense(4, 1.2, 0.3)
		sum := FanInSum(branch, branch)
		k := sum.Propagate(inputKernel(t, x1, x2))
		single := branch.Propagate(inputKernel(t, x1, x2))
		n1, n2 := k.NNGP.Dims()
		for i := 0; i < n1; i++ {
			for j := 0; j < n2; j++ {
				assert.InDelta(t, 2*single.NNGP.At(i, j), k.NNGP.At(i, j), 1e-12)
				assert.InDelta(t, 2*single.NTK.At(i, j), k.NTK.At(i, j), 1e-12)
			}
		}
		assert.True(t, k.Gaussian)
	})

	t.Run("two_non_gaussian_branches", func(t *testing.T) {
		branch := Serial(Dense(4, 1, 0.1), Relu())
		_, err := FanInSum(branch, branch).KernelFn()(x1, x2)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-Gaussian")
	})

	t.Run("one_non_gaussian_branch", func(t *testing.T) {
		gaussian := Dense(4, 1, 0.1)
		nonGaussian := Serial(Dense(4, 1, 0.1), Relu())
		_, err := FanInSum(gaussian, nonGaussian).KernelFn()(x1, x2)
		require.NoError(t, err)
	})

	t.Run("branch_shape_mismatch", func(t *testing.T) {
		_, err := FanInSum(Dense(4, 1, 0), Dense(5, 1, 0)).KernelFn()(x1, x2)
		require.ErrorIs(t, err, kernels.ErrShapeMismatch)
	})

	t.Run("too_few_branches", func(t *testing.T) {
		require.Panics(t, func() { FanInSum(Dense(4, 1, 0)) })
	})
}

func TestResidual(t *testing.T) {
	x1, x2 := testInputs(t)
	// Identity skip requires the block to preserve the feature count (3 here).
	block := Serial(Dense(3, 1.1, 0.2), Relu(), Dense(3, 1.1, 0.2))
	res, err := Residual(block).KernelFn()(x1, x2, kernels.KindNNGP, kernels.KindShape1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, res[1])

	// x + block(x) sums the identity and block kernels.
	k := inputKernel(t, x1, x2)
	blockK := block.Propagate(inputKernel(t, x1, x2))
	var want mat.Dense
	want.Add(k.NNGP, blockK.NNGP)
	kerneltest.AssertEqual(t, &want, res[0].(*mat.Dense), 1e-12)
}

func TestKernelFnShapesAndErrors(t *testing.T) {
	x1, x2 := testInputs(t)
	model := Serial(Dense(8, 1, 0.5), Relu(), Dense(2, 1, 0.5))

	t.Run("shapes", func(t *testing.T) {
		res, err := model.KernelFn()(x1, x2, kernels.KindShape1, kernels.KindShape2)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 2}, res[0])
		assert.Equal(t, []int{3, 2}, res[1])
	})

	t.Run("same_inputs_shapes", func(t *testing.T) {
		res, err := model.KernelFn()(x1, nil, kernels.KindShape1, kernels.KindShape2)
		require.NoError(t, err)
		assert.Equal(t, res[0], res[1])
	})

	t.Run("invalid_request", func(t *testing.T) {
		_, err := model.KernelFn()(x1, x2, kernels.Kind(42))
		require.ErrorIs(t, err, kernels.ErrInvalidRequest)
	})

	t.Run("rank_mismatch", func(t *testing.T) {
		high := tensors.FromFlatDataAndDimensions(make([]float64, 12), 2, 2, 3)
		_, err := model.KernelFn()(high, nil)
		require.ErrorIs(t, err, kernels.ErrShapeMismatch)
	})

	t.Run("flatten_accepts_higher_rank", func(t *testing.T) {
		high := tensors.FromFlatDataAndDimensions([]float64{
			0.1, -0.2, 0.3, 0.4, -0.5, 0.6,
			-0.7, 0.8, 0.9, -1.0, 1.1, 1.2}, 2, 2, 3)
		flatModel := Serial(Flatten(), Dense(8, 1, 0.5), Relu(), Dense(2, 1, 0.5))
		res, err := flatModel.KernelFn()(high, nil, kernels.KindShape1)
		require.NoError(t, err)
		assert.Equal(t, []int{2, 2}, res[0])
	})
}
