// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Kernel holds the pair-covariance state propagated through a network's
// layers. Each layer's closed-form rule maps one Kernel to the next.
//
// NNGP[i,j] is the covariance of outputs at (x1[i], x2[j]); NTK[i,j] the
// parameter-gradient inner product at the same pair. Var1/Var2 are the
// same-sample variances Cov(x1[i], x1[i]) and Cov(x2[j], x2[j]) -- they differ
// from the NNGP diagonal whenever x2 is present, and activation rules need
// them to form the pairwise angle.
type Kernel struct {
	NNGP *mat.Dense
	NTK  *mat.Dense
	Var1 *mat.VecDense
	Var2 *mat.VecDense

	// FanIn is the feature count currently feeding the next affine layer.
	// The standard-parameterization NTK rule has no width-free limit and
	// consumes it.
	FanIn int

	// SameInputs records that x2 was nil: NNGP/NTK diagonal entries then
	// compare a sample with itself (relevant to stochastic layers).
	SameInputs bool

	// Gaussian marks the output as zero-mean Gaussian conditioned on the
	// previous layer, which holds right after an affine layer. Branch
	// summation relies on it to cancel cross-covariances.
	Gaussian bool

	// Shape1 and Shape2 are the output batch shapes of a single forward pass
	// on x1 and x2 respectively.
	Shape1 []int
	Shape2 []int
}

// NewInput builds the input-layer Kernel for a pair of batches, flattening all
// feature axes: NNGP[i,j] = <x1[i], x2[j]> / features. NTK starts at zero.
// x2 may be nil, meaning "compare x1 against itself".
func NewInput(x1, x2 *tensors.Tensor) (*Kernel, error) {
	m1, err := BatchMatrix(x1)
	if err != nil {
		return nil, err
	}
	m2 := m1
	same := x2 == nil
	if !same {
		m2, err = BatchMatrix(x2)
		if err != nil {
			return nil, err
		}
	}
	n1, d := m1.Dims()
	n2, d2 := m2.Dims()
	if d != d2 {
		return nil, errors.Wrapf(ErrShapeMismatch,
			"x1 and x2 must have the same feature dimensions, got %d and %d features", d, d2)
	}

	k := &Kernel{
		NNGP:       mat.NewDense(n1, n2, nil),
		NTK:        mat.NewDense(n1, n2, nil),
		Var1:       mat.NewVecDense(n1, nil),
		Var2:       mat.NewVecDense(n2, nil),
		FanIn:      d,
		SameInputs: same,
		Shape1:     slices.Clone(x1.Shape().Dimensions),
	}
	k.NNGP.Mul(m1, m2.T())
	k.NNGP.Scale(1/float64(d), k.NNGP)
	for i := 0; i < n1; i++ {
		row := m1.RawRowView(i)
		k.Var1.SetVec(i, floats.Dot(row, row)/float64(d))
	}
	for j := 0; j < n2; j++ {
		row := m2.RawRowView(j)
		k.Var2.SetVec(j, floats.Dot(row, row)/float64(d))
	}
	if same {
		k.Shape2 = slices.Clone(k.Shape1)
	} else {
		k.Shape2 = slices.Clone(x2.Shape().Dimensions)
	}
	return k, nil
}

// Clone returns a deep copy.
func (k *Kernel) Clone() *Kernel {
	c := &Kernel{
		FanIn:      k.FanIn,
		SameInputs: k.SameInputs,
		Gaussian:   k.Gaussian,
		Shape1:     slices.Clone(k.Shape1),
		Shape2:     slices.Clone(k.Shape2),
	}
	c.NNGP = mat.DenseCopyOf(k.NNGP)
	c.NTK = mat.DenseCopyOf(k.NTK)
	c.Var1 = mat.VecDenseCopyOf(k.Var1)
	c.Var2 = mat.VecDenseCopyOf(k.Var2)
	return c
}

// Get packs the requested values in request order. An empty request defaults
// to (KindNNGP, KindNTK). Unrecognized kinds fail with ErrInvalidRequest.
func (k *Kernel) Get(get ...Kind) ([]any, error) {
	if len(get) == 0 {
		get = []Kind{KindNNGP, KindNTK}
	}
	out := make([]any, len(get))
	for i, kind := range get {
		switch kind {
		case KindNNGP:
			out[i] = k.NNGP
		case KindNTK:
			out[i] = k.NTK
		case KindShape1:
			out[i] = slices.Clone(k.Shape1)
		case KindShape2:
			out[i] = slices.Clone(k.Shape2)
		default:
			return nil, errors.Wrapf(ErrInvalidRequest, "unrecognized request token %q", kind.String())
		}
	}
	return out, nil
}

// BatchMatrix copies a (batch, features...) tensor into a gonum matrix of
// shape (batch, flattened features), converting to float64.
func BatchMatrix(t *tensors.Tensor) (*mat.Dense, error) {
	if t == nil {
		return nil, errors.Wrap(ErrShapeMismatch, "nil input batch")
	}
	if t.Rank() < 2 {
		return nil, errors.Wrapf(ErrShapeMismatch,
			"input batch must have rank >= 2 (batch, features...), got shape %s", t.Shape())
	}
	n := t.Shape().Dimensions[0]
	d := t.Size() / n
	var data []float64
	switch t.DType() {
	case dtypes.Float64:
		data = tensors.MustCopyFlatData[float64](t)
	case dtypes.Float32:
		f32 := tensors.MustCopyFlatData[float32](t)
		data = make([]float64, len(f32))
		for i, v := range f32 {
			data[i] = float64(v)
		}
	default:
		return nil, errors.Wrapf(ErrShapeMismatch, "unsupported input dtype %s", t.DType())
	}
	return mat.NewDense(n, d, data), nil
}
