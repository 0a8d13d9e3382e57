// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package montecarlo estimates infinite-width kernels empirically, by
// averaging over finite networks with independently re-drawn parameters.
//
// The estimator implements the same kernels.KernelFn contract as the analytic
// propagator (wide.Layer.KernelFn): for each trial it draws fresh parameters,
// runs the finite network forward on both input batches, and accumulates
//
//	NNGP[i,j] ≈ mean over draws of <f(x1[i]), f(x2[j])> / outputDim
//	NTK[i,j]  ≈ mean over draws of <∂f(x1[i])/∂θ, ∂f(x2[j])/∂θ> / outputDim
//
// The estimate converges to the closed form as width and the number of
// samples grow; it exists to validate the closed-form rules.
package montecarlo

import (
	"slices"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	. "github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/tangents/kernels"
	"github.com/gomlx/tangents/wide"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

type config struct {
	progress bool
}

// Option configures the estimator returned by NewKernelFn.
type Option func(*config)

// WithProgress displays a progress bar over sampling trials on stderr. Meant
// for interactive use; leave it off in tests.
func WithProgress() Option {
	return func(c *config) { c.progress = true }
}

// NewKernelFn returns an empirical kernel function for model, averaging over
// numSamples independent parameter draws derived from seed.
//
// The returned function is deterministic: the same (seed, numSamples, inputs,
// request) produce bit-identical results. The Jacobian-based NTK computation
// only happens when the request asks for KindNTK (or defaults to it), so
// NNGP-only or shape-only requests stay cheap.
func NewKernelFn(backend backends.Backend, model wide.Layer, seed int64, numSamples int, opts ...Option) kernels.KernelFn {
	if numSamples <= 0 {
		Panicf("montecarlo.NewKernelFn requires numSamples > 0, got %d", numSamples)
	}
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(x1, x2 *tensors.Tensor, get ...kernels.Kind) ([]any, error) {
		needNTK, err := validateRequest(get)
		if err != nil {
			return nil, err
		}
		if err := validateInputs(model, x1, x2); err != nil {
			return nil, err
		}
		klog.V(1).Infof("montecarlo: estimating %v for model %q over %d samples (seed %d)",
			requestOrDefault(get), model.Name, numSamples, seed)

		var bar *progressbar.ProgressBar
		if cfg.progress {
			bar = progressbar.Default(int64(numSamples), "sampling")
		}

		result := &kernels.Kernel{SameInputs: x2 == nil}
		for trial := 0; trial < numSamples; trial++ {
			s, err := sampleOnce(backend, model, SplitSeed(seed, trial), x1, x2, needNTK)
			if err != nil {
				return nil, errors.WithMessagef(err, "sampling trial %d", trial)
			}
			accumulate(result, s, trial, needNTK)
			if trial == 0 {
				result.Shape1 = s.shape1
				result.Shape2 = s.shape2
			}
			if bar != nil {
				_ = bar.Add(1)
			}
			klog.V(2).Infof("montecarlo: trial %d/%d done", trial+1, numSamples)
		}
		return result.Get(get...)
	}
}

// trialSample holds one draw's host-side results: forward outputs as (batch,
// outputDim) matrices and, when requested, Jacobians as
// (batch·outputDim, totalParams) matrices.
type trialSample struct {
	y1, y2         *mat.Dense
	jac1, jac2     *mat.Dense
	shape1, shape2 []int
}

// sampleOnce draws one set of parameters and evaluates the finite network (and
// its Jacobian, if needNTK) on both input batches. The same draw serves both
// batches: x2 runs through the same variables x1 created.
func sampleOnce(backend backends.Backend, model wide.Layer, trialSeed int64, x1, x2 *tensors.Tensor, needNTK bool) (*trialSample, error) {
	ctx := wide.NewParams(trialSeed)
	defer ctx.Finalize()

	var s trialSample
	var y1T, y2T *tensors.Tensor
	var err error
	if needNTK {
		exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x *wide.Node) []*wide.Node {
			return forwardAndJacobian(model, ctx, x)
		})
		defer exec.Finalize()
		var jac1T, jac2T *tensors.Tensor
		if y1T, jac1T, err = exec.Exec2(x1); err != nil {
			return nil, err
		}
		y2T, jac2T = y1T, jac1T
		if x2 != nil {
			if y2T, jac2T, err = exec.Exec2(x2); err != nil {
				return nil, err
			}
		}
		if s.jac1, err = kernels.BatchMatrix(jac1T); err != nil {
			return nil, err
		}
		if s.jac2, err = kernels.BatchMatrix(jac2T); err != nil {
			return nil, err
		}
	} else {
		exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, x *wide.Node) *wide.Node {
			return model.Apply(ctx, x)
		})
		defer exec.Finalize()
		if y1T, err = exec.Exec1(x1); err != nil {
			return nil, err
		}
		y2T = y1T
		if x2 != nil {
			if y2T, err = exec.Exec1(x2); err != nil {
				return nil, err
			}
		}
	}

	if s.y1, err = kernels.BatchMatrix(y1T); err != nil {
		return nil, err
	}
	if s.y2, err = kernels.BatchMatrix(y2T); err != nil {
		return nil, err
	}
	s.shape1 = slices.Clone(y1T.Shape().Dimensions)
	s.shape2 = slices.Clone(y2T.Shape().Dimensions)
	return &s, nil
}

// accumulate folds one trial into the running means. The incremental form
// mean += (sample-mean)/(trial+1) avoids accumulating a large sum.
func accumulate(result *kernels.Kernel, s *trialSample, trial int, needNTK bool) {
	_, outputDim := s.y1.Dims()
	var nngp mat.Dense
	nngp.Mul(s.y1, s.y2.T())
	nngp.Scale(1/float64(outputDim), &nngp)
	result.NNGP = updateMean(result.NNGP, &nngp, trial)
	if needNTK {
		result.NTK = updateMean(result.NTK, ntkOfJacobians(s.jac1, s.jac2, outputDim), trial)
	}
}

// ntkOfJacobians contracts two Jacobians into an NTK sample:
// ntk[i,j] = (1/outputDim) Σ_c <∂y1[i,c]/∂θ, ∂y2[j,c]/∂θ>.
func ntkOfJacobians(jac1, jac2 *mat.Dense, outputDim int) *mat.Dense {
	var full mat.Dense
	full.Mul(jac1, jac2.T())
	rows1, _ := jac1.Dims()
	rows2, _ := jac2.Dims()
	n1, n2 := rows1/outputDim, rows2/outputDim
	ntk := mat.NewDense(n1, n2, nil)
	for i := 0; i < n1; i++ {
		for j := 0; j < n2; j++ {
			var sum float64
			for c := 0; c < outputDim; c++ {
				sum += full.At(i*outputDim+c, j*outputDim+c)
			}
			ntk.Set(i, j, sum/float64(outputDim))
		}
	}
	return ntk
}

func updateMean(mean, sample *mat.Dense, trial int) *mat.Dense {
	if mean == nil {
		r, c := sample.Dims()
		mean = mat.NewDense(r, c, nil)
	}
	var diff mat.Dense
	diff.Sub(sample, mean)
	diff.Scale(1/float64(trial+1), &diff)
	mean.Add(mean, &diff)
	return mean
}

// validateRequest rejects unrecognized request tokens before any sampling
// happens, and reports whether the (possibly defaulted) request needs the NTK.
func validateRequest(get []kernels.Kind) (needNTK bool, err error) {
	if len(get) == 0 {
		return true, nil // Default request is (nngp, ntk).
	}
	for _, kind := range get {
		switch kind {
		case kernels.KindNTK:
			needNTK = true
		case kernels.KindNNGP, kernels.KindShape1, kernels.KindShape2:
		default:
			return false, errors.Wrapf(kernels.ErrInvalidRequest,
				"unrecognized request token %q", kind.String())
		}
	}
	return needNTK, nil
}

// validateInputs checks both batches against the model's shape rule and each
// other before building any graph.
func validateInputs(model wide.Layer, x1, x2 *tensors.Tensor) error {
	if x1 == nil {
		return errors.Wrap(kernels.ErrShapeMismatch, "x1 must not be nil")
	}
	if _, err := model.OutputShape(x1.Shape()); err != nil {
		return err
	}
	if x2 == nil {
		return nil
	}
	if _, err := model.OutputShape(x2.Shape()); err != nil {
		return err
	}
	d1 := x1.Shape().Dimensions[1:]
	d2 := x2.Shape().Dimensions[1:]
	if !slices.Equal(d1, d2) {
		return errors.Wrapf(kernels.ErrShapeMismatch,
			"x1 and x2 must have the same feature dimensions, got %v and %v", d1, d2)
	}
	return nil
}

func requestOrDefault(get []kernels.Kind) []kernels.Kind {
	if len(get) == 0 {
		return []kernels.Kind{kernels.KindNNGP, kernels.KindNTK}
	}
	return get
}
