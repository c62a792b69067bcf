// Package mem implements the maximum-entropy/chi-square search step (spec
// §4.E): a classic MEMSYS-style quadratic-subspace method that, per
// iteration, builds three search directions in the entropy metric, maps
// them through the forward projector, and solves a 3x3 constrained
// quadratic subproblem for the step that simultaneously increases entropy,
// drives chi-square toward a target, and respects a trust region.
//
// The legacy implementation's single contiguous 22-slot scratch region
// (spec §3) becomes the explicit Workspace below: a struct of typed slices
// allocated once per run, with no package-level mutable state. Op/Tr are
// called as free functions against it; nothing is shared across runs.
package mem

import (
	"context"
	"math"

	"github.com/trmrsh/cpp-tomog/internal/errs"
	"github.com/trmrsh/cpp-tomog/internal/tomog"
)

// Workspace holds every image- and data-sized buffer the search step
// needs for one run. It replaces the legacy 22-slot flat scratch region
// with named, typed fields — slots 0, 19, 20 and 21 map to Image, Default,
// Data and Weight; the remaining slots become the unexported scratch
// fields below, sized once at construction and reused every iteration.
type Workspace struct {
	Par tomog.Params
	Img tomog.ImageGeometry
	Dat tomog.DataGeometry

	Image   []float32 // slot 0: current image f
	Default []float32 // slot 19: default image m
	Data    []float32 // slot 20: observed data d
	Weight  []float32 // slot 21: per-pixel weight w (<=0 means masked)

	// Image-sized scratch (slots 1-3 and part of the subspace-basis slots).
	gradS, gradC   []float32
	dir1, dir2, dir3 []float32
	scratchImage   []float32

	// Data-sized scratch (slots 4-6).
	opImage  []float32
	residual []float32
	opDir1   []float32
	opDir2   []float32
	opDir3   []float32
}

// NewWorkspace allocates a Workspace for the given parameters and
// geometries. Image, Default, Data and Weight must be filled by the
// caller (the driver) before the first Step.
func NewWorkspace(par tomog.Params, img tomog.ImageGeometry, dat tomog.DataGeometry) *Workspace {
	nImg, nDat := img.Len(), dat.Len()
	return &Workspace{
		Par:     par,
		Img:     img,
		Dat:     dat,
		Image:   make([]float32, nImg),
		Default: make([]float32, nImg),
		Data:    make([]float32, nDat),
		Weight:  make([]float32, nDat),

		gradS:        make([]float32, nImg),
		gradC:        make([]float32, nImg),
		dir1:         make([]float32, nImg),
		dir2:         make([]float32, nImg),
		dir3:         make([]float32, nImg),
		scratchImage: make([]float32, nImg),

		opImage:  make([]float32, nDat),
		residual: make([]float32, nDat),
		opDir1:   make([]float32, nDat),
		opDir2:   make([]float32, nDat),
		opDir3:   make([]float32, nDat),
	}
}

// SumF returns Sigma f, the total image flux.
func (w *Workspace) SumF() float64 {
	var sum float64
	for _, v := range w.Image {
		sum += float64(v)
	}
	return sum
}

// Entropy computes S(f) = Sum(f - m - f*ln(f/m)) over all voxels (spec
// §4.E item 1).
func (w *Workspace) Entropy() float64 {
	var s float64
	for i, f := range w.Image {
		m := float64(w.Default[i])
		fv := float64(f)
		s += fv - m - fv*math.Log(fv/m)
	}
	return s
}

// checkPositive returns a DomainViolationError for the first non-positive
// voxel found, or nil.
func checkPositive(f []float32) error {
	for i, v := range f {
		if v <= 0 {
			return &errs.DomainViolationError{Index: i, Value: float64(v)}
		}
	}
	return nil
}

// computeResidual runs Op(Image) into opImage and residual = opImage -
// Data.
func (w *Workspace) computeResidual(ctx context.Context) error {
	if err := tomog.Op(ctx, w.Par, w.Img, w.Dat, w.Image, w.opImage); err != nil {
		return err
	}
	for i := range w.residual {
		w.residual[i] = w.opImage[i] - w.Data[i]
	}
	return nil
}

// ChiSquare computes C(f) = Sum w_i*(op(f)_i - d_i)^2 (spec §4.E item 2).
// computeResidual must have been called first.
func (w *Workspace) ChiSquare() float64 {
	var c float64
	for i, r := range w.residual {
		wi := float64(w.Weight[i])
		if wi <= 0 {
			continue
		}
		c += wi * float64(r) * float64(r)
	}
	return c
}

// Ndat is the count of all data pixels, masked or not (spec §3's weight
// convention denominator).
func (w *Workspace) Ndat() int { return len(w.Data) }
