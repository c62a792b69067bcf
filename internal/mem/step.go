package mem

import (
	"context"
	"math"

	"github.com/trmrsh/cpp-tomog/internal/errs"
	"github.com/trmrsh/cpp-tomog/internal/tomog"
)

// StepReport summarises one Step call: the entropy/chi-square values it
// started from, the "test" convergence statistic, the acceptance fraction
// actually applied (possibly auto-reduced below the requested value), and
// any non-fatal warnings (spec §4.E item 7, §7).
type StepReport struct {
	S, C     float64
	Test     float64
	Acc      float64
	Warnings []string
}

// minAcc is the floor below which an auto-reduced step is abandoned as a
// domain violation rather than silently shrunk to nothing.
const minAcc = 1.0 / 1024

// Step performs one maximum-entropy/chi-square search iteration (spec
// §4.E), advancing w.Image in place. rmax is the trust-region radius
// (entropy-metric units), caimRaw the chi-square target on the same scale
// as ChiSquare (whose weights already carry the 1/Ndat factor), compared
// directly with C.
func Step(ctx context.Context, w *Workspace, rmax, caimRaw float64) (*StepReport, error) {
	if err := checkPositive(w.Image); err != nil {
		return nil, err
	}

	if err := w.computeResidual(ctx); err != nil {
		return nil, err
	}
	rep := &StepReport{
		S: w.Entropy(),
		C: w.ChiSquare(),
	}

	// Gradients (spec §4.E item 3): dS = -ln(f/m), dC = 2*tr(w*residual).
	for i, f := range w.Image {
		w.gradS[i] = float32(-math.Log(float64(f) / float64(w.Default[i])))
	}
	// opImage (= op(f)) is no longer needed this iteration; reuse it to
	// hold the weighted residual passed into Tr.
	for i, r := range w.residual {
		w.opImage[i] = r * float32(w.Weight[i])
	}
	if err := tomog.Tr(ctx, w.Par, w.Img, w.Dat, w.opImage, w.gradC); err != nil {
		return nil, err
	}
	for i := range w.gradC {
		w.gradC[i] *= 2
	}
	for _, v := range w.gradS {
		if math.IsNaN(float64(v)) {
			return nil, &errs.NumericFailureError{Reason: "NaN in entropy gradient"}
		}
	}
	for _, v := range w.gradC {
		if math.IsNaN(float64(v)) {
			return nil, &errs.NumericFailureError{Reason: "NaN in chi-square gradient"}
		}
	}

	// test statistic: 1 - cosine of the angle between dS and dC in the
	// entropy metric <u,v> = Sum f*u*v (spec §4.E item 6).
	dotSS := dotF(w.Image, w.gradS, w.gradS)
	dotCC := dotF(w.Image, w.gradC, w.gradC)
	dotSC := dotF(w.Image, w.gradS, w.gradC)
	if dotSS > 0 && dotCC > 0 {
		cos := dotSC / math.Sqrt(dotSS*dotCC)
		if cos > 1 {
			cos = 1
		} else if cos < -1 {
			cos = -1
		}
		rep.Test = 1 - cos
	} else {
		rep.Test = 0
	}

	// Three search directions (spec §4.E item 4): the entropy metric
	// applied to each gradient, plus a combined direction Gram-Schmidt
	// orthogonalised against the first two under the entropy metric
	// <u,v>_M = Sum u*v/f.
	for i, f := range w.Image {
		w.dir1[i] = f * w.gradS[i]
		w.dir2[i] = f * w.gradC[i]
	}
	buildDir3(w.Image, w.gradS, w.gradC, w.dir1, w.dir2, w.dir3)

	if err := tomog.Op(ctx, w.Par, w.Img, w.Dat, w.dir1, w.opDir1); err != nil {
		return nil, err
	}
	if err := tomog.Op(ctx, w.Par, w.Img, w.Dat, w.dir2, w.opDir2); err != nil {
		return nil, err
	}
	if err := tomog.Op(ctx, w.Par, w.Img, w.Dat, w.dir3, w.opDir3); err != nil {
		return nil, err
	}

	// Entropy-metric Gram matrix M[j][k] = Sum dir_j*dir_k/f, and the
	// chi-square curvature matrix B[j][k] = Sum w*opDir_j*opDir_k.
	dirs := [3][]float32{w.dir1, w.dir2, w.dir3}
	opDirs := [3][]float32{w.opDir1, w.opDir2, w.opDir3}

	var M, B mat3
	for j := 0; j < 3; j++ {
		for k := j; k < 3; k++ {
			M.set(j, k, dotInvF(w.Image, dirs[j], dirs[k]))
			B.set(j, k, dotWeighted(w.Weight, opDirs[j], opDirs[k]))
		}
	}

	gS := [3]float64{
		dotPlain(w.gradS, w.dir1), dotPlain(w.gradS, w.dir2), dotPlain(w.gradS, w.dir3),
	}
	gC := [3]float64{
		dotPlain(w.gradC, w.dir1), dotPlain(w.gradC, w.dir2), dotPlain(w.gradC, w.dir3),
	}

	// A search direction can vanish (e.g. dS=0 when f starts equal to the
	// default, or dir3's Gram-Schmidt residual collapsing to ~0 when dS
	// and dC already span the whole subspace). Neutralise that row/column
	// so the 3x3 solve never sees a singular matrix; the corresponding
	// coefficient comes out as 0, which is the correct answer for a
	// direction carrying no information anyway.
	for idx := 0; idx < 3; idx++ {
		if M.at(idx, idx) < 1e-12 {
			for j := 0; j < 3; j++ {
				if j == idx {
					continue
				}
				M.set(idx, j, 0)
				B.set(idx, j, 0)
			}
			M.set(idx, idx, 1)
			B.set(idx, idx, 0)
			gS[idx] = 0
			gC[idx] = 0
		}
	}

	tMax := rmax * rmax * w.SumF()
	mustReduceC := rep.C > caimRaw

	a, _, err := searchLambda(M, B, gS, gC, tMax, mustReduceC)
	if err != nil {
		return nil, err
	}

	// Delta f = a1*dir1 + a2*dir2 + a3*dir3.
	for i := range w.scratchImage {
		w.scratchImage[i] = float32(a[0]*float64(dirs[0][i]) + a[1]*float64(dirs[1][i]) + a[2]*float64(dirs[2][i]))
	}

	acc := 1.0
	for {
		ok := true
		for i, f := range w.Image {
			if float64(f)+acc*float64(w.scratchImage[i]) <= 0 {
				ok = false
				break
			}
		}
		if ok {
			break
		}
		acc /= 2
		if acc < minAcc {
			return nil, &errs.DomainViolationError{Index: -1, Value: 0}
		}
		rep.Warnings = append(rep.Warnings, "acc auto-reduced to avoid a non-positive voxel")
	}

	for i := range w.Image {
		w.Image[i] += float32(acc) * w.scratchImage[i]
	}
	if err := checkPositive(w.Image); err != nil {
		return nil, err
	}
	rep.Acc = acc
	if acc < 0.1 {
		rep.Warnings = append(rep.Warnings, "final acc below 0.1")
	}

	return rep, nil
}

// searchLambda performs the closed-form Lagrange search over the
// multiplier lambda >= 0 (spec §4.E item 6): at each lambda the quadratic
// subproblem (M + 2*lambda*B)*a = gS - lambda*gC is solved directly. When
// the current chi-square is already at or below the target, lambda=0
// (pure entropy ascent) is taken whenever it already respects the trust
// region. When the chi-square is above the target and lambda=0 respects
// the trust region, a fixed lambda=1 is taken. When lambda=0 violates the
// trust region, the search adopts the smallest lambda for which
// Sum(Delta f)^2/f <= tMax holds, bisecting against the monotone decay of
// the step's trust-region norm as lambda grows.
func searchLambda(M, B mat3, gS, gC [3]float64, tMax float64, mustReduceC bool) ([3]float64, float64, error) {
	trustOK := func(lambda float64) ([3]float64, float64, error) {
		lhs := addScaled3(M, B, 2*lambda)
		var b [3]float64
		for i := 0; i < 3; i++ {
			b[i] = gS[i] - lambda*gC[i]
		}
		a, err := solveCholesky3(lhs, b)
		if err != nil {
			return a, 0, err
		}
		return a, M.quadForm(a), nil
	}

	a0, t0, err := trustOK(0)
	if err != nil {
		return [3]float64{}, 0, err
	}
	if !mustReduceC && t0 <= tMax {
		return a0, 0, nil
	}
	if t0 <= tMax {
		// Trust region already satisfied at lambda=0, but C is above
		// target: take a moderate fixed chi-square weighting so the step
		// still mixes in a chi-square-reducing component.
		a, _, err := trustOK(1)
		if err != nil {
			return [3]float64{}, 0, err
		}
		return a, 1, nil
	}

	// t0 > tMax: bisect for the smallest lambda that brings the step back
	// inside the trust region.
	lo, hi := 0.0, 1.0
	var aHi [3]float64
	for iter := 0; iter < 60; iter++ {
		a, t, err := trustOK(hi)
		if err != nil {
			return [3]float64{}, 0, err
		}
		aHi = a
		if t <= tMax {
			break
		}
		hi *= 2
	}

	a := aHi
	for iter := 0; iter < 60; iter++ {
		mid := 0.5 * (lo + hi)
		cand, t, err := trustOK(mid)
		if err != nil {
			return [3]float64{}, 0, err
		}
		if t <= tMax {
			hi = mid
			a = cand
		} else {
			lo = mid
		}
	}
	return a, hi, nil
}

// buildDir3 constructs the third search direction: the combined gradient
// f*(dS+dC), Gram-Schmidt orthogonalised against dir1 and dir2 under the
// entropy metric <u,v>_M = Sum u*v/f.
func buildDir3(f, gradS, gradC, dir1, dir2, out []float32) {
	raw := make([]float32, len(f))
	for i := range raw {
		raw[i] = f[i] * (gradS[i] + gradC[i])
	}

	m11 := dotInvF(f, dir1, dir1)
	m22 := dotInvF(f, dir2, dir2)
	r1 := dotInvF(f, raw, dir1)
	r2 := dotInvF(f, raw, dir2)

	var c1, c2 float64
	if m11 > 1e-12 {
		c1 = r1 / m11
	}
	if m22 > 1e-12 {
		c2 = r2 / m22
	}
	for i := range out {
		out[i] = raw[i] - float32(c1)*dir1[i] - float32(c2)*dir2[i]
	}
}

// dotF returns Sum f*u*v.
func dotF(f, u, v []float32) float64 {
	var s float64
	for i := range u {
		s += float64(f[i]) * float64(u[i]) * float64(v[i])
	}
	return s
}

// dotInvF returns Sum u*v/f.
func dotInvF(f, u, v []float32) float64 {
	var s float64
	for i := range u {
		s += float64(u[i]) * float64(v[i]) / float64(f[i])
	}
	return s
}

// dotWeighted returns Sum w*u*v, skipping non-positive (masked) weights.
func dotWeighted(w, u, v []float32) float64 {
	var s float64
	for i := range u {
		wi := float64(w[i])
		if wi <= 0 {
			continue
		}
		s += wi * float64(u[i]) * float64(v[i])
	}
	return s
}

// dotPlain returns the ordinary Sum u*v.
func dotPlain(u, v []float32) float64 {
	var s float64
	for i := range u {
		s += float64(u[i]) * float64(v[i])
	}
	return s
}
