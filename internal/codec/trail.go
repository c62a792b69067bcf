package codec

import (
	"math"

	"github.com/trmrsh/cpp-tomog/internal/arr"
	"github.com/trmrsh/cpp-tomog/internal/errs"
)

// TrailMagic is the magic number identifying a trailed-spectrum file,
// preserved from the legacy tool that originated this format.
const TrailMagic int32 = 1235641

// Trail is a trailed spectrum: Ns time-ordered 1-D spectra of Np pixels
// each, on a uniform log-wavelength grid.
type Trail struct {
	Data *arr.Array2D[float32] // [Ns][Np]
	Err  *arr.Array2D[float32] // [Ns][Np]

	// Vpixd is km/s per data pixel on the log-wavelength grid.
	Vpixd float32
	// Lambda0 is the rest wavelength (Angstrom or consistent unit) of
	// pixel 0.
	Lambda0 float64
	// Time holds the mid-exposure time of each spectrum.
	Time []float64
	// Expose holds the exposure length of each spectrum, same units as
	// Time.
	Expose []float32
}

// NewTrail allocates a zeroed trail of ns spectra by np pixels.
func NewTrail(ns, np int, vpixd float32, lambda0 float64) *Trail {
	return &Trail{
		Data:    arr.NewArray2D[float32](ns, np),
		Err:     arr.NewArray2D[float32](ns, np),
		Vpixd:   vpixd,
		Lambda0: lambda0,
		Time:    make([]float64, ns),
		Expose:  make([]float32, ns),
	}
}

// Npix returns the number of pixels per spectrum, Np.
func (t *Trail) Npix() int { return t.Data.Cols }

// Nspec returns the number of spectra, Ns.
func (t *Trail) Nspec() int { return t.Data.Rows }

// Size returns the total pixel count Ns*Np (Ndat in spec §3).
func (t *Trail) Size() int { return t.Data.Rows * t.Data.Cols }

// MaskedCount returns the number of pixels whose error is non-positive
// (spec §3's masking convention). Diagnostic only; does not affect the
// weight conversion, which counts all of Ndat by design (spec §9).
func (t *Trail) MaskedCount() int {
	n := 0
	for _, e := range t.Err.Data {
		if e <= 0 {
			n++
		}
	}
	return n
}

// WavelengthRange returns the wavelength range [lo, hi) covered by data
// pixel p, per spec §3's bin-edge formula.
func (t *Trail) WavelengthRange(p int) (lo, hi float64) {
	c := 299792.458 // km/s
	vp := float64(t.Vpixd)
	lo = t.Lambda0 * math.Exp(vp*(float64(p)-0.5)/c)
	hi = t.Lambda0 * math.Exp(vp*(float64(p)+0.5)/c)
	return lo, hi
}

// Validate checks the structural invariants of spec §3: vpixd, lambda0 > 0
// and that Data/Err/Time/Expose are mutually consistent in shape.
func (t *Trail) Validate() error {
	if t.Vpixd <= 0 {
		return &errs.InputShapeError{Field: "vpixd", Expected: "> 0", Actual: ftoa(float64(t.Vpixd))}
	}
	if t.Lambda0 <= 0 {
		return &errs.InputShapeError{Field: "lambda0", Expected: "> 0", Actual: ftoa(t.Lambda0)}
	}
	if !t.Data.SameShape(t.Err) {
		return &errs.ShapeMismatchError{
			FieldA: "data", ShapeA: shapeStr(t.Data.Rows, t.Data.Cols),
			FieldB: "error", ShapeB: shapeStr(t.Err.Rows, t.Err.Cols),
		}
	}
	if len(t.Time) != t.Data.Rows {
		return &errs.ShapeMismatchError{FieldA: "time", ShapeA: itoa(len(t.Time)), FieldB: "Ns", ShapeB: itoa(t.Data.Rows)}
	}
	if len(t.Expose) != t.Data.Rows {
		return &errs.ShapeMismatchError{FieldA: "expose", ShapeA: itoa(len(t.Expose)), FieldB: "Ns", ShapeB: itoa(t.Data.Rows)}
	}
	return nil
}

func shapeStr(rows, cols int) string {
	return itoa(rows) + "x" + itoa(cols)
}

// MatchTrails reports whether two trails share the same geometry (pixel
// scale and shape) — analogous to the legacy `match(trl1, trl2)` check.
func MatchTrails(a, b *Trail) bool {
	return a.Data.SameShape(b.Data) && a.Vpixd == b.Vpixd && a.Lambda0 == b.Lambda0
}
