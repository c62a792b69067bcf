// Package tomog implements the forward projector Op (image -> data) and
// its adjoint Tr (data -> image) that encode the physics of Doppler
// tomography: orbital phase smearing over a finite exposure, rotation of
// the velocity-space image with phase, wavelength shift from radial
// velocity, and Gaussian line-profile convolution on a log-wavelength
// pixel grid (spec §4.D).
package tomog

import (
	"math"
)

// C is the speed of light in km/s.
const C = 299792.458

// EFAC converts a Gaussian FWHM to its standard deviation: sigma =
// FWHM/EFAC. Shared with the default-image generator (spec §9).
var EFAC = 2 * math.Sqrt(2*math.Log(2))

// Params holds the projector's numeric knobs, independent of any
// particular image or trail.
type Params struct {
	// FWHM is the local line-profile width, km/s.
	FWHM float64
	// Ndiv is the per-axis image-pixel subsampling factor (Ndiv x Ndiv
	// sub-samples per pixel). 1 disables subsampling.
	Ndiv int
	// Ntdiv is the number of sub-phase points used to simulate finite
	// exposure length. 1 disables exposure smearing.
	Ntdiv int
	// Tzero is the ephemeris zero-phase time.
	Tzero float64
	// Period is the ephemeris period (same units as Tzero and the trail's
	// Time/Expose).
	Period float64
}

// ImageGeometry is the subset of an image cube's metadata the projector
// needs: shape, pixel scale, and per-axis physical coordinates.
type ImageGeometry struct {
	Nw, Ng, N int
	Vpix      float64
	Wave0     []float64 // rest wavelength per spectral line, length Nw
	Gamma     []float64 // systemic velocity per slice, km/s, length Ng
}

// Vx returns the x-velocity (km/s) of a continuous pixel coordinate x,
// using the (N-1)/2 centring convention (spec §9).
func (g ImageGeometry) Vx(x float64) float64 {
	return g.Vpix * (x - float64(g.N-1)/2)
}

// Vy returns the y-velocity (km/s) of a continuous pixel coordinate y.
func (g ImageGeometry) Vy(y float64) float64 {
	return g.Vpix * (y - float64(g.N-1)/2)
}

// index returns the flat offset of image voxel (w, g, y, x).
func (g ImageGeometry) index(w, gi, y, x int) int {
	return ((w*g.Ng+gi)*g.N+y)*g.N + x
}

// Len returns the total voxel count Nw*Ng*N*N.
func (g ImageGeometry) Len() int { return g.Nw * g.Ng * g.N * g.N }

// DataGeometry is the subset of a trailed spectrum's metadata the
// projector needs.
type DataGeometry struct {
	Ns, Np  int
	Vpixd   float64
	Lambda0 float64
	Time    []float64 // mid-exposure time per spectrum, length Ns
	Expose  []float64 // exposure length per spectrum, length Ns
}

// Len returns the total pixel count Ns*Np.
func (d DataGeometry) Len() int { return d.Ns * d.Np }

// subPhase is one weighted orbital phase sample contributing to spectrum
// s, from splitting its exposure window into Ntdiv equal sub-phases.
type subPhase struct {
	phase  float64
	weight float64 // always 1/Ntdiv
}

func subPhases(dat DataGeometry, p Params, s int) []subPhase {
	nt := p.Ntdiv
	if nt < 1 {
		nt = 1
	}
	phi := (dat.Time[s] - p.Tzero) / p.Period
	halfWidth := dat.Expose[s] / (2 * p.Period)
	out := make([]subPhase, nt)
	step := (2 * halfWidth) / float64(nt)
	w := 1.0 / float64(nt)
	for it := 0; it < nt; it++ {
		out[it] = subPhase{
			phase:  phi - halfWidth + (float64(it)+0.5)*step,
			weight: w,
		}
	}
	return out
}

// lineCentre returns the log-wavelength data-pixel coordinate p* that a
// line at rest wavelength wave0, emitted at line-of-sight velocity vlos,
// maps to (spec §4.D item 2).
func lineCentre(dat DataGeometry, wave0, vlos float64) float64 {
	lambda := wave0 * (1 + vlos/C)
	return C / dat.Vpixd * math.Log(lambda/dat.Lambda0)
}

// gaussianWeights returns the integer data-pixel indices within +/-3 sigma
// of centre and their Gaussian weights, normalised to sum to 1. Pixels
// outside [0, np) are dropped (and the remaining weights stay normalised
// over only the in-range pixels, matching the masking-at-edges behaviour
// of the legacy tool).
func gaussianWeights(centre, sigma float64, np int) ([]int, []float64) {
	lo := int(math.Floor(centre - 3*sigma))
	hi := int(math.Ceil(centre + 3*sigma))
	if lo < 0 {
		lo = 0
	}
	if hi > np-1 {
		hi = np - 1
	}
	if lo > hi {
		return nil, nil
	}
	idx := make([]int, 0, hi-lo+1)
	w := make([]float64, 0, hi-lo+1)
	var sum float64
	for p := lo; p <= hi; p++ {
		d := (float64(p) - centre) / sigma
		g := math.Exp(-0.5 * d * d)
		idx = append(idx, p)
		w = append(w, g)
		sum += g
	}
	if sum == 0 {
		return nil, nil
	}
	for i := range w {
		w[i] /= sum
	}
	return idx, w
}

// subPixels returns the Ndiv x Ndiv sub-sample offsets within one pixel
// (each in [-0.5, 0.5]) and their common weight 1/Ndiv^2.
func subPixels(ndiv int) ([]float64, float64) {
	if ndiv < 1 {
		ndiv = 1
	}
	offs := make([]float64, ndiv)
	for j := 0; j < ndiv; j++ {
		offs[j] = -0.5 + (float64(j)+0.5)/float64(ndiv)
	}
	return offs, 1.0 / float64(ndiv*ndiv)
}

func sigmaPixels(p Params, dat DataGeometry) float64 {
	return p.FWHM / (dat.Vpixd * EFAC)
}
