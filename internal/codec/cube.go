// Package codec implements the binary image-cube and trailed-spectrum
// formats (spec §4.B, §6): a magic number, then scalar metadata, then the
// arrays themselves in row-major order. Byte order is little-endian
// throughout, with no alignment padding.
package codec

import (
	"github.com/trmrsh/cpp-tomog/internal/arr"
	"github.com/trmrsh/cpp-tomog/internal/errs"
)

// CubeMagic is the magic number identifying an image-cube file.
const CubeMagic int32 = 0x010D4A50

// Cube is the in-memory image cube: Nw spectral lines x Ng systemic-velocity
// slices of an N x N square velocity-space image, plus the metadata needed
// to map pixels to velocities and wavelengths.
type Cube struct {
	Images *arr.Cube4D[float32]

	// Vpix is km/s per image pixel.
	Vpix float32
	// Wave0 holds the rest wavelength of each of the Nw spectral lines.
	Wave0 []float64
	// Gamma holds the systemic velocity (km/s) of each of the Ng slices.
	Gamma []float32
}

// NewCube allocates a zeroed cube of the given shape and metadata slice
// lengths (Wave0 has length nw, Gamma has length ng).
func NewCube(nw, ng, n int, vpix float32) *Cube {
	return &Cube{
		Images: arr.NewCube4D[float32](nw, ng, n),
		Vpix:   vpix,
		Wave0:  make([]float64, nw),
		Gamma:  make([]float32, ng),
	}
}

// NSide returns the square image side N.
func (c *Cube) NSide() int { return c.Images.N }

// NWave returns the number of spectral lines Nw.
func (c *Cube) NWave() int { return c.Images.Nw }

// NGamma returns the number of systemic-velocity slices Ng.
func (c *Cube) NGamma() int { return c.Images.Ng }

// Vx returns the x-velocity (km/s) of image column x, using the (N-1)/2
// centring convention documented in spec §9.
func (c *Cube) Vx(x int) float64 {
	n := c.Images.N
	return float64(c.Vpix) * (float64(x) - float64(n-1)/2)
}

// Vy returns the y-velocity (km/s) of image row y, same convention as Vx.
func (c *Cube) Vy(y int) float64 {
	n := c.Images.N
	return float64(c.Vpix) * (float64(y) - float64(n-1)/2)
}

// Validate checks the structural invariants of spec §3: N, Ng, Nw >= 1,
// vpix > 0, and that all voxels are strictly positive (required by entropy
// before an inversion run starts).
func (c *Cube) Validate() error {
	if c.Images.N < 1 {
		return &errs.InputShapeError{Field: "N", Expected: ">= 1", Actual: itoa(c.Images.N)}
	}
	if c.Images.Ng < 1 {
		return &errs.InputShapeError{Field: "Ng", Expected: ">= 1", Actual: itoa(c.Images.Ng)}
	}
	if c.Images.Nw < 1 {
		return &errs.InputShapeError{Field: "Nw", Expected: ">= 1", Actual: itoa(c.Images.Nw)}
	}
	if c.Vpix <= 0 {
		return &errs.InputShapeError{Field: "vpix", Expected: "> 0", Actual: ftoa(float64(c.Vpix))}
	}
	if len(c.Wave0) != c.Images.Nw {
		return &errs.ShapeMismatchError{FieldA: "Wave0", ShapeA: itoa(len(c.Wave0)), FieldB: "Nw", ShapeB: itoa(c.Images.Nw)}
	}
	if len(c.Gamma) != c.Images.Ng {
		return &errs.ShapeMismatchError{FieldA: "Gamma", ShapeA: itoa(len(c.Gamma)), FieldB: "Ng", ShapeB: itoa(c.Images.Ng)}
	}
	for i, v := range c.Images.Data {
		if v <= 0 {
			return &errs.DomainViolationError{Index: i, Value: float64(v)}
		}
	}
	return nil
}

// MatchCubes reports whether two cubes share the same shape and pixel
// scale, as required before an inversion can reuse a workspace sized for
// one against the other (e.g. current image vs. default image).
func MatchCubes(a, b *Cube) bool {
	return a.Images.SameShape(b.Images) && a.Vpix == b.Vpix
}
