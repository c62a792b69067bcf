package tomog

import (
	"context"
	"math"
	"math/rand"
	"testing"
)

func testGeometry() (ImageGeometry, DataGeometry) {
	img := ImageGeometry{
		Nw:    1,
		Ng:    1,
		N:     4,
		Vpix:  50,
		Wave0: []float64{6562.8},
		Gamma: []float64{0},
	}
	dat := DataGeometry{
		Ns:      4,
		Np:      16,
		Vpixd:   40,
		Lambda0: 6562.8,
		Time:    []float64{0.0, 0.25, 0.5, 0.75},
		Expose:  []float64{0.01, 0.01, 0.01, 0.01},
	}
	return img, dat
}

func TestAdjointIdentity(t *testing.T) {
	img, dat := testGeometry()
	par := Params{FWHM: 100, Ndiv: 4, Ntdiv: 4, Tzero: 0, Period: 1}

	rng := rand.New(rand.NewSource(1))

	a := make([]float32, img.Len())
	for i := range a {
		a[i] = float32(1 + rng.Float64())
	}
	b := make([]float32, dat.Len())
	for i := range b {
		b[i] = float32(rng.NormFloat64())
	}

	opA := make([]float32, dat.Len())
	if err := Op(context.Background(), par, img, dat, a, opA); err != nil {
		t.Fatalf("Op: %v", err)
	}
	trB := make([]float32, img.Len())
	if err := Tr(context.Background(), par, img, dat, b, trB); err != nil {
		t.Fatalf("Tr: %v", err)
	}

	var lhs, rhs float64
	for i := range opA {
		lhs += float64(opA[i]) * float64(b[i])
	}
	for i := range a {
		rhs += float64(a[i]) * float64(trB[i])
	}

	var normA, normB float64
	for _, v := range a {
		normA += float64(v) * float64(v)
	}
	for _, v := range b {
		normB += float64(v) * float64(v)
	}
	normA, normB = math.Sqrt(normA), math.Sqrt(normB)

	tol := 1e-4 * normA * normB
	if diff := math.Abs(lhs - rhs); diff > tol {
		t.Errorf("adjoint identity violated: <Op(a),b>=%g, <a,Tr(b)>=%g, diff=%g > tol=%g", lhs, rhs, diff, tol)
	}
}

// TestAdjointIdentityMultiLine exercises the per-line loop (spec §3.2:
// multiple Wave0 entries projected onto the same trail) with Nw=2 and two
// distinct rest wavelengths, both inside the trail's wavelength range,
// confirming the adjoint identity still holds
// once more than one line is stacked into the same data array rather than
// just compiling against it.
func TestAdjointIdentityMultiLine(t *testing.T) {
	img := ImageGeometry{
		Nw:    2,
		Ng:    1,
		N:     4,
		Vpix:  50,
		Wave0: []float64{6562.8, 6570.0},
		Gamma: []float64{0},
	}
	dat := DataGeometry{
		Ns:      4,
		Np:      16,
		Vpixd:   40,
		Lambda0: 6562.8,
		Time:    []float64{0.0, 0.25, 0.5, 0.75},
		Expose:  []float64{0.01, 0.01, 0.01, 0.01},
	}
	par := Params{FWHM: 100, Ndiv: 4, Ntdiv: 4, Tzero: 0, Period: 1}

	rng := rand.New(rand.NewSource(2))

	a := make([]float32, img.Len())
	for i := range a {
		a[i] = float32(1 + rng.Float64())
	}
	b := make([]float32, dat.Len())
	for i := range b {
		b[i] = float32(rng.NormFloat64())
	}

	opA := make([]float32, dat.Len())
	if err := Op(context.Background(), par, img, dat, a, opA); err != nil {
		t.Fatalf("Op: %v", err)
	}
	trB := make([]float32, img.Len())
	if err := Tr(context.Background(), par, img, dat, b, trB); err != nil {
		t.Fatalf("Tr: %v", err)
	}

	var lhs, rhs float64
	for i := range opA {
		lhs += float64(opA[i]) * float64(b[i])
	}
	for i := range a {
		rhs += float64(a[i]) * float64(trB[i])
	}

	var normA, normB float64
	for _, v := range a {
		normA += float64(v) * float64(v)
	}
	for _, v := range b {
		normB += float64(v) * float64(v)
	}
	normA, normB = math.Sqrt(normA), math.Sqrt(normB)

	tol := 1e-4 * normA * normB
	if diff := math.Abs(lhs - rhs); diff > tol {
		t.Errorf("adjoint identity violated with Nw=2: <Op(a),b>=%g, <a,Tr(b)>=%g, diff=%g > tol=%g", lhs, rhs, diff, tol)
	}

	// Each line's sub-cube must actually have been exercised, not just
	// the first: confirm both halves of a's image contributed nonzero
	// weight somewhere in opA by checking opA is not identical to the
	// projection of a version with the second line zeroed out.
	aLineZero := append([]float32(nil), a...)
	for i := img.Len() / img.Nw; i < img.Len(); i++ {
		aLineZero[i] = 0
	}
	opALineZero := make([]float32, dat.Len())
	if err := Op(context.Background(), par, img, dat, aLineZero, opALineZero); err != nil {
		t.Fatalf("Op (line zero): %v", err)
	}
	same := true
	for i := range opA {
		if opA[i] != opALineZero[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("second line's image voxels made no difference to the projected data")
	}
}

func TestOpZeroImageGivesZeroData(t *testing.T) {
	img, dat := testGeometry()
	par := Params{FWHM: 100, Ndiv: 1, Ntdiv: 1, Tzero: 0, Period: 1}

	image := make([]float32, img.Len())
	data := make([]float32, dat.Len())
	for i := range data {
		data[i] = 99 // should be overwritten to 0 then left at 0
	}
	if err := Op(context.Background(), par, img, dat, image, data); err != nil {
		t.Fatalf("Op: %v", err)
	}
	for i, v := range data {
		if v != 0 {
			t.Errorf("data[%d] = %f, want 0 for zero image", i, v)
		}
	}
}

func TestOpShapeMismatch(t *testing.T) {
	img, dat := testGeometry()
	par := Params{FWHM: 100, Ndiv: 1, Ntdiv: 1, Tzero: 0, Period: 1}
	image := make([]float32, img.Len()+1)
	data := make([]float32, dat.Len())
	if err := Op(context.Background(), par, img, dat, image, data); err == nil {
		t.Error("expected shape error")
	}
}
