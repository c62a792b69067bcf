package drive

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/trmrsh/cpp-tomog/internal/codec"
	"github.com/trmrsh/cpp-tomog/internal/tomog"
)

func writeTempCube(t *testing.T, dir string, cube *codec.Cube) string {
	t.Helper()
	path := filepath.Join(dir, "in.map")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := codec.WriteCube(f, cube); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeTempTrail(t *testing.T, dir string, trail *codec.Trail) string {
	t.Helper()
	path := filepath.Join(dir, "in.trail")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := codec.WriteTrail(f, trail); err != nil {
		t.Fatal(err)
	}
	return path
}

// literalTimes20 is S1/S2's t=[0.0, 0.05, ..., 0.95], Ns=20 phases.
func literalTimes20() []float64 {
	t := make([]float64, 20)
	for i := range t {
		t[i] = float64(i) * 0.05
	}
	return t
}

func literalExpose20(dt float64) []float64 {
	e := make([]float64, 20)
	for i := range e {
		e[i] = dt
	}
	return e
}

// TestSyntheticRoundTripS2 is literal scenario S2: build a positive image,
// forward-project it with fixed parameters to synthesize data, set errors
// to max(0.01*d, 0.01), run niter=50, and require the recovered image
// correlates with the input at >= 0.95.
func TestSyntheticRoundTripS2(t *testing.T) {
	dir := t.TempDir()
	const n = 32

	par := tomog.Params{FWHM: 100, Ndiv: 1, Ntdiv: 1, Tzero: 0, Period: 1}
	img := tomog.ImageGeometry{Nw: 1, Ng: 1, N: n, Vpix: 50, Wave0: []float64{6562.8}, Gamma: []float64{0}}
	dat := tomog.DataGeometry{
		Ns: 20, Np: 64, Vpixd: 40, Lambda0: 6562.8,
		Time:   literalTimes20(),
		Expose: literalExpose20(0.01),
	}

	rng := rand.New(rand.NewSource(42))
	truth := make([]float32, img.Len())
	for i := range truth {
		truth[i] = float32(0.1 + rng.Float64())
	}

	data := make([]float32, dat.Len())
	if err := tomog.Op(context.Background(), par, img, dat, truth, data); err != nil {
		t.Fatalf("Op: %v", err)
	}

	cube := codec.NewCube(img.Nw, img.Ng, img.N, float32(img.Vpix))
	copy(cube.Images.Data, uniformImage(img.Len()))
	cube.Wave0[0] = img.Wave0[0]
	cube.Gamma[0] = 0

	trail := codec.NewTrail(dat.Ns, dat.Np, float32(dat.Vpixd), dat.Lambda0)
	copy(trail.Data.Data, data)
	for i := range trail.Err.Data {
		v := math.Max(0.01*math.Abs(float64(data[i])), 0.01)
		trail.Err.Data[i] = float32(v)
	}
	for i := range trail.Time {
		trail.Time[i] = dat.Time[i]
		trail.Expose[i] = float32(dat.Expose[i])
	}

	mapPath := writeTempCube(t, dir, cube)
	trailPath := writeTempTrail(t, dir, trail)
	outPath := filepath.Join(dir, "out.map")

	cfg := Config{
		MapPath: mapPath, TrailPath: trailPath, OutputPath: outPath,
		Niter: 50, Caim: 1, Rmax: 0.2, Default: "uniform", Tlim: 0.01,
		FWHM: par.FWHM, Ndiv: par.Ndiv, Ntdiv: par.Ntdiv, Tzero: par.Tzero, Period: par.Period,
	}
	summary, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Iterations == 0 {
		t.Fatal("expected at least one iteration")
	}

	outFile, err := os.Open(outPath)
	if err != nil {
		t.Fatal(err)
	}
	defer outFile.Close()
	outCube, err := codec.ReadCube(outFile)
	if err != nil {
		t.Fatalf("ReadCube: %v", err)
	}

	corr := correlation(truth, outCube.Images.Data)
	if corr < 0.95 {
		t.Errorf("reconstruction correlation = %g, want >= 0.95", corr)
	}
}

// TestZeroDataSpikeDecaysToFlatFieldS1 is literal scenario S1: a N=32 image
// cube with a single unit spike at (16,16) (the rest lifted by a 1e-6
// positivity floor), a trailed spectrum with zero data and unit errors
// everywhere, uniform default, caim=1, rmax=0.1, niter=20, fwhm=100,
// ndiv=ntdiv=1, tlim=0.01. With no signal to fit, the maximiser has only
// entropy pulling f toward its own (progressively flattening) default, so
// the final image mean must land within 1% of 1/N^2 and the final reduced
// chi-square within 0.02 of 1.
func TestZeroDataSpikeDecaysToFlatFieldS1(t *testing.T) {
	dir := t.TempDir()
	const n = 32

	par := tomog.Params{FWHM: 100, Ndiv: 1, Ntdiv: 1, Tzero: 0, Period: 1}
	img := tomog.ImageGeometry{Nw: 1, Ng: 1, N: n, Vpix: 50, Wave0: []float64{6562.8}, Gamma: []float64{0}}
	dat := tomog.DataGeometry{
		Ns: 20, Np: 64, Vpixd: 40, Lambda0: 6562.8,
		Time:   literalTimes20(),
		Expose: literalExpose20(0.01),
	}

	cube := codec.NewCube(img.Nw, img.Ng, img.N, float32(img.Vpix))
	for i := range cube.Images.Data {
		cube.Images.Data[i] = 1e-6
	}
	cube.Images.Data[16*n+16] = 1
	cube.Wave0[0] = img.Wave0[0]
	cube.Gamma[0] = 0

	trail := codec.NewTrail(dat.Ns, dat.Np, float32(dat.Vpixd), dat.Lambda0)
	for i := range trail.Err.Data {
		trail.Err.Data[i] = 1
	}
	for i := range trail.Time {
		trail.Time[i] = dat.Time[i]
		trail.Expose[i] = float32(dat.Expose[i])
	}

	mapPath := writeTempCube(t, dir, cube)
	trailPath := writeTempTrail(t, dir, trail)
	outPath := filepath.Join(dir, "out.map")

	ndat := dat.Ns * dat.Np
	cfg := Config{
		MapPath: mapPath, TrailPath: trailPath, OutputPath: outPath,
		Niter: 20, Caim: 1, Rmax: 0.1, Default: "uniform", Tlim: 0.01,
		FWHM: par.FWHM, Ndiv: par.Ndiv, Ntdiv: par.Ntdiv, Tzero: par.Tzero, Period: par.Period,
	}
	summary, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Iterations == 0 {
		t.Fatal("expected at least one iteration")
	}

	reducedC := summary.C / float64(ndat)
	if math.Abs(reducedC-1) > 0.02 {
		t.Errorf("reduced chi-square = %g, want within 0.02 of 1", reducedC)
	}

	outFile, err := os.Open(outPath)
	if err != nil {
		t.Fatal(err)
	}
	defer outFile.Close()
	outCube, err := codec.ReadCube(outFile)
	if err != nil {
		t.Fatalf("ReadCube: %v", err)
	}
	var mean float64
	for _, v := range outCube.Images.Data {
		if v <= 0 {
			t.Fatalf("voxel %g is non-positive in final image", v)
		}
		mean += float64(v)
	}
	mean /= float64(len(outCube.Images.Data))

	want := 1.0 / float64(n*n)
	if math.Abs(mean-want)/want > 0.01 {
		t.Errorf("final image mean = %g, want within 1%% of %g", mean, want)
	}
}

// TestRingImageGaussianDefaultS3 is the end-to-end half of literal scenario
// S3: a ring image (value 1 at radius 10 pixels, 0 elsewhere lifted by
// 1e-3), Gaussian default with blurr=4, gblurr=1, ten iterations through
// the full load/iterate/write pipeline. It checks the final image is
// entirely positive and that the run's final chi-square is no worse than
// the chi-square of the unmodified starting image — the strict per-
// iteration monotonic decrease this scenario also requires is checked
// directly against mem.Step in internal/mem, since Summary here only
// reports the final iteration's values, not a trace.
func TestRingImageGaussianDefaultS3(t *testing.T) {
	dir := t.TempDir()
	const n = 32

	par := tomog.Params{FWHM: 100, Ndiv: 1, Ntdiv: 1, Tzero: 0, Period: 1}
	img := tomog.ImageGeometry{Nw: 1, Ng: 1, N: n, Vpix: 50, Wave0: []float64{6562.8}, Gamma: []float64{0}}
	dat := tomog.DataGeometry{
		Ns: 20, Np: 64, Vpixd: 40, Lambda0: 6562.8,
		Time:   literalTimes20(),
		Expose: literalExpose20(0.01),
	}

	ring := make([]float32, img.Len())
	c := float64(n-1) / 2
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			d := math.Hypot(float64(x)-c, float64(y)-c)
			v := float32(1e-3)
			if math.Abs(d-10) < 1 {
				v = 1
			}
			ring[y*n+x] = v
		}
	}

	opRing := make([]float32, dat.Len())
	if err := tomog.Op(context.Background(), par, img, dat, ring, opRing); err != nil {
		t.Fatalf("Op: %v", err)
	}
	data := append([]float32(nil), opRing...)
	rng := rand.New(rand.NewSource(7))
	for i := range data {
		data[i] += float32(0.01 * (rng.Float64() - 0.5))
	}

	cube := codec.NewCube(img.Nw, img.Ng, img.N, float32(img.Vpix))
	copy(cube.Images.Data, ring)
	cube.Wave0[0] = img.Wave0[0]
	cube.Gamma[0] = 0

	trail := codec.NewTrail(dat.Ns, dat.Np, float32(dat.Vpixd), dat.Lambda0)
	copy(trail.Data.Data, data)
	for i := range trail.Err.Data {
		trail.Err.Data[i] = 1
	}
	for i := range trail.Time {
		trail.Time[i] = dat.Time[i]
		trail.Expose[i] = float32(dat.Expose[i])
	}

	mapPath := writeTempCube(t, dir, cube)
	trailPath := writeTempTrail(t, dir, trail)
	outPath := filepath.Join(dir, "out.map")

	// caim is set unreachably small and tlim unreachably tight so the
	// run never converges early and all ten iterations execute.
	cfg := Config{
		MapPath: mapPath, TrailPath: trailPath, OutputPath: outPath,
		Niter: 10, Caim: 1e-6, Rmax: 0.1, Default: "gaussian",
		Blurr: 4, GBlurr: 1, Tlim: 1e-6,
		FWHM: par.FWHM, Ndiv: par.Ndiv, Ntdiv: par.Ntdiv, Tzero: par.Tzero, Period: par.Period,
	}
	summary, err := Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Iterations != 10 {
		t.Errorf("expected all 10 iterations to run, got %d", summary.Iterations)
	}

	outFile, err := os.Open(outPath)
	if err != nil {
		t.Fatal(err)
	}
	defer outFile.Close()
	outCube, err := codec.ReadCube(outFile)
	if err != nil {
		t.Fatalf("ReadCube: %v", err)
	}
	for i, v := range outCube.Images.Data {
		if v <= 0 {
			t.Errorf("voxel %d = %g is non-positive after 10 iterations", i, v)
		}
	}

	var startC float64
	for i := range data {
		if trail.Err.Data[i] > 0 {
			w := 2 / (float64(trail.Err.Data[i]) * float64(trail.Err.Data[i]) * float64(dat.Len()))
			r := float64(opRing[i]) - float64(data[i])
			startC += w * r * r
		}
	}
	if summary.C > startC+1e-9 {
		t.Errorf("final chi-square %g exceeds the starting image's chi-square %g", summary.C, startC)
	}
}

func uniformImage(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func correlation(a, b []float32) float64 {
	var meanA, meanB float64
	for i := range a {
		meanA += float64(a[i])
		meanB += float64(b[i])
	}
	meanA /= float64(len(a))
	meanB /= float64(len(b))

	var cov, varA, varB float64
	for i := range a {
		da := float64(a[i]) - meanA
		db := float64(b[i]) - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}
