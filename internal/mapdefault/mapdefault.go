// Package mapdefault produces the entropy-reference "default" image each
// iteration (spec §4.C): either the per-slice mean (uniform mode) or a
// separable 3-D Gaussian blur of the current image cube (Gaussian mode),
// blurring first along x, then y, then the systemic-velocity axis gamma.
package mapdefault

import (
	"math"
	"strconv"

	"github.com/trmrsh/cpp-tomog/internal/errs"
	"github.com/trmrsh/cpp-tomog/internal/fft"
	"github.com/trmrsh/cpp-tomog/internal/tomog"
)

// fftThreshold is the fraction of an axis length beyond which the kernel
// half-width makes the direct truncated convolution touch more samples
// than an FFT-based one would — past it, Gaussian switches to the
// FFT-accelerated path (spec §4.C: FFT as "optionally a blur accelerator").
const fftThreshold = 0.25

// Uniform writes, for every (w, g) slice, the mean of that slice in
// current into every pixel of the same slice in out (spec §4.C). Applying
// it to an already-uniform slice is therefore idempotent: applied twice
// equals applied once (testable property 4).
func Uniform(img tomog.ImageGeometry, current, out []float32) {
	n2 := img.N * img.N
	for w := 0; w < img.Nw; w++ {
		for g := 0; g < img.Ng; g++ {
			base := sliceBase(img, w, g)
			var sum float64
			for i := 0; i < n2; i++ {
				sum += float64(current[base+i])
			}
			mean := float32(sum / float64(n2))
			for i := 0; i < n2; i++ {
				out[base+i] = mean
			}
		}
	}
}

func sliceBase(img tomog.ImageGeometry, w, g int) int {
	return (w*img.Ng + g) * img.N * img.N
}

// voxelIndex mirrors tomog.ImageGeometry's internal (w, g, y, x) -> flat
// index layout.
func voxelIndex(img tomog.ImageGeometry, w, g, y, x int) int {
	return ((w*img.Ng+g)*img.N+y)*img.N + x
}

// Gaussian convolves current with a separable 3-D Gaussian (FWHM bxy
// pixels in the image plane, FWHM bg slices along gamma) and writes the
// result to out (spec §4.C). The gamma axis is treated as a uniformly
// spaced index regardless of the actual (possibly irregular) velocity
// spacing, per the spec's convention.
func Gaussian(img tomog.ImageGeometry, current, out []float32, bxy, bg float64) error {
	if len(current) != img.Len() || len(out) != img.Len() {
		return &errs.InputShapeError{Field: "mapdefault.Gaussian", Expected: strconv.Itoa(img.Len()), Actual: strconv.Itoa(len(current))}
	}

	sigmaXY := bxy / tomog.EFAC
	sigmaG := bg / tomog.EFAC
	kernelXY := gaussianKernel(sigmaXY)
	kernelG := gaussianKernel(sigmaG)

	work := make([]float64, len(current))
	for i, v := range current {
		work[i] = float64(v)
	}

	tmp := make([]float64, len(work))

	// x axis: Nw*Ng*N lines of length N, stride 1.
	for w := 0; w < img.Nw; w++ {
		for g := 0; g < img.Ng; g++ {
			for y := 0; y < img.N; y++ {
				base := voxelIndex(img, w, g, y, 0)
				if err := convolveLine(work, tmp, base, 1, img.N, kernelXY); err != nil {
					return err
				}
			}
		}
	}
	work, tmp = tmp, work

	// y axis: Nw*Ng*N lines of length N, stride N.
	for w := 0; w < img.Nw; w++ {
		for g := 0; g < img.Ng; g++ {
			for x := 0; x < img.N; x++ {
				base := voxelIndex(img, w, g, 0, x)
				if err := convolveLine(work, tmp, base, img.N, img.N, kernelXY); err != nil {
					return err
				}
			}
		}
	}
	work, tmp = tmp, work

	// gamma axis: Nw*N*N lines of length Ng, stride N*N.
	stride := img.N * img.N
	for w := 0; w < img.Nw; w++ {
		for y := 0; y < img.N; y++ {
			for x := 0; x < img.N; x++ {
				base := voxelIndex(img, w, 0, y, x)
				if err := convolveLine(work, tmp, base, stride, img.Ng, kernelG); err != nil {
					return err
				}
			}
		}
	}
	work, tmp = tmp, work

	for i, v := range work {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return &errs.DomainViolationError{Index: i, Value: v}
		}
		out[i] = float32(v)
	}
	return nil
}

// gaussianKernel returns a symmetric, odd-length, unit-sum kernel
// truncated at ceil(3*sigma) (spec §4.C). sigma <= 0 yields the identity
// kernel [1] rather than dividing by zero. A single-slice gamma axis
// (Ng=1, any bg) is still left unchanged up to rounding, because mirror
// padding repeats its one sample and the kernel sums to 1.
func gaussianKernel(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	half := int(math.Ceil(3 * sigma))
	if half < 1 {
		half = 1
	}
	k := make([]float64, 2*half+1)
	var sum float64
	for i := range k {
		d := float64(i-half) / sigma
		k[i] = math.Exp(-0.5 * d * d)
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// convolveLine reads the line of length n at (base, stride) from src,
// convolves it against kernel with mirror-padded boundaries, and writes
// the result to the same (base, stride) position in dst.
func convolveLine(src, dst []float64, base, stride, n int, kernel []float64) error {
	half := (len(kernel) - 1) / 2

	padded := make([]float64, n+2*half)
	for i := range padded {
		padded[i] = src[base+mirrorIndex(i-half, n)*stride]
	}

	var line []float64
	if half > 0 && float64(half)/float64(n) > fftThreshold {
		var err error
		line, err = convolveFFT(padded, kernel)
		if err != nil {
			return err
		}
	} else {
		line = convolveDirect(padded, kernel)
	}

	for i := 0; i < n; i++ {
		dst[base+i*stride] = line[i]
	}
	return nil
}

// convolveDirect computes the "valid" convolution of padded (length
// n+2*half) against kernel (length 2*half+1), returning n samples — the
// direct-truncated-kernel evaluation the spec describes.
func convolveDirect(padded, kernel []float64) []float64 {
	klen := len(kernel)
	n := len(padded) - klen + 1
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var s float64
		for k, kv := range kernel {
			s += kv * padded[i+k]
		}
		out[i] = s
	}
	return out
}

// convolveFFT computes the same "valid" convolution as convolveDirect, via
// internal/fft's linear convolution: full convolution has length
// len(padded)+len(kernel)-1, and the valid region starts at offset
// len(kernel)-1 (kernel is symmetric, so reversal is a no-op).
func convolveFFT(padded, kernel []float64) ([]float64, error) {
	n := len(padded) - len(kernel) + 1

	sig32 := make([]float32, len(padded))
	for i, v := range padded {
		sig32[i] = float32(v)
	}
	ker32 := make([]float32, len(kernel))
	for i, v := range kernel {
		ker32[i] = float32(v)
	}

	full, err := fft.Convolve1D(sig32, ker32)
	if err != nil {
		return nil, err
	}

	offset := len(kernel) - 1
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = float64(full[offset+i])
	}
	return out, nil
}

// mirrorIndex reflects i into [0, n) without repeating the edge sample
// (spec §4.C: "reflected at boundaries").
func mirrorIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}
