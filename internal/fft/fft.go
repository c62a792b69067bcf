// Package fft implements a radix-2 Cooley-Tukey FFT over an interleaved
// real/imaginary float32 buffer, as used by the Gaussian-default blur
// accelerator (spec §4.C) and available as a general-purpose transform
// (spec §4.G).
//
// Transform operates in place and applies no normalisation in either
// direction; callers that need the standard inverse-DFT scaling apply the
// explicit 1/N factor themselves (see Inverse).
package fft

import (
	"errors"
	"math"
)

// ErrNotPowerOfTwo is returned when the transform length is not a power of
// two.
var ErrNotPowerOfTwo = errors.New("fft: length must be a power of two")

// Sign selects the transform direction for Transform.
type Sign int

const (
	// Forward computes sum_n x[n] * exp(-2*pi*i*k*n/N).
	Forward Sign = -1
	// Backward computes sum_n x[n] * exp(+2*pi*i*k*n/N), unnormalised.
	Backward Sign = +1
)

// Transform performs an in-place radix-2 Cooley-Tukey FFT on data, which
// holds N complex samples interleaved as [re0, im0, re1, im1, ...]. N
// (len(data)/2) must be a power of two. No normalisation is applied; for
// the standard inverse transform, divide the result by N (see Inverse).
func Transform(data []float32, sign Sign) error {
	if len(data)%2 != 0 {
		return errors.New("fft: interleaved buffer must have even length")
	}
	n := len(data) / 2
	if n == 0 {
		return nil
	}
	if n&(n-1) != 0 {
		return ErrNotPowerOfTwo
	}

	bitReverse(data, n)

	for size := 2; size <= n; size <<= 1 {
		half := size / 2
		angleStep := float64(sign) * 2 * math.Pi / float64(size)
		for start := 0; start < n; start += size {
			for j := 0; j < half; j++ {
				angle := angleStep * float64(j)
				wr, wi := math.Cos(angle), math.Sin(angle)

				iEven := (start + j) * 2
				iOdd := (start + j + half) * 2

				oddRe := float64(data[iOdd])
				oddIm := float64(data[iOdd+1])

				tr := wr*oddRe - wi*oddIm
				ti := wr*oddIm + wi*oddRe

				evenRe := float64(data[iEven])
				evenIm := float64(data[iEven+1])

				data[iEven] = float32(evenRe + tr)
				data[iEven+1] = float32(evenIm + ti)
				data[iOdd] = float32(evenRe - tr)
				data[iOdd+1] = float32(evenIm - ti)
			}
		}
	}
	return nil
}

// Inverse performs the normalised inverse transform: Transform with
// Backward sign, followed by an explicit scale of 1/N.
func Inverse(data []float32) error {
	if err := Transform(data, Backward); err != nil {
		return err
	}
	n := len(data) / 2
	scale := float32(1.0 / float64(n))
	for i := range data {
		data[i] *= scale
	}
	return nil
}

// bitReverse permutes the n complex samples of data into bit-reversed
// order in place, the standard first stage of an iterative Cooley-Tukey
// FFT.
func bitReverse(data []float32, n int) {
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j &^= bit
		}
		j |= bit
		if i < j {
			data[2*i], data[2*j] = data[2*j], data[2*i]
			data[2*i+1], data[2*j+1] = data[2*j+1], data[2*i+1]
		}
	}
}
