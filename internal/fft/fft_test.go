package fft

import (
	"math"
	"math/rand"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	for k := 3; k <= 12; k++ {
		n := 1 << k
		t.Run("", func(t *testing.T) {
			rng := rand.New(rand.NewSource(int64(k)))
			original := make([]float32, 2*n)
			for i := 0; i < n; i++ {
				original[2*i] = float32(rng.NormFloat64())
			}

			data := append([]float32{}, original...)
			if err := Transform(data, Forward); err != nil {
				t.Fatalf("Transform: %v", err)
			}
			if err := Inverse(data); err != nil {
				t.Fatalf("Inverse: %v", err)
			}

			var maxDiff, maxVal float64
			for i := range data {
				d := math.Abs(float64(data[i] - original[i]))
				if d > maxDiff {
					maxDiff = d
				}
				if v := math.Abs(float64(original[i])); v > maxVal {
					maxVal = v
				}
			}
			if maxVal == 0 {
				maxVal = 1
			}
			if maxDiff/maxVal > 1e-5 {
				t.Errorf("N=%d: relative round-trip error %g exceeds 1e-5", n, maxDiff/maxVal)
			}
		})
	}
}

func TestNotPowerOfTwo(t *testing.T) {
	data := make([]float32, 2*6)
	if err := Transform(data, Forward); err != ErrNotPowerOfTwo {
		t.Fatalf("expected ErrNotPowerOfTwo, got %v", err)
	}
}
