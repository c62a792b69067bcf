package fft

// Convolve1D computes the linear convolution of real signal and kernel via
// zero-padded FFTs, returning a slice of length len(signal)+len(kernel)-1.
// Used by the Gaussian-default generator's accelerated blur path when the
// direct truncated-kernel convolution would touch more samples than an
// FFT-based one.
func Convolve1D(signal, kernel []float32) ([]float32, error) {
	outLen := len(signal) + len(kernel) - 1
	n := nextPow2(outLen)

	a := toInterleaved(signal, n)
	b := toInterleaved(kernel, n)

	if err := Transform(a, Forward); err != nil {
		return nil, err
	}
	if err := Transform(b, Forward); err != nil {
		return nil, err
	}

	for i := 0; i < n; i++ {
		ar, ai := a[2*i], a[2*i+1]
		br, bi := b[2*i], b[2*i+1]
		a[2*i] = ar*br - ai*bi
		a[2*i+1] = ar*bi + ai*br
	}

	if err := Inverse(a); err != nil {
		return nil, err
	}

	out := make([]float32, outLen)
	for i := range out {
		out[i] = a[2*i]
	}
	return out, nil
}

func toInterleaved(real []float32, n int) []float32 {
	buf := make([]float32, 2*n)
	for i, v := range real {
		buf[2*i] = v
	}
	return buf
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
