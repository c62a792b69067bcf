package tomog

import (
	"context"
	"math"
	"sync"
)

// contribution is one (data pixel, weight) pair linking a single image
// voxel, at a single orbital sub-phase, to the data array.
type contribution struct {
	dataIdx int
	weight  float64
}

// voxelContributions returns every data-pixel contribution of image voxel
// (w, gi, y, x) at orbital phase (with its already-applied sub-phase
// weight), split over Ndiv x Ndiv sub-pixels each contributing
// 1/Ndiv^2 and spread via the Gaussian line profile. This is the single
// place the physics of spec §4.D items 2-4 lives; Op and Tr both drive it
// identically so the adjoint identity holds by construction.
func voxelContributions(img ImageGeometry, dat DataGeometry, par Params, sigma float64, xOffs, yOffs []float64, subPixWeight float64, w, gi, y, x int, phase, phaseWeight float64) []contribution {
	gamma := img.Gamma[gi]
	sinPhi, cosPhi := math.Sincos(2 * math.Pi * phase)

	var out []contribution
	for _, dy := range yOffs {
		ys := float64(y) + dy
		vy := img.Vy(ys)
		for _, dx := range xOffs {
			xs := float64(x) + dx
			vx := img.Vx(xs)

			vlos := gamma - vx*sinPhi - vy*cosPhi
			centre := lineCentre(dat, img.Wave0[w], vlos)

			idx, weights := gaussianWeights(centre, sigma, dat.Np)
			for k, p := range idx {
				out = append(out, contribution{
					dataIdx: p,
					weight:  phaseWeight * subPixWeight * weights[k],
				})
			}
		}
	}
	return out
}

// Op computes the forward projection image -> data (spec §4.D). data is
// zeroed first, then every image voxel's Gaussian-weighted contribution
// at every sub-phase and sub-pixel is accumulated into it. Parallelised
// over spectra: each goroutine only ever writes into its own spectrum's
// row of data, so no synchronisation is needed beyond the final join.
func Op(ctx context.Context, par Params, img ImageGeometry, dat DataGeometry, image, data []float32) error {
	if len(image) != img.Len() {
		return errShape("Op", "image", img.Len(), len(image))
	}
	if len(data) != dat.Len() {
		return errShape("Op", "data", dat.Len(), len(data))
	}
	for i := range data {
		data[i] = 0
	}

	sigma := sigmaPixels(par, dat)
	xOffs, subPixWeight := subPixels(par.Ndiv)
	yOffs := xOffs

	var wg sync.WaitGroup
	for s := 0; s < dat.Ns; s++ {
		s := s
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			row := data[s*dat.Np : (s+1)*dat.Np]
			for _, sp := range subPhases(dat, par, s) {
				for w := 0; w < img.Nw; w++ {
					for gi := 0; gi < img.Ng; gi++ {
						for y := 0; y < img.N; y++ {
							for x := 0; x < img.N; x++ {
								val := image[img.index(w, gi, y, x)]
								if val == 0 {
									continue
								}
								for _, c := range voxelContributions(img, dat, par, sigma, xOffs, yOffs, subPixWeight, w, gi, y, x, sp.phase, sp.weight) {
									row[c.dataIdx] += float32(float64(val) * c.weight)
								}
							}
						}
					}
				}
			}
		}()
	}
	wg.Wait()
	return nil
}
