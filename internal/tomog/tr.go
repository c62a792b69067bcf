package tomog

import (
	"context"
	"fmt"
	"sync"

	"github.com/trmrsh/cpp-tomog/internal/errs"
)

// Tr computes the adjoint projection data -> image (spec §4.D): the exact
// numerical transpose of Op, using the same loop structure and weights.
// image is zeroed first. Parallelised over (w, g) slices: each goroutine
// only ever writes into its own slice's sub-block of image, and only
// reads data, so no synchronisation is needed beyond the final join.
//
// The identity <Op(a), b>_data = <a, Tr(b)>_image must hold within
// floating tolerance (spec §8); this follows directly from Op and Tr
// sharing voxelContributions for their weights.
func Tr(ctx context.Context, par Params, img ImageGeometry, dat DataGeometry, data, image []float32) error {
	if len(image) != img.Len() {
		return errShape("Tr", "image", img.Len(), len(image))
	}
	if len(data) != dat.Len() {
		return errShape("Tr", "data", dat.Len(), len(data))
	}
	for i := range image {
		image[i] = 0
	}

	sigma := sigmaPixels(par, dat)
	xOffs, subPixWeight := subPixels(par.Ndiv)
	yOffs := xOffs

	// Precompute the sub-phase schedule for every spectrum once, shared
	// read-only across all (w, g) workers.
	phases := make([][]subPhase, dat.Ns)
	for s := 0; s < dat.Ns; s++ {
		phases[s] = subPhases(dat, par, s)
	}

	var wg sync.WaitGroup
	for w := 0; w < img.Nw; w++ {
		for gi := 0; gi < img.Ng; gi++ {
			w, gi := w, gi
			if err := ctx.Err(); err != nil {
				wg.Wait()
				return err
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				for s := 0; s < dat.Ns; s++ {
					row := data[s*dat.Np : (s+1)*dat.Np]
					for _, sp := range phases[s] {
						for y := 0; y < img.N; y++ {
							for x := 0; x < img.N; x++ {
								var acc float64
								for _, c := range voxelContributions(img, dat, par, sigma, xOffs, yOffs, subPixWeight, w, gi, y, x, sp.phase, sp.weight) {
									acc += float64(row[c.dataIdx]) * c.weight
								}
								image[img.index(w, gi, y, x)] += float32(acc)
							}
						}
					}
				}
			}()
		}
	}
	wg.Wait()
	return nil
}

func errShape(op, field string, want, got int) error {
	return &errs.InputShapeError{
		Field:    fmt.Sprintf("%s:%s", op, field),
		Expected: fmt.Sprintf("len %d", want),
		Actual:   fmt.Sprintf("len %d", got),
	}
}
