// Package drive wires containers, codec, the default-image generator and
// the entropy/chi-square maximiser into the bounded iteration loop spec
// §4.F describes: load, validate, allocate workspace, transfer image into
// the current slot, data into the data slot, compute weights, iterate up
// to niter calling the default generator then one search step, then write
// the final image cube out.
package drive

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/trmrsh/cpp-tomog/internal/codec"
	"github.com/trmrsh/cpp-tomog/internal/mapdefault"
	"github.com/trmrsh/cpp-tomog/internal/mem"
	"github.com/trmrsh/cpp-tomog/internal/tomog"
)

// Config is everything a single `dtmem` invocation needs, already
// range-validated by the CLI layer (spec §6).
type Config struct {
	MapPath, TrailPath, OutputPath string

	Niter   int
	Caim    float64 // target reduced chi-square
	Rmax    float64
	Default string // "uniform" or "gaussian"
	Blurr   float64
	GBlurr  float64
	Tlim    float64

	FWHM   float64
	Ndiv   int
	Ntdiv  int
	Tzero  float64
	Period float64
}

// Summary records what actually happened, for the CLI's one-line
// diagnostic and for tests (spec §4.F).
type Summary struct {
	Iterations int
	S, C, Test float64
	Reason     string // "max-iterations" or "converged"
}

// Run is the single entry point both the CLI and tests call.
func Run(ctx context.Context, cfg Config) (*Summary, error) {
	cube, err := loadCube(cfg.MapPath)
	if err != nil {
		return nil, fmt.Errorf("loading image cube: %w", err)
	}
	if err := cube.Validate(); err != nil {
		return nil, fmt.Errorf("validating image cube: %w", err)
	}

	trail, err := loadTrail(cfg.TrailPath)
	if err != nil {
		return nil, fmt.Errorf("loading trailed spectrum: %w", err)
	}
	if err := trail.Validate(); err != nil {
		return nil, fmt.Errorf("validating trailed spectrum: %w", err)
	}

	img := tomog.ImageGeometry{
		Nw:    cube.NWave(),
		Ng:    cube.NGamma(),
		N:     cube.NSide(),
		Vpix:  float64(cube.Vpix),
		Wave0: append([]float64(nil), cube.Wave0...),
		Gamma: toFloat64(cube.Gamma),
	}
	dat := tomog.DataGeometry{
		Ns:      trail.Nspec(),
		Np:      trail.Npix(),
		Vpixd:   float64(trail.Vpixd),
		Lambda0: trail.Lambda0,
		Time:    append([]float64(nil), trail.Time...),
		Expose:  toFloat64(trail.Expose),
	}
	par := tomog.Params{
		FWHM:   cfg.FWHM,
		Ndiv:   cfg.Ndiv,
		Ntdiv:  cfg.Ntdiv,
		Tzero:  cfg.Tzero,
		Period: cfg.Period,
	}

	slog.Info("loaded inputs",
		"map", cfg.MapPath, "trail", cfg.TrailPath,
		"N", img.N, "Nw", img.Nw, "Ng", img.Ng,
		"Ns", dat.Ns, "Np", dat.Np,
		"masked_pixels", trail.MaskedCount())

	ws := mem.NewWorkspace(par, img, dat)
	copy(ws.Image, cube.Images.Data)
	copy(ws.Data, trail.Data.Data)

	ndat := trail.Size()
	for i, sigma := range trail.Err.Data {
		if sigma > 0 {
			ws.Weight[i] = float32(2 / (float64(sigma) * float64(sigma) * float64(ndat)))
		} else {
			ws.Weight[i] = 0
		}
	}

	caimRaw := cfg.Caim

	rep, reason, err := iterate(ctx, ws, cfg, caimRaw)
	if err != nil {
		return nil, err
	}

	copy(cube.Images.Data, ws.Image)
	if err := writeCube(cfg.OutputPath, cube); err != nil {
		return nil, fmt.Errorf("writing image cube: %w", err)
	}

	summary := &Summary{
		Iterations: rep.iterations,
		S:          rep.s,
		C:          rep.c,
		Test:       rep.test,
		Reason:     reason,
	}
	slog.Info("inversion finished",
		"iterations", summary.Iterations, "S", summary.S, "C", summary.C,
		"reduced_chisq", summary.C, "test", summary.Test, "reason", summary.Reason)
	return summary, nil
}

type iterResult struct {
	iterations int
	s, c, test float64
}

// iterate runs up to cfg.Niter rounds of default-image generation followed
// by one search step, stopping early once the termination condition of
// spec §4.E holds: test < tlim AND C <= caim.
func iterate(ctx context.Context, ws *mem.Workspace, cfg Config, caimRaw float64) (*iterResult, string, error) {
	res := &iterResult{}
	reason := "max-iterations"

	for it := 0; it < cfg.Niter; it++ {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		switch cfg.Default {
		case "gaussian":
			if err := mapdefault.Gaussian(ws.Img, ws.Image, ws.Default, cfg.Blurr, cfg.GBlurr); err != nil {
				return nil, "", fmt.Errorf("default image (gaussian): %w", err)
			}
		default:
			mapdefault.Uniform(ws.Img, ws.Image, ws.Default)
		}

		rep, err := mem.Step(ctx, ws, cfg.Rmax, caimRaw)
		if err != nil {
			return nil, "", fmt.Errorf("search step %d: %w", it, err)
		}
		for _, w := range rep.Warnings {
			slog.Warn("search step warning", "iteration", it, "detail", w)
		}

		res.iterations = it + 1
		res.s, res.c, res.test = rep.S, rep.C, rep.Test

		if rep.Test < cfg.Tlim && rep.C <= caimRaw {
			reason = "converged"
			break
		}
	}
	return res, reason, nil
}

func loadCube(path string) (*codec.Cube, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return codec.ReadCube(f)
}

func loadTrail(path string) (*codec.Trail, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return codec.ReadTrail(f)
}

// writeCube writes the cube atomically: full contents to a temporary file
// in the same directory, then an atomic rename, so a crash mid-write can
// never leave a truncated output cube in place of a prior good one.
func writeCube(path string, cube *codec.Cube) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := codec.WriteCube(f, cube); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
