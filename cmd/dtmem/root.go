// Command dtmem runs the maximum-entropy Doppler tomography inversion
// (spec §6): it loads an image cube and a trailed spectrum, iterates the
// entropy/chi-square search to a bounded iteration count or convergence,
// and writes the recovered image cube.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/trmrsh/cpp-tomog/internal/config"
	"github.com/trmrsh/cpp-tomog/internal/drive"
	"github.com/spf13/cobra"
)

var flags struct {
	mapPath   string
	trailPath string
	output    string

	niter   int
	caim    float64
	rmax    float64
	def     string
	blurr   float64
	gblurr  float64
	tlim    float64
	fwhm    float64
	ndiv    int
	ntdiv   int
	tzero   float64
	period  float64
	logLevel string
}

// usageError marks a validation failure as a usage error, which main maps
// to exit code 2, distinct from a fatal error surfaced by the core itself
// (exit code 1, spec §6).
type usageError struct{ error }

var rootCmd = &cobra.Command{
	Use:   "dtmem",
	Short: "Maximum-entropy Doppler tomography inversion",
	Long: `dtmem reconstructs a Doppler tomogram (a velocity-space emission map)
from a phase-resolved trailed spectrum via a constrained maximum-entropy
search.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		switch flags.logLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
	RunE: runDtmem,
}

func init() {
	saved, _ := config.Load()

	rootCmd.Flags().StringVar(&flags.mapPath, "map", "", "input image cube path (required)")
	rootCmd.Flags().StringVar(&flags.trailPath, "trail", "", "input trailed spectrum path (required)")
	rootCmd.Flags().StringVar(&flags.output, "output", "", "output image cube path (required)")

	rootCmd.Flags().IntVar(&flags.niter, "niter", orInt(saved.Niter, 20), "maximum iteration count")
	rootCmd.Flags().Float64Var(&flags.caim, "caim", orFloat(saved.Caim, 1.0), "target reduced chi-square")
	rootCmd.Flags().Float64Var(&flags.rmax, "rmax", orFloat(saved.Rmax, 0.1), "trust-region radius")
	rootCmd.Flags().StringVar(&flags.def, "default", orString(saved.Default, "uniform"), "default image: uniform or gaussian")
	rootCmd.Flags().Float64Var(&flags.blurr, "blurr", saved.Blurr, "gaussian default: image-plane FWHM (pixels)")
	rootCmd.Flags().Float64Var(&flags.gblurr, "gblurr", saved.GBlurr, "gaussian default: gamma-axis FWHM (slices)")
	rootCmd.Flags().Float64Var(&flags.tlim, "tlim", orFloat(saved.Tlim, 0.01), "convergence threshold on the test statistic")
	rootCmd.Flags().Float64Var(&flags.fwhm, "fwhm", orFloat(saved.FWHM, 100), "line-profile FWHM (km/s)")
	rootCmd.Flags().IntVar(&flags.ndiv, "ndiv", orInt(saved.Ndiv, 1), "image pixel subsampling factor")
	rootCmd.Flags().IntVar(&flags.ntdiv, "ntdiv", orInt(saved.Ntdiv, 1), "exposure sub-phase count")
	rootCmd.Flags().Float64Var(&flags.tzero, "tzero", saved.Tzero, "ephemeris zero-phase time")
	rootCmd.Flags().Float64Var(&flags.period, "period", orFloat(saved.Period, 1), "ephemeris period")
	rootCmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.MarkFlagRequired("map")
	rootCmd.MarkFlagRequired("trail")
	rootCmd.MarkFlagRequired("output")
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func validate() error {
	if flags.niter < 1 {
		return usageError{fmt.Errorf("niter must be >= 1, got %d", flags.niter)}
	}
	if flags.caim <= 1e-5 {
		return usageError{fmt.Errorf("caim must be > 1e-5, got %g", flags.caim)}
	}
	if flags.rmax <= 1e-3 || flags.rmax > 1 {
		return usageError{fmt.Errorf("rmax must be in (1e-3, 1], got %g", flags.rmax)}
	}
	if flags.def != "uniform" && flags.def != "gaussian" {
		return usageError{fmt.Errorf("default must be uniform or gaussian, got %q", flags.def)}
	}
	if flags.def == "gaussian" {
		if flags.blurr <= 0 {
			return usageError{fmt.Errorf("blurr must be > 0 for the gaussian default, got %g", flags.blurr)}
		}
		if flags.gblurr <= 0 {
			return usageError{fmt.Errorf("gblurr must be > 0 for the gaussian default, got %g", flags.gblurr)}
		}
	}
	if flags.tlim <= 1e-4 || flags.tlim > 1 {
		return usageError{fmt.Errorf("tlim must be in (1e-4, 1], got %g", flags.tlim)}
	}
	if flags.fwhm <= 0 {
		return usageError{fmt.Errorf("fwhm must be > 0, got %g", flags.fwhm)}
	}
	if flags.ndiv < 1 || flags.ndiv > 200 {
		return usageError{fmt.Errorf("ndiv must be in [1, 200], got %d", flags.ndiv)}
	}
	if flags.ntdiv < 1 || flags.ntdiv > 200 {
		return usageError{fmt.Errorf("ntdiv must be in [1, 200], got %d", flags.ntdiv)}
	}
	if flags.period <= 1e-6 {
		return usageError{fmt.Errorf("period must be > 1e-6, got %g", flags.period)}
	}
	return nil
}

func runDtmem(cmd *cobra.Command, args []string) error {
	if err := validate(); err != nil {
		return err
	}

	cfg := drive.Config{
		MapPath:   flags.mapPath,
		TrailPath: flags.trailPath,
		OutputPath: flags.output,
		Niter:      flags.niter,
		Caim:       flags.caim,
		Rmax:       flags.rmax,
		Default:    flags.def,
		Blurr:      flags.blurr,
		GBlurr:     flags.gblurr,
		Tlim:       flags.tlim,
		FWHM:       flags.fwhm,
		Ndiv:       flags.ndiv,
		Ntdiv:      flags.ntdiv,
		Tzero:      flags.tzero,
		Period:     flags.period,
	}

	summary, err := drive.Run(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	config.Save(config.Flags{
		Niter: flags.niter, Caim: flags.caim, Rmax: flags.rmax, Default: flags.def,
		Blurr: flags.blurr, GBlurr: flags.gblurr, Tlim: flags.tlim, FWHM: flags.fwhm,
		Ndiv: flags.ndiv, Ntdiv: flags.ntdiv, Tzero: flags.tzero, Period: flags.period,
	})

	fmt.Printf("dtmem: %d iterations, S=%.4g C=%.4g test=%.4g (%s)\n",
		summary.Iterations, summary.S, summary.C, summary.Test, summary.Reason)
	return nil
}
