// Package config persists the last-entered CLI flag values across
// invocations of dtmem (spec §6.1), purely as a convenience default for
// the next run — it has no bearing on core correctness, and any failure
// to read or write it is logged and otherwise ignored.
package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
)

// Flags is the subset of dtmem's flags worth remembering between runs.
type Flags struct {
	Niter   int     `json:"niter"`
	Caim    float64 `json:"caim"`
	Rmax    float64 `json:"rmax"`
	Default string  `json:"default"`
	Blurr   float64 `json:"blurr"`
	GBlurr  float64 `json:"gblurr"`
	Tlim    float64 `json:"tlim"`
	FWHM    float64 `json:"fwhm"`
	Ndiv    int     `json:"ndiv"`
	Ntdiv   int     `json:"ntdiv"`
	Tzero   float64 `json:"tzero"`
	Period  float64 `json:"period"`
}

func path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "dtmem", "flags.json"), nil
}

// Load reads the last-saved flags. Any error (no config directory, file
// missing, corrupt JSON) is reported back as a zero Flags plus the error,
// which callers should treat as "no defaults available" rather than fatal.
// Every error except a missing file is also logged at warn level.
func Load() (Flags, error) {
	var f Flags
	p, err := path()
	if err != nil {
		slog.Warn("config directory unavailable, skipping saved flags", "error", err)
		return f, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("could not read saved flags", "path", p, "error", err)
		}
		return f, err
	}
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Warn("saved flags file is corrupt, ignoring", "path", p, "error", err)
		return Flags{}, err
	}
	return f, nil
}

// Save persists f for the next invocation, via the usual temp-file-then-
// rename pattern so a concurrent read never observes a half-written file.
// Failure is logged, never returned as fatal.
func Save(f Flags) {
	p, err := path()
	if err != nil {
		slog.Warn("config directory unavailable, not saving flags", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		slog.Warn("could not create config directory", "path", filepath.Dir(p), "error", err)
		return
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		slog.Warn("could not serialise flags", "error", err)
		return
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		slog.Warn("could not write flags file", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, p); err != nil {
		slog.Warn("could not rename flags file into place", "path", p, "error", err)
		os.Remove(tmp)
	}
}
