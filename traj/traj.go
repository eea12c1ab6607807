// Package traj reads AMBER trajectory files. NetCDF trajectories expose
// the frame time axis, per-frame box, and replica-exchange markers; legacy
// ASCII trajectories carry only a title (everything else needs the
// topology, which is not this package's business).
package traj

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/pkg/errors"

	"ktkr.us/pkg/mdmeta"
	"ktkr.us/pkg/mdmeta/netcdf"
	"ktkr.us/pkg/mdmeta/stats"
)

// Angles this far from 90 degrees mark a triclinic cell.
const triclinicTolerance = 0.01

// Frame-interval jitter beyond this flags a variable timestep.
const dtJitterTolerance = 0.01

// MinMaxMean summarizes a per-frame quantity.
type MinMaxMean struct {
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
	Mean float64 `yaml:"mean"`
}

// Record summarizes one trajectory file.
type Record struct {
	Path     string              `yaml:"path"`
	Format   mdmeta.BinaryFormat `yaml:"format"`
	Warnings []string            `yaml:"warnings"`

	Title       string `yaml:"title,omitempty"`
	Program     string `yaml:"program,omitempty"`
	Conventions string `yaml:"conventions,omitempty"`

	NumAtoms  *int `yaml:"num_atoms,omitempty"`
	NumFrames int  `yaml:"num_frames"`

	HasTime   bool     `yaml:"has_time"`
	TimeStart *float64 `yaml:"time_start,omitempty"`
	TimeEnd   *float64 `yaml:"time_end,omitempty"`
	AvgDt     *float64 `yaml:"avg_dt,omitempty"`
	DurationPs float64 `yaml:"duration_ps"`

	HasBox  bool        `yaml:"has_box"`
	BoxType string      `yaml:"box_type,omitempty"` // Orthogonal | Triclinic
	Volume  *MinMaxMean `yaml:"volume,omitempty"`

	HasCoordinates bool `yaml:"has_coordinates"`
	HasVelocities  bool `yaml:"has_velocities"`
	HasForces      bool `yaml:"has_forces"`

	IsREMD    bool        `yaml:"is_remd"`
	REMDTypes []string    `yaml:"remd_types,omitempty"`
	REMDTemps *MinMaxMean `yaml:"remd_temps,omitempty"`
}

// Parse sniffs the format and reads the file. Per-field problems are
// reported through Record.Warnings; only I/O failures return an error.
func Parse(path string) (*Record, error) {
	format, err := mdmeta.SniffFormat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "traj: open %s", path)
	}
	if format == mdmeta.FormatNetCDF {
		return parseNetCDF(path), nil
	}
	return parseASCII(path)
}

func parseASCII(path string) (*Record, error) {
	r := &Record{Path: path, Format: mdmeta.FormatASCII}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "traj: open %s", path)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if sc.Scan() {
		r.Title = strings.TrimSpace(sc.Text())
		r.Warnings = append(r.Warnings,
			"ASCII trajectory: frame metadata (time, box, atom count) requires a topology")
	} else {
		r.Warnings = append(r.Warnings, "file is empty")
	}
	return r, nil
}

func parseNetCDF(path string) *Record {
	r := &Record{Path: path, Format: mdmeta.FormatNetCDF}

	f, err := netcdf.Open(path)
	if err != nil {
		r.Warnings = append(r.Warnings, "NetCDF file not parsed: "+err.Error())
		return r
	}
	defer f.Close()

	r.Title, _ = f.Attr("title")
	r.Program, _ = f.Attr("program")
	r.Conventions, _ = f.Attr("Conventions")

	if n, ok := f.Dim("atom"); ok {
		r.NumAtoms = &n
	}

	if f.HasVar("time") {
		times, err := f.ReadFloats("time")
		if err != nil {
			r.Warnings = append(r.Warnings, "could not read time axis: "+err.Error())
		} else {
			r.readTimeAxis(times)
		}
	} else if shape, ok := f.VarShape("coordinates"); ok && len(shape) > 0 {
		r.NumFrames = shape[0]
	}

	r.HasCoordinates = f.HasVar("coordinates")
	r.HasVelocities = f.HasVar("velocities")
	r.HasForces = f.HasVar("forces")

	if f.HasVar("cell_lengths") {
		r.readBox(f)
	}

	if f.HasVar("temp0") {
		r.IsREMD = true
		r.REMDTypes = append(r.REMDTypes, "T-REMD (temp0)")
		if temps, err := f.ReadFloats("temp0"); err == nil && len(temps) > 0 {
			mm := minMaxMean(temps)
			r.REMDTemps = &mm
		}
	}
	if f.HasVar("remd_dimtype") {
		r.IsREMD = true
		r.REMDTypes = append(r.REMDTypes, "Multi-D REMD")
	}

	return r
}

// readTimeAxis derives the frame count, time range, and the average frame
// interval, flagging jittery spacing.
func (r *Record) readTimeAxis(times []float64) {
	r.HasTime = true
	r.NumFrames = len(times)
	if len(times) == 0 {
		return
	}

	start, end := times[0], times[len(times)-1]
	r.TimeStart = &start
	r.TimeEnd = &end
	r.DurationPs = end - start

	if len(times) < 2 {
		return
	}

	var deltas stats.Streaming
	for i := 1; i < len(times); i++ {
		deltas.Add(times[i] - times[i-1])
	}
	avg := deltas.Mean
	r.AvgDt = &avg
	if deltas.Stdev() > dtJitterTolerance {
		r.Warnings = append(r.Warnings, "variable timestep detected within file")
	}
}

// readBox computes per-frame volumes from cell_lengths (N×3) and optional
// cell_angles, and types the box from the first frame's angles.
func (r *Record) readBox(f netcdf.File) {
	lengths, err := f.ReadFloats("cell_lengths")
	if err != nil || len(lengths) < 3 {
		r.Warnings = append(r.Warnings, "could not read cell_lengths")
		return
	}
	frames := len(lengths) / 3

	var angles []float64
	if f.HasVar("cell_angles") {
		if a, err := f.ReadFloats("cell_angles"); err == nil && len(a) >= 3 {
			angles = a
		}
	}

	r.HasBox = true
	r.BoxType = "Orthogonal"
	if angles != nil {
		for i := 0; i < 3; i++ {
			if math.Abs(angles[i]-90) > triclinicTolerance {
				r.BoxType = "Triclinic"
				break
			}
		}
	}

	vols := make([]float64, 0, frames)
	for i := 0; i < frames; i++ {
		l := [3]float64{lengths[i*3], lengths[i*3+1], lengths[i*3+2]}
		a := [3]float64{90, 90, 90}
		if angles != nil && len(angles) >= (i+1)*3 {
			a = [3]float64{angles[i*3], angles[i*3+1], angles[i*3+2]}
		}
		vols = append(vols, mdmeta.CellVolume(l, a))
	}
	if len(vols) > 0 {
		mm := minMaxMean(vols)
		r.Volume = &mm
	}
}

func minMaxMean(vals []float64) MinMaxMean {
	mm := MinMaxMean{Min: vals[0], Max: vals[0]}
	var sum float64
	for _, v := range vals {
		if v < mm.Min {
			mm.Min = v
		}
		if v > mm.Max {
			mm.Max = v
		}
		sum += v
	}
	mm.Mean = sum / float64(len(vals))
	return mm
}

// Summary renders the record the way the CLI prints single files.
func (r *Record) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s [%s]\n", r.Path, r.Format)
	if r.Format == mdmeta.FormatNetCDF {
		if r.NumAtoms != nil {
			fmt.Fprintf(&b, "Atoms: %d\n", *r.NumAtoms)
		}
		fmt.Fprintf(&b, "Frames: %d\n", r.NumFrames)
		if r.HasTime && r.TimeStart != nil && r.TimeEnd != nil {
			fmt.Fprintf(&b, "Time: %.1f -> %.1f ps", *r.TimeStart, *r.TimeEnd)
			if r.AvgDt != nil {
				fmt.Fprintf(&b, " (dt=%.3f)", *r.AvgDt)
			}
			b.WriteByte('\n')
		}
		if r.HasBox && r.Volume != nil {
			fmt.Fprintf(&b, "Volume: %.1f Å³ (range %.1f-%.1f) [%s]\n",
				r.Volume.Mean, r.Volume.Min, r.Volume.Max, r.BoxType)
		}
		if r.IsREMD {
			fmt.Fprintf(&b, "REMD: %s", strings.Join(r.REMDTypes, ", "))
			if r.REMDTemps != nil {
				fmt.Fprintf(&b, " (%.1f-%.1fK, avg %.1fK)",
					r.REMDTemps.Min, r.REMDTemps.Max, r.REMDTemps.Mean)
			}
			b.WriteByte('\n')
		}
	} else {
		b.WriteString("Legacy ASCII format\n")
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}
	return b.String()
}
