// Package mdlog streams AMBER mdout logs, which can reach gigabytes for
// long production runs. The parser keeps constant memory: per-frame
// thermodynamic samples feed Welford accumulators instead of slices, and
// header/control fields are matched line by line in a single pass.
package mdlog

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"ktkr.us/pkg/mdmeta/stats"
)

var thermostats = map[int]string{
	0:  "Constant Energy (NVE)",
	1:  "Berendsen",
	2:  "Andersen",
	3:  "Langevin",
	9:  "Optimized Isokinetic",
	10: "Stochastic Isokinetic",
}

var barostats = map[int]string{
	0: "None",
	1: "Berendsen",
	2: "Monte Carlo",
}

// Frames aggregates the periodic frame records of a run.
type Frames struct {
	Count     int64   `yaml:"count"`
	TimeStart float64 `yaml:"time_start"`
	TimeEnd   float64 `yaml:"time_end"`

	Temp     stats.Streaming `yaml:"temp"`
	Pressure stats.Streaming `yaml:"pressure"`
	Etot     stats.Streaming `yaml:"etot"`
	Density  stats.Streaming `yaml:"density"`
	Volume   stats.Streaming `yaml:"volume"`

	FirstDensity *float64 `yaml:"first_density,omitempty"`
	LastDensity  *float64 `yaml:"last_density,omitempty"`
	FirstVolume  *float64 `yaml:"first_volume,omitempty"`
	LastVolume   *float64 `yaml:"last_volume,omitempty"`

	SumBond     float64 `yaml:"sum_bond"`
	SumAngle    float64 `yaml:"sum_angle"`
	SumDihedral float64 `yaml:"sum_dihedral"`
	SumVDW      float64 `yaml:"sum_vdw"`
	SumElec     float64 `yaml:"sum_elec"`
}

// DurationNs is the endpoint span of the sampled frames.
func (f *Frames) DurationNs() float64 {
	return (f.TimeEnd - f.TimeStart) / 1000
}

// AvgIntervalPs estimates the write cadence from the frame timestamps.
func (f *Frames) AvgIntervalPs() float64 {
	if f.Count < 2 {
		return 0
	}
	return (f.TimeEnd - f.TimeStart) / float64(f.Count-1)
}

// TrueCoverageNs adds one interval to the endpoint span: N frames spaced
// dt apart cover N*dt of simulation, not (N-1)*dt.
func (f *Frames) TrueCoverageNs() float64 {
	if f.Count == 0 {
		return 0
	}
	interval := f.AvgIntervalPs()
	if interval == 0 {
		return 0
	}
	return (f.TimeEnd - f.TimeStart + interval) / 1000
}

// Record summarizes one mdout log.
type Record struct {
	Path     string   `yaml:"path"`
	Warnings []string `yaml:"warnings"`

	Program  string `yaml:"program"`
	Version  string `yaml:"version,omitempty"`
	RunDate  string `yaml:"run_date,omitempty"`
	GPUModel string `yaml:"gpu_model,omitempty"`

	NumAtoms    *int   `yaml:"num_atoms,omitempty"`
	NumResidues *int   `yaml:"num_residues,omitempty"`
	BoxType     string `yaml:"box_type,omitempty"`

	RunType    string   `yaml:"run_type"`
	Dt         *float64 `yaml:"dt,omitempty"`
	NumSteps   *int     `yaml:"num_steps,omitempty"`
	Cutoff     *float64 `yaml:"cutoff,omitempty"`
	Thermostat string   `yaml:"thermostat,omitempty"`
	TargetTemp *float64 `yaml:"target_temp,omitempty"`
	Barostat   string   `yaml:"barostat,omitempty"`
	ShakeActive bool    `yaml:"shake_active"`
	CoordFreq  *int     `yaml:"coord_freq,omitempty"` // ntwx

	Frames Frames `yaml:"frames"`

	FinishedProperly bool     `yaml:"finished_properly"`
	NsPerDay         *float64 `yaml:"ns_per_day,omitempty"`
	WallTimeSeconds  *float64 `yaml:"wall_time_seconds,omitempty"`
}

var kvRe = regexp.MustCompile(`([A-Za-z0-9_\-().\/]+)\s*=\s*([-\d.\*]+)`)

// Frame records can continue over this many lines after the NSTEP anchor.
const maxFrameLines = 9

// Parse streams an mdout file in one pass. Truncated or crashed runs
// still produce a record; only I/O failures return an error.
func Parse(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "mdlog: open %s", path)
	}
	defer f.Close()

	r := &Record{Path: path, Program: "SANDER", RunType: "MD"}

	var (
		inSummary  bool
		inResource bool
		frame      strings.Builder
		frameLines int
		collecting bool
	)

	flushFrame := func() {
		if !collecting {
			return
		}
		r.Frames.addFrame(extractKeyValues(frame.String()))
		frame.Reset()
		collecting = false
		frameLines = 0
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()

		// engine identity
		if strings.Contains(line, "PMEMD implementation of SANDER") ||
			(strings.Contains(line, "Amber") && strings.Contains(line, "PMEMD")) {
			r.Program = "PMEMD"
		}
		if r.Version == "" && strings.Contains(line, "Release") {
			if _, after, ok := strings.Cut(line, "Release"); ok {
				if fields := strings.Fields(after); len(fields) > 0 {
					r.Version = strings.Trim(fields[0], ",")
				}
			}
		}
		if strings.HasPrefix(line, "| Run on") {
			r.RunDate = strings.TrimSpace(strings.TrimPrefix(line, "| Run on"))
		}
		if strings.Contains(line, "CUDA Device Name:") {
			_, after, _ := strings.Cut(line, ":")
			r.GPUModel = strings.TrimSpace(after)
		}

		// system block
		if strings.Contains(line, "RESOURCE   USE") {
			inResource = true
		}
		if strings.Contains(line, "CONTROL  DATA") {
			inResource = false
		}
		if inResource {
			kvs := extractKeyValues(line)
			if v, ok := kvs.toInt("NATOM"); ok {
				r.NumAtoms = &v
			}
			if v, ok := kvs.toInt("NRES"); ok {
				r.NumResidues = &v
			}
		}
		if strings.Contains(line, "BOX TYPE:") {
			_, after, _ := strings.Cut(line, ":")
			r.BoxType = strings.TrimSpace(after)
		}

		// control data; lines can be comma-packed ("nstlim=5000000, dt=0.004")
		if strings.Contains(line, "=") {
			r.readControl(line)
		}

		// frame records, skipping the closing averages/fluctuations blocks
		if strings.Contains(line, "A V E R A G E S") || strings.Contains(line, "R M S  F L U C T U A T I O N S") {
			inSummary = true
			flushFrame()
		}
		if strings.Contains(line, "Final Performance Info") || strings.Contains(line, "TIMINGS") {
			inSummary = false
			flushFrame()
		}
		if strings.Contains(line, "Final Performance Info") {
			r.FinishedProperly = true
		}

		trimmed := strings.TrimSpace(line)
		if collecting {
			if trimmed == "" || strings.Contains(trimmed, "---") || frameLines >= maxFrameLines {
				flushFrame()
			} else {
				frame.WriteByte(' ')
				frame.WriteString(trimmed)
				frameLines++
			}
		}
		if !collecting && !inSummary && strings.Contains(line, "NSTEP =") && strings.Contains(line, "TIME(PS)") {
			collecting = true
			frame.WriteString(trimmed)
		}

		// performance footer
		if strings.Contains(line, "ns/day =") {
			if v, ok := extractKeyValues(line).toFloat("ns/day"); ok {
				r.NsPerDay = &v
			}
		}
		if strings.Contains(line, "Total wall time:") {
			fields := strings.Fields(line)
			for i, p := range fields {
				if strings.Contains(p, "time:") && i+1 < len(fields) {
					if v, err := strconv.ParseFloat(fields[i+1], 64); err == nil {
						r.WallTimeSeconds = &v
					} else {
						r.Warnings = append(r.Warnings, "failed to parse wall time from "+strings.TrimSpace(line))
					}
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "mdlog: read %s", path)
	}
	flushFrame()

	return r, nil
}

// readControl picks run parameters out of the echoed control section.
func (r *Record) readControl(line string) {
	kvs := extractKeyValues(line)

	if v, ok := kvs.toInt("nstlim"); ok {
		r.NumSteps = &v
	}
	if v, ok := kvs.toFloat("dt"); ok {
		r.Dt = &v
	}
	if v, ok := kvs.toFloat("cut"); ok {
		r.Cutoff = &v
	}
	if v, ok := kvs.toInt("ntt"); ok {
		if s, found := thermostats[v]; found {
			r.Thermostat = s
		} else {
			r.Thermostat = strconv.Itoa(v)
		}
	}
	if v, ok := kvs.toFloat("temp0"); ok {
		r.TargetTemp = &v
	}
	if v, ok := kvs.toInt("ntp"); ok {
		if s, found := barostats[v]; found {
			r.Barostat = s
		} else {
			r.Barostat = strconv.Itoa(v)
		}
	}
	if v, ok := kvs.toInt("ntc"); ok && v > 1 {
		r.ShakeActive = true
	}
	if v, ok := kvs.toInt("ntwx"); ok {
		r.CoordFreq = &v
	}
	if v, ok := kvs.toInt("imin"); ok && v != 0 {
		r.RunType = "Minimization"
	}
}

// keyValues maps extracted keys to values; nil marks Fortran overflow
// (*******) fields.
type keyValues map[string]*float64

func (kvs keyValues) toFloat(key string) (float64, bool) {
	v, ok := kvs[key]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

func (kvs keyValues) toInt(key string) (int, bool) {
	v, ok := kvs.toFloat(key)
	if !ok {
		return 0, false
	}
	return int(v), true
}

// extractKeyValues pulls "key = value" pairs from a line or a joined frame
// record. The two-token energy labels are fused first so they survive the
// single-token key match.
func extractKeyValues(s string) keyValues {
	if strings.Contains(s, "1-4") {
		s = strings.ReplaceAll(s, "1-4 NB", "1-4NB")
		s = strings.ReplaceAll(s, "1-4 EEL", "1-4EEL")
	}

	kvs := keyValues{}
	for _, m := range kvRe.FindAllStringSubmatch(s, -1) {
		key := m[1]
		val := strings.Trim(m[2], ",")
		if strings.Contains(val, "*******") {
			kvs[key] = nil
			continue
		}
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			v := f
			kvs[key] = &v
		}
	}
	return kvs
}

// addFrame feeds one frame record into the streaming accumulators.
func (f *Frames) addFrame(kvs keyValues) {
	f.Count++

	if t, ok := kvs.toFloat("TIME(PS)"); ok {
		if f.Count == 1 {
			f.TimeStart = t
		}
		f.TimeEnd = t
	}

	if v, ok := kvs.toFloat("TEMP(K)"); ok {
		f.Temp.Add(v)
	}
	if v, ok := kvs.toFloat("PRESS"); ok {
		f.Pressure.Add(v)
	}
	if v, ok := kvs.toFloat("Etot"); ok {
		f.Etot.Add(v)
	}
	if v, ok := kvs.toFloat("Density"); ok {
		f.Density.Add(v)
		if f.FirstDensity == nil {
			first := v
			f.FirstDensity = &first
		}
		last := v
		f.LastDensity = &last
	}
	if v, ok := kvs.toFloat("VOLUME"); ok {
		f.Volume.Add(v)
		if f.FirstVolume == nil {
			first := v
			f.FirstVolume = &first
		}
		last := v
		f.LastVolume = &last
	}

	if v, ok := kvs.toFloat("BOND"); ok {
		f.SumBond += v
	}
	if v, ok := kvs.toFloat("ANGLE"); ok {
		f.SumAngle += v
	}
	if v, ok := kvs.toFloat("DIHED"); ok {
		f.SumDihedral += v
	}
	if v, ok := kvs.toFloat("VDWAALS"); ok {
		f.SumVDW += v
	}
	if v, ok := kvs.toFloat("1-4NB"); ok {
		f.SumVDW += v
	}
	if v, ok := kvs.toFloat("EELEC"); ok {
		f.SumElec += v
	}
	if v, ok := kvs.toFloat("1-4EEL"); ok {
		f.SumElec += v
	}
}

// Summary renders the record the way the CLI prints single files.
func (r *Record) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", r.Path)
	fmt.Fprintf(&b, "Program: %s %s", r.Program, orUnknown(r.Version))
	if r.RunDate != "" {
		fmt.Fprintf(&b, " (%s)", r.RunDate)
	}
	b.WriteByte('\n')
	if r.GPUModel != "" {
		fmt.Fprintf(&b, "Hardware: GPU (%s)\n", r.GPUModel)
	}
	if r.NumAtoms != nil {
		fmt.Fprintf(&b, "System: %d atoms", *r.NumAtoms)
		if r.NumResidues != nil {
			fmt.Fprintf(&b, ", %d residues", *r.NumResidues)
		}
		if r.BoxType != "" {
			fmt.Fprintf(&b, " (%s)", r.BoxType)
		}
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "Config: %s", r.RunType)
	if r.Dt != nil {
		fmt.Fprintf(&b, " | dt=%v ps", *r.Dt)
	}
	if r.Cutoff != nil {
		fmt.Fprintf(&b, " | cut=%v Å", *r.Cutoff)
	}
	if r.ShakeActive {
		b.WriteString(" | SHAKE")
	}
	b.WriteByte('\n')

	if st := &r.Frames; st.Count > 0 {
		fmt.Fprintf(&b, "Statistics over %d frames:\n", st.Count)
		fmt.Fprintf(&b, "  Time: %.1f -> %.1f ps (coverage %.3f ns)\n",
			st.TimeStart, st.TimeEnd, st.TrueCoverageNs())
		if mean, sd, ok := st.Temp.Stats(); ok {
			fmt.Fprintf(&b, "  Temp: %.2f +/- %.2f K\n", mean, sd)
		}
		if mean, sd, ok := st.Pressure.Stats(); ok {
			fmt.Fprintf(&b, "  Press: %.1f +/- %.1f bar\n", mean, sd)
		}
		if mean, sd, ok := st.Density.Stats(); ok {
			fmt.Fprintf(&b, "  Density: %.4f +/- %.4f g/cc\n", mean, sd)
		}
		if mean, sd, ok := st.Etot.Stats(); ok {
			fmt.Fprintf(&b, "  Etot: %.1f +/- %.1f kcal/mol\n", mean, sd)
		}
	}

	if r.FinishedProperly {
		b.WriteString("Status: finished correctly\n")
		if r.NsPerDay != nil {
			fmt.Fprintf(&b, "Performance: %.2f ns/day\n", *r.NsPerDay)
		}
		if r.WallTimeSeconds != nil {
			fmt.Fprintf(&b, "Wall time: %.2f hours\n", *r.WallTimeSeconds/3600)
		}
	} else {
		b.WriteString("Status: incomplete / crashed\n")
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
