// Package restart reads AMBER restart/coordinate files (inpcrd, restrt,
// ncrst), which hold a single snapshot of the system: coordinates,
// optionally velocities and forces, an optional periodic box, and the
// simulation time the snapshot was taken at. Both the Fortran-formatted
// ASCII layout and the binary NetCDF layout are handled; the format is
// sniffed from the first bytes.
package restart

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"ktkr.us/pkg/mdmeta"
	"ktkr.us/pkg/mdmeta/netcdf"
)

// Record summarizes one restart file.
type Record struct {
	Path     string              `yaml:"path"`
	Format   mdmeta.BinaryFormat `yaml:"format"`
	Warnings []string            `yaml:"warnings"`

	Title          string `yaml:"title,omitempty"`
	Program        string `yaml:"program,omitempty"`
	ProgramVersion string `yaml:"program_version,omitempty"`
	Conventions    string `yaml:"conventions,omitempty"`

	NumAtoms *int     `yaml:"num_atoms,omitempty"`
	Time     *float64 `yaml:"time,omitempty"` // ps

	HasCoordinates bool `yaml:"has_coordinates"`
	HasVelocities  bool `yaml:"has_velocities"`
	HasForces      bool `yaml:"has_forces"`

	HasBox     bool        `yaml:"has_box"`
	BoxLengths *[3]float64 `yaml:"box_lengths,omitempty"`
	BoxAngles  *[3]float64 `yaml:"box_angles,omitempty"`
	BoxVolume  *float64    `yaml:"box_volume,omitempty"`
}

// Coordinates are written six to a line (6F12.7).
const floatsPerLine = 6

// Parse sniffs the format and reads the file. Per-field problems are
// reported through Record.Warnings; only I/O failures return an error.
func Parse(path string) (*Record, error) {
	format, err := mdmeta.SniffFormat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "restart: open %s", path)
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
		return nil, errors.Wrapf(err, "restart: open %s", path)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !sc.Scan() {
		r.Warnings = append(r.Warnings, "file is empty")
		return r, nil
	}
	title := sc.Text()
	if !utf8.ValidString(title) {
		r.Warnings = append(r.Warnings, "binary/corrupted header; could not decode title line")
	} else {
		r.Title = strings.TrimSpace(title)
	}

	if !sc.Scan() {
		r.Warnings = append(r.Warnings, "file truncated after title")
		return r, nil
	}
	fields := strings.Fields(sc.Text())
	if len(fields) == 0 {
		r.Warnings = append(r.Warnings, "atom-count line is empty")
		return r, nil
	}
	natom, err := strconv.Atoi(fields[0])
	if err != nil {
		r.Warnings = append(r.Warnings, fmt.Sprintf("could not parse atom count from %q", sc.Text()))
		return r, nil
	}
	r.NumAtoms = &natom
	if len(fields) >= 2 {
		if t, err := mdmeta.ParseFortranFloat(fields[1]); err == nil {
			r.Time = &t
		}
	}

	// The body layout is inferred from the line count: with L lines of
	// coordinates, L+1 adds a box, 2L adds velocities, 2L+1 both.
	var body int
	var lastLine string
	for sc.Scan() {
		body++
		if s := strings.TrimSpace(sc.Text()); s != "" {
			lastLine = s
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "restart: read %s", path)
	}

	perStructure := (3*natom + floatsPerLine - 1) / floatsPerLine
	r.HasCoordinates = true

	var trailing int
	switch {
	case body == perStructure+1 && perStructure > 0:
		// Coordinates plus a box line. Checked first because L+1 equals 2L
		// when the coordinates fit on one line.
		trailing = 1
	case body >= 2*perStructure && perStructure > 0:
		r.HasVelocities = true
		trailing = body - 2*perStructure
	case body >= perStructure:
		trailing = body - perStructure
	default:
		r.Warnings = append(r.Warnings, fmt.Sprintf(
			"file too short: expected at least %d body lines for %d atoms, found %d", perStructure, natom, body))
		return r, nil
	}

	if trailing >= 1 {
		if trailing > 1 {
			r.Warnings = append(r.Warnings, fmt.Sprintf(
				"unexpected trailing lines (%d); assuming box on the final line", trailing))
		}
		r.readBoxLine(lastLine)
	}
	return r, nil
}

// readBoxLine parses the final line as "a b c [alpha beta gamma]"; missing
// angles default to 90 degrees.
func (r *Record) readBoxLine(line string) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("could not parse box line %q", line))
		return
	}
	vals := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := mdmeta.ParseFortranFloat(f)
		if err != nil {
			r.Warnings = append(r.Warnings, fmt.Sprintf("could not parse box line %q", line))
			return
		}
		vals = append(vals, v)
	}

	lengths := [3]float64{vals[0], vals[1], vals[2]}
	angles := [3]float64{90, 90, 90}
	if len(vals) >= 6 {
		angles = [3]float64{vals[3], vals[4], vals[5]}
	}
	vol := mdmeta.CellVolume(lengths, angles)

	r.HasBox = true
	r.BoxLengths = &lengths
	r.BoxAngles = &angles
	r.BoxVolume = &vol
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
	r.ProgramVersion, _ = f.Attr("programVersion")
	r.Conventions, _ = f.Attr("Conventions")

	if n, ok := f.Dim("atom"); ok {
		r.NumAtoms = &n
	}

	if f.HasVar("time") {
		if times, err := f.ReadFloats("time"); err == nil && len(times) > 0 {
			t := times[len(times)-1]
			r.Time = &t
		} else if err != nil {
			r.Warnings = append(r.Warnings, "could not read time: "+err.Error())
		}
	}

	r.HasCoordinates = f.HasVar("coordinates")
	r.HasVelocities = f.HasVar("velocities")
	r.HasForces = f.HasVar("forces")

	if f.HasVar("cell_lengths") {
		lengths, err := f.ReadFloats("cell_lengths")
		if err != nil || len(lengths) < 3 {
			r.Warnings = append(r.Warnings, "could not read cell_lengths")
			return r
		}
		var l [3]float64
		copy(l[:], lengths[len(lengths)-3:])

		angles := [3]float64{90, 90, 90}
		if f.HasVar("cell_angles") {
			if a, err := f.ReadFloats("cell_angles"); err == nil && len(a) >= 3 {
				copy(angles[:], a[len(a)-3:])
			}
		}

		vol := mdmeta.CellVolume(l, angles)
		r.HasBox = true
		r.BoxLengths = &l
		r.BoxAngles = &angles
		r.BoxVolume = &vol
	}
	return r
}

// Summary renders the record the way the CLI prints single files.
func (r *Record) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s [%s]\n", r.Path, r.Format)
	if r.Format == mdmeta.FormatNetCDF {
		fmt.Fprintf(&b, "Conventions: %s  Program: %s %s\n",
			orNA(r.Conventions), orNA(r.Program), r.ProgramVersion)
	}
	fmt.Fprintf(&b, "Title: %s\n", orNA(r.Title))
	if r.NumAtoms != nil {
		fmt.Fprintf(&b, "Atoms: %d\n", *r.NumAtoms)
	}
	if r.Time != nil {
		fmt.Fprintf(&b, "Time: %.4f ps\n", *r.Time)
	}
	var contents []string
	if r.HasCoordinates {
		contents = append(contents, "coordinates")
	}
	if r.HasVelocities {
		contents = append(contents, "velocities")
	}
	if r.HasForces {
		contents = append(contents, "forces")
	}
	if len(contents) > 0 {
		fmt.Fprintf(&b, "Contains: %s\n", strings.Join(contents, ", "))
	}
	if r.HasBox && r.BoxLengths != nil {
		fmt.Fprintf(&b, "Box: %.4f %.4f %.4f Å", r.BoxLengths[0], r.BoxLengths[1], r.BoxLengths[2])
		if r.BoxVolume != nil {
			fmt.Fprintf(&b, "  Volume: %.2f Å³", *r.BoxVolume)
		}
		b.WriteByte('\n')
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
