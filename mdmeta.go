// Package mdmeta implements routines for extracting metadata from the files
// produced by AMBER-family molecular dynamics engines.
//
// Each file kind (topology, input deck, log, trajectory, restart) has its own
// subpackage with a Parse entry point returning a typed record. The protocol
// subpackage assembles per-file records into a validated multi-stage
// simulation protocol. This package holds what the parsers share: the
// extension-to-kind table, binary format sniffing, and Fortran-flavored
// number handling.
package mdmeta

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Kind identifies which simulation artifact a file is.
type Kind int

const (
	KindUnknown Kind = iota
	KindTopology
	KindInputDeck
	KindLog
	KindTrajectory
	KindRestart
)

func (k Kind) String() string {
	switch k {
	case KindTopology:
		return "prmtop"
	case KindInputDeck:
		return "mdin"
	case KindLog:
		return "mdout"
	case KindTrajectory:
		return "mdcrd"
	case KindRestart:
		return "inpcrd"
	}
	return "unknown"
}

var extKinds = map[string]Kind{
	".prmtop": KindTopology,
	".parm7":  KindTopology,
	".top":    KindTopology,
	".mdin":   KindInputDeck,
	".in":     KindInputDeck,
	".mdout":  KindLog,
	".out":    KindLog,
	".mdcrd":  KindTrajectory,
	".nc":     KindTrajectory,
	".crd":    KindTrajectory,
	".x":      KindTrajectory,
	".rst":    KindRestart,
	".rst7":   KindRestart,
	".ncrst":  KindRestart,
	".restrt": KindRestart,
	".inpcrd": KindRestart,
}

// KindForPath classifies a file by its final extension. Files whose
// extension is not in the table are KindUnknown and skipped by discovery.
func KindForPath(path string) Kind {
	return extKinds[strings.ToLower(filepath.Ext(path))]
}

// Stem returns path with its final extension stripped. Stems are the stage
// name candidates used to group files during discovery.
func Stem(path string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)]
}

// BinaryFormat tags the on-disk encoding of restart and trajectory files.
type BinaryFormat int

const (
	FormatASCII BinaryFormat = iota
	FormatNetCDF
)

func (f BinaryFormat) String() string {
	if f == FormatNetCDF {
		return "NetCDF"
	}
	return "ASCII"
}

// SniffFormat reads the first bytes of the file. NetCDF classic files begin
// with "CDF"; everything else, including empty files, is treated as ASCII.
func SniffFormat(path string) (BinaryFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatASCII, err
	}
	defer f.Close()

	var magic [4]byte
	n, _ := f.Read(magic[:])
	if n >= 3 && magic[0] == 'C' && magic[1] == 'D' && magic[2] == 'F' {
		return FormatNetCDF, nil
	}
	return FormatASCII, nil
}

// CellVolume computes the volume of a triclinic cell from edge lengths in
// Ångström and angles in degrees. Degenerate (flat) cells yield 0.
func CellVolume(lengths, angles [3]float64) float64 {
	ca := math.Cos(angles[0] * math.Pi / 180)
	cb := math.Cos(angles[1] * math.Pi / 180)
	cg := math.Cos(angles[2] * math.Pi / 180)

	term := 1 - ca*ca - cb*cb - cg*cg + 2*ca*cb*cg
	if term < 0 {
		term = 0
	}
	return lengths[0] * lengths[1] * lengths[2] * math.Sqrt(term)
}

// ParseFortranFloat parses a float accepting Fortran D-notation exponents
// ("1.5D-02") alongside the usual E forms.
func ParseFortranFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "Dd"); i >= 0 {
		s = s[:i] + "e" + s[i+1:]
	}
	return strconv.ParseFloat(s, 64)
}
