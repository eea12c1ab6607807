package protocol

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ktkr.us/pkg/mdmeta/netcdf/nctest"
)

// Fixture builders shared across the protocol tests. Each writes one
// simulation artifact the way the engine would.

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeTopology emits a minimal prmtop with the given atom count. All
// atoms are given unit mass; three residues of water keep the
// classification meaningful.
func writeTopology(t *testing.T, dir, name string, natoms int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("%VERSION  VERSION_STAMP = V0001.000  DATE = 01/01/24\n")
	b.WriteString("%FLAG TITLE\n%FORMAT(20a4)\ntest_system\n")
	b.WriteString("%FLAG POINTERS\n%FORMAT(10I8)\n")
	ptr := make([]int, 31)
	ptr[0] = natoms
	ptr[11] = 3
	ptr[12] = natoms - 1
	for i, v := range ptr {
		fmt.Fprintf(&b, "%8d", v)
		if (i+1)%10 == 0 {
			b.WriteByte('\n')
		}
	}
	b.WriteByte('\n')
	b.WriteString("%FLAG RESIDUE_LABEL\n%FORMAT(20a4)\nWAT WAT WAT\n")
	b.WriteString("%FLAG BOX_DIMENSIONS\n%FORMAT(5E16.8)\n")
	b.WriteString("  9.00000000E+01  4.00000000E+01  4.00000000E+01  4.00000000E+01\n")
	return writeFile(t, dir, name, b.String())
}

// writeRestartASCII emits a coordinates-plus-box restart at the given
// simulation time.
func writeRestartASCII(t *testing.T, dir, name string, natoms int, timePs float64) string {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "restart\n%5d  %.7E\n", natoms, timePs)
	perLine := 0
	for i := 0; i < 3*natoms; i++ {
		fmt.Fprintf(&b, "%12.7f", float64(i)*0.1)
		perLine++
		if perLine == 6 {
			b.WriteByte('\n')
			perLine = 0
		}
	}
	if perLine != 0 {
		b.WriteByte('\n')
	}
	b.WriteString("  40.0000000  40.0000000  40.0000000\n")
	return writeFile(t, dir, name, b.String())
}

// writeDeck emits an mdin with the given title and &cntrl body.
func writeDeck(t *testing.T, dir, name, title, cntrl string) string {
	t.Helper()
	return writeFile(t, dir, name, title+"\n &cntrl\n  "+cntrl+"\n /\n")
}

// writeLog emits an mdout with a control echo and evenly spaced frames.
func writeLog(t *testing.T, dir, name string, natoms, nstlim int, dt float64, ntwx int, frames int, t0, interval float64, finished bool) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("|            PMEMD implementation of SANDER, Release 22\n\n")
	b.WriteString("   1.  RESOURCE   USE:\n")
	fmt.Fprintf(&b, " NATOM  = %8d NTYPES =       2\n NRES   =       3\n", natoms)
	b.WriteString("   2.  CONTROL  DATA  FOR  THE  RUN\n")
	b.WriteString("| BOX TYPE: RECTILINEAR\n")
	fmt.Fprintf(&b, "     nstlim  = %9d, dt      = %9.5f\n", nstlim, dt)
	fmt.Fprintf(&b, "     ntwx    = %9d, ntt     =         3\n", ntwx)
	b.WriteString("     temp0   = 300.00000, cut     =   9.00000\n")
	for i := 0; i < frames; i++ {
		fmt.Fprintf(&b, "\n NSTEP = %8d   TIME(PS) = %11.3f  TEMP(K) =   300.10  PRESS =     1.0\n",
			(i+1)*ntwx, t0+float64(i)*interval)
		b.WriteString(" Etot   =   -152585.0000  EKtot   =     48665.0000  EPtot      =   -201250.0000\n")
		b.WriteString(" ------------------------------------------------------------------------------\n")
	}
	if finished {
		b.WriteString("\n      A V E R A G E S   O V E R     200 S T E P S\n")
		b.WriteString("\n|  Final Performance Info:\n|     ns/day =      90.00\n")
	}
	return writeFile(t, dir, name, b.String())
}

// writeTrajectory emits a NetCDF trajectory with the given frame times
// over a fixed orthogonal box.
func writeTrajectory(t *testing.T, dir, name string, natoms int, times []float64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}

	b := nctest.NewBuilder().
		Attr("title", "trajectory").
		Attr("Conventions", "AMBER").
		Dim("frame", 0).
		Dim("atom", natoms).
		Dim("spatial", 3).
		Dim("cell_spatial", 3)
	b.VarFloat("time", []string{"frame"}, times)
	b.VarFloat("coordinates", []string{"frame", "atom", "spatial"}, make([]float64, len(times)*natoms*3))
	lengths := make([]float64, 0, len(times)*3)
	for range times {
		lengths = append(lengths, 40, 40, 40)
	}
	b.VarDouble("cell_lengths", []string{"frame", "cell_spatial"}, lengths)

	if err := b.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func timeAxis(t0, interval float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = t0 + float64(i)*interval
	}
	return out
}
