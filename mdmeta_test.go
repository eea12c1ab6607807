package mdmeta

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestKindForPath(t *testing.T) {
	for _, tt := range []struct {
		path string
		want Kind
	}{
		{"sys.prmtop", KindTopology},
		{"sys.parm7", KindTopology},
		{"run/sys.TOP", KindTopology},
		{"prod.mdin", KindInputDeck},
		{"prod.in", KindInputDeck},
		{"prod.mdout", KindLog},
		{"prod.out", KindLog},
		{"prod.mdcrd", KindTrajectory},
		{"prod.nc", KindTrajectory},
		{"prod.crd", KindTrajectory},
		{"prod.x", KindTrajectory},
		{"prod.rst", KindRestart},
		{"prod.rst7", KindRestart},
		{"prod.ncrst", KindRestart},
		{"prod.restrt", KindRestart},
		{"prod.inpcrd", KindRestart},
		{"notes.txt", KindUnknown},
		{"README", KindUnknown},
	} {
		if got := KindForPath(tt.path); got != tt.want {
			t.Errorf("KindForPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestStem(t *testing.T) {
	if got := Stem("run/prod_001.rst7"); got != "run/prod_001" {
		t.Errorf("Stem = %q", got)
	}
	if got := Stem("noext"); got != "noext" {
		t.Errorf("Stem = %q", got)
	}
}

func TestSniffFormat(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, data []byte) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	t.Run("NetCDFMagic", func(t *testing.T) {
		f, err := SniffFormat(write("a.ncrst", []byte{'C', 'D', 'F', 0x01, 0, 0}))
		if err != nil || f != FormatNetCDF {
			t.Errorf("got %v, %v", f, err)
		}
	})

	t.Run("ASCII", func(t *testing.T) {
		f, err := SniffFormat(write("b.rst7", []byte("title line\n    5\n")))
		if err != nil || f != FormatASCII {
			t.Errorf("got %v, %v", f, err)
		}
	})

	t.Run("ZeroBytes", func(t *testing.T) {
		f, err := SniffFormat(write("empty.rst7", nil))
		if err != nil || f != FormatASCII {
			t.Errorf("got %v, %v", f, err)
		}
	})

	t.Run("AlmostMagic", func(t *testing.T) {
		f, err := SniffFormat(write("c.rst7", []byte("CDX1234")))
		if err != nil || f != FormatASCII {
			t.Errorf("got %v, %v", f, err)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := SniffFormat(filepath.Join(dir, "nope")); err == nil {
			t.Error("no error for missing file")
		}
	})
}

func TestCellVolume(t *testing.T) {
	t.Run("Orthogonal", func(t *testing.T) {
		got := CellVolume([3]float64{30, 30, 40}, [3]float64{90, 90, 90})
		if math.Abs(got-36000) > 1e-9 {
			t.Errorf("got %v", got)
		}
	})

	t.Run("TruncatedOctahedron", func(t *testing.T) {
		// beta = 109.4712...: V = abc/sqrt(27)*4 for the ideal case;
		// just check it shrinks relative to the orthogonal cell
		got := CellVolume([3]float64{40, 40, 40}, [3]float64{109.471219, 109.471219, 109.471219})
		if got <= 0 || got >= 64000 {
			t.Errorf("got %v", got)
		}
	})

	t.Run("DegenerateCell", func(t *testing.T) {
		if got := CellVolume([3]float64{10, 10, 10}, [3]float64{0, 0, 0}); got != 0 {
			t.Errorf("got %v, want 0 for a flat cell", got)
		}
	})
}

func TestParseFortranFloat(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want float64
	}{
		{"1.5", 1.5},
		{"  1.5D-02", 0.015},
		{"2.0d3", 2000},
		{"-1.0E+01", -10},
		{"3", 3},
	} {
		got, err := ParseFortranFloat(tt.in)
		if err != nil || math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("ParseFortranFloat(%q) = %v, %v", tt.in, got, err)
		}
	}

	if _, err := ParseFortranFloat("abc"); err == nil {
		t.Error("no error for garbage input")
	}
	if _, err := ParseFortranFloat("${STEPS}"); err == nil {
		t.Error("no error for shell placeholder")
	}
}
