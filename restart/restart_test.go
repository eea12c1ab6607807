package restart

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"ktkr.us/pkg/mdmeta"
	"ktkr.us/pkg/mdmeta/netcdf"
	"ktkr.us/pkg/mdmeta/netcdf/nctest"
)

// two atoms: one line of coordinates
const asciiCoords = `minimized structure
    2  1.0000000D+03
  12.7000000  13.2000000   9.1000000  14.0000000  13.9000000   8.8000000
`

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseASCII(t *testing.T) {
	t.Run("CoordsOnly", func(t *testing.T) {
		r, err := Parse(write(t, "min.rst7", asciiCoords))
		if err != nil {
			t.Fatal(err)
		}
		if r.Format != mdmeta.FormatASCII {
			t.Errorf("Format = %v", r.Format)
		}
		if r.Title != "minimized structure" {
			t.Errorf("Title = %q", r.Title)
		}
		if r.NumAtoms == nil || *r.NumAtoms != 2 {
			t.Errorf("NumAtoms = %v", r.NumAtoms)
		}
		if r.Time == nil || *r.Time != 1000.0 {
			t.Errorf("Time = %v", r.Time)
		}
		if !r.HasCoordinates || r.HasVelocities || r.HasBox {
			t.Errorf("contents = coords:%v vel:%v box:%v", r.HasCoordinates, r.HasVelocities, r.HasBox)
		}
	})

	t.Run("CoordsAndBox", func(t *testing.T) {
		content := asciiCoords + "  30.0000000  30.0000000  40.0000000\n"
		r, err := Parse(write(t, "box.rst7", content))
		if err != nil {
			t.Fatal(err)
		}
		if !r.HasBox || r.HasVelocities {
			t.Fatalf("box:%v vel:%v", r.HasBox, r.HasVelocities)
		}
		if r.BoxAngles == nil || *r.BoxAngles != [3]float64{90, 90, 90} {
			t.Errorf("BoxAngles = %v, want right angles by default", r.BoxAngles)
		}
		if r.BoxVolume == nil || math.Abs(*r.BoxVolume-36000) > 1e-6 {
			t.Errorf("BoxVolume = %v, want 36000", r.BoxVolume)
		}
	})

	t.Run("CoordsVelocitiesBox", func(t *testing.T) {
		content := `heated
    2
   1.0000000   2.0000000   3.0000000   4.0000000   5.0000000   6.0000000
   0.1000000   0.2000000   0.3000000   0.4000000   0.5000000   0.6000000
  30.0000000  30.0000000  40.0000000  90.0000000 109.4712190  90.0000000
`
		r, err := Parse(write(t, "heat.rst7", content))
		if err != nil {
			t.Fatal(err)
		}
		if !r.HasVelocities || !r.HasBox {
			t.Fatalf("vel:%v box:%v", r.HasVelocities, r.HasBox)
		}
		if r.Time != nil {
			t.Errorf("Time = %v, want nil when absent", r.Time)
		}
		if r.BoxAngles[1] != 109.471219 {
			t.Errorf("beta = %v", r.BoxAngles[1])
		}
		want := mdmeta.CellVolume([3]float64{30, 30, 40}, [3]float64{90, 109.471219, 90})
		if math.Abs(*r.BoxVolume-want) > 1e-9 {
			t.Errorf("BoxVolume = %v, want %v", *r.BoxVolume, want)
		}
	})

	t.Run("TrailingNoise", func(t *testing.T) {
		// six atoms, three coordinate lines, a stray blank line, then the box
		content := `equilibrated
    6
   1.0000000   2.0000000   3.0000000   4.0000000   5.0000000   6.0000000
   1.0000000   2.0000000   3.0000000   4.0000000   5.0000000   6.0000000
   1.0000000   2.0000000   3.0000000   4.0000000   5.0000000   6.0000000

  30.0000000  30.0000000  40.0000000
`
		r, err := Parse(write(t, "noisy.rst7", content))
		if err != nil {
			t.Fatal(err)
		}
		if !r.HasBox {
			t.Error("box not detected past trailing noise")
		}
		if len(r.Warnings) == 0 {
			t.Error("expected a trailing-lines warning")
		}
	})

	t.Run("Truncated", func(t *testing.T) {
		r, err := Parse(write(t, "short.rst7", "title\n  100\n   1.0   2.0\n"))
		if err != nil {
			t.Fatal(err)
		}
		if len(r.Warnings) == 0 {
			t.Error("expected a too-short warning")
		}
		if r.NumAtoms == nil || *r.NumAtoms != 100 {
			t.Errorf("NumAtoms = %v", r.NumAtoms)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		r, err := Parse(write(t, "empty.rst7", ""))
		if err != nil {
			t.Fatal(err)
		}
		if r.Format != mdmeta.FormatASCII {
			t.Errorf("Format = %v, want ASCII for empty file", r.Format)
		}
		if len(r.Warnings) == 0 {
			t.Error("expected warnings for empty file")
		}
	})
}

func TestParseNetCDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.ncrst")
	b := nctest.NewBuilder().
		Attr("title", "production checkpoint").
		Attr("program", "pmemd.cuda").
		Attr("programVersion", "22.0").
		Attr("Conventions", "AMBERRESTART").
		Dim("atom", 3).
		Dim("spatial", 3).
		Dim("cell_spatial", 3).
		Dim("cell_angular", 3)
	b.VarDouble("time", nil, []float64{1000.5})
	b.VarDouble("coordinates", []string{"atom", "spatial"}, make([]float64, 9))
	b.VarDouble("velocities", []string{"atom", "spatial"}, make([]float64, 9))
	b.VarDouble("cell_lengths", []string{"cell_spatial"}, []float64{30, 30, 40})
	b.VarDouble("cell_angles", []string{"cell_angular"}, []float64{90, 90, 90})
	if err := b.WriteFile(path); err != nil {
		t.Fatal(err)
	}

	r, err := Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	if r.Format != mdmeta.FormatNetCDF {
		t.Fatalf("Format = %v", r.Format)
	}
	if r.Title != "production checkpoint" || r.Program != "pmemd.cuda" {
		t.Errorf("attrs = %q, %q", r.Title, r.Program)
	}
	if r.NumAtoms == nil || *r.NumAtoms != 3 {
		t.Errorf("NumAtoms = %v", r.NumAtoms)
	}
	if r.Time == nil || *r.Time != 1000.5 {
		t.Errorf("Time = %v", r.Time)
	}
	if !r.HasCoordinates || !r.HasVelocities || r.HasForces {
		t.Errorf("contents = %v %v %v", r.HasCoordinates, r.HasVelocities, r.HasForces)
	}
	if !r.HasBox || r.BoxVolume == nil || math.Abs(*r.BoxVolume-36000) > 1e-6 {
		t.Errorf("box = %v vol = %v", r.HasBox, r.BoxVolume)
	}
	if len(r.Warnings) != 0 {
		t.Errorf("Warnings = %v", r.Warnings)
	}
}

func TestParseNetCDF_NoBackend(t *testing.T) {
	netcdf.SetBackend(netcdf.Stub{})
	t.Cleanup(func() { netcdf.SetBackend(netcdf.Classic{}) })

	path := filepath.Join(t.TempDir(), "state.ncrst")
	if err := os.WriteFile(path, []byte("CDF\x01rest-of-file"), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	if r.Format != mdmeta.FormatNetCDF {
		t.Errorf("Format = %v, want NetCDF even without backend", r.Format)
	}
	if len(r.Warnings) != 1 {
		t.Errorf("Warnings = %v, want exactly one", r.Warnings)
	}
}

func TestParse_Twice_Equal(t *testing.T) {
	path := write(t, "a.rst7", asciiCoords+"  30.0000000  30.0000000  40.0000000\n")
	a, _ := Parse(path)
	b, _ := Parse(path)
	if !reflect.DeepEqual(a, b) {
		t.Error("parsing the same file twice produced different records")
	}
}
