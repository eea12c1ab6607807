package netcdf

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"ktkr.us/pkg/mdmeta/netcdf/nctest"
)

func writeRestartFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.ncrst")

	b := nctest.NewBuilder().
		Attr("title", "equilibrated system").
		Attr("program", "pmemd").
		Attr("programVersion", "22").
		Attr("Conventions", "AMBERRESTART").
		Dim("atom", 4).
		Dim("spatial", 3).
		Dim("cell_spatial", 3).
		Dim("cell_angular", 3)

	b.VarDouble("time", nil, []float64{1000.5})
	coords := make([]float64, 12)
	for i := range coords {
		coords[i] = float64(i) * 0.25
	}
	b.VarDouble("coordinates", []string{"atom", "spatial"}, coords)
	b.VarDouble("cell_lengths", []string{"cell_spatial"}, []float64{30, 30, 40})
	b.VarDouble("cell_angles", []string{"cell_angular"}, []float64{90, 90, 90})

	if err := b.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestClassicRoundTrip(t *testing.T) {
	path := writeRestartFixture(t)

	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if got, _ := f.Attr("title"); got != "equilibrated system" {
		t.Errorf("title = %q", got)
	}
	if got, _ := f.Attr("Conventions"); got != "AMBERRESTART" {
		t.Errorf("Conventions = %q", got)
	}
	if n, ok := f.Dim("atom"); !ok || n != 4 {
		t.Errorf("atom dim = %d, %v", n, ok)
	}
	if !f.HasVar("coordinates") {
		t.Error("coordinates variable missing")
	}
	if f.HasVar("velocities") {
		t.Error("velocities variable should be absent")
	}

	tv, err := f.ReadFloats("time")
	if err != nil || len(tv) != 1 || tv[0] != 1000.5 {
		t.Errorf("time = %v, %v", tv, err)
	}
	lengths, err := f.ReadFloats("cell_lengths")
	if err != nil || len(lengths) != 3 || lengths[2] != 40 {
		t.Errorf("cell_lengths = %v, %v", lengths, err)
	}
}

func TestClassicRecordVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traj.nc")

	times := []float64{0, 1, 2, 3.5, 4.5}
	lengths := []float64{
		30, 30, 40,
		30.1, 30.1, 40.1,
		30.2, 30.2, 40.2,
		30.3, 30.3, 40.3,
		30.4, 30.4, 40.4,
	}

	b := nctest.NewBuilder().
		Attr("Conventions", "AMBER").
		Dim("frame", 0).
		Dim("atom", 2).
		Dim("spatial", 3).
		Dim("cell_spatial", 3)
	b.VarFloat("time", []string{"frame"}, times)
	b.VarFloat("coordinates", []string{"frame", "atom", "spatial"}, make([]float64, 5*6))
	b.VarDouble("cell_lengths", []string{"frame", "cell_spatial"}, lengths)

	if err := b.WriteFile(path); err != nil {
		t.Fatal(err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if n, ok := f.Dim("frame"); !ok || n != 5 {
		t.Fatalf("frame dim = %d, %v", n, ok)
	}
	shape, ok := f.VarShape("cell_lengths")
	if !ok || len(shape) != 2 || shape[0] != 5 || shape[1] != 3 {
		t.Fatalf("cell_lengths shape = %v", shape)
	}

	got, err := f.ReadFloats("time")
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range times {
		if math.Abs(got[i]-want) > 1e-6 {
			t.Errorf("time[%d] = %v, want %v", i, got[i], want)
		}
	}

	lg, err := f.ReadFloats("cell_lengths")
	if err != nil {
		t.Fatal(err)
	}
	if len(lg) != 15 || lg[14] != 40.4 {
		t.Errorf("cell_lengths = %v", lg)
	}
}

func TestOpenRejectsNonNetCDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.rst")
	if err := os.WriteFile(path, []byte("default_name\n    5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("Open succeeded on ASCII file")
	}
}

func TestStubBackend(t *testing.T) {
	SetBackend(Stub{})
	defer SetBackend(Classic{})

	if BackendName() != "none" {
		t.Errorf("BackendName() = %q", BackendName())
	}
	if _, err := Open("anything.nc"); err == nil {
		t.Fatal("stub backend opened a file")
	}
}
