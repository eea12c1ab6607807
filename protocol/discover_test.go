package protocol

import (
	"path/filepath"
	"reflect"
	"testing"
)

// Auto-detected restarts follow the numeric sequence: each stage links to
// the restart written by its predecessor.
func TestDiscover_AutoRestartSequence(t *testing.T) {
	dir := t.TempDir()
	for _, stem := range []string{"prod_001", "prod_002", "prod_003"} {
		writeDeck(t, dir, stem+".mdin", "production run", "nstlim=1000000, dt=0.004, ntt=3,")
	}
	writeRestartASCII(t, dir, "prod_001.rst7", 4, 4000)
	writeRestartASCII(t, dir, "prod_002.rst7", 4, 8000)

	p, err := Discover(dir, DiscoverOptions{AutoDetectRestarts: true})
	if err != nil {
		t.Fatal(err)
	}

	if len(p.Stages) != 3 {
		t.Fatalf("stages = %d", len(p.Stages))
	}

	if p.Stages[0].RestartPath != "" {
		t.Errorf("prod_001 restart = %q, want none (no predecessor)", p.Stages[0].RestartPath)
	}
	if got := p.Stages[1].RestartPath; got != filepath.Join(dir, "prod_001.rst7") {
		t.Errorf("prod_002 restart = %q", got)
	}
	if got := p.Stages[2].RestartPath; got != filepath.Join(dir, "prod_002.rst7") {
		t.Errorf("prod_003 restart = %q", got)
	}
}

// Atom-count disagreement disqualifies a restart candidate outright.
func TestDiscover_AutoRestartAtomFilter(t *testing.T) {
	dir := t.TempDir()
	writeTopology(t, dir, "prod_001.top", 6)
	writeTopology(t, dir, "prod_002.top", 6)
	writeDeck(t, dir, "prod_001.mdin", "production run", "nstlim=1000000,")
	writeDeck(t, dir, "prod_002.mdin", "production run", "nstlim=1000000,")
	writeRestartASCII(t, dir, "prod_001.rst7", 5, 4000) // wrong atom count

	p, err := Discover(dir, DiscoverOptions{AutoDetectRestarts: true})
	if err != nil {
		t.Fatal(err)
	}
	if p.Stages[1].RestartPath != "" {
		t.Errorf("prod_002 restart = %q, want none (atom counts differ)", p.Stages[1].RestartPath)
	}
}

func TestDiscover_OrderAndGrouping(t *testing.T) {
	dir := t.TempDir()
	writeDeck(t, dir, "02_heat.mdin", "heating", "nstlim=50000, tempi=0.0, temp0=300.0,")
	writeDeck(t, dir, "01_min.mdin", "Untitled steepest descent", "imin=1,")
	writeDeck(t, dir, "03_equil.mdin", "restrained equilibration", "nstlim=100000, ntr=1,")
	writeLog(t, dir, "03_equil.mdout", 6, 100000, 0.002, 1000, 2, 0, 2, true)
	writeFile(t, dir, "notes.txt", "not a simulation file")

	p, err := Discover(dir, DiscoverOptions{})
	if err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, s := range p.Stages {
		names = append(names, s.Name)
	}
	want := []string{"01_min", "02_heat", "03_equil"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("names = %v, want %v", names, want)
	}

	// both mdin and mdout group under 03_equil
	if p.Stages[2].Deck == nil || p.Stages[2].Log == nil {
		t.Error("03_equil missing grouped files")
	}

	roles := []string{p.Stages[0].Role, p.Stages[1].Role, p.Stages[2].Role}
	if !reflect.DeepEqual(roles, []string{RoleMinimization, RoleHeating, RoleEquilibration}) {
		t.Errorf("roles = %v", roles)
	}
}

func TestDiscover_RoleInferencePriority(t *testing.T) {
	dir := t.TempDir()
	// deck says production (long run), path says heating; an explicit rule
	// must beat both
	writeDeck(t, dir, "heat_stage.mdin", "long run", "nstlim=5000000, dt=0.002,")

	t.Run("ExplicitRuleWins", func(t *testing.T) {
		p, err := Discover(dir, DiscoverOptions{
			GroupingRules: []GroupingRule{{Pattern: "^heat_", Role: RoleEquilibration}},
		})
		if err != nil {
			t.Fatal(err)
		}
		if p.Stages[0].Role != RoleEquilibration {
			t.Errorf("Role = %q", p.Stages[0].Role)
		}
	})

	t.Run("DeckBeatsPath", func(t *testing.T) {
		p, err := Discover(dir, DiscoverOptions{})
		if err != nil {
			t.Fatal(err)
		}
		// deck title has no cues; the deck's own run-length bucket
		// (10 ns, "Production run") decides before the path table sees "heat"
		if p.Stages[0].Role != RoleProduction {
			t.Errorf("Role = %q", p.Stages[0].Role)
		}
	})
}

func TestDiscover_Filters(t *testing.T) {
	dir := t.TempDir()
	writeDeck(t, dir, "min.mdin", "minimization", "imin=1,")
	writeDeck(t, dir, "prod_a.mdin", "production run", "nstlim=1000000,")
	writeDeck(t, dir, "prod_b.mdin", "production run", "nstlim=1000000,")

	t.Run("IncludeRoles", func(t *testing.T) {
		p, err := Discover(dir, DiscoverOptions{IncludeRoles: []string{RoleProduction}})
		if err != nil {
			t.Fatal(err)
		}
		if len(p.Stages) != 2 {
			t.Fatalf("stages = %d", len(p.Stages))
		}
		for _, s := range p.Stages {
			if s.Role != RoleProduction {
				t.Errorf("role = %q", s.Role)
			}
		}
	})

	t.Run("IncludeStems", func(t *testing.T) {
		p, err := Discover(dir, DiscoverOptions{IncludeStems: []string{"prod_a"}})
		if err != nil {
			t.Fatal(err)
		}
		if len(p.Stages) != 1 || p.Stages[0].Name != "prod_a" {
			t.Fatalf("stages = %+v", p.Stages)
		}
	})

	t.Run("PatternFilter", func(t *testing.T) {
		p, err := Discover(dir, DiscoverOptions{PatternFilter: `^prod_`})
		if err != nil {
			t.Fatal(err)
		}
		if len(p.Stages) != 2 {
			t.Fatalf("stages = %d", len(p.Stages))
		}
	})

	t.Run("BadPattern", func(t *testing.T) {
		if _, err := Discover(dir, DiscoverOptions{PatternFilter: `([`}); err == nil {
			t.Fatal("invalid pattern accepted")
		}
	})
}

func TestDiscover_Recursive(t *testing.T) {
	dir := t.TempDir()
	writeDeck(t, dir, filepath.Join("equil", "stage.mdin"), "equilibration", "nstlim=1000, ntr=1,")
	writeDeck(t, dir, filepath.Join("prod", "stage.mdin"), "production run", "nstlim=1000000,")

	p, err := Discover(dir, DiscoverOptions{Recursive: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Stages) != 2 {
		t.Fatalf("stages = %d", len(p.Stages))
	}
	if p.Stages[0].Name != filepath.Join("equil", "stage") {
		t.Errorf("name = %q", p.Stages[0].Name)
	}

	// flat scan must not see the nested files
	p, err = Discover(dir, DiscoverOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Stages) != 0 {
		t.Errorf("non-recursive stages = %d", len(p.Stages))
	}
}

func TestDiscover_GlobalTopologyShared(t *testing.T) {
	dir := t.TempDir()
	top := writeTopology(t, dir, "shared.top", 6)
	writeDeck(t, dir, "stage_01.mdin", "equilibration", "nstlim=1000, ntr=1,")
	writeDeck(t, dir, "stage_02.mdin", "production run", "nstlim=1000000,")

	p, err := Discover(dir, DiscoverOptions{
		BuildOptions: BuildOptions{GlobalTopology: top},
		PatternFilter: `^stage_`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Stages) != 2 {
		t.Fatalf("stages = %d", len(p.Stages))
	}
	if p.Stages[0].Topology == nil || p.Stages[1].Topology == nil {
		t.Fatal("global topology not attached")
	}
	if p.Stages[0].Topology != p.Stages[1].Topology {
		t.Error("topology record not shared between stages")
	}
}

func TestDiscover_RestartFilesByRole(t *testing.T) {
	dir := t.TempDir()
	writeDeck(t, dir, "prod_run.mdin", "production run", "nstlim=1000000,")
	rst := writeRestartASCII(t, dir, "external.inpcrd", 4, 0)

	p, err := Discover(dir, DiscoverOptions{
		BuildOptions:  BuildOptions{RestartFiles: map[string]string{RoleProduction: rst}},
		PatternFilter: `^prod_run`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Stages) != 1 {
		t.Fatalf("stages = %+v", p.Stages)
	}
	if p.Stages[0].RestartPath != rst {
		t.Errorf("RestartPath = %q, want %q", p.Stages[0].RestartPath, rst)
	}
	if p.Stages[0].Restart == nil {
		t.Error("restart not parsed")
	}
}

func TestDetectSequences(t *testing.T) {
	t.Run("Suffix", func(t *testing.T) {
		seqs := DetectSequences([]string{"prod_001", "prod_002", "prod_010", "min"})
		if len(seqs) != 3 {
			t.Fatalf("seqs = %v", seqs)
		}
		if seqs["prod_001"].Index != 0 || seqs["prod_002"].Index != 1 || seqs["prod_010"].Index != 2 {
			t.Errorf("order = %v", seqs)
		}
		if seqs["prod_001"].Base != "prod" || seqs["prod_001"].Len != 3 {
			t.Errorf("base = %v", seqs["prod_001"])
		}
		if _, ok := seqs["min"]; ok {
			t.Error("non-numeric stem joined a sequence")
		}
	})

	t.Run("Prefix", func(t *testing.T) {
		seqs := DetectSequences([]string{"01_min", "02_heat", "03_prod"})
		if len(seqs) != 3 {
			t.Fatalf("seqs = %v", seqs)
		}
		if seqs["01_min"].Num != 1 || seqs["03_prod"].Num != 3 {
			t.Errorf("nums = %v", seqs)
		}
	})

	t.Run("SingletonsNotMaterialized", func(t *testing.T) {
		seqs := DetectSequences([]string{"prod_001", "equil_01"})
		if len(seqs) != 0 {
			t.Errorf("seqs = %v, want none (each base has one member)", seqs)
		}
	})

	t.Run("ShortNumbersIgnored", func(t *testing.T) {
		// single digits do not form sequences (two-digit minimum)
		seqs := DetectSequences([]string{"prod_1", "prod_2"})
		if len(seqs) != 0 {
			t.Errorf("seqs = %v", seqs)
		}
	})
}
