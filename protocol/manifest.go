package protocol

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"ktkr.us/pkg/mdmeta"
)

// StageEntry is one normalized manifest entry. File paths are as written
// in the manifest; Build resolves them against a base directory.
type StageEntry struct {
	Name string
	Role string

	Files map[mdmeta.Kind]string

	ExpectedGapPs  *float64
	GapTolerancePs *float64
	Notes          []string
}

// Manifest is an ordered list of stage entries.
type Manifest []StageEntry

// check enforces the manifest invariants: non-empty unique names, roles
// from the closed set, and a non-negative gap tolerance wherever an
// expected gap is also set.
func (m Manifest) check() error {
	seen := map[string]bool{}
	for i, e := range m {
		if e.Name == "" {
			return errors.Errorf("protocol: manifest entry %d has no name", i)
		}
		if seen[e.Name] {
			return errors.Errorf("protocol: duplicate stage name %q", e.Name)
		}
		seen[e.Name] = true
		if err := CheckRole(e.Role); err != nil {
			return err
		}
		if e.ExpectedGapPs != nil && e.GapTolerancePs != nil && *e.GapTolerancePs < 0 {
			return errors.Errorf("protocol: stage %q has negative gap tolerance", e.Name)
		}
	}
	return nil
}

// MissingFilesError reports every manifest file reference that does not
// exist, in one error.
type MissingFilesError struct {
	Entries []string // "stage '<name>', <kind>: <path>"
}

func (e *MissingFilesError) Error() string {
	return fmt.Sprintf("protocol: %d missing manifest file(s): %s",
		len(e.Entries), strings.Join(e.Entries, "; "))
}

// fileKeys maps manifest keys to file kinds; accepted both at entry top
// level and nested under "files".
var fileKeys = map[string]mdmeta.Kind{
	"prmtop": mdmeta.KindTopology,
	"inpcrd": mdmeta.KindRestart,
	"mdin":   mdmeta.KindInputDeck,
	"mdout":  mdmeta.KindLog,
	"mdcrd":  mdmeta.KindTrajectory,
}

// LoadManifest reads a YAML or JSON manifest. The document may be an
// ordered list of entries or a name-keyed mapping (the key becomes the
// stage name when the entry has none); both preserve document order.
func LoadManifest(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "protocol: read manifest %s", path)
	}
	m, err := parseManifest(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "protocol: manifest %s", path)
	}
	return m, nil
}

func parseManifest(raw []byte) (Manifest, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("empty document")
	}
	root := doc.Content[0]

	var m Manifest
	switch root.Kind {
	case yaml.SequenceNode:
		for _, n := range root.Content {
			e, err := decodeEntry(n, "")
			if err != nil {
				return nil, err
			}
			m = append(m, e)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(root.Content); i += 2 {
			e, err := decodeEntry(root.Content[i+1], root.Content[i].Value)
			if err != nil {
				return nil, err
			}
			m = append(m, e)
		}
	default:
		return nil, errors.New("manifest must be a list or a mapping of stages")
	}

	if err := m.check(); err != nil {
		return nil, err
	}
	return m, nil
}

// decodeEntry reads one stage mapping. File paths may sit at top level or
// under "files"; "gaps" is either a number or {expected, tolerance,
// notes}; "notes" is a string or a list.
func decodeEntry(n *yaml.Node, fallbackName string) (StageEntry, error) {
	e := StageEntry{Name: fallbackName, Files: map[mdmeta.Kind]string{}}
	if n.Kind != yaml.MappingNode {
		return e, errors.Errorf("stage entry must be a mapping (line %d)", n.Line)
	}

	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		val := n.Content[i+1]

		switch key {
		case "name":
			e.Name = val.Value
		case "stage_role":
			e.Role = val.Value
		case "files":
			if val.Kind != yaml.MappingNode {
				return e, errors.Errorf("files must be a mapping (line %d)", val.Line)
			}
			for j := 0; j+1 < len(val.Content); j += 2 {
				kind, ok := fileKeys[val.Content[j].Value]
				if !ok {
					return e, errors.Errorf("unknown file kind %q (line %d)",
						val.Content[j].Value, val.Content[j].Line)
				}
				e.Files[kind] = val.Content[j+1].Value
			}
		case "gaps":
			if err := decodeGaps(val, &e); err != nil {
				return e, err
			}
		case "expected_gap_ps":
			var v float64
			if err := val.Decode(&v); err != nil {
				return e, errors.Wrapf(err, "expected_gap_ps (line %d)", val.Line)
			}
			e.ExpectedGapPs = &v
		case "gap_tolerance_ps":
			var v float64
			if err := val.Decode(&v); err != nil {
				return e, errors.Wrapf(err, "gap_tolerance_ps (line %d)", val.Line)
			}
			e.GapTolerancePs = &v
		case "notes":
			if err := decodeNotes(val, &e); err != nil {
				return e, err
			}
		default:
			if kind, ok := fileKeys[key]; ok {
				e.Files[kind] = val.Value
			}
			// unknown keys are tolerated for forward compatibility
		}
	}
	return e, nil
}

func decodeGaps(n *yaml.Node, e *StageEntry) error {
	if n.Kind == yaml.ScalarNode {
		var v float64
		if err := n.Decode(&v); err != nil {
			return errors.Wrapf(err, "gaps (line %d)", n.Line)
		}
		e.ExpectedGapPs = &v
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return errors.Errorf("gaps must be a number or a mapping (line %d)", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		switch key {
		case "expected":
			var v float64
			if err := val.Decode(&v); err != nil {
				return errors.Wrapf(err, "gaps.expected (line %d)", val.Line)
			}
			e.ExpectedGapPs = &v
		case "tolerance":
			var v float64
			if err := val.Decode(&v); err != nil {
				return errors.Wrapf(err, "gaps.tolerance (line %d)", val.Line)
			}
			e.GapTolerancePs = &v
		case "notes":
			if err := decodeNotes(val, e); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeNotes(n *yaml.Node, e *StageEntry) error {
	switch n.Kind {
	case yaml.ScalarNode:
		e.Notes = append(e.Notes, n.Value)
	case yaml.SequenceNode:
		for _, c := range n.Content {
			e.Notes = append(e.Notes, c.Value)
		}
	default:
		return errors.Errorf("notes must be a string or a list (line %d)", n.Line)
	}
	return nil
}

// BuildOptions tune protocol construction from manifests and discovery.
type BuildOptions struct {
	// RestartFiles backfills or overrides the restart of the stage whose
	// name or role matches the key.
	RestartFiles map[string]string
	// GlobalTopology is parsed once and shared by stages lacking one.
	GlobalTopology string
	// HMRTopology is attached to stages whose timestep is at least
	// 0.004 ps and that lack a topology.
	HMRTopology string
	// SkipCrossStageValidation leaves continuity unchecked.
	SkipCrossStageValidation bool
}

// Build resolves a manifest against baseDir, parses every referenced
// file, and assembles the validated protocol. All missing files are
// reported together in a single *MissingFilesError.
func Build(m Manifest, baseDir string, opts BuildOptions) (*Protocol, error) {
	if err := m.check(); err != nil {
		return nil, err
	}

	// every referenced path must exist before any parsing starts
	var missing []string
	for _, e := range m {
		for _, kind := range kindOrder {
			path, ok := e.Files[kind]
			if !ok {
				continue
			}
			resolved := resolve(baseDir, path)
			if _, err := os.Stat(resolved); err != nil {
				missing = append(missing, fmt.Sprintf("stage '%s', %s: %s", e.Name, kind, resolved))
			}
		}
	}
	if len(missing) > 0 {
		return nil, &MissingFilesError{Entries: missing}
	}

	p := &Protocol{}
	for _, e := range m {
		stage := &Stage{
			Name:           e.Name,
			Role:           e.Role,
			ExpectedGapPs:  e.ExpectedGapPs,
			GapTolerancePs: e.GapTolerancePs,
			Notes:          e.Notes,
		}
		if err := stage.attachFiles(e.Files, baseDir); err != nil {
			return nil, err
		}
		if stage.Role == "" && stage.Deck != nil {
			stage.Role = stage.Deck.CanonicalRole()
		}
		p.Stages = append(p.Stages, stage)
	}

	if err := p.applyOptions(baseDir, opts); err != nil {
		return nil, err
	}

	if opts.SkipCrossStageValidation {
		p.ValidateStagesOnly()
	} else {
		p.Validate()
	}
	return p, nil
}

// BuildFromManifestFile loads a manifest file and builds the protocol
// with paths resolved against the manifest's directory.
func BuildFromManifestFile(path string, opts BuildOptions) (*Protocol, error) {
	m, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return Build(m, filepath.Dir(path), opts)
}

var kindOrder = []mdmeta.Kind{
	mdmeta.KindTopology,
	mdmeta.KindRestart,
	mdmeta.KindInputDeck,
	mdmeta.KindLog,
	mdmeta.KindTrajectory,
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}

// applyOptions handles restart overrides and shared topologies for both
// manifest and discovery construction.
func (p *Protocol) applyOptions(baseDir string, opts BuildOptions) error {
	for _, s := range p.Stages {
		var source string
		for _, key := range []string{s.Name, s.Role} {
			if key == "" {
				continue
			}
			if path, ok := opts.RestartFiles[key]; ok {
				source = path
				break
			}
		}
		if source == "" {
			continue
		}
		resolved := resolve(baseDir, source)
		rec, err := parseRestart(resolved)
		if err != nil {
			return err
		}
		s.Restart = rec
		s.RestartPath = resolved
	}

	if opts.GlobalTopology != "" {
		resolved := resolve(baseDir, opts.GlobalTopology)
		shared, err := parseTopology(resolved)
		if err != nil {
			return err
		}
		for _, s := range p.Stages {
			if s.Topology == nil {
				s.Topology = shared
			}
		}
	}

	if opts.HMRTopology != "" {
		resolved := resolve(baseDir, opts.HMRTopology)
		var shared *topologyRecord
		for _, s := range p.Stages {
			if s.Topology != nil || s.Deck == nil || s.Deck.Dt < 0.004 {
				continue
			}
			if shared == nil {
				rec, err := parseTopology(resolved)
				if err != nil {
					return err
				}
				shared = rec
			}
			s.Topology = shared
		}
	}
	return nil
}
