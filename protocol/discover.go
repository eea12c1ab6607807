package protocol

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"ktkr.us/pkg/mdmeta"
	"ktkr.us/pkg/mdmeta/deck"
	"ktkr.us/pkg/mdmeta/restart"
)

// GroupingRule maps stems matching a regex to a stage role.
type GroupingRule struct {
	Pattern string
	Role    string
}

// DiscoverOptions configure directory discovery.
type DiscoverOptions struct {
	BuildOptions

	Recursive     bool
	PatternFilter string // regex over root-relative paths
	GroupingRules []GroupingRule
	IncludeRoles  []string
	IncludeStems  []string

	// AutoDetectRestarts links stages without a restart to the best-
	// scoring restart file found in the root directory.
	AutoDetectRestarts bool
}

// Discover scans root for simulation files, groups them into stages by
// stem, infers roles, optionally links restarts, and returns the
// validated protocol ordered by stem.
func Discover(root string, opts DiscoverOptions) (*Protocol, error) {
	var filter *regexp.Regexp
	if opts.PatternFilter != "" {
		var err error
		if filter, err = regexp.Compile(opts.PatternFilter); err != nil {
			return nil, errors.Wrap(err, "protocol: pattern filter")
		}
	}

	rules := make([]*regexp.Regexp, len(opts.GroupingRules))
	for i, rule := range opts.GroupingRules {
		if err := CheckRole(rule.Role); err != nil {
			return nil, err
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			// treat an invalid pattern as a literal, like a shell would
			re = regexp.MustCompile(regexp.QuoteMeta(rule.Pattern))
		}
		rules[i] = re
	}

	rels, err := listFiles(root, opts.Recursive)
	if err != nil {
		return nil, err
	}

	// group by stem; lexically first path wins a duplicate kind
	groups := map[string]map[mdmeta.Kind]string{}
	for _, rel := range rels {
		if filter != nil && !filter.MatchString(rel) {
			continue
		}
		kind := mdmeta.KindForPath(rel)
		if kind == mdmeta.KindUnknown {
			continue
		}
		// With auto-detection on, restart files are engine outputs named
		// after the stage that wrote them; they feed the candidate pool
		// in linkRestarts instead of their own stem's input slot.
		if kind == mdmeta.KindRestart && opts.AutoDetectRestarts {
			continue
		}
		stem := mdmeta.Stem(rel)
		if groups[stem] == nil {
			groups[stem] = map[mdmeta.Kind]string{}
		}
		if prev, ok := groups[stem][kind]; !ok || rel < prev {
			groups[stem][kind] = rel
		}
	}

	stems := make([]string, 0, len(groups))
	for stem := range groups {
		stems = append(stems, stem)
	}
	sort.Strings(stems)
	sequences := DetectSequences(stems)

	p := &Protocol{}
	for _, stem := range stems {
		stage := &Stage{Name: stem}
		if err := stage.attachFiles(groups[stem], root); err != nil {
			return nil, err
		}
		stage.Role = inferRole(stage, stem, rules, opts.GroupingRules)
		p.Stages = append(p.Stages, stage)
	}

	p.filterStages(opts.IncludeStems, opts.IncludeRoles)

	if opts.AutoDetectRestarts {
		if err := p.linkRestarts(root, sequences); err != nil {
			return nil, err
		}
	}
	if err := p.applyOptions(root, opts.BuildOptions); err != nil {
		return nil, err
	}

	if opts.SkipCrossStageValidation {
		p.ValidateStagesOnly()
	} else {
		p.Validate()
	}
	return p, nil
}

func listFiles(root string, recursive bool) ([]string, error) {
	if !recursive {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, errors.Wrapf(err, "protocol: read %s", root)
		}
		var rels []string
		for _, e := range entries {
			if e.Type().IsRegular() {
				rels = append(rels, e.Name())
			}
		}
		return rels, nil
	}

	var rels []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			rels = append(rels, rel)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "protocol: walk %s", root)
	}
	return rels, nil
}

// inferRole resolves a stage's role through a fixed priority: explicit
// grouping rules, the input deck's own classification, content heuristics,
// then path naming conventions.
func inferRole(s *Stage, stem string, rules []*regexp.Regexp, ruleDefs []GroupingRule) string {
	for i, re := range rules {
		if re.MatchString(stem) {
			return ruleDefs[i].Role
		}
	}

	if s.Deck != nil {
		if role := s.Deck.CanonicalRole(); role != "" {
			return role
		}
	}

	if role := inferRoleFromContent(s); role != "" {
		return role
	}
	return inferRoleFromPath(stem)
}

// Content thresholds: heating stages start well below the target
// temperature; anything past this many steps reads as production.
const (
	heatingStartTemp    = 50.0
	productionStepFloor = 500000
)

func inferRoleFromContent(s *Stage) string {
	if s.Deck == nil {
		return ""
	}
	c := s.Deck.Control

	if imin, ok := deck.AsInt(c["imin"]); ok && imin == 1 {
		return RoleMinimization
	}

	tempi, iOK := deck.AsFloat(c["tempi"])
	temp0, oOK := deck.AsFloat(c["temp0"])
	if iOK && oOK && tempi < temp0 && tempi < heatingStartTemp {
		return RoleHeating
	}

	ntr, _ := deck.AsInt(c["ntr"])
	ibelly, _ := deck.AsInt(c["ibelly"])
	if ntr == 1 || ibelly == 1 {
		return RoleEquilibration
	}

	if nstlim, ok := deck.AsInt(c["nstlim"]); ok && nstlim > productionStepFloor {
		return RoleProduction
	}
	return ""
}

var pathRoles = []struct {
	token string
	role  string
}{
	{"min", RoleMinimization},
	{"em", RoleMinimization},
	{"heat", RoleHeating},
	{"warm", RoleHeating},
	{"equil", RoleEquilibration},
	{"nvt", RoleEquilibration},
	{"npt", RoleEquilibration},
	{"prod", RoleProduction},
}

func inferRoleFromPath(stem string) string {
	name := strings.ToLower(filepath.Base(stem))
	parent := strings.ToLower(filepath.Base(filepath.Dir(stem)))
	for _, pr := range pathRoles {
		if strings.Contains(name, pr.token) || strings.Contains(parent, pr.token) {
			return pr.role
		}
	}
	return ""
}

func (p *Protocol) filterStages(includeStems, includeRoles []string) {
	stems := toSet(includeStems)
	roles := toSet(includeRoles)

	var kept []*Stage
	for _, s := range p.Stages {
		if stems != nil && !stems[s.Name] {
			continue
		}
		if roles != nil && !roles[s.Role] {
			continue
		}
		kept = append(kept, s)
	}
	p.Stages = kept
}

func toSet(vals []string) map[string]bool {
	if len(vals) == 0 {
		return nil
	}
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}

// Restart-candidate scores. A candidate is assigned only when it reaches
// the stem-match score.
const (
	scoreStemMatch   = 5
	scoreSeqPrevious = 10
	scoreSeqSame     = 3
	scoreTimeMatch   = 20
	restartTimeTol   = 0.1 // ps
	minAssignScore   = scoreStemMatch
)

// linkRestarts assigns the best-scoring restart file to each stage that
// lacks one. Candidates come from the root directory (non-recursive);
// atom-count disagreement disqualifies outright.
func (p *Protocol) linkRestarts(root string, sequences map[string]SeqPos) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return errors.Wrapf(err, "protocol: read %s", root)
	}

	type candidate struct {
		rel string
		rec *restart.Record
	}
	var candidates []candidate
	for _, e := range entries {
		if !e.Type().IsRegular() || mdmeta.KindForPath(e.Name()) != mdmeta.KindRestart {
			continue
		}
		rec, err := parseRestart(filepath.Join(root, e.Name()))
		if err != nil {
			return err
		}
		candidates = append(candidates, candidate{rel: e.Name(), rec: rec})
	}
	if len(candidates) == 0 {
		return nil
	}

	for i, s := range p.Stages {
		if s.Restart != nil {
			continue
		}

		var prev *Stage
		if i > 0 {
			prev = p.Stages[i-1]
		}
		stageAtoms := s.atomCount()
		seq, inSeq := sequences[s.Name]

		best := -1
		var bestRel string
		var bestRec *restart.Record
		for _, c := range candidates {
			if stageAtoms != nil && c.rec.NumAtoms != nil && *c.rec.NumAtoms != *stageAtoms {
				continue
			}

			score := 0
			stem := mdmeta.Stem(c.rel)
			if prev != nil && stem == prev.Name {
				score += scoreStemMatch
			}
			if inSeq {
				if base, num, ok := splitSuffix(stem); ok && base == seq.Base {
					switch num {
					case seq.Num - 1:
						score += scoreSeqPrevious
					case seq.Num:
						score += scoreSeqSame
					}
				}
			}
			if prev != nil && prev.Trajectory != nil && prev.Trajectory.TimeEnd != nil &&
				c.rec.Time != nil && abs(*c.rec.Time-*prev.Trajectory.TimeEnd) <= restartTimeTol {
				score += scoreTimeMatch
			}

			if score > best || (score == best && c.rel < bestRel) {
				best = score
				bestRel = c.rel
				bestRec = c.rec
			}
		}

		if best >= minAssignScore {
			s.Restart = bestRec
			s.RestartPath = filepath.Join(root, bestRel)
		}
	}
	return nil
}

// atomCount is the stage's best-known atom count for restart filtering.
func (s *Stage) atomCount() *int {
	if s.Topology != nil && s.Topology.NumAtoms != nil {
		return s.Topology.NumAtoms
	}
	if s.Log != nil && s.Log.NumAtoms != nil {
		return s.Log.NumAtoms
	}
	return nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
