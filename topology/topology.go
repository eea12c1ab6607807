// Package topology decodes AMBER prmtop topology files into a summary of
// the simulated system: dimensions, chemistry, periodic box, composition,
// and a derived simulation category.
package topology

import (
	"fmt"
	"sort"
	"strings"
)

// Raw Amber charges are q*18.2223; dividing restores elementary units.
const chargeScale = 18.2223

// Mass density conversion from amu/Å³ to g/cc.
const densityScale = 1.66054

// Hydrogen mass thresholds for detecting repartitioned topologies.
const (
	hmrMassThreshold = 2.0
	hmrElevatedMass  = 1.5
	hmrNormalMass    = 1.1
)

const neutralityTolerance = 1e-2

// Record summarizes one topology file.
type Record struct {
	Path     string   `yaml:"path"`
	Warnings []string `yaml:"warnings"`

	Version string `yaml:"version,omitempty"`
	Title   string `yaml:"title,omitempty"`

	NumAtoms    *int `yaml:"num_atoms,omitempty"`
	NumResidues *int `yaml:"num_residues,omitempty"`
	NumBonds    *int `yaml:"num_bonds,omitempty"`

	TotalMass   float64 `yaml:"total_mass"`
	TotalCharge float64 `yaml:"total_charge"`
	Neutral     bool    `yaml:"neutral"`

	BoxLengths *[3]float64 `yaml:"box_lengths,omitempty"`
	BoxAngles  *[3]float64 `yaml:"box_angles,omitempty"`
	BoxVolume  *float64    `yaml:"box_volume,omitempty"`
	Density    *float64    `yaml:"density,omitempty"`

	SolventType string `yaml:"solvent_type"`
	Category    string `yaml:"category"`

	ResidueCounts       map[string]int `yaml:"residue_counts,omitempty"`
	NumSoluteResidues   int            `yaml:"num_solute_residues,omitempty"`
	NumSolventMolecules int            `yaml:"num_solvent_molecules,omitempty"`

	ForceFieldType     string   `yaml:"force_field_type,omitempty"`
	ForceFieldFeatures []string `yaml:"force_field_features,omitempty"`

	HMRActive    *bool    `yaml:"hmr_active,omitempty"`
	HMassMin     *float64 `yaml:"h_mass_min,omitempty"`
	HMassMax     *float64 `yaml:"h_mass_max,omitempty"`
	HMassSummary string   `yaml:"h_mass_summary,omitempty"`
}

// targetFlags keeps parsing memory bounded: sections outside this set are
// skipped without slicing.
var targetFlags = map[string]bool{
	"TITLE": true, "CTITLE": true, "POINTERS": true, "CHARGE": true,
	"MASS": true, "RESIDUE_LABEL": true, "BOX_DIMENSIONS": true,
	"RADIUS_SET": true, "SOLVENT_POINTERS": true, "ATOMIC_NUMBER": true,
	"FORCE_FIELD_TYPE": true, "CMAP_COUNT": true,
}

// Parse reads a prmtop file. Per-field problems are reported through
// Record.Warnings; only I/O failures return an error.
func Parse(path string) (*Record, error) {
	pf, err := readFile(path, targetFlags)
	if err != nil {
		return nil, err
	}

	r := &Record{
		Path:        path,
		Version:     pf.version,
		Warnings:    pf.warnings,
		SolventType: "Vacuum",
	}

	if pf.has("TITLE") {
		r.Title = pf.joined("TITLE")
	}
	if pf.has("CTITLE") {
		r.Title = pf.joined("CTITLE")
		r.ForceFieldFeatures = append(r.ForceFieldFeatures, "CHAMBER (CHARMM converted)")
	}
	if pf.has("FORCE_FIELD_TYPE") {
		r.ForceFieldType = pf.joined("FORCE_FIELD_TYPE")
	}
	if pf.has("CMAP_COUNT") {
		r.ForceFieldFeatures = append(r.ForceFieldFeatures, "CMAP Correction")
	}

	if ptr := pf.ints("POINTERS"); len(ptr) > 12 {
		r.NumAtoms = intp(ptr[0])
		r.NumResidues = intp(ptr[11])
		r.NumBonds = intp(ptr[12])
	}

	if sum, n := pf.floatSum("CHARGE"); n > 0 {
		r.TotalCharge = sum / chargeScale
		r.Neutral = abs(r.TotalCharge) < neutralityTolerance
	}
	masses := pf.sections["MASS"]
	if sum, n := pf.floatSum("MASS"); n > 0 {
		r.TotalMass = sum
	}

	r.detectHMR(masses, pf.sections["ATOMIC_NUMBER"])
	r.readBox(pf)
	r.readComposition(pf)

	if solv := pf.ints("SOLVENT_POINTERS"); len(solv) >= 3 {
		r.NumSoluteResidues = solv[0]
		r.NumSolventMolecules = solv[2]
	}

	r.classify()
	return r, nil
}

// detectHMR pairs MASS with ATOMIC_NUMBER element-wise and inspects the
// hydrogen mass distribution. Repartitioned topologies raise H masses to
// around 3 amu while the lightest stays near 1.
func (r *Record) detectHMR(masses, atomicNumbers []any) {
	if len(masses) == 0 || len(atomicNumbers) == 0 {
		return
	}
	n := len(masses)
	if len(atomicNumbers) < n {
		n = len(atomicNumbers)
	}

	var hmin, hmax float64
	var count int
	for i := 0; i < n; i++ {
		z, ok := atomicNumbers[i].(int)
		if !ok || z != 1 {
			continue
		}
		m, ok := masses[i].(float64)
		if !ok {
			continue
		}
		if count == 0 || m < hmin {
			hmin = m
		}
		if count == 0 || m > hmax {
			hmax = m
		}
		count++
	}

	if count == 0 {
		r.HMRActive = boolp(false)
		return
	}
	r.HMassMin = &hmin
	r.HMassMax = &hmax
	r.HMassSummary = fmt.Sprintf("%.3f-%.3f amu across %d H", hmin, hmax, count)
	active := hmax >= hmrMassThreshold || (hmax >= hmrElevatedMass && hmin <= hmrNormalMass)
	r.HMRActive = &active
}

// readBox interprets BOX_DIMENSIONS (beta, a, b, c). Alpha and gamma are
// always 90 in this layout; beta away from 90 marks a truncated
// octahedron or other triclinic cell.
func (r *Record) readBox(pf *file) {
	box := pf.sections["BOX_DIMENSIONS"]
	if len(box) >= 4 {
		beta, ok0 := box[0].(float64)
		a, ok1 := box[1].(float64)
		b, ok2 := box[2].(float64)
		c, ok3 := box[3].(float64)
		if !ok0 || !ok1 || !ok2 || !ok3 {
			r.Warnings = append(r.Warnings, "BOX_DIMENSIONS present but not numeric")
			return
		}
		r.BoxLengths = &[3]float64{a, b, c}
		r.BoxAngles = &[3]float64{90, beta, 90}
		vol := a * b * c
		r.BoxVolume = &vol
		if vol > 0 {
			d := r.TotalMass / vol * densityScale
			r.Density = &d
		}
		if abs(beta-90) > 0.01 {
			r.ForceFieldFeatures = append(r.ForceFieldFeatures, "Truncated Octahedron/Triclinic")
		} else {
			r.ForceFieldFeatures = append(r.ForceFieldFeatures, "Orthorhombic Box")
		}
		r.SolventType = "Explicit Solvent"
		return
	}

	if pf.has("RADIUS_SET") {
		r.SolventType = "Implicit Solvent"
		if rs := pf.joined("RADIUS_SET"); rs != "" {
			r.ForceFieldFeatures = append(r.ForceFieldFeatures, "GB Radii: "+rs)
		}
	}
}

func (r *Record) readComposition(pf *file) {
	labels := pf.sections["RESIDUE_LABEL"]
	if len(labels) == 0 {
		return
	}
	r.ResidueCounts = map[string]int{}
	for _, v := range labels {
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		r.ResidueCounts[s]++
	}

	ions := 0
	for res, count := range r.ResidueCounts {
		if ionResidues[res] {
			ions += count
		}
	}
	if ions > 0 {
		r.ForceFieldFeatures = append(r.ForceFieldFeatures, fmt.Sprintf("Contains Ions (%d)", ions))
	}
}

// classify builds the simulation-category string from the residue sets.
func (r *Record) classify() {
	var hasProtein, hasDNA, hasRNA, hasLipid, hasWater, hasOrganic bool
	for res := range r.ResidueCounts {
		switch {
		case proteinResidues[res]:
			hasProtein = true
		case dnaResidues[res]:
			hasDNA = true
		case rnaResidues[res]:
			hasRNA = true
		case lipidResidues[res]:
			hasLipid = true
		case waterResidues[res]:
			hasWater = true
		case organicSolventResidues[res]:
			hasOrganic = true
		case ionResidues[res]:
			// noted in force-field features
		case isProtein(res):
			hasProtein = true
		}
	}

	var solutes []string
	if hasProtein {
		solutes = append(solutes, "Protein")
	}
	if hasDNA {
		solutes = append(solutes, "DNA")
	}
	if hasRNA {
		solutes = append(solutes, "RNA")
	}
	if hasLipid {
		solutes = append(solutes, "Lipid/Membrane")
	}

	if len(solutes) == 0 {
		for res := range r.ResidueCounts {
			if !waterResidues[res] && !organicSolventResidues[res] && !ionResidues[res] {
				solutes = append(solutes, "Small Molecule / Ligand")
				break
			}
		}
	}

	soluteStr := "Pure Solvent/Ions"
	if len(solutes) > 0 {
		soluteStr = strings.Join(solutes, " / ")
	}

	var context string
	switch r.SolventType {
	case "Implicit Solvent":
		context = "in Implicit Solvent"
	case "Vacuum":
		context = "in Vacuum"
	default:
		switch {
		case hasWater && hasOrganic:
			context = "in Mixed Solvent (Water+Organic)"
		case hasWater:
			context = "in Explicit Water"
		case hasOrganic:
			context = "in Organic Solvent"
		default:
			context = "in Explicit Solvent (Unknown)"
		}
	}

	r.Category = soluteStr + " " + context
	if len(r.ResidueCounts) == 0 && r.SolventType == "Vacuum" {
		r.Category = "Empty/Unknown System in Vacuum"
	}
}

// Summary renders the record the way the CLI prints single files.
func (r *Record) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s (%s)\n", r.Path, orUnknown(r.Version))
	fmt.Fprintf(&b, "Title: %s\n", orUnknown(r.Title))
	fmt.Fprintf(&b, "Atoms: %s  Residues: %s\n", fmtIntp(r.NumAtoms), fmtIntp(r.NumResidues))
	fmt.Fprintf(&b, "Mass: %.2f Da  Charge: %.4f e (%s)\n", r.TotalMass, r.TotalCharge, neutrality(r.Neutral))
	fmt.Fprintf(&b, "Category: %s\n", r.Category)
	if r.BoxLengths != nil {
		fmt.Fprintf(&b, "Box: %.2f x %.2f x %.2f Å", r.BoxLengths[0], r.BoxLengths[1], r.BoxLengths[2])
		if r.BoxVolume != nil {
			fmt.Fprintf(&b, "  Volume: %.2f Å³", *r.BoxVolume)
		}
		if r.Density != nil {
			fmt.Fprintf(&b, "  Density: %.4f g/cc", *r.Density)
		}
		b.WriteByte('\n')
	}
	if r.ForceFieldType != "" {
		fmt.Fprintf(&b, "Force field: %s\n", r.ForceFieldType)
	}
	if len(r.ForceFieldFeatures) > 0 {
		fmt.Fprintf(&b, "Features: %s\n", strings.Join(r.ForceFieldFeatures, ", "))
	}
	if r.HMRActive != nil && *r.HMRActive {
		fmt.Fprintf(&b, "HMR: active (%s)\n", r.HMassSummary)
	}
	if len(r.ResidueCounts) > 0 {
		names := make([]string, 0, len(r.ResidueCounts))
		for res := range r.ResidueCounts {
			names = append(names, res)
		}
		sort.Slice(names, func(i, j int) bool {
			if r.ResidueCounts[names[i]] != r.ResidueCounts[names[j]] {
				return r.ResidueCounts[names[i]] > r.ResidueCounts[names[j]]
			}
			return names[i] < names[j]
		})
		if len(names) > 8 {
			names = names[:8]
		}
		parts := make([]string, len(names))
		for i, res := range names {
			parts[i] = fmt.Sprintf("%s:%d", res, r.ResidueCounts[res])
		}
		fmt.Fprintf(&b, "Composition: %s\n", strings.Join(parts, " "))
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}
	return b.String()
}

func intp(n int) *int        { return &n }
func boolp(v bool) *bool     { return &v }
func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func fmtIntp(p *int) string {
	if p == nil {
		return "Unknown"
	}
	return fmt.Sprintf("%d", *p)
}

func neutrality(n bool) string {
	if n {
		return "Neutral"
	}
	return "Charged"
}
