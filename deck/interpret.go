package deck

import (
	"fmt"
	"strings"
)

// Closed stage-role values used by protocol assembly.
const (
	RoleMinimization  = "minimization"
	RoleHeating       = "heating"
	RoleEquilibration = "equilibration"
	RoleProduction    = "production"
)

var simulationTypes = map[int]string{
	0: "Molecular Dynamics (MD)",
	1: "Minimization",
	5: "Trajectory Analysis (minimization)",
	6: "MD (Energy/Gradient only)",
}

var thermostats = map[int]string{
	0:  "Constant Energy (NVE)",
	1:  "Berendsen",
	2:  "Andersen",
	3:  "Langevin Dynamics",
	5:  "Adaptive Thermostat",
	9:  "Optimized Isokinetic (OIN)",
	10: "Stochastic Isokinetic",
	11: "Bussi (Stochastic Berendsen)",
}

// Engine-manual defaults applied when &cntrl omits a key.
const (
	defaultDt         = 0.001
	defaultEnergyFreq = 50
	defaultCoordFreq  = 0
	defaultTargetTemp = 300.0
	defaultCutPME     = 8.0
	defaultCutGB      = 9999.0
	maxSaneDt         = 0.004
)

// interpret maps the raw &cntrl map onto the semantic fields, applying the
// engine's documented defaults for missing keys.
func (r *Record) interpret() {
	c := r.Control

	if imin, ok := AsInt(c["imin"]); ok || c["imin"] == nil {
		if c["imin"] == nil {
			imin = 0
		}
		if s, found := simulationTypes[imin]; found {
			r.SimulationType = s
		} else {
			r.SimulationType = fmt.Sprintf("Unknown (imin=%d)", imin)
		}
	} else {
		r.SimulationType = fmt.Sprintf("Variable (imin=%v)", c["imin"])
	}

	if n, ok := AsInt(c["nstlim"]); ok && c["nstlim"] != nil {
		r.LengthSteps = &n
	}

	r.Dt = defaultDt
	if dt, ok := AsFloat(c["dt"]); ok && c["dt"] != nil {
		r.Dt = dt
	}
	r.RestartFlag = valueOr(c, "irest", 0)

	r.EnergyFreq = valueOr(c, "ntpr", defaultEnergyFreq)
	r.CoordFreq = valueOr(c, "ntwx", defaultCoordFreq)
	if v, ok := c["ntwr"]; ok {
		r.RestartFreq = v
	} else {
		r.RestartFreq = valueOr(c, "nstlim", 1)
	}
	r.TrajFormat = "NetCDF"
	if v, ok := AsInt(valueOr(c, "ioutfm", 1)); ok && v != 1 {
		r.TrajFormat = "ASCII"
	}

	ntt, nttOK := AsInt(valueOr(c, "ntt", 0))
	if nttOK {
		if s, found := thermostats[ntt]; found {
			r.Thermostat = s
		} else {
			r.Thermostat = fmt.Sprintf("Unknown (ntt=%d)", ntt)
		}
	} else {
		r.Thermostat = fmt.Sprintf("%v", c["ntt"])
	}
	r.TargetTemp = valueOr(c, "temp0", defaultTargetTemp)

	ntp, ntpOK := AsInt(valueOr(c, "ntp", 0))
	igb, igbOK := AsInt(valueOr(c, "igb", 0))

	// ntb defaults to 0 under implicit solvent, 2 under pressure
	// control, 1 otherwise.
	ntbVal, haveNtb := c["ntb"]
	if !haveNtb {
		switch {
		case igbOK && igb > 0:
			ntbVal = 0
		case ntpOK && ntp > 0:
			ntbVal = 2
		default:
			ntbVal = 1
		}
	}
	ntb, ntbOK := AsInt(ntbVal)

	switch {
	case !ntbOK:
		r.PBC = fmt.Sprintf("Template/Variable (ntb=%v)", ntbVal)
	case ntb == 0:
		r.PBC = "Vacuum / No PBC"
	case ntb == 1:
		r.PBC = "PBC / Constant Volume"
	default:
		r.PBC = "PBC / Constant Pressure"
	}

	if ntpOK && ntp > 0 {
		scaling := "Isotropic"
		switch ntp {
		case 2:
			scaling = "Anisotropic"
		case 3:
			scaling = "Semi-Isotropic"
		}
		algo := "Berendsen"
		if b, ok := AsInt(valueOr(c, "barostat", 1)); ok && b == 2 {
			algo = "Monte Carlo"
		}
		r.Barostat = fmt.Sprintf("%s (%s)", algo, scaling)
	} else {
		r.Barostat = "None"
	}

	switch ntc, _ := AsInt(valueOr(c, "ntc", 1)); ntc {
	case 1:
		r.Constraints = "None"
	case 2:
		r.Constraints = "H-bonds"
	case 3:
		r.Constraints = "All bonds"
	default:
		r.Constraints = fmt.Sprintf("%v", c["ntc"])
	}

	if v, ok := c["cut"]; ok {
		r.Cutoff = v
	} else if igbOK && igb > 0 {
		r.Cutoff = defaultCutGB
	} else {
		r.Cutoff = defaultCutPME
	}

	r.ImplicitSolvent = "No"
	if v, ok := c["igb"]; ok && fmt.Sprintf("%v", v) != "0" {
		r.ImplicitSolvent = fmt.Sprintf("GB Model %v", v)
		r.PBC = "Implicit solvent (no periodic box)"
	}

	r.RestraintsActive = intFlag(c, "ntr")
	r.NMROptions = intFlag(c, "nmropt")
	r.QMMMActive = intFlag(c, "ifqnt")
	r.UsesFreeEnergy = intFlag(c, "icfe") || intFlag(c, "infe") || intFlag(c, "ifmbar")
	r.UsesConstantPH = intFlag(c, "icnstph") || intFlag(c, "iphmd")
	_, r.UsesConstantRedox = c["solve"]
	r.UsesGaMD = intFlag(c, "igamd")
	r.UsesREMD = intFlag(c, "numexchg")

	for _, s := range r.Schedules {
		switch s.Quantity {
		case "TEMP0":
			r.HasTempRamp = true
		case "REST", "RESTS", "RESTL", "NOESY", "SHIFTS":
			r.HasRestraintSchedule = true
		case "CUT":
			r.HasCutoffSchedule = true
		}
	}

	r.Ensemble = classifyEnsemble(ntb, ntbOK, ntt, nttOK, ntp, ntpOK, r.ImplicitSolvent != "No")
	r.StageRole = r.classifyStage()
	r.sanityCheck()
}

func valueOr(c map[string]any, key string, def any) any {
	if v, ok := c[key]; ok {
		return v
	}
	return def
}

func intFlag(c map[string]any, key string) bool {
	n, ok := AsInt(valueOr(c, key, 0))
	return ok && n != 0
}

func classifyEnsemble(ntb int, ntbOK bool, ntt int, nttOK bool, ntp int, ntpOK, implicit bool) string {
	thermostatted := nttOK && ntt != 0

	if implicit {
		if thermostatted {
			return "Implicit-solvent NVT"
		}
		return "Implicit-solvent NVE"
	}
	if !ntbOK {
		return "Unknown ensemble (template)"
	}
	switch {
	case ntb == 0:
		if thermostatted {
			return "NVT (no PBC)"
		}
		return "NVE (no PBC)"
	case ntb == 1:
		if thermostatted {
			return "NVT (PBC, constant volume)"
		}
		return "NVE (PBC, constant volume)"
	}

	base := "NPH"
	if thermostatted {
		base = "NPT"
	}
	if !ntpOK {
		return base + " (unknown barostat)"
	}
	switch ntp {
	case 1:
		return base + " (isotropic)"
	case 2:
		return base + " (anisotropic)"
	case 3:
		return base + " (semi-isotropic)"
	}
	return fmt.Sprintf("%s (ntp=%d)", base, ntp)
}

// classifyStage names the likely role of this deck in a protocol. Explicit
// flags win over title cues, which win over run-length buckets.
func (r *Record) classifyStage() string {
	title := strings.ToLower(r.Title)
	c := r.Control

	imin, _ := AsInt(valueOr(c, "imin", 0))
	restrained := r.RestraintsActive

	nstlim, _ := AsInt(valueOr(c, "nstlim", 0))
	totalNs := -1.0
	if nstlim > 0 && r.Dt > 0 {
		totalNs = float64(nstlim) * r.Dt / 1000
	}

	if imin != 0 || strings.Contains(title, "minim") {
		return "Energy minimization"
	}

	if strings.Contains(title, "heat") || strings.Contains(title, "thermal") {
		return "Heating / thermalization"
	}
	if strings.Contains(title, "equil") || strings.Contains(title, "nvt") || strings.Contains(title, "npt equil") {
		if restrained {
			return fmt.Sprintf("Equilibration with positional restraints [%s]", r.Ensemble)
		}
		return fmt.Sprintf("Equilibration [%s]", r.Ensemble)
	}
	if strings.Contains(title, "prod") {
		if restrained {
			return fmt.Sprintf("Production with restraints [%s]", r.Ensemble)
		}
		return fmt.Sprintf("Production [%s]", r.Ensemble)
	}

	if totalNs >= 0 {
		switch {
		case totalNs < 0.1:
			if restrained {
				return fmt.Sprintf("Short restrained equilibration (%.3f ns)", totalNs)
			}
			return fmt.Sprintf("Short MD segment (%.3f ns)", totalNs)
		case totalNs <= 5.0:
			if restrained {
				return fmt.Sprintf("Equilibration with restraints (%.3f ns)", totalNs)
			}
			return fmt.Sprintf("Short production or equilibration (%.3f ns)", totalNs)
		default:
			if restrained {
				return fmt.Sprintf("Long production run with restraints (%.3f ns)", totalNs)
			}
			return fmt.Sprintf("Production run (%.3f ns)", totalNs)
		}
	}

	return fmt.Sprintf("Generic MD stage [%s]", r.Ensemble)
}

// CanonicalRole projects the descriptive stage role onto the closed role
// set by the first keyword found, in the order minimization, heating,
// equilibration, production. Roles naming none of them (generic stages,
// short MD segments) project to the empty string.
func (r *Record) CanonicalRole() string {
	role := strings.ToLower(r.StageRole)
	switch {
	case strings.Contains(role, "minimization"):
		return RoleMinimization
	case strings.Contains(role, "heating"):
		return RoleHeating
	case strings.Contains(role, "equilibration"):
		return RoleEquilibration
	case strings.Contains(role, "production"):
		return RoleProduction
	}
	return ""
}

func (r *Record) sanityCheck() {
	c := r.Control

	irest, irestOK := AsInt(valueOr(c, "irest", 0))
	ntx, ntxOK := AsInt(valueOr(c, "ntx", 1))
	if irestOK && irest == 1 && ntxOK && ntx != 4 && ntx != 5 && ntx != 7 {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("irest=1 but ntx=%d (typical restart uses ntx=4, 5, or 7)", ntx))
	}

	if r.Dt > maxSaneDt {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("unusually large timestep dt=%v ps (check hydrogen mass repartitioning / constraints)", r.Dt))
	}

	if strings.Contains(strings.ToLower(r.Title), "restraint") && !r.RestraintsActive {
		r.Warnings = append(r.Warnings, "title mentions restraints but ntr=0 in &cntrl")
	}
}

// Summary renders the record the way the CLI prints single files.
func (r *Record) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", r.Path)
	fmt.Fprintf(&b, "Title: %s\n", r.Title)
	fmt.Fprintf(&b, "Simulation type: %s\n", r.SimulationType)
	fmt.Fprintf(&b, "Stage role: %s\n", r.StageRole)
	fmt.Fprintf(&b, "Ensemble: %s\n", r.Ensemble)

	if r.LengthSteps != nil {
		fmt.Fprintf(&b, "Length: %d steps (%.3f ns, dt=%v ps)\n",
			*r.LengthSteps, float64(*r.LengthSteps)*r.Dt/1000, r.Dt)
	} else {
		fmt.Fprintf(&b, "Length: unknown (dt=%v ps)\n", r.Dt)
	}

	fmt.Fprintf(&b, "Conditions: T=%v K (%s); %s; cutoff %v Å; constraints %s",
		r.TargetTemp, r.Thermostat, r.PBC, r.Cutoff, r.Constraints)
	if r.Barostat != "None" {
		fmt.Fprintf(&b, "; barostat %s", r.Barostat)
	}
	b.WriteByte('\n')

	fmt.Fprintf(&b, "Output: energy every %v, coords every %v, restart every %v, traj %s\n",
		r.EnergyFreq, r.CoordFreq, r.RestartFreq, r.TrajFormat)

	var feats []string
	if r.RestraintsActive {
		feats = append(feats, "positional restraints")
	}
	if r.NMROptions {
		feats = append(feats, "NMR/&wt options")
	}
	if r.QMMMActive {
		feats = append(feats, "QM/MM")
	}
	if r.ImplicitSolvent != "No" {
		feats = append(feats, r.ImplicitSolvent)
	}
	if r.HasTempRamp {
		feats = append(feats, "TEMP0 schedule")
	}
	if r.HasRestraintSchedule {
		feats = append(feats, "restraint-weight schedule")
	}
	if r.HasCutoffSchedule {
		feats = append(feats, "cutoff schedule")
	}
	if r.UsesFreeEnergy {
		feats = append(feats, "free energy / TI / MBAR")
	}
	if r.UsesConstantPH {
		feats = append(feats, "constant pH")
	}
	if r.UsesConstantRedox {
		feats = append(feats, "constant redox")
	}
	if r.UsesGaMD {
		feats = append(feats, "GaMD")
	}
	if r.UsesREMD {
		feats = append(feats, "REMD")
	}
	if len(feats) > 0 {
		fmt.Fprintf(&b, "Features: %s\n", strings.Join(feats, "; "))
	}

	if len(r.RestraintDefinitions) > 0 {
		fmt.Fprintf(&b, "Restraints section: %d lines (starts with %q)\n",
			len(r.RestraintDefinitions), r.RestraintDefinitions[0])
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}
	return b.String()
}
