// Package deck parses AMBER mdin input decks: a free-text title followed by
// Fortran namelists (&cntrl, &wt, &ewald, ...) and optional trailing
// restraint definitions. Values keep their namelist types — integers,
// floats (D-notation accepted), Fortran booleans — except shell
// placeholders like ${NSTEPS} and $(date), which pass through verbatim as
// strings for the engine's wrapper scripts to expand.
package deck

import (
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Schedule is one &wt namelist entry: a quantity varied over a step range.
type Schedule struct {
	Quantity   string `yaml:"quantity"`
	IStep1     any    `yaml:"istep1,omitempty"`
	IStep2     any    `yaml:"istep2,omitempty"`
	Value1     any    `yaml:"value1,omitempty"`
	Value2     any    `yaml:"value2,omitempty"`
	Increment  any    `yaml:"increment,omitempty"`
	Multiplier any    `yaml:"multiplier,omitempty"`
}

// Terminal reports whether this entry ends the schedule (TYPE='END').
func (s Schedule) Terminal() bool {
	return strings.EqualFold(s.Quantity, "END")
}

// Namelist preserves one parsed namelist block in file order.
type Namelist struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params"`
}

// Record summarizes one input deck.
type Record struct {
	Path     string   `yaml:"path"`
	Warnings []string `yaml:"warnings"`

	Title                string         `yaml:"title"`
	Control              map[string]any `yaml:"control,omitempty"`
	Namelists            []Namelist     `yaml:"namelists,omitempty"`
	Schedules            []Schedule     `yaml:"schedules,omitempty"`
	RestraintDefinitions []string       `yaml:"restraint_definitions,omitempty"`

	// derived interpretation of &cntrl
	SimulationType string  `yaml:"simulation_type"`
	StageRole      string  `yaml:"stage_role"`
	Ensemble       string  `yaml:"ensemble"`
	LengthSteps    *int    `yaml:"length_steps,omitempty"`
	Dt             float64 `yaml:"dt"`
	RestartFlag    any     `yaml:"restart_flag,omitempty"`

	EnergyFreq  any    `yaml:"energy_freq,omitempty"`
	CoordFreq   any    `yaml:"coord_freq,omitempty"`
	RestartFreq any    `yaml:"restart_freq,omitempty"`
	TrajFormat  string `yaml:"traj_format"`

	Cutoff      any    `yaml:"cutoff,omitempty"`
	Thermostat  string `yaml:"thermostat"`
	TargetTemp  any    `yaml:"target_temp,omitempty"`
	Barostat    string `yaml:"barostat"`
	PBC         string `yaml:"pbc"`
	Constraints string `yaml:"constraints"`

	ImplicitSolvent      string `yaml:"implicit_solvent"`
	RestraintsActive     bool   `yaml:"restraints_active"`
	NMROptions           bool   `yaml:"nmr_options"`
	QMMMActive           bool   `yaml:"qmmm_active"`
	HasTempRamp          bool   `yaml:"has_temp_ramp"`
	HasRestraintSchedule bool   `yaml:"has_restraint_schedule"`
	HasCutoffSchedule    bool   `yaml:"has_cutoff_schedule"`
	UsesFreeEnergy       bool   `yaml:"uses_free_energy"`
	UsesConstantPH       bool   `yaml:"uses_constant_ph"`
	UsesConstantRedox    bool   `yaml:"uses_constant_redox"`
	UsesGaMD             bool   `yaml:"uses_gamd"`
	UsesREMD             bool   `yaml:"uses_remd"`
}

var (
	commentRe  = regexp.MustCompile(`[!#][^\n]*`)
	namelistRe = regexp.MustCompile(`(?is)&([a-zA-Z0-9_]+)(.*?)(?:/|&end)`)
	kvRe       = regexp.MustCompile(
		`([a-zA-Z0-9_]+)\s*=\s*(` +
			`'(?:[^']|\\')*'` + // single-quoted
			`|"(?:[^"]|\\")*"` + // double-quoted
			`|\$\{[^}]+\}` + // ${var}
			`|\$\([^)]+\)` + // $(cmd)
			`|[^,/\s]+` + // bare token
			`)`)
)

// Parse reads an input deck. Sanity issues land in Record.Warnings; only
// I/O failures return an error.
func Parse(path string) (*Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "deck: read %s", path)
	}

	r := &Record{Path: path, Title: "Unknown Title", Control: map[string]any{}}
	lines := strings.Split(string(raw), "\n")

	// The first line that is not blank, a comment, or a namelist opener is
	// the title. A deck that opens straight into a namelist is untitled.
	start := -1
	for i, line := range lines {
		clean := strings.TrimSpace(line)
		if clean == "" || strings.HasPrefix(clean, "#") || strings.HasPrefix(clean, "!") {
			continue
		}
		if strings.HasPrefix(clean, "&") {
			r.Title = "Untitled"
			start = i
		} else {
			r.Title = clean
			start = i + 1
		}
		break
	}
	if start < 0 {
		r.interpret()
		return r, nil
	}

	content := commentRe.ReplaceAllString(strings.Join(lines[start:], "\n"), "")

	last := 0
	for _, m := range namelistRe.FindAllStringSubmatchIndex(content, -1) {
		name := strings.ToLower(content[m[2]:m[3]])
		body := content[m[4]:m[5]]
		params := parseParams(body)

		if name == "cntrl" {
			for k, v := range params {
				r.Control[k] = v
			}
		} else {
			if name == "wt" {
				q, _ := params["type"].(string)
				r.Schedules = append(r.Schedules, Schedule{
					Quantity:   strings.ToUpper(strings.TrimSpace(q)),
					IStep1:     params["istep1"],
					IStep2:     params["istep2"],
					Value1:     params["value1"],
					Value2:     params["value2"],
					Increment:  params["iinc"],
					Multiplier: params["imult"],
				})
			}
			r.Namelists = append(r.Namelists, Namelist{Name: name, Params: params})
		}
		last = m[1]
	}

	// Whatever trails the last namelist is restraint free text.
	for _, line := range strings.Split(content[last:], "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "&") {
			continue
		}
		if up := strings.ToUpper(line); up == "END" || up == "EOF" {
			continue
		}
		r.RestraintDefinitions = append(r.RestraintDefinitions, line)
	}

	r.interpret()
	return r, nil
}

// parseParams extracts key=value pairs from a namelist body. Keys are
// lowercased; values go through cleanValue.
func parseParams(body string) map[string]any {
	params := map[string]any{}
	for _, m := range kvRe.FindAllStringSubmatch(body, -1) {
		params[strings.ToLower(m[1])] = cleanValue(m[2])
	}
	return params
}

// cleanValue converts one token. Shell placeholders survive verbatim.
func cleanValue(val string) any {
	val = strings.TrimSpace(val)
	val = strings.Trim(val, ",")
	val = strings.Trim(val, `"'`)
	if val == "" {
		return ""
	}
	if strings.Contains(val, "$") {
		return val
	}
	switch strings.ToLower(val) {
	case ".true.":
		return true
	case ".false.":
		return false
	}
	if n, err := strconv.Atoi(val); err == nil {
		return n
	}
	sub := strings.NewReplacer("d", "e", "D", "E").Replace(val)
	if f, err := strconv.ParseFloat(sub, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	}
	return val
}

// AsInt coerces a namelist value to an integer. Placeholders, fractional
// floats, and free text do not coerce.
func AsInt(v any) (int, bool) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case int:
		return x, true
	case float64:
		if x == math.Trunc(x) {
			return int(x), true
		}
	case string:
		if x == "" || strings.Contains(x, "$") {
			return 0, false
		}
		sub := strings.NewReplacer("d", "e", "D", "E").Replace(x)
		if f, err := strconv.ParseFloat(sub, 64); err == nil && f == math.Trunc(f) {
			return int(f), true
		}
	}
	return 0, false
}

// AsFloat coerces a namelist value to a float. NaN and Inf do not coerce.
func AsFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case bool:
		if x {
			f = 1
		}
	case int:
		f = float64(x)
	case float64:
		f = x
	case string:
		if x == "" || strings.Contains(x, "$") {
			return 0, false
		}
		sub := strings.NewReplacer("d", "e", "D", "E").Replace(x)
		v, err := strconv.ParseFloat(sub, 64)
		if err != nil {
			return 0, false
		}
		f = v
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
