// Package protocol assembles per-file metadata records into a validated
// multi-stage simulation protocol: an ordered sequence of stages
// (minimization, heating, equilibration, production) linked by restart
// files. Stages come from an explicit manifest or from directory
// discovery; the validator annotates each stage with internal-consistency
// and inter-stage continuity notes.
package protocol

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"ktkr.us/pkg/mdmeta/deck"
	"ktkr.us/pkg/mdmeta/mdlog"
	"ktkr.us/pkg/mdmeta/restart"
	"ktkr.us/pkg/mdmeta/topology"
	"ktkr.us/pkg/mdmeta/traj"
)

// Closed stage-role values.
const (
	RoleMinimization  = deck.RoleMinimization
	RoleHeating       = deck.RoleHeating
	RoleEquilibration = deck.RoleEquilibration
	RoleProduction    = deck.RoleProduction
)

var validRoles = map[string]bool{
	RoleMinimization:  true,
	RoleHeating:       true,
	RoleEquilibration: true,
	RoleProduction:    true,
}

// CheckRole rejects roles outside the closed set. The empty role is
// "unknown" and always allowed.
func CheckRole(role string) error {
	if role != "" && !validRoles[role] {
		return errors.Errorf("protocol: invalid stage role %q", role)
	}
	return nil
}

// Stage is one node in a protocol: one engine execution with its files.
type Stage struct {
	Name string `yaml:"name"`
	Role string `yaml:"stage_role,omitempty"`

	Topology   *topology.Record `yaml:"prmtop,omitempty"`
	Restart    *restart.Record  `yaml:"inpcrd,omitempty"`
	Deck       *deck.Record     `yaml:"mdin,omitempty"`
	Log        *mdlog.Record    `yaml:"mdout,omitempty"`
	Trajectory *traj.Record     `yaml:"mdcrd,omitempty"`

	RestartPath string `yaml:"restart_path,omitempty"`

	ExpectedGapPs  *float64 `yaml:"expected_gap_ps,omitempty"`
	GapTolerancePs *float64 `yaml:"gap_tolerance_ps,omitempty"`
	ObservedGapPs  *float64 `yaml:"observed_gap_ps,omitempty"`

	Notes      []string `yaml:"notes,omitempty"`
	Validation []string `yaml:"validation,omitempty"`
	Continuity []string `yaml:"continuity,omitempty"`
}

// StepsAndDt returns the stage length and timestep when the input deck
// states both.
func (s *Stage) StepsAndDt() (steps int, dt float64, ok bool) {
	if s.Deck == nil || s.Deck.LengthSteps == nil || s.Deck.Dt <= 0 {
		return 0, 0, false
	}
	return *s.Deck.LengthSteps, s.Deck.Dt, true
}

// Summary condenses a stage to intent / result / evidence.
func (s *Stage) Summary() map[string]string {
	intent := s.Role
	if intent == "" {
		intent = "Unknown"
	}
	if s.Deck != nil && s.Role == "" {
		intent = s.Deck.StageRole
	}

	result := "Unknown"
	if s.Log != nil {
		if s.Log.FinishedProperly {
			result = "Completed"
		} else {
			result = "Unclear"
		}
	}

	var evidence []string
	evidence = append(evidence, s.Validation...)
	evidence = append(evidence, s.Continuity...)

	return map[string]string{
		"intent":   intent,
		"result":   result,
		"evidence": strings.Join(evidence, "; "),
	}
}

// Protocol is an ordered sequence of stages. Order follows the manifest,
// or the lexical stem order for discovered protocols.
type Protocol struct {
	Stages []*Stage `yaml:"stages"`
}

// Totals sums steps and simulated time over the stages whose deck states
// both a step count and a timestep.
type Totals struct {
	Steps  float64 `yaml:"steps"`
	TimePs float64 `yaml:"time_ps"`
}

func (p *Protocol) Totals() Totals {
	var t Totals
	for _, s := range p.Stages {
		if steps, dt, ok := s.StepsAndDt(); ok {
			t.Steps += float64(steps)
			t.TimePs += float64(steps) * dt
		}
	}
	return t
}

// Summary renders the protocol the way the CLI prints it.
func (p *Protocol) Summary() string {
	var b strings.Builder
	totals := p.Totals()
	fmt.Fprintf(&b, "Stages: %d\n", len(p.Stages))
	fmt.Fprintf(&b, "Total steps: %.0f\n", totals.Steps)
	fmt.Fprintf(&b, "Total simulated time: %.3f ps\n", totals.TimePs)

	for _, s := range p.Stages {
		sum := s.Summary()
		fmt.Fprintf(&b, "\n- %s\n", s.Name)
		fmt.Fprintf(&b, "  intent: %s\n", sum["intent"])
		fmt.Fprintf(&b, "  result: %s\n", sum["result"])
		if s.RestartPath != "" {
			fmt.Fprintf(&b, "  restart: %s\n", s.RestartPath)
		}
		if s.ObservedGapPs != nil {
			fmt.Fprintf(&b, "  observed gap: %.4f ps\n", *s.ObservedGapPs)
		}
		for _, n := range s.Notes {
			fmt.Fprintf(&b, "  note: %s\n", n)
		}
		for _, n := range s.Validation {
			fmt.Fprintf(&b, "  validation: %s\n", n)
		}
		for _, n := range s.Continuity {
			fmt.Fprintf(&b, "  continuity: %s\n", n)
		}
	}
	return b.String()
}
