package protocol

import (
	"fmt"
	"math"
	"strings"

	"ktkr.us/pkg/mdmeta/deck"
)

// floatNoise absorbs rounding differences in timestamps and durations.
const floatNoise = 1e-6

// Validate annotates every stage with internal-consistency notes, then
// checks continuity between consecutive stages. Re-running it replaces
// the previous notes instead of appending to them.
func (p *Protocol) Validate() {
	for _, s := range p.Stages {
		s.validate()
	}
	p.checkContinuity()
}

// ValidateStagesOnly skips the cross-stage continuity pass.
func (p *Protocol) ValidateStagesOnly() {
	for _, s := range p.Stages {
		s.validate()
	}
	for _, s := range p.Stages {
		s.Continuity = nil
		s.ObservedGapPs = nil
	}
}

func (s *Stage) validate() {
	s.Validation = nil
	s.validateAtoms()
	s.validateBox()
	s.validateTiming()
	s.validateSampling()
}

// validateAtoms requires every record that reports an atom count to agree.
func (s *Stage) validateAtoms() {
	var labels []string
	var counts []int

	add := func(label string, n *int) {
		if n != nil && *n != 0 {
			labels = append(labels, label)
			counts = append(counts, *n)
		}
	}
	if s.Topology != nil {
		add("prmtop", s.Topology.NumAtoms)
	}
	if s.Restart != nil {
		add("inpcrd", s.Restart.NumAtoms)
	}
	if s.Log != nil {
		add("mdout", s.Log.NumAtoms)
	}
	if s.Trajectory != nil {
		add("mdcrd", s.Trajectory.NumAtoms)
	}

	if len(counts) == 0 {
		s.Validation = append(s.Validation, "No atom counts available for validation.")
		return
	}
	for _, n := range counts[1:] {
		if n != counts[0] {
			s.Validation = append(s.Validation, fmt.Sprintf(
				"Atom count mismatch across [%s]: %s", strings.Join(labels, ", "), fmtInts(counts)))
			return
		}
	}
}

// validateBox flags a lone box report; full agreement and full absence
// are both fine.
func (s *Stage) validateBox() {
	var boxes []string
	if s.Topology != nil && s.Topology.BoxLengths != nil {
		boxes = append(boxes, "prmtop")
	}
	if s.Restart != nil && s.Restart.HasBox {
		boxes = append(boxes, "inpcrd")
	}
	if s.Trajectory != nil && s.Trajectory.HasBox {
		boxes = append(boxes, "mdcrd")
	}
	if s.Log != nil && s.Log.BoxType != "" {
		boxes = append(boxes, "mdout")
	}

	if len(boxes) == 1 {
		s.Validation = append(s.Validation, fmt.Sprintf(
			"Only %s reports box information; check consistency.", boxes[0]))
	}
}

// validateTiming compares step counts and timesteps between the deck and
// the log, and the planned duration against the trajectory span.
func (s *Stage) validateTiming() {
	var deckSteps, logSteps *int
	var deckDt, logDt *float64

	if s.Deck != nil {
		deckSteps = s.Deck.LengthSteps
		if s.Deck.Dt > 0 {
			dt := s.Deck.Dt
			deckDt = &dt
		}
	}
	if s.Log != nil {
		logSteps = s.Log.NumSteps
		logDt = s.Log.Dt
	}

	if deckSteps != nil && logSteps != nil && *deckSteps != *logSteps {
		s.Validation = append(s.Validation, fmt.Sprintf(
			"Step count differs between mdin and mdout (%d vs %d).", *deckSteps, *logSteps))
	}
	if deckDt != nil && logDt != nil && *deckDt != *logDt {
		s.Validation = append(s.Validation, fmt.Sprintf(
			"Timestep differs between mdin and mdout (%v vs %v).", *deckDt, *logDt))
	}

	if s.Trajectory == nil || !s.Trajectory.HasTime || s.Trajectory.NumFrames < 2 {
		return
	}
	steps, dt, ok := s.StepsAndDt()
	if !ok {
		return
	}
	expected := float64(steps) * dt
	observed := s.Trajectory.DurationPs

	tol := floatNoise
	if s.Trajectory.AvgDt != nil && *s.Trajectory.AvgDt > tol {
		tol = *s.Trajectory.AvgDt
	}
	if dt > tol {
		tol = dt
	}
	if math.Abs(expected-observed) > tol+floatNoise {
		s.Validation = append(s.Validation, fmt.Sprintf(
			"Expected duration %g ps differs from trajectory duration %g ps.", expected, observed))
	}
}

// validateSampling compares the requested coordinate write cadence with
// the one echoed in the log.
func (s *Stage) validateSampling() {
	if s.Deck == nil || s.Log == nil || s.Log.CoordFreq == nil {
		return
	}
	want, ok := deck.AsInt(s.Deck.CoordFreq)
	if !ok || want == 0 {
		return
	}
	if got := *s.Log.CoordFreq; got != 0 && got != want {
		s.Validation = append(s.Validation, fmt.Sprintf(
			"Coordinate write frequency differs between mdin and mdout (%d vs %d).", want, got))
	}
}

// checkContinuity walks consecutive stage pairs, comparing the previous
// trajectory's end time with the current restart's time. A gap of one
// frame interval is perfect continuity (the next stage starts one step
// after the last written frame), so gaps within the previous frame
// interval collapse to zero unless an explicit expected gap is set.
func (p *Protocol) checkContinuity() {
	for _, s := range p.Stages {
		s.Continuity = nil
		s.ObservedGapPs = nil
	}

	for i := 1; i < len(p.Stages); i++ {
		prev, cur := p.Stages[i-1], p.Stages[i]

		var end, start *float64
		var prevDt float64
		if prev.Trajectory != nil && prev.Trajectory.HasTime {
			end = prev.Trajectory.TimeEnd
			if prev.Trajectory.AvgDt != nil {
				prevDt = *prev.Trajectory.AvgDt
			}
		}
		if cur.Restart != nil {
			start = cur.Restart.Time
		}

		switch {
		case end == nil && start == nil:
			continue
		case end == nil:
			cur.Continuity = append(cur.Continuity,
				"Continuity not verifiable: missing previous-stage end time.")
			continue
		case start == nil:
			cur.Continuity = append(cur.Continuity,
				"Continuity not verifiable: missing restart start time.")
			continue
		}

		gap := *start - *end

		if cur.ExpectedGapPs == nil {
			tol := math.Max(floatNoise, prevDt)
			if math.Abs(gap) <= tol {
				gap = 0
			}
		}
		g := gap
		cur.ObservedGapPs = &g

		if gap < 0 {
			cur.Continuity = append(cur.Continuity, fmt.Sprintf(
				"Stage overlaps previous stage by %.4f ps.", -gap))
		} else if gap > 0 && cur.ExpectedGapPs == nil {
			cur.Continuity = append(cur.Continuity, fmt.Sprintf(
				"Gap of %.4f ps after previous stage.", gap))
		}

		if cur.ExpectedGapPs != nil {
			expected := *cur.ExpectedGapPs
			tol := 0.0
			if cur.GapTolerancePs != nil {
				tol = *cur.GapTolerancePs
			}
			if math.Abs(gap-expected) <= tol+floatNoise {
				cur.Continuity = append(cur.Continuity, fmt.Sprintf(
					"Observed gap %.4f ps within expected %.4f ± %.4f ps.", gap, expected, tol))
			} else {
				cur.Continuity = append(cur.Continuity, fmt.Sprintf(
					"Observed gap %.4f ps outside expected %.4f ± %.4f ps.", gap, expected, tol))
			}
		}
	}
}

func fmtInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
