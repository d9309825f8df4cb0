package params

import (
	"math"
	"strconv"
)

// #region design-params
// DesignParams is the full parameter snapshot submitted for one trial.
// It covers every field the duplicate policy and the enforcement guard
// compare; two trials differing only in fields outside this set do not
// exist as far as the protocol is concerned.
type DesignParams struct {
	PeriodNM       float64 `json:"period_nm"`
	WgWidthNM      float64 `json:"wg_width_nm"`
	HoleRxNM       float64 `json:"hole_rx_nm"`
	HoleRyNM       float64 `json:"hole_ry_nm"`
	NumTaperHoles  int     `json:"num_taper_holes"`
	NumMirrorHoles int     `json:"num_mirror_holes"`
	TaperProfile   string  `json:"taper_profile"`
	MinAPercent    float64 `json:"min_a_percent"`
	MinRxPercent   float64 `json:"min_rx_percent"`
	MinRyPercent   float64 `json:"min_ry_percent"`
}

// #endregion design-params

// #region field-names
// Canonical field names, used in enforcement violations, diffs, and
// manual sweep targets.
const (
	FieldPeriodNM       = "period_nm"
	FieldWgWidthNM      = "wg_width_nm"
	FieldHoleRxNM       = "hole_rx_nm"
	FieldHoleRyNM       = "hole_ry_nm"
	FieldNumTaperHoles  = "num_taper_holes"
	FieldNumMirrorHoles = "num_mirror_holes"
	FieldTaperProfile   = "taper_profile"
	FieldMinAPercent    = "min_a_percent"
	FieldMinRxPercent   = "min_rx_percent"
	FieldMinRyPercent   = "min_ry_percent"
)

// SweepableFields lists the parameters a manual sweep may target.
func SweepableFields() []string {
	return []string{
		FieldPeriodNM,
		FieldHoleRxNM,
		FieldHoleRyNM,
		FieldNumTaperHoles,
		FieldNumMirrorHoles,
		FieldMinAPercent,
		FieldMinRxPercent,
		FieldMinRyPercent,
	}
}

// #endregion field-names

// #region canon
// Canon returns a copy with every dimensioned field rounded to 0.01 nm.
// Equality and duplicate detection operate on canonical values, so 225.004
// and 225.0041 are the same design while 225.00 and 225.01 are not.
func (p DesignParams) Canon() DesignParams {
	p.PeriodNM = round2(p.PeriodNM)
	p.WgWidthNM = round2(p.WgWidthNM)
	p.HoleRxNM = round2(p.HoleRxNM)
	p.HoleRyNM = round2(p.HoleRyNM)
	p.MinAPercent = round2(p.MinAPercent)
	p.MinRxPercent = round2(p.MinRxPercent)
	p.MinRyPercent = round2(p.MinRyPercent)
	if p.TaperProfile == "" {
		p.TaperProfile = TaperQuadratic
	}
	return p
}

// Equal reports exact-match equality under the canonical rounding policy.
func (p DesignParams) Equal(other DesignParams) bool {
	return p.Canon() == other.Canon()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// #endregion canon

// #region diff
// FieldDiff names one parameter that differs between two snapshots.
type FieldDiff struct {
	Field    string
	Previous string
	Proposed string
}

// Diff lists every declared parameter whose canonical value differs from
// prev, in declaration order.
func (p DesignParams) Diff(prev DesignParams) []FieldDiff {
	a := prev.Canon()
	b := p.Canon()

	var diffs []FieldDiff
	addF := func(name string, pa, pb float64) {
		if pa != pb {
			diffs = append(diffs, FieldDiff{Field: name, Previous: formatFloat(pa), Proposed: formatFloat(pb)})
		}
	}
	addI := func(name string, ia, ib int) {
		if ia != ib {
			diffs = append(diffs, FieldDiff{Field: name, Previous: formatInt(ia), Proposed: formatInt(ib)})
		}
	}

	addF(FieldPeriodNM, a.PeriodNM, b.PeriodNM)
	addF(FieldWgWidthNM, a.WgWidthNM, b.WgWidthNM)
	addF(FieldHoleRxNM, a.HoleRxNM, b.HoleRxNM)
	addF(FieldHoleRyNM, a.HoleRyNM, b.HoleRyNM)
	addI(FieldNumTaperHoles, a.NumTaperHoles, b.NumTaperHoles)
	addI(FieldNumMirrorHoles, a.NumMirrorHoles, b.NumMirrorHoles)
	if a.TaperProfile != b.TaperProfile {
		diffs = append(diffs, FieldDiff{Field: FieldTaperProfile, Previous: a.TaperProfile, Proposed: b.TaperProfile})
	}
	addF(FieldMinAPercent, a.MinAPercent, b.MinAPercent)
	addF(FieldMinRxPercent, a.MinRxPercent, b.MinRxPercent)
	addF(FieldMinRyPercent, a.MinRyPercent, b.MinRyPercent)
	return diffs
}

// ChangedFields returns just the names from Diff.
func (p DesignParams) ChangedFields(prev DesignParams) []string {
	diffs := p.Diff(prev)
	names := make([]string, 0, len(diffs))
	for _, d := range diffs {
		names = append(names, d.Field)
	}
	return names
}

// #endregion diff

// #region set-field
// SetField assigns a numeric value to the named sweepable field.
// Integer fields truncate toward zero.
func (p *DesignParams) SetField(name string, value float64) bool {
	switch name {
	case FieldPeriodNM:
		p.PeriodNM = value
	case FieldWgWidthNM:
		p.WgWidthNM = value
	case FieldHoleRxNM:
		p.HoleRxNM = value
	case FieldHoleRyNM:
		p.HoleRyNM = value
	case FieldNumTaperHoles:
		p.NumTaperHoles = int(value)
	case FieldNumMirrorHoles:
		p.NumMirrorHoles = int(value)
	case FieldMinAPercent:
		p.MinAPercent = value
	case FieldMinRxPercent:
		p.MinRxPercent = value
	case FieldMinRyPercent:
		p.MinRyPercent = value
	default:
		return false
	}
	return true
}

// #endregion set-field

// #region helpers
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatInt(v int) string {
	return strconv.Itoa(v)
}

// #endregion helpers
