package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/nanobeamlab/cavity-designer/go-controller/internal/params"
	"github.com/nanobeamlab/cavity-designer/go-controller/internal/session"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description     string                  `json:"description"`
	UnitCell        FixtureUnitCell         `json:"unit_cell"`
	Interactions    []FixtureInteraction    `json:"interactions"`
	ExpectedResults []FixtureExpectedResult `json:"expected_results"`
}

// FixtureUnitCell mirrors params.UnitCellInput with JSON tags.
type FixtureUnitCell struct {
	TargetWavelengthNM float64 `json:"target_wavelength_nm"`
	WavelengthSpanNM   float64 `json:"wavelength_span_nm,omitempty"`
	PeriodNM           float64 `json:"period_nm"`
	WgWidthNM          float64 `json:"wg_width_nm"`
	WgHeightNM         float64 `json:"wg_height_nm"`
	HoleRxNM           float64 `json:"hole_rx_nm"`
	HoleRyNM           float64 `json:"hole_ry_nm"`
	Material           string  `json:"material"`
	MaterialIndex      float64 `json:"material_refractive_index"`
	InitialMinAPercent float64 `json:"initial_min_a_percent,omitempty"`
}

// FixtureCandidate mirrors session.Candidate with JSON tags. Omitted fields
// fall back through the controller's default chain, same as live requests.
type FixtureCandidate struct {
	PeriodNM       float64 `json:"period_nm,omitempty"`
	WgWidthNM      float64 `json:"wg_width_nm,omitempty"`
	HoleRxNM       float64 `json:"hole_rx_nm,omitempty"`
	HoleRyNM       float64 `json:"hole_ry_nm,omitempty"`
	NumTaperHoles  int     `json:"num_taper_holes,omitempty"`
	NumMirrorHoles int     `json:"num_mirror_holes,omitempty"`
	MinAPercent    float64 `json:"min_a_percent,omitempty"`
	MinRxPercent   float64 `json:"min_rx_percent,omitempty"`
	MinRyPercent   float64 `json:"min_ry_percent,omitempty"`
	Hypothesis     string  `json:"hypothesis,omitempty"`
}

// FixtureSimResult mirrors SimResult with JSON tags.
type FixtureSimResult struct {
	Q           float64 `json:"q,omitempty"`
	V           float64 `json:"v,omitempty"`
	ResonanceNM float64 `json:"resonance_nm,omitempty"`
	FailLayout  bool    `json:"fail_layout,omitempty"`
	FailFDTD    bool    `json:"fail_fdtd,omitempty"`
}

// FixtureInteraction is one scripted turn.
type FixtureInteraction struct {
	Label     string           `json:"label"`
	Candidate FixtureCandidate `json:"candidate"`
	Sim       FixtureSimResult `json:"sim"`
}

// FixtureExpectedResult captures the expected decision per turn.
type FixtureExpectedResult struct {
	Label     string `json:"label"`
	Action    string `json:"action"`
	Step      string `json:"step"`
	Iteration int    `json:"iteration,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToInput converts the fixture unit cell to a configure input.
func (u *FixtureUnitCell) ToInput() params.UnitCellInput {
	return params.UnitCellInput{
		TargetWavelengthNM: u.TargetWavelengthNM,
		WavelengthSpanNM:   u.WavelengthSpanNM,
		PeriodNM:           u.PeriodNM,
		WgWidthNM:          u.WgWidthNM,
		WgHeightNM:         u.WgHeightNM,
		HoleRxNM:           u.HoleRxNM,
		HoleRyNM:           u.HoleRyNM,
		Material:           params.Material(u.Material),
		MaterialIndex:      u.MaterialIndex,
		InitialMinAPercent: u.InitialMinAPercent,
	}
}

// ToInteraction converts a fixture turn to a domain Interaction.
func (fi *FixtureInteraction) ToInteraction() Interaction {
	return Interaction{
		Label: fi.Label,
		Candidate: session.Candidate{
			PeriodNM:       fi.Candidate.PeriodNM,
			WgWidthNM:      fi.Candidate.WgWidthNM,
			HoleRxNM:       fi.Candidate.HoleRxNM,
			HoleRyNM:       fi.Candidate.HoleRyNM,
			NumTaperHoles:  fi.Candidate.NumTaperHoles,
			NumMirrorHoles: fi.Candidate.NumMirrorHoles,
			MinAPercent:    fi.Candidate.MinAPercent,
			MinRxPercent:   fi.Candidate.MinRxPercent,
			MinRyPercent:   fi.Candidate.MinRyPercent,
			Hypothesis:     fi.Candidate.Hypothesis,
		},
		Sim: SimResult{
			Q:           fi.Sim.Q,
			V:           fi.Sim.V,
			ResonanceNM: fi.Sim.ResonanceNM,
			FailLayout:  fi.Sim.FailLayout,
			FailFDTD:    fi.Sim.FailFDTD,
		},
	}
}

// #endregion fixture-loader
