package params

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// #region material
// Material identifies the cavity core material.
type Material string

const (
	MaterialSiN     Material = "SiN"
	MaterialSi      Material = "Si"
	MaterialGaAs    Material = "GaAs"
	MaterialAlN     Material = "AlN"
	MaterialDiamond Material = "diamond"
)

// SupportedMaterials lists the materials the simulation sidecar knows.
func SupportedMaterials() []Material {
	return []Material{MaterialSiN, MaterialSi, MaterialGaAs, MaterialAlN, MaterialDiamond}
}

func validMaterial(m Material) bool {
	for _, s := range SupportedMaterials() {
		if m == s {
			return true
		}
	}
	return false
}

// #endregion material

// #region taper-profile
// Taper profile for the chirped hole region. Quadratic chirp is the only
// profile the layout sidecar currently renders.
const TaperQuadratic = "quadratic"

// #endregion taper-profile

// #region unit-cell
// UnitCell is the base geometry and optical target for a session. Once
// confirmed it is immutable; every field here participates in defaults for
// the first trial, and the identity subset derives the session key.
type UnitCell struct {
	TargetWavelengthNM float64  `json:"target_wavelength_nm"`
	WavelengthSpanNM   float64  `json:"wavelength_span_nm"`
	PeriodNM           float64  `json:"period_nm"`
	WgWidthNM          float64  `json:"wg_width_nm"`
	WgHeightNM         float64  `json:"wg_height_nm"`
	HoleRxNM           float64  `json:"hole_rx_nm"`
	HoleRyNM           float64  `json:"hole_ry_nm"`
	Material           Material `json:"material"`
	MaterialIndex      float64  `json:"material_refractive_index"`
	Freestanding       bool     `json:"freestanding"`
	Substrate          string   `json:"substrate,omitempty"`
	SubstrateIndex     float64  `json:"substrate_refractive_index,omitempty"`
	InitialMinAPercent float64  `json:"initial_min_a_percent"`
}

// ConfigKey derives the session key from the identity fields. Two sessions
// share history iff their keys match.
func (u UnitCell) ConfigKey() string {
	identity := []string{
		formatFloat(round2(u.TargetWavelengthNM)),
		formatFloat(round2(u.PeriodNM)),
		formatFloat(round2(u.WgWidthNM)),
		formatFloat(round2(u.WgHeightNM)),
		formatFloat(round2(u.HoleRxNM)),
		formatFloat(round2(u.HoleRyNM)),
		string(u.Material),
		fmt.Sprintf("%t", u.Freestanding),
	}
	sum := sha256.Sum256([]byte(strings.Join(identity, "_")))
	return hex.EncodeToString(sum[:])
}

// InitialParams returns the forced parameter snapshot for the baseline
// trial: exact unit-cell geometry with the standard taper/mirror counts.
func (u UnitCell) InitialParams() DesignParams {
	return DesignParams{
		PeriodNM:       u.PeriodNM,
		WgWidthNM:      u.WgWidthNM,
		HoleRxNM:       u.HoleRxNM,
		HoleRyNM:       u.HoleRyNM,
		NumTaperHoles:  10,
		NumMirrorHoles: 7,
		TaperProfile:   TaperQuadratic,
		MinAPercent:    u.InitialMinAPercent,
		MinRxPercent:   100,
		MinRyPercent:   100,
	}.Canon()
}

// #endregion unit-cell

// #region input
// UnitCellInput is one configure call's worth of fields. Required fields
// are checked explicitly; zero-valued optional fields take defaults.
type UnitCellInput struct {
	TargetWavelengthNM float64
	WavelengthSpanNM   float64
	PeriodNM           float64
	WgWidthNM          float64
	WgHeightNM         float64
	HoleRxNM           float64
	HoleRyNM           float64
	Material           Material
	MaterialIndex      float64
	Freestanding       *bool
	Substrate          string
	SubstrateIndex     float64
	InitialMinAPercent float64
}

// #endregion input

// #region config
// Config owns the unit-cell lifecycle: configure, confirm, reset.
type Config struct {
	cell       UnitCell
	configured bool
	confirmed  bool
}

// NewConfig returns an unconfigured session configuration.
func NewConfig() *Config {
	return &Config{}
}

// Configure validates the input, merges defaults, and stores the cell.
// It fails once the configuration has been confirmed; Reset first.
func (c *Config) Configure(in UnitCellInput) error {
	if c.confirmed {
		return ErrAlreadyConfirmed
	}

	cell, err := buildCell(in)
	if err != nil {
		return err
	}
	c.cell = cell
	c.configured = true
	return nil
}

// Confirm freezes the configuration. Evaluations are rejected until this
// has been called.
func (c *Config) Confirm() error {
	if !c.configured {
		return ErrNotConfigured
	}
	c.confirmed = true
	return nil
}

// Confirmed reports whether the configuration is frozen.
func (c *Config) Confirmed() bool {
	return c.confirmed
}

// Cell returns the confirmed unit cell.
func (c *Config) Cell() (UnitCell, error) {
	if !c.confirmed {
		return UnitCell{}, ErrNotConfigured
	}
	return c.cell, nil
}

// Pending returns the configured-but-unconfirmed cell for preview.
func (c *Config) Pending() (UnitCell, bool) {
	return c.cell, c.configured
}

// Reset discards the configuration so a fresh session can be set up.
func (c *Config) Reset() {
	*c = Config{}
}

// #endregion config

// #region validation
func buildCell(in UnitCellInput) (UnitCell, error) {
	type req struct {
		name  string
		value float64
	}
	required := []req{
		{"target_wavelength_nm", in.TargetWavelengthNM},
		{"period_nm", in.PeriodNM},
		{"wg_width_nm", in.WgWidthNM},
		{"wg_height_nm", in.WgHeightNM},
		{"hole_rx_nm", in.HoleRxNM},
		{"hole_ry_nm", in.HoleRyNM},
	}
	for _, r := range required {
		if r.value <= 0 {
			return UnitCell{}, &ValidationError{Field: r.name, Detail: "must be strictly positive"}
		}
	}
	if in.Material == "" {
		return UnitCell{}, &ValidationError{Field: "material", Detail: "required"}
	}
	if !validMaterial(in.Material) {
		return UnitCell{}, &ValidationError{
			Field:  "material",
			Detail: fmt.Sprintf("unrecognized %q, supported: %v", in.Material, SupportedMaterials()),
		}
	}
	if in.MaterialIndex < 1 {
		return UnitCell{}, &ValidationError{Field: "material_refractive_index", Detail: "must be >= 1"}
	}
	if in.WavelengthSpanNM < 0 {
		return UnitCell{}, &ValidationError{Field: "wavelength_span_nm", Detail: "must not be negative"}
	}
	if in.InitialMinAPercent < 0 || in.InitialMinAPercent > 100 {
		return UnitCell{}, &ValidationError{Field: "initial_min_a_percent", Detail: "must be in [0, 100] (0 takes the default)"}
	}

	cell := UnitCell{
		TargetWavelengthNM: in.TargetWavelengthNM,
		WavelengthSpanNM:   in.WavelengthSpanNM,
		PeriodNM:           in.PeriodNM,
		WgWidthNM:          in.WgWidthNM,
		WgHeightNM:         in.WgHeightNM,
		HoleRxNM:           in.HoleRxNM,
		HoleRyNM:           in.HoleRyNM,
		Material:           in.Material,
		MaterialIndex:      in.MaterialIndex,
		Freestanding:       true,
		Substrate:          in.Substrate,
		SubstrateIndex:     in.SubstrateIndex,
		InitialMinAPercent: in.InitialMinAPercent,
	}
	if in.Freestanding != nil {
		cell.Freestanding = *in.Freestanding
	}
	if cell.WavelengthSpanNM == 0 {
		cell.WavelengthSpanNM = 100
	}
	if cell.InitialMinAPercent == 0 {
		cell.InitialMinAPercent = 90
	}
	if !cell.Freestanding {
		if cell.Substrate == "" {
			return UnitCell{}, &ValidationError{Field: "substrate", Detail: "required when not freestanding"}
		}
		if cell.SubstrateIndex < 1 {
			return UnitCell{}, &ValidationError{Field: "substrate_refractive_index", Detail: "must be >= 1 when substrate is used"}
		}
	}
	return cell, nil
}

// #endregion validation
