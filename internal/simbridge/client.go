package simbridge

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nanobeamlab/cavity-designer/go-controller/internal/params"
)

// #region methods
// Full method names on the Python simulation sidecar. The service speaks
// structpb payloads so this repo carries no codegen step; the proto
// bindings live with the sidecar.
const (
	buildLayoutMethod = "/cavity.v1.Simulator/BuildLayout"
	runFDTDMethod     = "/cavity.v1.Simulator/RunFDTD"
)

// Highest mesh accuracy, always: lower settings give unreliable Q values.
const meshAccuracy = 8

// #endregion methods

// #region types
// Metrics holds the scalar results of one FDTD run.
type Metrics struct {
	Q           float64
	V           float64
	ResonanceNM float64
}

// Layout references the rendered design artifact on the sidecar.
type Layout struct {
	GDSPath string
}

// #endregion types

// #region client-struct
// Invoker abstracts the gRPC connection. Tests inject a scripted
// implementation instead of a live channel.
type Invoker interface {
	Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error
}

// Client wraps the gRPC connection to the FDTD/layout sidecar.
type Client struct {
	conn *grpc.ClientConn
	inv  Invoker
}

// NewClient connects to the simulation sidecar.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, inv: conn}, nil
}

// NewClientWithInvoker creates a Client with an injected transport.
// Used for testing without a real gRPC connection.
func NewClientWithInvoker(inv Invoker) *Client {
	return &Client{inv: inv}
}

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion client-struct

// #region build-layout
// BuildLayout renders the cavity geometry and returns the GDS artifact
// reference.
func (c *Client) BuildLayout(ctx context.Context, cell params.UnitCell, p params.DesignParams) (Layout, error) {
	req, err := structpb.NewStruct(layoutJob(cell, p))
	if err != nil {
		return Layout{}, fmt.Errorf("encode layout job: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.inv.Invoke(ctx, buildLayoutMethod, req, resp); err != nil {
		return Layout{}, &SimulationError{Stage: StageLayout, Detail: status.Convert(err).Message(), Cause: err}
	}

	path := resp.GetFields()["gds_path"].GetStringValue()
	if path == "" {
		return Layout{}, &SimulationError{Stage: StageLayout, Detail: "sidecar returned no gds_path"}
	}
	return Layout{GDSPath: path}, nil
}

// #endregion build-layout

// #region run-fdtd
// RunFDTD runs the simulation for a rendered design and returns Q, V, and
// the resonance wavelength. Invalid metrics are a simulation failure, not
// a zero-valued success.
func (c *Client) RunFDTD(ctx context.Context, cell params.UnitCell, p params.DesignParams, layout Layout) (Metrics, error) {
	job := layoutJob(cell, p)
	job["gds_path"] = layout.GDSPath
	job["mesh_accuracy"] = meshAccuracy
	req, err := structpb.NewStruct(job)
	if err != nil {
		return Metrics{}, fmt.Errorf("encode fdtd job: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.inv.Invoke(ctx, runFDTDMethod, req, resp); err != nil {
		return Metrics{}, &SimulationError{Stage: StageFDTD, Detail: status.Convert(err).Message(), Cause: err}
	}

	fields := resp.GetFields()
	m := Metrics{
		Q:           fields["q"].GetNumberValue(),
		V:           fields["v"].GetNumberValue(),
		ResonanceNM: fields["resonance_nm"].GetNumberValue(),
	}
	if m.Q <= 0 || m.V <= 0 || m.ResonanceNM <= 0 {
		return Metrics{}, &SimulationError{
			Stage:  StageFDTD,
			Detail: fmt.Sprintf("invalid metrics Q=%g V=%g resonance=%gnm", m.Q, m.V, m.ResonanceNM),
		}
	}
	return m, nil
}

// #endregion run-fdtd

// #region job-encoding
// layoutJob flattens the unit cell and trial parameters into the sidecar's
// job payload. Dimensions stay in nm; the sidecar owns unit conversion.
func layoutJob(cell params.UnitCell, p params.DesignParams) map[string]any {
	p = p.Canon()
	return map[string]any{
		"target_wavelength_nm":      cell.TargetWavelengthNM,
		"wavelength_span_nm":        cell.WavelengthSpanNM,
		"wg_height_nm":              cell.WgHeightNM,
		"material":                  string(cell.Material),
		"material_refractive_index": cell.MaterialIndex,
		"freestanding":              cell.Freestanding,
		"substrate":                 cell.Substrate,
		"substrate_refractive_index": cell.SubstrateIndex,

		"period_nm":        p.PeriodNM,
		"wg_width_nm":      p.WgWidthNM,
		"hole_rx_nm":       p.HoleRxNM,
		"hole_ry_nm":       p.HoleRyNM,
		"num_taper_holes":  p.NumTaperHoles,
		"num_mirror_holes": p.NumMirrorHoles,
		"taper_profile":    p.TaperProfile,
		"min_a_percent":    p.MinAPercent,
		"min_rx_percent":   p.MinRxPercent,
		"min_ry_percent":   p.MinRyPercent,
	}
}

// #endregion job-encoding
