// Package config loads and validates the assignment run configuration.
//
// Configuration is YAML, validated with struct tags. Every setup error
// (unknown connector method, non-positive walking speed, bad skim name)
// surfaces from Load, before any graph vertex or edge is built.
package config

import (
	"fmt"
	"math"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"transit_assign/pkg/hyperpath"
	"transit_assign/pkg/schedule"
	"transit_assign/pkg/transitgraph"
)

// GraphConfig mirrors the graph construction parameters.
type GraphConfig struct {
	UniformDwellTime float64 `yaml:"uniform_dwell_time" validate:"gte=0"`
	AlightingPenalty float64 `yaml:"alighting_penalty" validate:"gte=0"`
	WaitTimeFactor   float64 `yaml:"wait_time_factor" validate:"gt=0"`
	WalkTimeFactor   float64 `yaml:"walk_time_factor" validate:"gt=0"`
	WalkingSpeed     float64 `yaml:"walking_speed" validate:"gt=0"`
	AccessTimeFactor float64 `yaml:"access_time_factor" validate:"gt=0"`
	EgressTimeFactor float64 `yaml:"egress_time_factor" validate:"gt=0"`

	WithInnerStopTransfers bool `yaml:"with_inner_stop_transfers"`
	WithOuterStopTransfers bool `yaml:"with_outer_stop_transfers"`
	WithWalkingEdges       bool `yaml:"with_walking_edges"`

	ConnectorMethod string `yaml:"connector_method" validate:"oneof=nearest_neighbour overlapping_regions"`
	// DistanceUpperBound caps connector length in projected meters;
	// 0 disables the cutoff.
	DistanceUpperBound      float64 `yaml:"distance_upper_bound" validate:"gte=0"`
	MaxConnectorsPerZone    int     `yaml:"max_connectors_per_zone"`
	AllowMissingConnections bool    `yaml:"allow_missing_connections"`

	BlockingCentroidFlows bool `yaml:"blocking_centroid_flows"`

	GeometryNoise bool    `yaml:"geometry_noise"`
	NoiseCoef     float64 `yaml:"noise_coef" validate:"gte=0"`
	Seed          uint64  `yaml:"seed"`
}

// WindowConfig is the assignment time window, seconds since midnight.
type WindowConfig struct {
	Start  float64 `yaml:"start" validate:"gte=0"`
	End    float64 `yaml:"end" validate:"gtfield=Start"`
	Margin float64 `yaml:"margin" validate:"gte=0"`
}

// AssignmentConfig mirrors the orchestrator options.
type AssignmentConfig struct {
	Threads int      `yaml:"threads" validate:"gte=0"`
	Skims   []string `yaml:"skims" validate:"dive,oneof=trav_time boardings transfers in_vehicle_trav_time access_trav_time egress_trav_time waiting_time"`
}

// RunConfig is the root configuration structure.
type RunConfig struct {
	Graph      GraphConfig      `yaml:"graph"`
	Window     WindowConfig     `yaml:"window"`
	Assignment AssignmentConfig `yaml:"assignment"`
}

// Default returns the configuration a missing file or key falls back to.
func Default() RunConfig {
	g := transitgraph.DefaultConfig()
	return RunConfig{
		Graph: GraphConfig{
			UniformDwellTime:       g.UniformDwellTime,
			AlightingPenalty:       g.AlightingPenalty,
			WaitTimeFactor:         g.WaitTimeFactor,
			WalkTimeFactor:         g.WalkTimeFactor,
			WalkingSpeed:           g.WalkingSpeed,
			AccessTimeFactor:       g.AccessTimeFactor,
			EgressTimeFactor:       g.EgressTimeFactor,
			WithInnerStopTransfers: g.WithInnerStopTransfers,
			WithOuterStopTransfers: g.WithOuterStopTransfers,
			WithWalkingEdges:       g.WithWalkingEdges,
			ConnectorMethod:        string(g.ConnectorMethod),
			MaxConnectorsPerZone:   g.MaxConnectorsPerZone,
			BlockingCentroidFlows:  g.BlockingCentroidFlows,
			GeometryNoise:          g.GeometryNoise,
			NoiseCoef:              g.NoiseCoef,
			Seed:                   g.Seed,
		},
		Window: WindowConfig{Start: 6 * 3600, End: 9 * 3600},
		Assignment: AssignmentConfig{
			Skims: []string{"trav_time", "boardings", "waiting_time"},
		},
	}
}

// Load reads and validates a run configuration. Keys absent from the
// file keep their defaults.
func Load(path string) (RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse validates raw YAML configuration bytes.
func Parse(data []byte) (RunConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, fmt.Errorf("config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// Validate applies the struct tag rules to an in-memory configuration.
func Validate(cfg RunConfig) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// GraphConfig converts the file form into builder parameters.
func (c RunConfig) GraphConfig() transitgraph.Config {
	bound := c.Graph.DistanceUpperBound
	if bound == 0 {
		bound = math.Inf(1)
	}
	return transitgraph.Config{
		UniformDwellTime:        c.Graph.UniformDwellTime,
		AlightingPenalty:        c.Graph.AlightingPenalty,
		WaitTimeFactor:          c.Graph.WaitTimeFactor,
		WalkTimeFactor:          c.Graph.WalkTimeFactor,
		WalkingSpeed:            c.Graph.WalkingSpeed,
		AccessTimeFactor:        c.Graph.AccessTimeFactor,
		EgressTimeFactor:        c.Graph.EgressTimeFactor,
		WithInnerStopTransfers:  c.Graph.WithInnerStopTransfers,
		WithOuterStopTransfers:  c.Graph.WithOuterStopTransfers,
		WithWalkingEdges:        c.Graph.WithWalkingEdges,
		ConnectorMethod:         transitgraph.ConnectorMethod(c.Graph.ConnectorMethod),
		DistanceUpperBound:      bound,
		MaxConnectorsPerZone:    c.Graph.MaxConnectorsPerZone,
		AllowMissingConnections: c.Graph.AllowMissingConnections,
		BlockingCentroidFlows:   c.Graph.BlockingCentroidFlows,
		GeometryNoise:           c.Graph.GeometryNoise,
		NoiseCoef:               c.Graph.NoiseCoef,
		Seed:                    c.Graph.Seed,
	}
}

// TimeWindow converts the file form into a schedule window.
func (c RunConfig) TimeWindow() schedule.Window {
	return schedule.Window{Start: c.Window.Start, End: c.Window.End, Margin: c.Window.Margin}
}

// SkimCols resolves the configured skim names.
func (c RunConfig) SkimCols() ([]hyperpath.SkimCol, error) {
	cols := make([]hyperpath.SkimCol, 0, len(c.Assignment.Skims))
	for _, name := range c.Assignment.Skims {
		col, ok := hyperpath.ParseSkimCol(name)
		if !ok {
			return nil, fmt.Errorf("config: unknown skim column %q", name)
		}
		cols = append(cols, col)
	}
	return cols, nil
}
