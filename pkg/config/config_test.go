package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"transit_assign/pkg/hyperpath"
	"transit_assign/pkg/transitgraph"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestParseKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := Parse([]byte(`
graph:
  walking_speed: 1.5
window:
  start: 28800
  end: 32400
`))
	require.NoError(t, err)
	require.Equal(t, 1.5, cfg.Graph.WalkingSpeed)

	def := Default()
	require.Equal(t, def.Graph.WaitTimeFactor, cfg.Graph.WaitTimeFactor)
	require.Equal(t, def.Graph.ConnectorMethod, cfg.Graph.ConnectorMethod)
	require.Equal(t, def.Assignment.Skims, cfg.Assignment.Skims)

	win := cfg.TimeWindow()
	require.Equal(t, 28800.0, win.Start)
	require.Equal(t, 32400.0, win.End)
}

func TestParseRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"unknown connector method": "graph:\n  connector_method: closest\n",
		"zero walking speed":       "graph:\n  walking_speed: 0\n",
		"negative dwell time":      "graph:\n  uniform_dwell_time: -1\n",
		"zero wait time factor":    "graph:\n  wait_time_factor: 0\n",
		"window end before start":  "window:\n  start: 32400\n  end: 28800\n",
		"unknown skim name":        "assignment:\n  skims: [trav_time, speed]\n",
		"negative threads":         "assignment:\n  threads: -2\n",
		"malformed yaml":           "graph: [\n",
	}
	for name, body := range cases {
		_, err := Parse([]byte(body))
		require.Error(t, err, name)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yml")
	body := `
graph:
  connector_method: overlapping_regions
  distance_upper_bound: 500
assignment:
  threads: 4
  skims: [trav_time, transfers]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Assignment.Threads)

	gc := cfg.GraphConfig()
	require.Equal(t, transitgraph.ConnectorOverlappingRegions, gc.ConnectorMethod)
	require.Equal(t, 500.0, gc.DistanceUpperBound)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}

func TestGraphConfigUnboundedDistance(t *testing.T) {
	cfg := Default()
	require.Zero(t, cfg.Graph.DistanceUpperBound)
	require.True(t, math.IsInf(cfg.GraphConfig().DistanceUpperBound, 1))
}

func TestSkimCols(t *testing.T) {
	cfg := Default()
	cfg.Assignment.Skims = []string{"trav_time", "waiting_time", "boardings"}
	cols, err := cfg.SkimCols()
	require.NoError(t, err)
	require.Equal(t, []hyperpath.SkimCol{
		hyperpath.SkimTravTime,
		hyperpath.SkimWaitingTime,
		hyperpath.SkimBoardings,
	}, cols)

	cfg.Assignment.Skims = []string{"speed"}
	_, err = cfg.SkimCols()
	require.ErrorContains(t, err, "speed")
}
