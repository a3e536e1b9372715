package transitgraph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBinaryRoundTrip(t *testing.T) {
	g := buildFixture(t, DefaultConfig())
	path := filepath.Join(t.TempDir(), "graph.bin")

	require.NoError(t, SaveBinary(path, g))

	loaded, err := LoadBinary(path)
	require.NoError(t, err)

	require.Equal(t, g.Vertices, loaded.Vertices)
	require.Equal(t, g.Edges, loaded.Edges)
	require.Equal(t, g.ODMapping, loaded.ODMapping)
	require.Equal(t, g.Config, loaded.Config)

	// no temp file left behind
	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestBinaryRoundTripEmptyStrings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GeometryNoise = false
	g := buildFixture(t, cfg)
	path := filepath.Join(t.TempDir(), "graph.bin")

	require.NoError(t, SaveBinary(path, g))
	loaded, err := LoadBinary(path)
	require.NoError(t, err)
	require.Equal(t, g.Config, loaded.Config)
	require.Equal(t, g.Edges, loaded.Edges)
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	g := buildFixture(t, DefaultConfig())
	path := filepath.Join(t.TempDir(), "graph.bin")
	require.NoError(t, SaveBinary(path, g))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// flip a byte in the middle
	corrupt := append([]byte(nil), data...)
	corrupt[len(corrupt)/2] ^= 0xff
	badPath := filepath.Join(t.TempDir(), "corrupt.bin")
	require.NoError(t, os.WriteFile(badPath, corrupt, 0o644))
	_, err = LoadBinary(badPath)
	require.Error(t, err)

	// wrong magic
	wrongMagic := append([]byte(nil), data...)
	copy(wrongMagic, "NOTAGRPH")
	require.NoError(t, os.WriteFile(badPath, wrongMagic, 0o644))
	_, err = LoadBinary(badPath)
	require.ErrorContains(t, err, "magic")

	// truncated
	require.NoError(t, os.WriteFile(badPath, data[:len(data)/3], 0o644))
	_, err = LoadBinary(badPath)
	require.Error(t, err)
}
