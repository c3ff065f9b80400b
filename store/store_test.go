package store

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/mcdock/internal/testutil"
	"github.com/brensch/mcdock/scoring"
)

func bits(v []float32) []uint32 {
	out := make([]uint32, len(v))
	for i, f := range v {
		out[i] = math.Float32bits(f)
	}
	return out
}

func TestTableRoundTripIsBitExact(t *testing.T) {
	tab := scoring.NewTable(10, 4)
	tab.PrecalculateAll()
	path := filepath.Join(t.TempDir(), "table.parquet")

	require.NoError(t, WriteTable(path, tab))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file left behind")

	got, err := ReadTable(path)
	require.NoError(t, err)
	assert.Equal(t, tab.NS, got.NS)
	assert.Equal(t, tab.NR, got.NR)
	assert.Equal(t, tab.Cutoff, got.Cutoff)
	assert.Equal(t, bits(tab.Energy), bits(got.Energy))
	assert.Equal(t, bits(tab.Derivative), bits(got.Derivative))
	assert.Equal(t, tab.Evaluate(scoring.CH, scoring.OA, 9), got.Evaluate(scoring.CH, scoring.OA, 9))
}

func TestReadTableRejectsOtherSchemas(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "maps.parquet")
	b := testutil.Box()
	require.NoError(t, WriteMaps(path, b, testutil.Funnel(b, scoring.CH)))

	_, err := ReadTable(path)
	assert.True(t, errors.Is(err, ErrSchema))
}

func TestReadTableRejectsIncompleteTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "table.parquet")
	rows := []TableRow{{Pair: 0, T0: "C_H", T1: "C_H", NS: 10, Cutoff: 4, Energy: make([]float32, 161), Derivative: make([]float32, 161)}}
	require.NoError(t, writeFile(path, tableSchema, rows))

	_, err := ReadTable(path)
	assert.True(t, errors.Is(err, ErrSchema))
}

func TestMapsRoundTrip(t *testing.T) {
	b := testutil.Box()
	maps := testutil.Funnel(b, scoring.CH, scoring.ODA, scoring.MetD)
	path := filepath.Join(t.TempDir(), "maps", "pocket.parquet")

	require.NoError(t, WriteMaps(path, b, maps))
	gotBox, got, err := ReadMaps(path)
	require.NoError(t, err)
	assert.Equal(t, b, gotBox)
	require.Len(t, got, scoring.NumTypes)
	for typ := range got {
		assert.Equal(t, maps[typ], got[typ], "type %s", scoring.AtomType(typ))
	}
}

func TestWriteMapsRejectsBadInput(t *testing.T) {
	b := testutil.Box()
	dir := t.TempDir()
	assert.Error(t, WriteMaps(filepath.Join(dir, "a.parquet"), b, make([][]float32, scoring.NumTypes)))

	short := [][]float32{make([]float32, 3)}
	assert.Error(t, WriteMaps(filepath.Join(dir, "b.parquet"), b, short))
}

func TestResultWriterFinalizesIntoPlace(t *testing.T) {
	dir := t.TempDir()
	rows := []ResultRow{
		{Ligand: "butanol", Task: 0, Rank: 1, Energy: -3.5, Seed: 7, Salt: 3, Conformation: []float32{1, 2, 3, 1, 0, 0, 0, 0.5, -0.5}},
		{Ligand: "butanol", Task: 1, Rank: 0, Energy: -4.25, Seed: 7, Salt: 1 << 40, Conformation: []float32{0, 0, 0, 1, 0, 0, 0, 0.1, 0.2}},
	}

	path, err := WriteResultsAtomic(dir, rows)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	got, err := ReadResults(path)
	require.NoError(t, err)
	assert.Equal(t, rows, got)

	tmp, err := os.ReadDir(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, tmp)
}

func TestEmptyResultBatchIsDropped(t *testing.T) {
	dir := t.TempDir()
	w, err := NewResultWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w.WriteRows(nil))

	path, n, err := w.Finalize()
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Zero(t, n)
	assert.Error(t, w.WriteRows([]ResultRow{{Ligand: "x"}}))

	path, _, err = w.Finalize()
	assert.NoError(t, err)
	assert.Empty(t, path)
}
