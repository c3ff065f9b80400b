package store

import (
	"fmt"

	"github.com/brensch/mcdock/scoring"
)

const tableSchema = "scoring_table_v1"

// TableRow is the curve of one atom type pair.
type TableRow struct {
	Pair       int32     `parquet:"pair"`
	T0         string    `parquet:"t0,dict"`
	T1         string    `parquet:"t1,dict"`
	NS         int32     `parquet:"ns"`
	Cutoff     float32   `parquet:"cutoff"`
	Energy     []float32 `parquet:"energy"`
	Derivative []float32 `parquet:"derivative"`
}

// WriteTable caches a precalculated table at path, one row per pair in
// pair-index order.
func WriteTable(path string, t *scoring.Table) error {
	rows := make([]TableRow, 0, scoring.NumPairs)
	for t1 := scoring.AtomType(0); t1 < scoring.NumTypes; t1++ {
		for t0 := scoring.AtomType(0); t0 <= t1; t0++ {
			off := t.Offset(t0, t1)
			rows = append(rows, TableRow{
				Pair:       int32(scoring.PairIndex(t0, t1)),
				T0:         t0.String(),
				T1:         t1.String(),
				NS:         int32(t.NS),
				Cutoff:     t.Cutoff,
				Energy:     t.Energy[off : off+t.NR],
				Derivative: t.Derivative[off : off+t.NR],
			})
		}
	}
	return writeFile(path, tableSchema, rows)
}

// ReadTable loads a table written by WriteTable. Any inconsistency in the
// pairs, resolution or curve lengths is reported as ErrSchema.
func ReadTable(path string) (*scoring.Table, error) {
	rows, err := readFile[TableRow](path, tableSchema)
	if err != nil {
		return nil, err
	}
	if len(rows) != scoring.NumPairs {
		return nil, fmt.Errorf("%w: %d pairs, want %d", ErrSchema, len(rows), scoring.NumPairs)
	}
	ns, cutoff := rows[0].NS, rows[0].Cutoff
	if ns <= 0 || cutoff <= 0 {
		return nil, fmt.Errorf("%w: ns=%d cutoff=%g", ErrSchema, ns, cutoff)
	}

	t := scoring.NewTable(int(ns), cutoff)
	var seen [scoring.NumPairs]bool
	for _, r := range rows {
		t0, err0 := scoring.ParseAtomType(r.T0)
		t1, err1 := scoring.ParseAtomType(r.T1)
		if err0 != nil || err1 != nil || t0 > t1 {
			return nil, fmt.Errorf("%w: pair %d has types %q, %q", ErrSchema, r.Pair, r.T0, r.T1)
		}
		if int(r.Pair) != scoring.PairIndex(t0, t1) || seen[r.Pair] {
			return nil, fmt.Errorf("%w: pair index %d for %s-%s", ErrSchema, r.Pair, t0, t1)
		}
		if r.NS != ns || r.Cutoff != cutoff {
			return nil, fmt.Errorf("%w: pair %d has ns=%d cutoff=%g, table has ns=%d cutoff=%g", ErrSchema, r.Pair, r.NS, r.Cutoff, ns, cutoff)
		}
		if len(r.Energy) != t.NR || len(r.Derivative) != t.NR {
			return nil, fmt.Errorf("%w: pair %d has %d/%d bins, want %d", ErrSchema, r.Pair, len(r.Energy), len(r.Derivative), t.NR)
		}
		seen[r.Pair] = true
		off := t.Offset(t0, t1)
		copy(t.Energy[off:off+t.NR], r.Energy)
		copy(t.Derivative[off:off+t.NR], r.Derivative)
	}
	return t, nil
}
