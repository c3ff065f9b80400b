package store

import (
	"fmt"

	"github.com/brensch/mcdock/grid"
	"github.com/brensch/mcdock/scoring"
)

const mapsSchema = "grid_maps_v1"

// MapRow is one atom type's grid map together with the box it samples.
type MapRow struct {
	Type        string    `parquet:"type,dict"`
	TypeIndex   int32     `parquet:"type_index"`
	Corner0X    float32   `parquet:"corner0_x"`
	Corner0Y    float32   `parquet:"corner0_y"`
	Corner0Z    float32   `parquet:"corner0_z"`
	Corner1X    float32   `parquet:"corner1_x"`
	Corner1Y    float32   `parquet:"corner1_y"`
	Corner1Z    float32   `parquet:"corner1_z"`
	Granularity float32   `parquet:"granularity"`
	NX          int32     `parquet:"nx"`
	NY          int32     `parquet:"ny"`
	NZ          int32     `parquet:"nz"`
	Values      []float32 `parquet:"values"`
}

func (r MapRow) box() grid.Box {
	return grid.Box{
		Corner0:            [3]float32{r.Corner0X, r.Corner0Y, r.Corner0Z},
		Corner1:            [3]float32{r.Corner1X, r.Corner1Y, r.Corner1Z},
		Granularity:        r.Granularity,
		GranularityInverse: 1 / r.Granularity,
		NumProbes:          [3]int{int(r.NX), int(r.NY), int(r.NZ)},
	}
}

// WriteMaps stores every non-empty map of maps, indexed by atom type.
func WriteMaps(path string, box grid.Box, maps [][]float32) error {
	if err := box.Validate(); err != nil {
		return err
	}
	var rows []MapRow
	for t, m := range maps {
		if len(m) == 0 {
			continue
		}
		if len(m) != box.Points() {
			return fmt.Errorf("grid map %s has %d points, box has %d", scoring.AtomType(t), len(m), box.Points())
		}
		rows = append(rows, MapRow{
			Type:        scoring.AtomType(t).String(),
			TypeIndex:   int32(t),
			Corner0X:    box.Corner0[0],
			Corner0Y:    box.Corner0[1],
			Corner0Z:    box.Corner0[2],
			Corner1X:    box.Corner1[0],
			Corner1Y:    box.Corner1[1],
			Corner1Z:    box.Corner1[2],
			Granularity: box.Granularity,
			NX:          int32(box.NumProbes[0]),
			NY:          int32(box.NumProbes[1]),
			NZ:          int32(box.NumProbes[2]),
			Values:      m,
		})
	}
	if len(rows) == 0 {
		return fmt.Errorf("no grid maps to write")
	}
	return writeFile(path, mapsSchema, rows)
}

// ReadMaps loads a map set. The returned slice has one entry per atom type,
// nil where the file has no map. Rows must agree on the box.
func ReadMaps(path string) (grid.Box, [][]float32, error) {
	rows, err := readFile[MapRow](path, mapsSchema)
	if err != nil {
		return grid.Box{}, nil, err
	}
	if len(rows) == 0 {
		return grid.Box{}, nil, fmt.Errorf("%w: %s has no maps", ErrSchema, path)
	}

	box := rows[0].box()
	if err := box.Validate(); err != nil {
		return grid.Box{}, nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	maps := make([][]float32, scoring.NumTypes)
	for _, r := range rows {
		t, err := scoring.ParseAtomType(r.Type)
		if err != nil || int32(t) != r.TypeIndex {
			return grid.Box{}, nil, fmt.Errorf("%w: map type %q at index %d", ErrSchema, r.Type, r.TypeIndex)
		}
		if r.box() != box {
			return grid.Box{}, nil, fmt.Errorf("%w: map %s samples a different box", ErrSchema, t)
		}
		if len(r.Values) != box.Points() {
			return grid.Box{}, nil, fmt.Errorf("%w: map %s has %d points, box has %d", ErrSchema, t, len(r.Values), box.Points())
		}
		if maps[t] != nil {
			return grid.Box{}, nil, fmt.Errorf("%w: map %s appears twice", ErrSchema, t)
		}
		maps[t] = r.Values
	}
	return box, maps, nil
}
