// Package scoring defines the XScore-style atom type vocabulary and the
// precomputed pairwise interaction tables used by the Monte Carlo search.
//
// Tables are sampled uniformly in squared distance so the device kernel can
// look up an energy without taking a square root per atom pair.
package scoring

import "fmt"

// AtomType is an XScore atom type index in [0, NumTypes).
type AtomType uint8

const (
	CH AtomType = iota
	CP
	NP
	ND
	NA
	NDA
	OA
	ODA
	SP
	PP
	FH
	ClH
	BrH
	IH
	MetD
)

// NumTypes is the size of the atom type vocabulary.
const NumTypes = 15

// NumPairs is the number of unordered atom type pairs, self pairs included.
const NumPairs = NumTypes * (NumTypes + 1) / 2

var typeNames = [NumTypes]string{
	"C_H", "C_P", "N_P", "N_D", "N_A", "N_DA", "O_A", "O_DA",
	"S_P", "P_P", "F_H", "Cl_H", "Br_H", "I_H", "Met_D",
}

// VdwRadii holds the van der Waals radius of each atom type, in Angstrom.
var VdwRadii = [NumTypes]float32{
	1.9, // C_H
	1.9, // C_P
	1.8, // N_P
	1.8, // N_D
	1.8, // N_A
	1.8, // N_DA
	1.7, // O_A
	1.7, // O_DA
	2.0, // S_P
	2.1, // P_P
	1.5, // F_H
	1.8, // Cl_H
	2.0, // Br_H
	2.2, // I_H
	1.2, // Met_D
}

func (t AtomType) String() string {
	if int(t) < NumTypes {
		return typeNames[t]
	}
	return fmt.Sprintf("AtomType(%d)", uint8(t))
}

// Valid reports whether t is inside the vocabulary.
func (t AtomType) Valid() bool { return int(t) < NumTypes }

// ParseAtomType maps a name such as "N_DA" back to its type.
func ParseAtomType(name string) (AtomType, error) {
	for i, n := range typeNames {
		if n == name {
			return AtomType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown atom type %q", name)
}

// Hydrophobic reports whether t is one of the hydrophobic carbon or halogen types.
func (t AtomType) Hydrophobic() bool {
	return t == CH || t == FH || t == ClH || t == BrH || t == IH
}

// Donor reports whether t can donate a hydrogen bond.
func (t AtomType) Donor() bool {
	return t == ND || t == NDA || t == ODA || t == MetD
}

// Acceptor reports whether t can accept a hydrogen bond.
func (t AtomType) Acceptor() bool {
	return t == NA || t == NDA || t == OA || t == ODA
}

// BothHydrophobic reports whether both types of the pair are hydrophobic.
func BothHydrophobic(t0, t1 AtomType) bool {
	return t0.Hydrophobic() && t1.Hydrophobic()
}

// HBond reports whether the pair is a donor/acceptor combination.
func HBond(t0, t1 AtomType) bool {
	return (t0.Donor() && t1.Acceptor()) || (t1.Donor() && t0.Acceptor())
}

// Normalize orders a pair so that t0 <= t1, as every table lookup requires.
func Normalize(t0, t1 AtomType) (AtomType, AtomType) {
	if t0 > t1 {
		return t1, t0
	}
	return t0, t1
}

// PairIndex returns the triangular index of the ordered pair (t0 <= t1).
// Passing an unordered pair is a programming error.
func PairIndex(t0, t1 AtomType) int {
	if t0 > t1 {
		panic(fmt.Sprintf("scoring: unordered atom type pair (%s, %s)", t0, t1))
	}
	if !t1.Valid() {
		panic(fmt.Sprintf("scoring: atom type %d out of vocabulary", t1))
	}
	return int(t1)*(int(t1)+1)/2 + int(t0)
}

// MarshalText encodes the type by name.
func (t AtomType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("atom type %d out of vocabulary", uint8(t))
	}
	return []byte(typeNames[t]), nil
}

// UnmarshalText decodes a type name such as "O_DA".
func (t *AtomType) UnmarshalText(b []byte) error {
	v, err := ParseAtomType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
