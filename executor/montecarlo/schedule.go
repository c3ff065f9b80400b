package montecarlo

import (
	"fmt"
	"math"
)

// Schedule holds the annealing temperatures and mutation step sizes of a
// search chain.
type Schedule struct {
	// T0 and T1 are the Metropolis temperatures of the first and last
	// generation; the temperature decays geometrically in between.
	T0 float32 `mapstructure:"t0" yaml:"t0"`
	T1 float32 `mapstructure:"t1" yaml:"t1"`

	// StepTranslation is the largest per-axis shift of the ligand position in Angstrom.
	StepTranslation float32 `mapstructure:"step_translation" yaml:"step_translation"`
	// StepRotation is the largest rotation angle of the whole ligand in radians.
	StepRotation float32 `mapstructure:"step_rotation" yaml:"step_rotation"`
	// StepTorsion is the largest change of a single torsion in radians.
	StepTorsion float32 `mapstructure:"step_torsion" yaml:"step_torsion"`

	// InitAttempts bounds the random draws used to find a starting pose with
	// every atom inside the box.
	InitAttempts int `mapstructure:"init_attempts" yaml:"init_attempts"`
}

// DefaultSchedule returns the schedule used when none is configured.
func DefaultSchedule() Schedule {
	return Schedule{
		T0:              1.2,
		T1:              0.1,
		StepTranslation: 1.0,
		StepRotation:    0.35,
		StepTorsion:     0.6,
		InitAttempts:    64,
	}
}

// Validate rejects schedules the kernel cannot run.
func (s Schedule) Validate() error {
	for _, v := range [...]float32{s.T0, s.T1, s.StepTranslation, s.StepRotation, s.StepTorsion} {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("temperatures and step sizes must be finite, got %+v", s)
		}
	}
	if s.T0 <= 0 || s.T1 <= 0 {
		return fmt.Errorf("temperatures must be positive, got t0=%g t1=%g", s.T0, s.T1)
	}
	if s.StepTranslation < 0 || s.StepRotation < 0 || s.StepTorsion < 0 {
		return fmt.Errorf("step sizes must not be negative")
	}
	if s.InitAttempts <= 0 {
		return fmt.Errorf("init attempts must be positive, got %d", s.InitAttempts)
	}
	return nil
}

// Temperature returns the temperature of generation g out of n.
func (s Schedule) Temperature(g, n int) float32 {
	if n <= 0 {
		return s.T0
	}
	frac := float64(g) / float64(n)
	return s.T0 * float32(math.Pow(float64(s.T1/s.T0), frac))
}
