package model

import (
	"fmt"
	"strings"
)

// Class tells rotating media apart from flash. The zero value is
// ClassMechanical, so a device which never reported its rotation rate keeps
// the surface scan in the plan.
type Class int

const (
	ClassMechanical Class = iota
	ClassSolidState
)

func (c Class) String() string {
	switch c {
	case ClassSolidState:
		return "solid-state"
	default:
		return "mechanical"
	}
}

func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Class) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "solid-state", "ssd":
		*c = ClassSolidState
	case "mechanical", "hdd", "":
		*c = ClassMechanical
	default:
		return fmt.Errorf("unknown device class %q", string(text))
	}
	return nil
}

// SelfTest is a kind of vendor self-test.
type SelfTest string

const (
	SelfTestShort    SelfTest = "short"
	SelfTestExtended SelfTest = "long"
)

// Profile is identity and capability of a device, resolved once per run.
type Profile struct {
	Path            string `json:"path" yaml:"path"`
	Model           string `json:"model" yaml:"model"`
	Serial          string `json:"serial" yaml:"serial"`
	Class           Class  `json:"class" yaml:"class"`
	CapacityBytes   uint64 `json:"capacity_bytes,omitempty" yaml:"capacity_bytes,omitempty"`
	ShortMinutes    int    `json:"short_minutes" yaml:"short_minutes"`
	ExtendedMinutes int    `json:"extended_minutes" yaml:"extended_minutes"`
}

// Normalize clamps unreported or bogus durations to zero.
func (p Profile) Normalize() Profile {
	p.ShortMinutes = max(p.ShortMinutes, 0)
	p.ExtendedMinutes = max(p.ExtendedMinutes, 0)
	p.Model = strings.TrimSpace(p.Model)
	p.Serial = strings.TrimSpace(p.Serial)
	return p
}

// Minutes returns the reported duration of a given self-test.
func (p Profile) Minutes(kind SelfTest) int {
	if kind == SelfTestExtended {
		return p.ExtendedMinutes
	}
	return p.ShortMinutes
}

func (p Profile) String() string {
	return fmt.Sprintf("%s (model %q, serial %q, %s)", p.Path, p.Model, p.Serial, p.Class)
}
