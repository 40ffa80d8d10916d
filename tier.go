package uxsched

import (
	"fmt"
	"strconv"
)

// Tier represents the static UX classification of an [Entity]. It is set
// administratively, or by a matching [NameRule], and never decays.
type Tier struct {
	tier
}

// ParseTier creates a new [Tier] from the given value. Values that do not name
// a known tier parse as [Tiers].None.
func ParseTier(t any) Tier {
	switch v := t.(type) {
	case Tier:
		return v
	case string:
		return Tier{stringToTier(v)}
	case fmt.Stringer:
		return Tier{stringToTier(v.String())}
	case int:
		return Tier{intToTier(v)}
	case int64:
		return Tier{intToTier(int(v))}
	case int32:
		return Tier{intToTier(int(v))}
	default:
		return Tier{tierNone}
	}
}

// Level returns the numeric value of the tier as exposed to control planes.
func (t Tier) Level() int {
	return int(t.tier)
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts either a tier name or its numeric level. Unlike
// [ParseTier] it rejects values that do not name a tier.
func (t *Tier) UnmarshalText(b []byte) error {
	s := string(b)
	if v, ok := typeTierMap[s]; ok {
		*t = Tier{v}
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil && tier(n).IsValid() {
		*t = Tier{tier(n)}
		return nil
	}
	return fmt.Errorf("invalid tier %q", s)
}

// Tiers is a more typical enum like structure from other languages, ported to
// Go. It may be used to reference a [Tier] value by name.
var Tiers = tierContainer{
	None:  Tier{tierNone},
	UI:    Tier{tierUI},
	Heavy: Tier{tierHeavy},
}

// All returns all possible tiers.
func (c tierContainer) All() []Tier {
	return []Tier{c.None, c.UI, c.Heavy}
}

type tier int

// UI is the top tier even though Heavy has the larger level: a UI entity
// preempts other UX work and repels it from its core.
const (
	tierNone  tier = 0
	tierUI    tier = 1
	tierHeavy tier = 2
)

var (
	strTierMap = map[tier]string{
		tierNone:  "none",
		tierUI:    "ui",
		tierHeavy: "heavy",
	}

	typeTierMap = map[string]tier{
		"none":  tierNone,
		"ui":    tierUI,
		"heavy": tierHeavy,
	}
)

func (t tier) String() string {
	return strTierMap[t]
}

func (t tier) IsValid() bool {
	_, ok := strTierMap[t]
	return ok
}

func stringToTier(s string) tier {
	if v, ok := typeTierMap[s]; ok {
		return v
	}
	return tierNone
}

func intToTier(n int) tier {
	if t := tier(n); t.IsValid() {
		return t
	}
	return tierNone
}

type tierContainer struct {
	None  Tier
	UI    Tier
	Heavy Tier
}
