package model

import (
	"fmt"
	"strings"
)

// Cadence is how often an event repeats.
type Cadence int

const (
	CadenceNone Cadence = iota
	CadenceDaily
	CadenceWeekly
	CadenceMonthly
	CadenceYearly
)

var cadenceNames = [...]string{"none", "daily", "weekly", "monthly", "yearly"}

func (c Cadence) String() string {
	if c < 0 || int(c) >= len(cadenceNames) {
		return fmt.Sprintf("cadence(%d)", int(c))
	}
	return cadenceNames[c]
}

func (c Cadence) Recurring() bool { return c > CadenceNone && c <= CadenceYearly }

// ParseCadence accepts the names above (case-insensitive) and "" for none.
func ParseCadence(s string) (Cadence, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "off" || s == "never" {
		return CadenceNone, nil
	}
	for i, n := range cadenceNames {
		if n == s {
			return Cadence(i), nil
		}
	}
	return CadenceNone, fmt.Errorf("unknown repeat %q (want none, daily, weekly, monthly or yearly)", s)
}
