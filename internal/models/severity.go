package models

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Severity is the ordered threat level attached to hits, snapshots and alerts.
// The zero value is SeverityNone. Comparisons use the integer order.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"NONE", "LOW", "MEDIUM", "HIGH", "CRITICAL"}

func (s Severity) String() string {
	if s < SeverityNone || s > SeverityCritical {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// AtLeast reports whether s is equal to or above other.
func (s Severity) AtLeast(other Severity) bool {
	return s >= other
}

// IsBlocking reports whether s routes to the detection path (HIGH or CRITICAL).
func (s Severity) IsBlocking() bool {
	return s >= SeverityHigh
}

// ParseSeverity accepts the upper- or lower-case name of a level.
func ParseSeverity(s string) (Severity, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range severityNames {
		if n == name {
			return Severity(i), nil
		}
	}
	return SeverityNone, fmt.Errorf("%w: unknown severity %q", ErrValidation, s)
}

func (s Severity) MarshalText() ([]byte, error) {
	if s < SeverityNone || s > SeverityCritical {
		return nil, fmt.Errorf("%w: severity out of range: %d", ErrValidation, int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s *Severity) UnmarshalYAML(value *yaml.Node) error {
	return s.UnmarshalText([]byte(value.Value))
}
