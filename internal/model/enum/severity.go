package enum

import "fmt"

// Severity ranks operator alerts.
type Severity uint8

const (
	_severity_beg Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityCritical
	_severity_end
)

func (s Severity) IsAvailable() bool {
	return s > _severity_beg && s < _severity_end
}

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "info":
		*s = SeverityInfo
	case "warning":
		*s = SeverityWarning
	case "critical":
		*s = SeverityCritical
	default:
		return fmt.Errorf("invalid severity: %q", b)
	}
	return nil
}
