package model

import "strings"

// Priority is the three-tier risk classification assigned at triage.
type Priority string

const (
	PriorityUnclassified Priority = ""
	PriorityLow          Priority = "BAIXA"
	PriorityMedium       Priority = "MEDIA"
	PriorityHigh         Priority = "ALTA"
)

// ParsePriority accepts the wire values in any case plus the English names.
// The five-level emergency scale used by older desks is deliberately not
// mapped here; its values come back as unclassified.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ALTA", "HIGH":
		return PriorityHigh, true
	case "MEDIA", "MÉDIA", "MEDIUM":
		return PriorityMedium, true
	case "BAIXA", "LOW":
		return PriorityLow, true
	}
	return PriorityUnclassified, false
}

// Rank orders tiers: HIGH > MEDIUM > LOW > unclassified.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

func (p Priority) Classified() bool {
	return p.Rank() > 0
}

// Label is the text shown on the waiting-room panel.
func (p Priority) Label() string {
	switch p {
	case PriorityHigh:
		return "Red (High)"
	case PriorityMedium:
		return "Yellow (Medium)"
	case PriorityLow:
		return "Green (Low)"
	}
	return "Unclassified"
}
