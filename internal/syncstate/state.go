// Package syncstate classifies a node from its local, base and remote state.
package syncstate

import "strings"

type Direction uint8

const (
	InSync Direction = iota
	Incoming
	Outgoing
	Conflicting
)

func (d Direction) String() string {
	switch d {
	case Incoming:
		return "INCOMING"
	case Outgoing:
		return "OUTGOING"
	case Conflicting:
		return "CONFLICTING"
	default:
		return "IN_SYNC"
	}
}

type ChangeKind uint8

const (
	NoChange ChangeKind = iota
	Addition
	Deletion
	Change
)

func (k ChangeKind) String() string {
	switch k {
	case Addition:
		return "ADDITION"
	case Deletion:
		return "DELETION"
	case Change:
		return "CHANGE"
	default:
		return "NONE"
	}
}

// State is derived on demand and never stored.
type State struct {
	Direction      Direction  `json:"direction" yaml:"direction"`
	Kind           ChangeKind `json:"kind" yaml:"kind"`
	PseudoConflict bool       `json:"pseudo_conflict,omitempty" yaml:"pseudo_conflict,omitempty"`
}

var Synced = State{}

func (s State) IsInSync() bool {
	return s.Direction == InSync
}

func (s State) IsPseudoConflict() bool {
	return s.PseudoConflict
}

// WithPseudoConflict flags s without touching direction or kind.
func (s State) WithPseudoConflict() State {
	s.PseudoConflict = true
	return s
}

func (s State) String() string {
	if s.Direction == InSync {
		return s.Direction.String()
	}
	var b strings.Builder
	b.WriteString(s.Direction.String())
	b.WriteByte('|')
	b.WriteString(s.Kind.String())
	if s.PseudoConflict {
		b.WriteString("+PSEUDO")
	}
	return b.String()
}

// MarshalText lets yaml and json print the compact form.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (k ChangeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
