// Package scripts holds the change scripts available per item and phase.
package scripts

import (
	"crypto/sha256"
	"fmt"

	"github.com/GoCodeAlone/schemachain/version"
)

// Kind is the shape of a change script.
type Kind int

const (
	// KindFull creates the object from nothing at version At.
	KindFull Kind = iota
	// KindDelta moves the object from version From to version To.
	KindDelta
	// KindPhaseWide carries no version and accompanies any version progress
	// made by its phase.
	KindPhaseWide
)

func (k Kind) String() string {
	switch k {
	case KindFull:
		return "full"
	case KindDelta:
		return "delta"
	case KindPhaseWide:
		return "phase"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Script describes one change script of an item in a phase.
type Script struct {
	Item  string
	Phase Phase
	Kind  Kind

	At   version.Version // KindFull
	From version.Version // KindDelta
	To   version.Version // KindDelta

	Body string
	// Source is where the body came from (file path or manifest location).
	Source string
}

// Full returns a full script.
func Full(item string, phase Phase, at version.Version, body string) *Script {
	return &Script{Item: item, Phase: phase, Kind: KindFull, At: at, Body: body}
}

// Delta returns a delta script.
func Delta(item string, phase Phase, from, to version.Version, body string) *Script {
	return &Script{Item: item, Phase: phase, Kind: KindDelta, From: from, To: to, Body: body}
}

// PhaseWide returns a phase-wide script.
func PhaseWide(item string, phase Phase, body string) *Script {
	return &Script{Item: item, Phase: phase, Kind: KindPhaseWide, Body: body}
}

// ID identifies the script within its (item, phase): "full@1.0.0",
// "delta@1.0.0..1.0.1" or "phase".
func (s *Script) ID() string {
	switch s.Kind {
	case KindFull:
		return "full@" + s.At.String()
	case KindDelta:
		return "delta@" + s.From.String() + ".." + s.To.String()
	default:
		return s.Kind.String()
	}
}

// Reaches returns the version the object is at after the script ran. It is
// meaningless for phase-wide scripts.
func (s *Script) Reaches() version.Version {
	if s.Kind == KindFull {
		return s.At
	}
	return s.To
}

// Checksum is a short sha256 of the body.
func (s *Script) Checksum() string {
	h := sha256.Sum256([]byte(s.Body))
	return fmt.Sprintf("%x", h[:8])
}

func (s *Script) String() string {
	return s.Item + "/" + s.Phase.String() + "/" + s.ID()
}
