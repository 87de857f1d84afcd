package stream

import (
	"fmt"
	"strings"
)

// Kind is the type of measurement carried by a stream.
type Kind int

// Stream kinds
const (
	Amplitude Kind = iota
	Phase
)

func (k Kind) String() string {
	switch k {
	case Amplitude:
		return "amp"
	case Phase:
		return "phase"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind accepts "amp", "amplitude" or "phase" (case insensitive).
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "amp", "amplitude":
		return Amplitude, nil
	case "phase":
		return Phase, nil
	}
	return Amplitude, fmt.Errorf("unknown stream kind %q", s)
}

// Key identifies one of the logical device streams.
type Key struct {
	Channel int
	Kind    Kind
}

func (k Key) String() string {
	return fmt.Sprintf("ch%d/%s", k.Channel, k.Kind)
}

// Valid reports whether the key names a stream the device can produce.
func (k Key) Valid() bool {
	return (k.Channel == 1 || k.Channel == 2) && (k.Kind == Amplitude || k.Kind == Phase)
}

// Keys lists every stream a device can produce, in registration order.
var Keys = []Key{
	{1, Amplitude},
	{1, Phase},
	{2, Amplitude},
	{2, Phase},
}
