package scan

import "github.com/soniakeys/unit"

// Oracle reports an object's elevation above the observer's horizon at time t.
// Implementations must be deterministic and safe to call at any t in any order.
type Oracle interface {
	Elevation(t float64) unit.Angle
}

// OracleFunc adapts an ordinary function to the Oracle interface.
type OracleFunc func(t float64) unit.Angle

// Elevation calls f(t).
func (f OracleFunc) Elevation(t float64) unit.Angle { return f(t) }

// Sample is one oracle evaluation.
type Sample struct {
	T         float64
	Elevation unit.Angle
}

// Event is a refined pass: the threshold crossings and the peak between them.
type Event struct {
	AOS          float64    // ascending threshold crossing
	TCA          float64    // time of peak elevation
	LOS          float64    // descending threshold crossing
	MaxElevation unit.Angle // elevation at TCA
}

// Duration returns LOS - AOS.
func (e Event) Duration() float64 { return e.LOS - e.AOS }
