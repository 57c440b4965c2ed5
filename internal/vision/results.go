package vision

import (
	"math"

	"github.com/roach88/visiontool/internal/hal"
	"github.com/roach88/visiontool/internal/vision/faces"
)

// Indicator is implemented by results that select a status indicator state
// after a successful response.
type Indicator interface {
	Indicator() hal.State
}

// Confidence is the confidence member of identity results.
type Confidence struct {
	Person float64 `json:"person"`
}

// Capabilities advertises what the device can do.
type Capabilities struct {
	Faces   bool `json:"faces"`
	Objects bool `json:"objects"`
	Learn   bool `json:"learn"`
	SD      bool `json:"sd"`
}

// InfoResult answers INFO.
type InfoResult struct {
	Tool            string       `json:"tool"`
	FWVersion       string       `json:"fw_version"`
	ProtocolVersion string       `json:"protocol_version"`
	Capabilities    Capabilities `json:"capabilities"`
	SessionID       string       `json:"session_id,omitempty"`
}

// Indicator implements Indicator.
func (InfoResult) Indicator() hal.State { return hal.StateIdle }

// PingResult answers PING.
type PingResult struct {
	Status string `json:"status"`
	Tool   string `json:"tool"`
}

// Indicator implements Indicator.
func (PingResult) Indicator() hal.State { return hal.StateOK }

// ScanResult answers SCAN.
type ScanResult struct {
	Person        faces.Person   `json:"person"`
	FacesDetected int            `json:"faces_detected"`
	Objects       []string       `json:"objects"`
	Frames        int            `json:"frames"`
	Truncated     bool           `json:"truncated"`
	Confidence    *Confidence    `json:"confidence,omitempty"`
	Debug         map[string]any `json:"debug,omitempty"`
}

// Indicator implements Indicator.
func (r ScanResult) Indicator() hal.State { return personState(r.Person) }

// WhoResult answers WHO.
type WhoResult struct {
	Person     faces.Person   `json:"person"`
	Frames     int            `json:"frames"`
	Confidence *Confidence    `json:"confidence,omitempty"`
	Debug      map[string]any `json:"debug,omitempty"`
}

// Indicator implements Indicator.
func (r WhoResult) Indicator() hal.State { return personState(r.Person) }

// ObjectsResult answers OBJECTS.
type ObjectsResult struct {
	Objects   []string       `json:"objects"`
	Frames    int            `json:"frames"`
	Truncated bool           `json:"truncated"`
	Debug     map[string]any `json:"debug,omitempty"`
}

// Indicator implements Indicator.
func (ObjectsResult) Indicator() hal.State { return hal.StateIdle }

// StatusResult answers LEARN and RESET_FACES.
type StatusResult struct {
	Status string         `json:"status"`
	Person faces.Person   `json:"person,omitempty"`
	Debug  map[string]any `json:"debug,omitempty"`
}

// Indicator implements Indicator.
func (r StatusResult) Indicator() hal.State {
	if faces.IsKnown(r.Person) {
		return hal.StateOwner
	}
	return hal.StateOK
}

// DebugResult answers DEBUG.
type DebugResult struct {
	Debug bool `json:"debug"`
}

// Indicator implements Indicator.
func (DebugResult) Indicator() hal.State { return hal.StateIdle }

func personState(p faces.Person) hal.State {
	switch {
	case faces.IsKnown(p):
		return hal.StateOwner
	case p == faces.Unknown:
		return hal.StateUnknown
	default:
		return hal.StateIdle
	}
}

// confidenceFor rounds to two decimals, or nil for NONE.
func confidenceFor(agg faces.Aggregate) *Confidence {
	if agg.Person == faces.None {
		return nil
	}
	return &Confidence{Person: math.Round(agg.Confidence*100) / 100}
}
