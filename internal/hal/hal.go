// Package hal declares the peripherals the vision runtime drives: camera,
// neural-network accelerator, persistent storage and status indicator.
//
// Implementations are chosen at startup and injected. The null variants
// report the peripheral as absent so the runtime can still answer PING and
// INFO on a bench host.
package hal

import (
	"errors"
	"image"
)

// ErrNotPresent is returned by null peripherals.
var ErrNotPresent = errors.New("peripheral not present")

// Camera captures frames.
type Camera interface {
	// Init prepares the sensor. Calling Init on an initialised camera is a
	// no-op.
	Init() error
	Snapshot() (image.Image, error)
	Close() error
}

// Box is one detection produced by the accelerator, in frame pixels.
type Box struct {
	X, Y, W, H int
	ClassID    int
}

// Area returns W*H.
func (b Box) Area() int {
	return b.W * b.H
}

// Model sources.
const (
	SourceStorage = "storage"
	SourceFlash   = "flash"
)

// ModelRef locates a model either by path on storage or by flash address.
type ModelRef struct {
	Path      string
	FlashAddr int
	Source    string
}

// DetectorParams configures a YOLOv2-style region detector.
type DetectorParams struct {
	Threshold float64
	NMS       float64
	Anchors   []float64
}

// Handle identifies a loaded model.
type Handle int

// Accelerator loads and runs detection models.
type Accelerator interface {
	Load(ref ModelRef, params DetectorParams) (Handle, error)

	// Run executes the model on img. A dimension mismatch is reported as an
	// error whose text carries "but model w=<W>,h=<H>".
	Run(h Handle, img image.Image) ([]Box, error)
	Unload(h Handle) error
}

// Storage is the removable persistence area holding face templates, models
// and the device config. All operations are fallible and non-transactional.
type Storage interface {
	Available() bool
	EnsureLayout() error

	// FacePath returns the storage-relative path of a person's template.
	FacePath(person string) string
	LoadFace(person string) (image.Image, error)
	SaveFace(person string, data []byte) error
	DeleteFace(person string) error

	// ResetFaces removes every stored template and returns how many were
	// removed.
	ResetFaces() (int, error)

	Exists(rel string) bool
	ReadFile(rel string) ([]byte, error)
	ReadConfig() (map[string]any, error)
	WriteConfig(cfg map[string]any) error
}

// State is a status indicator state.
type State string

// Indicator states.
const (
	StateBoot     State = "boot"
	StateIdle     State = "idle"
	StateBusy     State = "busy"
	StateOK       State = "ok"
	StateOwner    State = "owner"
	StateUnknown  State = "unknown"
	StateError    State = "error"
	StateLearning State = "learning"
)

// StatusSink receives indicator updates. Implementations must not fail the
// caller.
type StatusSink interface {
	Set(state State)
}

// NopStatus discards updates.
type NopStatus struct{}

// Set implements StatusSink.
func (NopStatus) Set(State) {}
