package hal

import (
	"fmt"
	"image"
)

// NullCamera is a camera that is never present.
type NullCamera struct{}

func (NullCamera) Init() error                    { return fmt.Errorf("camera: %w", ErrNotPresent) }
func (NullCamera) Snapshot() (image.Image, error) { return nil, fmt.Errorf("camera: %w", ErrNotPresent) }
func (NullCamera) Close() error                   { return nil }

// NullAccelerator fails every load.
type NullAccelerator struct{}

func (NullAccelerator) Load(ModelRef, DetectorParams) (Handle, error) {
	return 0, fmt.Errorf("accelerator: %w", ErrNotPresent)
}

func (NullAccelerator) Run(Handle, image.Image) ([]Box, error) {
	return nil, fmt.Errorf("accelerator: %w", ErrNotPresent)
}

func (NullAccelerator) Unload(Handle) error { return nil }

var (
	_ Camera      = NullCamera{}
	_ Accelerator = NullAccelerator{}
	_ StatusSink  = NopStatus{}
)
