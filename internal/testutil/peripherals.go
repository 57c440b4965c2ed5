package testutil

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/roach88/visiontool/internal/hal"
)

// Frame returns a w×h frame filled with a gradient seeded by seed. Frames
// with different seeds give distinct face patches.
func Frame(w, h int, seed uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x*3 + y*5 + int(seed)*37) % 256)
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

// Solid returns a uniform w×h frame.
func Solid(w, h int, shade uint8) *image.NRGBA {
	return imaging.New(w, h, color.NRGBA{R: shade, G: shade, B: shade, A: 255})
}

// FakeCamera serves Frames in order, wrapping around.
type FakeCamera struct {
	mu sync.Mutex

	Frames  []image.Image
	InitErr error
	SnapErr error

	Inits, Closes, Snaps int
	initialised          bool
	next                 int
}

// Init implements hal.Camera.
func (c *FakeCamera) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Inits++
	if c.InitErr != nil {
		return c.InitErr
	}
	c.initialised = true
	return nil
}

// Snapshot implements hal.Camera.
func (c *FakeCamera) Snapshot() (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Snaps++
	if c.SnapErr != nil {
		return nil, c.SnapErr
	}
	if !c.initialised {
		return nil, errors.New("camera not initialised")
	}
	if len(c.Frames) == 0 {
		return Solid(320, 240, 0), nil
	}
	f := c.Frames[c.next%len(c.Frames)]
	c.next++
	return f, nil
}

// Close implements hal.Camera.
func (c *FakeCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closes++
	c.initialised = false
	return nil
}

// RunResult is one scripted accelerator run.
type RunResult struct {
	Boxes []hal.Box
	Err   error
}

// FakeModel scripts the behaviour of one model.
type FakeModel struct {
	LoadErr error

	// Input, when non-zero, is the only accepted frame size. Other sizes
	// fail the way the accelerator reports a dimension mismatch.
	Input image.Point

	// Results are returned in order; the last one repeats.
	Results []RunResult

	runs int
}

// ModelKey names a model reference: its path, or its flash address.
func ModelKey(ref hal.ModelRef) string {
	if ref.Path != "" {
		return ref.Path
	}
	return fmt.Sprintf("flash:%#x", ref.FlashAddr)
}

// FakeAccelerator runs scripted models keyed by ModelKey.
type FakeAccelerator struct {
	mu sync.Mutex

	Models map[string]*FakeModel

	Loads    []hal.ModelRef
	Unloads  int
	RunSizes []image.Point

	loaded map[hal.Handle]string
	next   hal.Handle
}

// NewFakeAccelerator creates an accelerator with no models.
func NewFakeAccelerator() *FakeAccelerator {
	return &FakeAccelerator{Models: make(map[string]*FakeModel)}
}

// Add registers a model under key and returns it.
func (a *FakeAccelerator) Add(key string, m *FakeModel) *FakeModel {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Models[key] = m
	return m
}

// Load implements hal.Accelerator.
func (a *FakeAccelerator) Load(ref hal.ModelRef, _ hal.DetectorParams) (hal.Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Loads = append(a.Loads, ref)

	key := ModelKey(ref)
	m, ok := a.Models[key]
	if !ok {
		return 0, fmt.Errorf("load %s: %w", key, os.ErrNotExist)
	}
	if m.LoadErr != nil {
		return 0, m.LoadErr
	}
	if a.loaded == nil {
		a.loaded = make(map[hal.Handle]string)
	}
	a.next++
	a.loaded[a.next] = key
	return a.next, nil
}

// Run implements hal.Accelerator.
func (a *FakeAccelerator) Run(h hal.Handle, img image.Image) ([]hal.Box, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := img.Bounds().Size()
	a.RunSizes = append(a.RunSizes, size)

	key, ok := a.loaded[h]
	if !ok {
		return nil, fmt.Errorf("run: handle %d not loaded", h)
	}
	m := a.Models[key]
	if m.Input != (image.Point{}) && size != m.Input {
		return nil, fmt.Errorf("[MAIXPY]kpu: img w=%d,h=%d, but model w=%d,h=%d",
			size.X, size.Y, m.Input.X, m.Input.Y)
	}
	if len(m.Results) == 0 {
		return nil, nil
	}
	i := m.runs
	if i >= len(m.Results) {
		i = len(m.Results) - 1
	}
	m.runs++
	r := m.Results[i]
	return r.Boxes, r.Err
}

// Unload implements hal.Accelerator.
func (a *FakeAccelerator) Unload(h hal.Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Unloads++
	delete(a.loaded, h)
	return nil
}

// Loaded returns the number of models currently loaded.
func (a *FakeAccelerator) Loaded() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.loaded)
}

var (
	_ hal.Camera      = (*FakeCamera)(nil)
	_ hal.Accelerator = (*FakeAccelerator)(nil)
)
