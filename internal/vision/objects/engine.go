// Package objects runs the object detector and maps its class ids onto the
// canonical label list.
package objects

import (
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/nfnt/resize"
	"github.com/samber/lo"
	"github.com/spf13/cast"

	"github.com/roach88/visiontool/internal/fault"
	"github.com/roach88/visiontool/internal/hal"
)

// Config locates the model and its metadata on storage and bounds the
// output.
type Config struct {
	StorageRoot  string
	ModelPath    string // relative to StorageRoot
	FlashAddr    *int
	ClassesFile  string
	LabelMapFile string

	// Supported is the canonical label list in output order.
	Supported  []string
	MaxObjects int

	// Fallback is the input size tried after a failed run.
	Fallback image.Point
	Detector hal.DetectorParams
}

// Engine owns the object model handle and its label tables.
type Engine struct {
	accel  hal.Accelerator
	store  hal.Storage
	cfg    Config
	logger *slog.Logger

	handle     hal.Handle
	loaded     bool
	source     string
	classNames []string
	labelMap   map[string]string
	input      image.Point
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine. The model is resolved and loaded on first use.
func New(accel hal.Accelerator, store hal.Storage, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		accel:      accel,
		store:      store,
		cfg:        cfg,
		logger:     slog.Default(),
		classNames: append([]string(nil), cfg.Supported...),
		labelMap:   map[string]string{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Loaded reports whether a model is loaded.
func (e *Engine) Loaded() bool { return e.loaded }

// Source returns where the loaded model came from, or "" when none is.
func (e *Engine) Source() string { return e.source }

// InputSize returns the input size learned from a dimension-mismatch retry,
// or the zero point.
func (e *Engine) InputSize() image.Point { return e.input }

// Deinit unloads the model and forgets its source. Label tables are re-read
// on the next load.
func (e *Engine) Deinit() error {
	if !e.loaded {
		return nil
	}
	err := e.accel.Unload(e.handle)
	e.handle = 0
	e.loaded = false
	e.source = ""
	e.input = image.Point{}
	if err != nil {
		return fmt.Errorf("unload object model: %w", err)
	}
	return nil
}

// resolve prefers a model file on storage, then a flash address.
func (e *Engine) resolve() (hal.ModelRef, bool) {
	if e.store.Available() && e.store.EnsureLayout() == nil && e.store.Exists(e.cfg.ModelPath) {
		return hal.ModelRef{
			Path:   path.Join(e.cfg.StorageRoot, e.cfg.ModelPath),
			Source: hal.SourceStorage,
		}, true
	}
	if e.cfg.FlashAddr != nil {
		return hal.ModelRef{FlashAddr: *e.cfg.FlashAddr, Source: hal.SourceFlash}, true
	}
	return hal.ModelRef{}, false
}

func (e *Engine) ensureLoaded() error {
	if e.loaded {
		return nil
	}
	ref, ok := e.resolve()
	if !ok {
		return fault.New(fault.CodeModelMissing, "objects_model")
	}

	h, err := e.accel.Load(ref, e.cfg.Detector)
	if err != nil {
		e.logger.Warn("object model load failed", "source", ref.Source, "error", err)
		_ = e.Deinit()
		return fault.New(fault.CodeModelMissing, "objects_model")
	}
	e.handle = h
	e.loaded = true
	e.source = ref.Source
	e.classNames = e.loadClassNames()
	e.labelMap = e.loadLabelMap()
	e.logger.Info("object model loaded", "source", ref.Source, "classes", len(e.classNames))
	return nil
}

// loadClassNames reads comma separated or one-per-line class names,
// falling back to the canonical list.
func (e *Engine) loadClassNames() []string {
	fallback := append([]string(nil), e.cfg.Supported...)
	if !e.store.Available() || !e.store.Exists(e.cfg.ClassesFile) {
		return fallback
	}
	data, err := e.store.ReadFile(e.cfg.ClassesFile)
	if err != nil {
		return fallback
	}
	return ParseClassNames(string(data), fallback)
}

// ParseClassNames splits raw on commas when it has any, on lines otherwise.
// Blank entries are dropped; an empty result yields fallback.
func ParseClassNames(raw string, fallback []string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	var parts []string
	if strings.Contains(raw, ",") {
		parts = strings.Split(raw, ",")
	} else {
		parts = strings.Split(raw, "\n")
	}
	names := lo.Compact(lo.Map(parts, func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
	if len(names) == 0 {
		return fallback
	}
	return names
}

func (e *Engine) loadLabelMap() map[string]string {
	if !e.store.Available() || !e.store.Exists(e.cfg.LabelMapFile) {
		return map[string]string{}
	}
	data, err := e.store.ReadFile(e.cfg.LabelMapFile)
	if err != nil {
		return map[string]string{}
	}
	return ParseLabelMap(data)
}

// ParseLabelMap decodes a JSON object of class name to canonical label.
// Keys and values are trimmed and lower-cased; blank pairs are dropped. Any
// decode failure yields an empty map.
func ParseLabelMap(data []byte) map[string]string {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		key := strings.ToLower(strings.TrimSpace(k))
		val := strings.ToLower(strings.TrimSpace(cast.ToString(v)))
		if key == "" || val == "" {
			continue
		}
		out[key] = val
	}
	return out
}

// label maps a class id to a canonical label.
func (e *Engine) label(classID int) (string, bool) {
	if classID < 0 || classID >= len(e.classNames) {
		return "", false
	}
	name := strings.ToLower(strings.TrimSpace(e.classNames[classID]))
	if name == "" {
		return "", false
	}
	if mapped, ok := e.labelMap[name]; ok {
		name = mapped
	}
	if !lo.Contains(e.cfg.Supported, name) {
		return "", false
	}
	return name, true
}

var modelDimsPattern = regexp.MustCompile(`model w=(\d+),\s*h=(\d+)`)

// ParseModelDims extracts the model input size from an accelerator
// dimension-mismatch message.
func ParseModelDims(msg string) (image.Point, bool) {
	m := modelDimsPattern.FindStringSubmatch(msg)
	if m == nil {
		return image.Point{}, false
	}
	w, errW := strconv.Atoi(m[1])
	h, errH := strconv.Atoi(m[2])
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return image.Point{}, false
	}
	return image.Pt(w, h), true
}

func resizeTo(img image.Image, size image.Point) image.Image {
	if img.Bounds().Size() == size {
		return img
	}
	return resize.Resize(uint(size.X), uint(size.Y), img, resize.Bilinear)
}

// run executes the model. After a failure it retries at the size parsed from
// the error, then at the fallback size; a size that works is reused for
// later frames.
func (e *Engine) run(frame image.Image) ([]hal.Box, error) {
	input := frame
	if e.input != (image.Point{}) {
		input = resizeTo(frame, e.input)
	}
	boxes, err := e.accel.Run(e.handle, input)
	if err == nil {
		return boxes, nil
	}

	var candidates []image.Point
	if dims, ok := ParseModelDims(err.Error()); ok {
		candidates = append(candidates, dims)
	}
	if e.cfg.Fallback != (image.Point{}) && !lo.Contains(candidates, e.cfg.Fallback) {
		candidates = append(candidates, e.cfg.Fallback)
	}

	lastErr := err
	for _, size := range candidates {
		e.logger.Debug("object detect retry", "width", size.X, "height", size.Y)
		boxes, err := e.accel.Run(e.handle, resizeTo(frame, size))
		if err == nil {
			e.input = size
			return boxes, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Detect returns the canonical labels seen in frame, in canonical order and
// capped at MaxObjects.
//
// With allowPartial a missing model yields no labels instead of
// MODEL_MISSING.
func (e *Engine) Detect(frame image.Image, allowPartial bool) ([]string, error) {
	if err := e.ensureLoaded(); err != nil {
		if allowPartial && fault.Is(err, fault.CodeModelMissing) {
			return []string{}, nil
		}
		return nil, err
	}

	boxes, err := e.run(frame)
	if err != nil {
		e.logger.Warn("object detect failed", "error", err)
		return nil, fault.New(fault.CodeVisionFailed, "objects_detect")
	}

	seen := lo.FilterMap(boxes, func(b hal.Box, _ int) (string, bool) {
		return e.label(b.ClassID)
	})
	labels, _ := Canonical(seen, e.cfg.Supported, e.cfg.MaxObjects)
	return labels, nil
}

// Canonical returns the members of supported present in labels, in
// supported order, capped at limit. The flag reports truncation. It never
// returns nil.
func Canonical(labels, supported []string, limit int) ([]string, bool) {
	present := lo.Filter(supported, func(s string, _ int) bool {
		return lo.Contains(labels, s)
	})
	if present == nil {
		present = []string{}
	}
	if limit > 0 && len(present) > limit {
		return present[:limit], true
	}
	return present, false
}
