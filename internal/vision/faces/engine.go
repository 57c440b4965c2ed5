// Package faces detects the primary face in a frame and matches it against
// enrolled templates.
package faces

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"
	"golang.org/x/image/bmp"

	"github.com/roach88/visiontool/internal/deadline"
	"github.com/roach88/visiontool/internal/fault"
	"github.com/roach88/visiontool/internal/hal"
)

// JPEGQuality is the encoding quality of stored templates.
const JPEGQuality = 90

// Config configures the face detector.
type Config struct {
	ModelAddr  int
	Detector   hal.DetectorParams
	Thresholds Thresholds
}

// Engine runs face detection on the accelerator. It holds only the detector
// handle; templates are owned by the caller.
type Engine struct {
	accel  hal.Accelerator
	cfg    Config
	logger *slog.Logger

	handle hal.Handle
	loaded bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine. The detector is loaded on first use.
func New(accel hal.Accelerator, cfg Config, opts ...Option) *Engine {
	e := &Engine{accel: accel, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Thresholds returns the active match thresholds.
func (e *Engine) Thresholds() Thresholds {
	return e.cfg.Thresholds
}

// SetThresholds replaces the match thresholds.
func (e *Engine) SetThresholds(t Thresholds) {
	e.cfg.Thresholds = t
}

// Loaded reports whether the detector is loaded.
func (e *Engine) Loaded() bool {
	return e.loaded
}

func (e *Engine) ensureDetector() error {
	if e.loaded {
		return nil
	}
	ref := hal.ModelRef{FlashAddr: e.cfg.ModelAddr, Source: hal.SourceFlash}
	h, err := e.accel.Load(ref, e.cfg.Detector)
	if err != nil {
		e.logger.Warn("face detector load failed", "error", err)
		_ = e.Deinit()
		return fault.New(fault.CodeVisionFailed, "face_model")
	}
	e.handle = h
	e.loaded = true
	return nil
}

// Deinit unloads the detector. It is safe to call when nothing is loaded.
func (e *Engine) Deinit() error {
	if !e.loaded {
		return nil
	}
	err := e.accel.Unload(e.handle)
	e.handle = 0
	e.loaded = false
	if err != nil {
		return fmt.Errorf("unload face detector: %w", err)
	}
	return nil
}

// PrimaryFace returns the largest detected face and the number of faces.
// With no faces it returns a zero box and count 0. On equal areas the first
// detection wins.
func (e *Engine) PrimaryFace(frame image.Image) (hal.Box, int, error) {
	if err := e.ensureDetector(); err != nil {
		return hal.Box{}, 0, err
	}
	boxes, err := e.accel.Run(e.handle, frame)
	if err != nil {
		e.logger.Debug("face detect failed", "error", err)
		return hal.Box{}, 0, fault.New(fault.CodeVisionFailed, "face_detect")
	}
	if len(boxes) == 0 {
		return hal.Box{}, 0, nil
	}

	best := boxes[0]
	for _, b := range boxes[1:] {
		if b.Area() > best.Area() {
			best = b
		}
	}
	return best, len(boxes), nil
}

// Recognize identifies the primary face in frame against templates.
//
// No face yields NONE. A face with no templates yields UNKNOWN. Otherwise
// the closest template in KnownPersons order wins, and a distance above the
// weak threshold yields UNKNOWN.
func (e *Engine) Recognize(frame image.Image, templates map[Person]*Template) (Sample, error) {
	box, count, err := e.PrimaryFace(frame)
	if err != nil {
		return Sample{}, err
	}
	if count == 0 {
		return Sample{Person: None, Confidence: 0.0, Score: -1}, nil
	}

	roi, _, ok := extractROI(frame, box)
	if !ok {
		return Sample{}, fault.New(fault.CodeVisionFailed, "face_roi")
	}
	if len(templates) == 0 {
		return Sample{Person: Unknown, Confidence: 0.40, FacesDetected: count, Score: -1}, nil
	}

	candidate := luma(roi)
	bestPerson, bestScore := Unknown, maxDistance
	for _, p := range KnownPersons {
		tpl, ok := templates[p]
		if !ok || tpl == nil {
			continue
		}
		if score := distance(candidate, tpl.lumaValues()); score < bestScore {
			bestPerson, bestScore = p, score
		}
	}

	person := bestPerson
	if bestScore > e.cfg.Thresholds.Weak {
		person = Unknown
	}
	return Sample{
		Person:        person,
		Confidence:    e.cfg.Thresholds.Confidence(bestScore, person),
		FacesDetected: count,
		Score:         bestScore,
	}, nil
}

// Enroll captures up to frames images, keeps the best face and stores it as
// the template for p.
//
// The best face has the largest clamped box area, then the higher luminance
// standard deviation. Frames without a face are skipped.
func (e *Engine) Enroll(
	capture func() (image.Image, error),
	p Person,
	frames int,
	dl deadline.Deadline,
	store hal.Storage,
) (*Template, error) {
	if !IsKnown(p) {
		return nil, fault.New(fault.CodeBadRequest, "bad_person")
	}
	if !store.Available() || store.EnsureLayout() != nil {
		return nil, fault.New(fault.CodeStorageUnavailable, "sd_missing")
	}

	var (
		bestImg   *image.NRGBA
		bestArea  = -1
		bestSharp = -1.0
	)
	for i := 0; i < frames; i++ {
		if err := dl.Check(); err != nil {
			return nil, err
		}
		frame, err := capture()
		if err != nil {
			return nil, err
		}
		box, count, err := e.PrimaryFace(frame)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			continue
		}
		roi, r, ok := extractROI(frame, box)
		if !ok {
			continue
		}

		area := r.Dx() * r.Dy()
		sharp := sharpness(luma(roi))
		if area > bestArea || (area == bestArea && sharp > bestSharp) {
			bestImg, bestArea, bestSharp = roi, area, sharp
		}
	}
	if bestImg == nil {
		return nil, fault.New(fault.CodeVisionFailed, "no_face")
	}

	data, err := encodeTemplate(bestImg)
	if err != nil {
		return nil, fault.New(fault.CodeStorageUnavailable, "sd_write")
	}
	if err := store.SaveFace(string(p), data); err != nil {
		e.logger.Warn("template write failed", "person", string(p), "error", err)
		return nil, fault.New(fault.CodeStorageUnavailable, "sd_write")
	}

	e.logger.Info("template enrolled", "person", string(p), "area", bestArea, "sharpness", bestSharp)
	return &Template{Person: p, Image: bestImg}, nil
}

// encodeTemplate encodes as JPEG, falling back to BMP.
func encodeTemplate(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err == nil {
		return buf.Bytes(), nil
	}
	buf.Reset()
	if err := bmp.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode template: %w", err)
	}
	return buf.Bytes(), nil
}

// ResetStorage deletes every stored template.
func ResetStorage(store hal.Storage) error {
	if !store.Available() || store.EnsureLayout() != nil {
		return fault.New(fault.CodeStorageUnavailable, "sd_missing")
	}
	if _, err := store.ResetFaces(); err != nil {
		return fault.New(fault.CodeStorageUnavailable, "sd_write")
	}
	return nil
}

// LoadTemplates reads the stored templates for every known person. Missing
// or undecodable templates are skipped.
func LoadTemplates(store hal.Storage, logger *slog.Logger) map[Person]*Template {
	out := make(map[Person]*Template)
	if !store.Available() {
		return out
	}
	for _, p := range KnownPersons {
		if !store.Exists(store.FacePath(string(p))) {
			continue
		}
		img, err := store.LoadFace(string(p))
		if err != nil {
			logger.Warn("template skipped", "person", string(p), "error", err)
			continue
		}
		out[p] = NewTemplate(p, img)
	}
	return out
}
