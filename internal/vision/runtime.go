// Package vision orchestrates multi-frame capture over the face and object
// engines and owns the camera, model and template lifecycle.
package vision

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cast"
	"go.uber.org/multierr"

	"github.com/roach88/visiontool/internal/config"
	"github.com/roach88/visiontool/internal/deadline"
	"github.com/roach88/visiontool/internal/fault"
	"github.com/roach88/visiontool/internal/hal"
	"github.com/roach88/visiontool/internal/vision/faces"
	"github.com/roach88/visiontool/internal/vision/objects"
)

// Runtime executes vision commands. It is driven by one goroutine.
type Runtime struct {
	cam     hal.Camera
	store   hal.Storage
	faces   *faces.Engine
	objects *objects.Engine
	cfg     config.VisionConfig
	clk     clock.Clock
	logger  *slog.Logger

	cameraReady bool
	templates   map[faces.Person]*faces.Template
	debug       bool
	lastDebug   map[string]any
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock sets the clock used for debug timings.
func WithClock(clk clock.Clock) Option {
	return func(r *Runtime) { r.clk = clk }
}

// WithLogger sets the runtime logger. The engines share it.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// New builds a runtime and its engines from cfg.
func New(cam hal.Camera, accel hal.Accelerator, store hal.Storage, cfg *config.Config, opts ...Option) *Runtime {
	r := &Runtime{
		cam:       cam,
		store:     store,
		cfg:       cfg.Vision,
		clk:       clock.New(),
		logger:    slog.Default(),
		templates: make(map[faces.Person]*faces.Template),
		lastDebug: map[string]any{},
	}
	for _, opt := range opts {
		opt(r)
	}

	detector := hal.DetectorParams{
		Threshold: cfg.Vision.Detector.Threshold,
		NMS:       cfg.Vision.Detector.NMS,
		Anchors:   cfg.Vision.Detector.Anchors,
	}
	r.faces = faces.New(accel, faces.Config{
		ModelAddr: cfg.Vision.FaceModelAddr,
		Detector:  detector,
		Thresholds: faces.Thresholds{
			Strong: cfg.Vision.FaceScoreStrong,
			Weak:   cfg.Vision.FaceScoreWeak,
		},
	}, faces.WithLogger(r.logger))
	r.objects = objects.New(accel, store, objects.Config{
		StorageRoot:  cfg.Storage.Root,
		ModelPath:    cfg.Storage.ObjectModel,
		FlashAddr:    cfg.Vision.ObjectModelFlashAddr,
		ClassesFile:  cfg.Storage.ClassesFile,
		LabelMapFile: cfg.Storage.LabelMapFile,
		Supported:    cfg.Vision.SupportedObjects,
		MaxObjects:   cfg.Vision.MaxObjects,
		Fallback:     image.Pt(cfg.Vision.FallbackInput.Width, cfg.Vision.FallbackInput.Height),
		Detector:     detector,
	}, objects.WithLogger(r.logger))
	return r
}

// Boot initialises the camera, applies device overrides from storage and
// loads stored templates. A camera failure is returned but the rest of boot
// still runs, so the device keeps serving.
func (r *Runtime) Boot() error {
	camErr := r.ensureCamera()
	if camErr != nil {
		r.logger.Warn("camera init failed at boot", "error", camErr)
	}

	if r.store.Available() {
		raw, err := r.store.ReadConfig()
		if err != nil {
			r.logger.Warn("device config ignored", "error", err)
		} else {
			r.applyOverrides(config.ParseDeviceOverrides(raw))
		}
	}

	r.templates = faces.LoadTemplates(r.store, r.logger)
	r.logger.Info("vision ready",
		"templates", len(r.templates),
		"camera", r.cameraReady,
		"sd", r.store.Available(),
	)
	return camErr
}

func (r *Runtime) applyOverrides(o config.DeviceOverrides) {
	if o.Debug != nil {
		r.debug = *o.Debug
	}
	o.Apply(&r.cfg)
	r.faces.SetThresholds(faces.Thresholds{Strong: r.cfg.FaceScoreStrong, Weak: r.cfg.FaceScoreWeak})
}

func (r *Runtime) ensureCamera() error {
	if r.cameraReady {
		return nil
	}
	if err := r.cam.Init(); err != nil {
		r.logger.Debug("camera init failed", "error", err)
		return fault.New(fault.CodeVisionFailed, "camera")
	}
	r.cameraReady = true
	return nil
}

func (r *Runtime) capture() (image.Image, error) {
	if err := r.ensureCamera(); err != nil {
		return nil, err
	}
	frame, err := r.cam.Snapshot()
	if err != nil {
		r.logger.Debug("snapshot failed", "error", err)
		return nil, fault.New(fault.CodeVisionFailed, "snapshot")
	}
	return frame, nil
}

// Info reports identity and capabilities.
func (r *Runtime) Info() InfoResult {
	return InfoResult{
		Tool:            config.ToolName,
		FWVersion:       config.FWVersion,
		ProtocolVersion: config.ProtocolVersion,
		Capabilities: Capabilities{
			Faces:   true,
			Objects: true,
			Learn:   true,
			SD:      r.store.Available(),
		},
	}
}

// SetDebug toggles debug enrichment of results.
func (r *Runtime) SetDebug(enabled bool) DebugResult {
	r.debug = enabled
	r.logger.Info("debug toggled", "enabled", enabled)
	return DebugResult{Debug: enabled}
}

// Debug reports whether results carry debug details.
func (r *Runtime) Debug() bool { return r.debug }

// Templates returns the number of enrolled templates in memory.
func (r *Runtime) Templates() int { return len(r.templates) }

func (r *Runtime) enrich() map[string]any {
	if !r.debug {
		return nil
	}
	return r.lastDebug
}

func (r *Runtime) objectModelInfo(d map[string]any) {
	if src := r.objects.Source(); src != "" {
		d["object_model"] = src
	} else {
		d["object_model"] = nil
	}
	if size := r.objects.InputSize(); size != (image.Point{}) {
		d["input_size"] = []int{size.X, size.Y}
	}
}

// Scan runs face recognition and object detection over N frames.
func (r *Runtime) Scan(args map[string]any, dl deadline.Deadline) (ScanResult, error) {
	frames := scanFrames(args, r.cfg.MaxScanFrames)
	allowPartial := BoolArg(args["allow_partial"], false)
	begin := r.clk.Now()

	samples := make([]faces.Sample, 0, frames)
	var seen []string
	for i := 0; i < frames; i++ {
		if err := dl.Check(); err != nil {
			return ScanResult{}, err
		}
		frame, err := r.capture()
		if err != nil {
			return ScanResult{}, err
		}
		sample, err := r.faces.Recognize(frame, r.templates)
		if err != nil {
			return ScanResult{}, err
		}
		labels, err := r.objects.Detect(frame, allowPartial)
		if err != nil {
			return ScanResult{}, err
		}
		samples = append(samples, sample)
		seen = append(seen, labels...)
	}

	agg := faces.Vote(samples)
	labels, truncated := objects.Canonical(seen, r.cfg.SupportedObjects, r.cfg.MaxObjects)

	r.lastDebug = map[string]any{
		"elapsed_ms": r.clk.Since(begin).Milliseconds(),
		"templates":  len(r.templates),
	}
	r.objectModelInfo(r.lastDebug)

	r.logger.Debug("scan done", "frames", frames, "person", string(agg.Person), "objects", len(labels))
	return ScanResult{
		Person:        agg.Person,
		FacesDetected: agg.FacesDetected,
		Objects:       labels,
		Frames:        frames,
		Truncated:     truncated,
		Confidence:    confidenceFor(agg),
		Debug:         r.enrich(),
	}, nil
}

// Who runs face recognition only.
func (r *Runtime) Who(args map[string]any, dl deadline.Deadline) (WhoResult, error) {
	frames := scanFrames(args, r.cfg.MaxScanFrames)
	begin := r.clk.Now()

	samples := make([]faces.Sample, 0, frames)
	for i := 0; i < frames; i++ {
		if err := dl.Check(); err != nil {
			return WhoResult{}, err
		}
		frame, err := r.capture()
		if err != nil {
			return WhoResult{}, err
		}
		sample, err := r.faces.Recognize(frame, r.templates)
		if err != nil {
			return WhoResult{}, err
		}
		samples = append(samples, sample)
	}

	agg := faces.Vote(samples)
	r.lastDebug = map[string]any{
		"elapsed_ms": r.clk.Since(begin).Milliseconds(),
		"templates":  len(r.templates),
	}

	r.logger.Debug("who done", "frames", frames, "person", string(agg.Person))
	return WhoResult{
		Person:     agg.Person,
		Frames:     frames,
		Confidence: confidenceFor(agg),
		Debug:      r.enrich(),
	}, nil
}

// Objects runs object detection only.
func (r *Runtime) Objects(args map[string]any, dl deadline.Deadline) (ObjectsResult, error) {
	frames := scanFrames(args, r.cfg.MaxScanFrames)
	allowPartial := BoolArg(args["allow_partial"], false)
	begin := r.clk.Now()

	var seen []string
	for i := 0; i < frames; i++ {
		if err := dl.Check(); err != nil {
			return ObjectsResult{}, err
		}
		frame, err := r.capture()
		if err != nil {
			return ObjectsResult{}, err
		}
		labels, err := r.objects.Detect(frame, allowPartial)
		if err != nil {
			return ObjectsResult{}, err
		}
		seen = append(seen, labels...)
	}

	labels, truncated := objects.Canonical(seen, r.cfg.SupportedObjects, r.cfg.MaxObjects)
	r.lastDebug = map[string]any{
		"elapsed_ms": r.clk.Since(begin).Milliseconds(),
	}
	r.objectModelInfo(r.lastDebug)

	r.logger.Debug("objects done", "frames", frames, "count", len(labels), "truncated", truncated)
	return ObjectsResult{
		Objects:   labels,
		Frames:    frames,
		Truncated: truncated,
		Debug:     r.enrich(),
	}, nil
}

// Learn enrolls args.person from the best of args.frames captures.
func (r *Runtime) Learn(args map[string]any, dl deadline.Deadline) (StatusResult, error) {
	person := faces.Person(upper.String(cast.ToString(args["person"])))
	frames := learnFrames(args, r.cfg.DefaultLearnFrames, r.cfg.MaxLearnFrames)
	begin := r.clk.Now()

	tpl, err := r.faces.Enroll(r.capture, person, frames, dl, r.store)
	if err != nil {
		return StatusResult{}, err
	}
	r.templates[person] = tpl

	r.lastDebug = map[string]any{
		"elapsed_ms": r.clk.Since(begin).Milliseconds(),
		"templates":  len(r.templates),
	}
	return StatusResult{Status: "learned", Person: person, Debug: r.enrich()}, nil
}

// ResetFaces deletes stored templates and clears the in-memory set.
func (r *Runtime) ResetFaces() (StatusResult, error) {
	if err := faces.ResetStorage(r.store); err != nil {
		return StatusResult{}, err
	}
	r.templates = make(map[faces.Person]*faces.Template)
	r.lastDebug = map[string]any{"templates": 0}
	r.logger.Info("templates reset")
	return StatusResult{Status: "reset", Debug: r.enrich()}, nil
}

// Recover releases the camera and both models so the next command starts
// from a clean state. It never fails; release errors are logged.
func (r *Runtime) Recover() {
	err := multierr.Combine(
		safeRelease("face detector", r.faces.Deinit),
		safeRelease("object model", r.objects.Deinit),
		safeRelease("camera", r.cam.Close),
	)
	r.cameraReady = false
	if err != nil {
		r.logger.Warn("recover released with errors", "error", err)
		return
	}
	r.logger.Info("vision recovered")
}

// ReloadModels drops the object model so the next detection re-resolves it.
func (r *Runtime) ReloadModels() {
	if err := safeRelease("object model", r.objects.Deinit); err != nil {
		r.logger.Warn("object model unload failed", "error", err)
	}
	r.logger.Info("object model will reload")
}

func safeRelease(name string, release func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("release %s: panic: %v", name, p)
		}
	}()
	return release()
}
