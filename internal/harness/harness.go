package harness

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
	"github.com/go-git/go-billy/v5/util"

	"github.com/roach88/visiontool/internal/config"
	"github.com/roach88/visiontool/internal/dispatch"
	"github.com/roach88/visiontool/internal/hal"
	"github.com/roach88/visiontool/internal/storage"
	"github.com/roach88/visiontool/internal/testutil"
	"github.com/roach88/visiontool/internal/vision"
)

// SessionID is the session id every run reports.
const SessionID = "test-session"

// Exchange is one request line and the response it produced.
type Exchange struct {
	Request  string `json:"request"`
	Response string `json:"response"`
}

// Result is the outcome of running a scenario.
type Result struct {
	Transcript []Exchange
	Errors     []error
	Pass       bool
}

// transcriptWriter captures each response line.
type transcriptWriter struct {
	lines []string
}

func (w *transcriptWriter) WriteLine(line []byte) error {
	w.lines = append(w.lines, string(line))
	return nil
}

// Run executes a scenario on a freshly booted fake device and checks every
// expectation. Setup failures are returned as errors; failed expectations
// are collected in Result.Errors.
func Run(s *Scenario) (*Result, error) {
	cfg := config.Default()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewMock()

	sd := storage.NewMemory(cfg.Storage)
	if err := sd.EnsureLayout(); err != nil {
		return nil, fmt.Errorf("prepare card: %w", err)
	}
	if s.Setup.ObjectModel {
		if err := util.WriteFile(sd.Filesystem(), cfg.Storage.ObjectModel, []byte("kmodel"), 0o644); err != nil {
			return nil, fmt.Errorf("write object model: %w", err)
		}
	}
	if s.Setup.DeviceConfig != nil {
		if err := sd.WriteConfig(s.Setup.DeviceConfig); err != nil {
			return nil, fmt.Errorf("write device config: %w", err)
		}
	}
	if s.Setup.SD != nil && !*s.Setup.SD {
		sd.Eject()
	}

	cam := &testutil.FakeCamera{Frames: []image.Image{testutil.Frame(320, 240, 1)}}
	if s.Setup.CameraFails {
		cam.InitErr = errors.New("sensor not responding")
	}

	accel := testutil.NewFakeAccelerator()
	accel.Add(fmt.Sprintf("flash:%#x", cfg.Vision.FaceModelAddr), &testutil.FakeModel{
		Results: []testutil.RunResult{{Boxes: lo.Map(s.Setup.Faces, func(b [4]int, _ int) hal.Box {
			return hal.Box{X: b[0], Y: b[1], W: b[2], H: b[3]}
		})}},
	})
	accel.Add(path.Join(cfg.Storage.Root, cfg.Storage.ObjectModel), &testutil.FakeModel{
		Results: []testutil.RunResult{{Boxes: lo.Map(s.Setup.Objects, func(id int, _ int) hal.Box {
			return hal.Box{ClassID: id}
		})}},
	})

	rt := vision.New(cam, accel, sd, cfg, vision.WithClock(clk), vision.WithLogger(logger))
	_ = rt.Boot()

	out := &transcriptWriter{}
	d := dispatch.New(rt, out,
		dispatch.WithClock(clk),
		dispatch.WithLogger(logger),
		dispatch.WithLimits(cfg.Protocol),
		dispatch.WithIDGenerator(testutil.NewFixedIDGenerator(SessionID)),
	)

	result := &Result{}
	for i, step := range s.Steps {
		clk.Add(time.Duration(step.AdvanceMS) * time.Millisecond)

		before := len(out.lines)
		d.HandleLine(context.Background(), []byte(step.Send))
		if len(out.lines) != before+1 {
			return nil, fmt.Errorf("step %d: expected exactly one response, got %d", i+1, len(out.lines)-before)
		}
		result.Transcript = append(result.Transcript, Exchange{Request: step.Send, Response: out.lines[before]})

		if step.Expect != nil {
			if err := checkExpect(i, step.Expect, result.Transcript); err != nil {
				result.Errors = append(result.Errors, err)
			}
		}
	}

	result.Pass = len(result.Errors) == 0
	return result, nil
}
