package faces

import (
	"errors"
	"image"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/visiontool/internal/config"
	"github.com/roach88/visiontool/internal/deadline"
	"github.com/roach88/visiontool/internal/fault"
	"github.com/roach88/visiontool/internal/hal"
	"github.com/roach88/visiontool/internal/storage"
	"github.com/roach88/visiontool/internal/testutil"
)

const faceModel = "flash:0x300000"

func newEngine(t *testing.T, results ...testutil.RunResult) (*Engine, *testutil.FakeAccelerator) {
	t.Helper()
	accel := testutil.NewFakeAccelerator()
	accel.Add(faceModel, &testutil.FakeModel{Results: results})
	e := New(accel, Config{
		ModelAddr:  0x300000,
		Thresholds: Thresholds{Strong: 12, Weak: 18},
	})
	return e, accel
}

func face(x, y, w, h int) []hal.Box {
	return []hal.Box{{X: x, Y: y, W: w, H: h}}
}

func liveDeadline() deadline.Deadline {
	return deadline.After(clock.NewMock(), time.Minute)
}

func TestConfidenceMapping(t *testing.T) {
	th := Thresholds{Strong: 12, Weak: 18}
	tests := []struct {
		name   string
		score  float64
		person Person
		want   float64
	}{
		{"none", 0, None, 0.0},
		{"unknown", 0, Unknown, 0.40},
		{"below strong", 3, Owner1, 0.95},
		{"at strong", 12, Owner1, 0.95},
		{"midway", 15, Owner2, 0.825},
		{"at weak", 18, Owner1, 0.70},
		{"above weak", 18.5, Owner1, 0.40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, th.Confidence(tt.score, tt.person), 1e-9)
		})
	}

	assert.Equal(t, 0.40, Thresholds{Strong: 12, Weak: 12}.Confidence(12.5, Owner1))
}

func TestVote(t *testing.T) {
	tests := []struct {
		name    string
		samples []Sample
		want    Aggregate
	}{
		{
			name: "empty",
			want: Aggregate{Person: None},
		},
		{
			name: "majority",
			samples: []Sample{
				{Person: Owner1, Confidence: 0.8, FacesDetected: 1},
				{Person: Unknown, Confidence: 0.4, FacesDetected: 2},
				{Person: Owner1, Confidence: 0.9, FacesDetected: 1},
			},
			want: Aggregate{Person: Owner1, Confidence: 0.9, FacesDetected: 2},
		},
		{
			name: "tie broken by confidence",
			samples: []Sample{
				{Person: Owner1, Confidence: 0.72, FacesDetected: 1},
				{Person: Owner2, Confidence: 0.90, FacesDetected: 1},
			},
			want: Aggregate{Person: Owner2, Confidence: 0.90, FacesDetected: 1},
		},
		{
			name: "tie on confidence keeps first seen",
			samples: []Sample{
				{Person: Unknown, Confidence: 0.40, FacesDetected: 1},
				{Person: Owner1, Confidence: 0.40, FacesDetected: 1},
			},
			want: Aggregate{Person: Unknown, Confidence: 0.40, FacesDetected: 1},
		},
		{
			name: "none loses to any person",
			samples: []Sample{
				{Person: None},
				{Person: None},
				{Person: Unknown, Confidence: 0.40, FacesDetected: 1},
			},
			want: Aggregate{Person: Unknown, Confidence: 0.40, FacesDetected: 1},
		},
		{
			name:    "all none",
			samples: []Sample{{Person: None}, {Person: None}},
			want:    Aggregate{Person: None},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Vote(tt.samples))
		})
	}
}

func TestPrimaryFacePicksLargestFirstOnTie(t *testing.T) {
	e, _ := newEngine(t, testutil.RunResult{Boxes: []hal.Box{
		{X: 0, Y: 0, W: 10, H: 10},
		{X: 5, Y: 5, W: 20, H: 20, ClassID: 1},
		{X: 9, Y: 9, W: 40, H: 10, ClassID: 2},
	}})

	box, n, err := e.PrimaryFace(testutil.Solid(100, 100, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, box.ClassID)
}

func TestDetectorLoadFailure(t *testing.T) {
	accel := testutil.NewFakeAccelerator()
	accel.Add(faceModel, &testutil.FakeModel{LoadErr: errors.New("bad flash")})
	e := New(accel, Config{ModelAddr: 0x300000})

	_, err := e.Recognize(testutil.Solid(10, 10, 0), nil)
	assert.True(t, fault.Is(err, fault.CodeVisionFailed))
	fe, _ := fault.As(err)
	assert.Equal(t, "face_model", fe.Message)
	assert.False(t, e.Loaded())
}

func TestDetectorRunFailure(t *testing.T) {
	e, _ := newEngine(t, testutil.RunResult{Err: errors.New("kpu fault")})

	_, err := e.Recognize(testutil.Solid(10, 10, 0), nil)
	fe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, "face_detect", fe.Message)
}

func TestRecognize(t *testing.T) {
	frame := testutil.Solid(320, 240, 100)
	box := face(100, 80, 64, 64)

	t.Run("no face", func(t *testing.T) {
		e, _ := newEngine(t, testutil.RunResult{})
		s, err := e.Recognize(frame, nil)
		require.NoError(t, err)
		assert.Equal(t, None, s.Person)
		assert.Equal(t, 0.0, s.Confidence)
		assert.Equal(t, 0, s.FacesDetected)
	})

	t.Run("no templates", func(t *testing.T) {
		e, _ := newEngine(t, testutil.RunResult{Boxes: box})
		s, err := e.Recognize(frame, nil)
		require.NoError(t, err)
		assert.Equal(t, Unknown, s.Person)
		assert.Equal(t, 0.40, s.Confidence)
		assert.Equal(t, 1, s.FacesDetected)
	})

	t.Run("strong match", func(t *testing.T) {
		e, _ := newEngine(t, testutil.RunResult{Boxes: box})
		templates := map[Person]*Template{
			Owner1: NewTemplate(Owner1, testutil.Solid(64, 64, 200)),
			Owner2: NewTemplate(Owner2, testutil.Solid(64, 64, 105)),
		}
		s, err := e.Recognize(frame, templates)
		require.NoError(t, err)
		assert.Equal(t, Owner2, s.Person)
		assert.InDelta(t, 0.95, s.Confidence, 1e-9)
		assert.InDelta(t, 5, s.Score, 1)
	})

	t.Run("too far is unknown", func(t *testing.T) {
		e, _ := newEngine(t, testutil.RunResult{Boxes: box})
		templates := map[Person]*Template{
			Owner1: NewTemplate(Owner1, testutil.Solid(64, 64, 160)),
		}
		s, err := e.Recognize(frame, templates)
		require.NoError(t, err)
		assert.Equal(t, Unknown, s.Person)
		assert.Equal(t, 0.40, s.Confidence)
	})
}

func TestClampBox(t *testing.T) {
	r := clampBox(hal.Box{X: -5, Y: 230, W: 500, H: 50}, 320, 240)
	assert.Equal(t, image.Rect(0, 230, 320, 240), r)

	r = clampBox(hal.Box{X: 400, Y: 10, W: 0, H: 0}, 320, 240)
	assert.Equal(t, image.Rect(319, 10, 320, 11), r)
}

func TestEnrollSelectsLargestThenSharpest(t *testing.T) {
	sd := storage.NewMemory(config.Default().Storage)
	e, _ := newEngine(t,
		testutil.RunResult{Boxes: face(0, 0, 40, 40)},
		testutil.RunResult{},
		testutil.RunResult{Boxes: face(0, 0, 80, 80)},
		testutil.RunResult{Boxes: face(0, 0, 80, 80)},
	)

	frames := []image.Image{
		testutil.Frame(320, 240, 1),
		testutil.Frame(320, 240, 2),
		testutil.Solid(320, 240, 90),
		testutil.Frame(320, 240, 3),
	}
	i := 0
	capture := func() (image.Image, error) {
		f := frames[i]
		i++
		return f, nil
	}

	tpl, err := e.Enroll(capture, Owner1, 4, liveDeadline(), sd)
	require.NoError(t, err)
	assert.Equal(t, Owner1, tpl.Person)
	assert.Greater(t, sharpness(luma(tpl.Image)), 0.0, "gradient frame beats the flat one on equal area")
	assert.True(t, sd.Exists("faces_data/owner_1.jpg"))
}

func TestEnrollFailures(t *testing.T) {
	capture := func() (image.Image, error) { return testutil.Solid(320, 240, 50), nil }

	t.Run("bad person", func(t *testing.T) {
		e, _ := newEngine(t)
		_, err := e.Enroll(capture, Unknown, 3, liveDeadline(), storage.NewMemory(config.Default().Storage))
		assert.True(t, fault.Is(err, fault.CodeBadRequest))
	})

	t.Run("storage missing", func(t *testing.T) {
		e, _ := newEngine(t)
		sd := storage.NewMemory(config.Default().Storage)
		sd.Eject()
		_, err := e.Enroll(capture, Owner1, 3, liveDeadline(), sd)
		fe, ok := fault.As(err)
		require.True(t, ok)
		assert.Equal(t, fault.CodeStorageUnavailable, fe.Code)
		assert.Equal(t, "sd_missing", fe.Message)
	})

	t.Run("no face", func(t *testing.T) {
		e, _ := newEngine(t, testutil.RunResult{})
		_, err := e.Enroll(capture, Owner1, 3, liveDeadline(), storage.NewMemory(config.Default().Storage))
		fe, ok := fault.As(err)
		require.True(t, ok)
		assert.Equal(t, fault.CodeVisionFailed, fe.Code)
		assert.Equal(t, "no_face", fe.Message)
	})

	t.Run("deadline expired", func(t *testing.T) {
		e, _ := newEngine(t, testutil.RunResult{Boxes: face(0, 0, 10, 10)})
		clk := clock.NewMock()
		dl := deadline.After(clk, time.Second)
		clk.Add(2 * time.Second)

		_, err := e.Enroll(capture, Owner1, 3, dl, storage.NewMemory(config.Default().Storage))
		assert.True(t, fault.Is(err, fault.CodeTimeout))
	})
}

func TestLoadTemplatesAndReset(t *testing.T) {
	sd := storage.NewMemory(config.Default().Storage)
	e, _ := newEngine(t, testutil.RunResult{Boxes: face(10, 10, 64, 64)})
	capture := func() (image.Image, error) { return testutil.Frame(320, 240, 7), nil }

	_, err := e.Enroll(capture, Owner2, 1, liveDeadline(), sd)
	require.NoError(t, err)

	templates := LoadTemplates(sd, testLogger())
	require.Len(t, templates, 1)
	assert.Equal(t, Owner2, templates[Owner2].Person)

	require.NoError(t, ResetStorage(sd))
	assert.Empty(t, LoadTemplates(sd, testLogger()))

	sd.Eject()
	assert.True(t, fault.Is(ResetStorage(sd), fault.CodeStorageUnavailable))
}
