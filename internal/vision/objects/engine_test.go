package objects

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/go-git/go-billy/v5/util"

	"github.com/roach88/visiontool/internal/config"
	"github.com/roach88/visiontool/internal/fault"
	"github.com/roach88/visiontool/internal/hal"
	"github.com/roach88/visiontool/internal/storage"
	"github.com/roach88/visiontool/internal/testutil"
)

const sdModel = "/sd/models/objects.kmodel"

func testConfig() Config {
	def := config.Default()
	return Config{
		StorageRoot:  def.Storage.Root,
		ModelPath:    def.Storage.ObjectModel,
		ClassesFile:  def.Storage.ClassesFile,
		LabelMapFile: def.Storage.LabelMapFile,
		Supported:    config.DefaultSupportedObjects,
		MaxObjects:   16,
		Fallback:     image.Pt(224, 224),
	}
}

func withModel(t *testing.T, sd *storage.Memory) {
	t.Helper()
	require.NoError(t, sd.EnsureLayout())
	require.NoError(t, util.WriteFile(sd.Filesystem(), "models/objects.kmodel", []byte("kmodel"), 0o644))
}

func writeFile(t *testing.T, sd *storage.Memory, name, body string) {
	t.Helper()
	require.NoError(t, util.WriteFile(sd.Filesystem(), name, []byte(body), 0o644))
}

func boxes(ids ...int) []hal.Box {
	out := make([]hal.Box, 0, len(ids))
	for _, id := range ids {
		out = append(out, hal.Box{W: 10, H: 10, ClassID: id})
	}
	return out
}

func TestModelMissing(t *testing.T) {
	sd := storage.NewMemory(config.Default().Storage)
	e := New(testutil.NewFakeAccelerator(), sd, testConfig())

	_, err := e.Detect(testutil.Solid(320, 240, 0), false)
	fe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.CodeModelMissing, fe.Code)
	assert.Equal(t, "objects_model", fe.Message)

	labels, err := e.Detect(testutil.Solid(320, 240, 0), true)
	require.NoError(t, err)
	assert.NotNil(t, labels)
	assert.Empty(t, labels)
}

func TestLoadFailureIsModelMissing(t *testing.T) {
	sd := storage.NewMemory(config.Default().Storage)
	withModel(t, sd)
	accel := testutil.NewFakeAccelerator()
	accel.Add(sdModel, &testutil.FakeModel{LoadErr: errors.New("corrupt")})
	e := New(accel, sd, testConfig())

	_, err := e.Detect(testutil.Solid(320, 240, 0), false)
	assert.True(t, fault.Is(err, fault.CodeModelMissing))
	assert.False(t, e.Loaded())
}

func TestResolvePrefersStorageThenFlash(t *testing.T) {
	sd := storage.NewMemory(config.Default().Storage)
	accel := testutil.NewFakeAccelerator()
	accel.Add(sdModel, &testutil.FakeModel{})
	accel.Add("flash:0x500000", &testutil.FakeModel{})

	cfg := testConfig()
	addr := 0x500000
	cfg.FlashAddr = &addr

	e := New(accel, sd, cfg)
	_, err := e.Detect(testutil.Solid(32, 32, 0), false)
	require.NoError(t, err)
	assert.Equal(t, hal.SourceFlash, e.Source())

	require.NoError(t, e.Deinit())
	assert.Equal(t, "", e.Source())

	withModel(t, sd)
	_, err = e.Detect(testutil.Solid(32, 32, 0), false)
	require.NoError(t, err)
	assert.Equal(t, hal.SourceStorage, e.Source())
}

func TestDetectCanonicalOrderAndFiltering(t *testing.T) {
	sd := storage.NewMemory(config.Default().Storage)
	withModel(t, sd)
	accel := testutil.NewFakeAccelerator()
	// default class list: door window sofa chair table cup person
	accel.Add(sdModel, &testutil.FakeModel{Results: []testutil.RunResult{
		{Boxes: boxes(6, 3, 0, 3, 42, -1)},
	}})
	e := New(accel, sd, testConfig())

	labels, err := e.Detect(testutil.Solid(320, 240, 0), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"door", "chair", "person"}, labels)
}

func TestDetectUsesClassFileAndLabelMap(t *testing.T) {
	sd := storage.NewMemory(config.Default().Storage)
	withModel(t, sd)
	writeFile(t, sd, "models/classes.txt", "Couch, mug ,aeroplane,Door\n")
	writeFile(t, sd, "models/label_map.json", `{" COUCH ":"Sofa","mug":"cup","door":""}`)

	accel := testutil.NewFakeAccelerator()
	accel.Add(sdModel, &testutil.FakeModel{Results: []testutil.RunResult{
		{Boxes: boxes(0, 1, 2, 3)},
	}})
	e := New(accel, sd, testConfig())

	labels, err := e.Detect(testutil.Solid(320, 240, 0), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"door", "sofa", "cup"}, labels)
}

func TestDimensionMismatchRetry(t *testing.T) {
	sd := storage.NewMemory(config.Default().Storage)
	withModel(t, sd)
	accel := testutil.NewFakeAccelerator()
	accel.Add(sdModel, &testutil.FakeModel{
		Input:   image.Pt(160, 120),
		Results: []testutil.RunResult{{Boxes: boxes(1)}},
	})
	e := New(accel, sd, testConfig())

	labels, err := e.Detect(testutil.Solid(320, 240, 0), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"window"}, labels)
	assert.Equal(t, image.Pt(160, 120), e.InputSize())
	assert.Equal(t, []image.Point{image.Pt(320, 240), image.Pt(160, 120)}, accel.RunSizes)

	_, err = e.Detect(testutil.Solid(320, 240, 0), false)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(160, 120), accel.RunSizes[2], "learned size is reused")
}

func TestRetryAtReportedSize(t *testing.T) {
	sd := storage.NewMemory(config.Default().Storage)
	withModel(t, sd)
	accel := testutil.NewFakeAccelerator()
	accel.Add(sdModel, &testutil.FakeModel{Input: image.Pt(224, 224)})
	e := New(accel, sd, testConfig())

	labels, err := e.Detect(testutil.Solid(320, 240, 0), false)
	require.NoError(t, err)
	assert.Empty(t, labels)
	assert.Equal(t, image.Pt(224, 224), e.InputSize())
}

func TestDetectFailure(t *testing.T) {
	sd := storage.NewMemory(config.Default().Storage)
	withModel(t, sd)
	accel := testutil.NewFakeAccelerator()
	accel.Add(sdModel, &testutil.FakeModel{Results: []testutil.RunResult{{Err: errors.New("kpu hang")}}})
	e := New(accel, sd, testConfig())

	_, err := e.Detect(testutil.Solid(320, 240, 0), false)
	fe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.CodeVisionFailed, fe.Code)
	assert.Equal(t, "objects_detect", fe.Message)
	assert.Len(t, accel.RunSizes, 2, "one run plus the 224 fallback")
}

func TestParseModelDims(t *testing.T) {
	dims, ok := ParseModelDims("[MAIXPY]kpu: img w=320,h=240, but model w=224,h=224")
	require.True(t, ok)
	assert.Equal(t, image.Pt(224, 224), dims)

	_, ok = ParseModelDims("kpu: out of memory")
	assert.False(t, ok)

	_, ok = ParseModelDims("but model w=0,h=10")
	assert.False(t, ok)
}

func TestParseClassNames(t *testing.T) {
	fb := []string{"x"}
	assert.Equal(t, []string{"a", "b", "c"}, ParseClassNames(" a, b ,,c ", fb))
	assert.Equal(t, []string{"a", "b"}, ParseClassNames("a\r\n\nb\n", fb))
	assert.Equal(t, fb, ParseClassNames("  \n ", fb))
	assert.Equal(t, fb, ParseClassNames(" , ,", fb))
}

func TestParseLabelMap(t *testing.T) {
	assert.Equal(t, map[string]string{"mug": "cup", "n": "1"}, ParseLabelMap([]byte(`{"Mug":" CUP ","n":1,"":"x"}`)))
	assert.Empty(t, ParseLabelMap([]byte(`[1,2]`)))
	assert.Empty(t, ParseLabelMap([]byte(`not json`)))
}

func TestCanonicalTruncates(t *testing.T) {
	labels, truncated := Canonical([]string{"cup", "door", "sofa"}, config.DefaultSupportedObjects, 2)
	assert.True(t, truncated)
	assert.Equal(t, []string{"door", "sofa"}, labels)

	labels, truncated = Canonical(nil, config.DefaultSupportedObjects, 16)
	assert.False(t, truncated)
	assert.NotNil(t, labels)
	assert.Empty(t, labels)
}
