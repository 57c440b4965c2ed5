package hal

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullPeripheralsReportNotPresent(t *testing.T) {
	var cam Camera = NullCamera{}
	require.ErrorIs(t, cam.Init(), ErrNotPresent)
	_, err := cam.Snapshot()
	require.ErrorIs(t, err, ErrNotPresent)
	assert.NoError(t, cam.Close())

	var accel Accelerator = NullAccelerator{}
	_, err = accel.Load(ModelRef{FlashAddr: 0x300000, Source: SourceFlash}, DetectorParams{})
	require.ErrorIs(t, err, ErrNotPresent)
	_, err = accel.Run(0, image.NewGray(image.Rect(0, 0, 1, 1)))
	require.ErrorIs(t, err, ErrNotPresent)
	assert.NoError(t, accel.Unload(0))
}

func TestBoxArea(t *testing.T) {
	assert.Equal(t, 6400, Box{W: 80, H: 80}.Area())
}
