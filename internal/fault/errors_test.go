package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireMessageDefaults(t *testing.T) {
	tests := []struct {
		code Code
		want string
	}{
		{CodeBadRequest, "bad_req"},
		{CodeBusy, "busy"},
		{CodeTimeout, "timeout"},
		{CodeVisionFailed, "vision"},
		{CodeStorageUnavailable, "storage"},
		{CodeModelMissing, "model"},
		{Code("OTHER"), "error"},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.code, "").WireMessage())
		})
	}
}

func TestWireMessageClipsToLimit(t *testing.T) {
	err := New(CodeVisionFailed, "abcdefghijklmnopqrstuvwxyz0123")
	assert.Equal(t, "abcdefghijklmnopqrstuvwx", err.WireMessage())
	assert.Len(t, err.WireMessage(), MaxMessageLen)
}

func TestClipMessageCountsRunes(t *testing.T) {
	msg := "ééééééééééééééééééééééééééé"
	assert.Equal(t, MaxMessageLen, len([]rune(ClipMessage(msg))))
}

func TestAsHandlesWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("scan: %w", New(CodeModelMissing, "objects_model"))

	fe, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeModelMissing, fe.Code)
	assert.True(t, Is(wrapped, CodeModelMissing))
	assert.False(t, Is(wrapped, CodeTimeout))
}

func TestNeedsRecovery(t *testing.T) {
	assert.False(t, NeedsRecovery(nil))
	assert.True(t, NeedsRecovery(New(CodeVisionFailed, "camera")))
	assert.True(t, NeedsRecovery(Timeout()))
	assert.True(t, NeedsRecovery(errors.New("boom")))
	assert.False(t, NeedsRecovery(New(CodeBadRequest, "bad_person")))
	assert.False(t, NeedsRecovery(New(CodeBusy, "")))
	assert.False(t, NeedsRecovery(New(CodeStorageUnavailable, "sd_missing")))
	assert.False(t, NeedsRecovery(New(CodeModelMissing, "objects_model")))
}

func TestCoerce(t *testing.T) {
	typed := New(CodeStorageUnavailable, "sd_write")
	assert.Same(t, typed, Coerce(typed))

	other := Coerce(errors.New("nil pointer"))
	assert.Equal(t, CodeVisionFailed, other.Code)
	assert.Equal(t, "internal", other.Message)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, CodeBusy, CodeOf(fmt.Errorf("wrap: %w", New(CodeBusy, ""))))
}
