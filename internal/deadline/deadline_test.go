package deadline

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/visiontool/internal/fault"
)

func TestCheckBeforeAndAfterExpiry(t *testing.T) {
	clk := clock.NewMock()
	dl := After(clk, 5*time.Second)

	require.NoError(t, dl.Check())
	assert.Equal(t, 5*time.Second, dl.Remaining())

	clk.Add(5 * time.Second)
	assert.NoError(t, dl.Check(), "deadline is inclusive of its own instant")

	clk.Add(time.Millisecond)
	err := dl.Check()
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.CodeTimeout))
	assert.Zero(t, dl.Remaining())
}

func TestAtInThePastIsExpired(t *testing.T) {
	clk := clock.NewMock()
	clk.Add(time.Hour)
	dl := At(clk, clk.Now().Add(-time.Second))
	assert.True(t, dl.Expired())
}
