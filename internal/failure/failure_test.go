package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeRoundTripKeepsSentinel(t *testing.T) {
	for _, sentinel := range []error{ErrConfiguration, ErrFileNotFound, ErrParse, ErrFieldNotFound, ErrChannel, ErrWrite} {
		wrapped := fmt.Errorf("%w: volume3.vtk", sentinel)
		code := CodeOf(wrapped)
		require.NotEqual(t, CodeUnknown, code, "sentinel %v", sentinel)
		assert.Same(t, sentinel, FromCode(code))
	}
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("boom")))
	assert.Nil(t, FromCode(CodeUnknown))
}

func TestRemoteFailureMatchesSentinel(t *testing.T) {
	pe := Remote(12, StageLoad, CodeFileNotFound, "file not found: volume12.vtk")
	require.ErrorIs(t, pe, ErrFileNotFound)
	assert.Equal(t, 12, pe.Index)
	assert.Equal(t, "partition 12 stage=load: file not found: volume12.vtk", pe.Error())

	bare := Remote(3, StageContour, CodeUnknown, "kernel exploded")
	assert.EqualError(t, bare, "partition 3 stage=contour: kernel exploded")
}

func TestPartitionKeepsExistingDiagnostic(t *testing.T) {
	inner := New(4, StageField, ErrFieldNotFound)
	got := Partition(9, StageTransfer, fmt.Errorf("send: %w", inner))
	assert.Same(t, inner, got)

	wrapped := Partition(9, StageTransfer, ErrChannel)
	assert.Equal(t, 9, wrapped.Index)
	assert.Equal(t, StageTransfer, wrapped.Stage)
}

func TestJoinAndSort(t *testing.T) {
	errs := []*PartitionError{New(5, StageLoad, ErrParse), New(1, StageField, ErrFieldNotFound)}
	Sort(errs)
	assert.Equal(t, 1, errs[0].Index)
	joined := Join(errs)
	require.Error(t, joined)
	assert.ErrorIs(t, joined, ErrParse)
	assert.ErrorIs(t, joined, ErrFieldNotFound)
	assert.NoError(t, Join(nil))
}

func TestCodeLabels(t *testing.T) {
	assert.Equal(t, "file_not_found", CodeOf(ErrFileNotFound).String())
	assert.Equal(t, "channel", CodeChannel.String())
	assert.Equal(t, "unknown", Code(99).String())
}
