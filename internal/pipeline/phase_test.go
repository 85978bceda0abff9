package pipeline

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseTrackerSingleShotFlow(t *testing.T) {
	tr := NewPhaseTracker()
	require.Equal(t, PhaseIdle, tr.Current())

	require.NoError(t, tr.Transition(PhasePreview))
	require.NoError(t, tr.Transition(PhaseAnalyzing))
	require.NoError(t, tr.Transition(PhaseResults))
	require.NoError(t, tr.Transition(PhaseAnalyzing))

	tr.Fail(errors.Wrap(ErrTransport, "post"))
	snap := tr.Snapshot()
	assert.Equal(t, PhaseError, snap.Phase)
	assert.Equal(t, "TransportError", snap.ErrorKind)

	require.NoError(t, tr.Transition(PhaseAnalyzing))
	assert.Empty(t, tr.Snapshot().Error)
}

func TestPhaseTrackerRejectsInvalid(t *testing.T) {
	tr := NewPhaseTracker()
	assert.Error(t, tr.Transition(PhaseResults))

	require.NoError(t, tr.Transition(PhaseLive))
	assert.ErrorIs(t, tr.Transition(PhaseAnalyzing), ErrPhaseConflict)
	require.NoError(t, tr.Transition(PhaseIdle))
}

func TestKind(t *testing.T) {
	cases := map[error]string{
		errors.Wrap(ErrSourceUnavailable, "open"): "SourceUnavailable",
		errors.Wrap(ErrEncode, "jpeg"):            "EncodeError",
		&ServiceError{StatusCode: 500}:            "TransportError",
		errors.Wrap(ErrMalformedPayload, "x"):     "MalformedPayload",
		ErrAlreadyRunning:                         "AlreadyRunning",
		errors.Wrap(ErrPhaseConflict, "live"):     "PhaseConflict",
		errors.New("boom"):                        "Internal",
	}
	for err, want := range cases {
		assert.Equal(t, want, Kind(err), err.Error())
	}
	assert.Empty(t, Kind(nil))
}
