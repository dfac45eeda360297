package images

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressTrackerSSE(t *testing.T) {
	tracker := NewProgressTracker("alpine:3.20")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := tracker.Subscribe(ctx)
	require.NoError(t, err)

	tracker.Update(ProgressUpdate{Status: StatusPulling, Progress: 40})
	tracker.Fail(errors.New("boom"))
	tracker.Close()

	body, err := io.ReadAll(ToSSEReader(ch))
	require.NoError(t, err)
	s := string(body)
	assert.Contains(t, s, `"status":"pending"`)
	assert.Contains(t, s, `"progress":40`)
	assert.Contains(t, s, `"error":"boom"`)
	assert.Contains(t, s, `"ref":"alpine:3.20"`)
}

func TestProgressTrackerClosed(t *testing.T) {
	tracker := NewProgressTracker("x")
	tracker.Close()
	_, err := tracker.Subscribe(context.Background())
	require.Error(t, err)

	tracker.Update(ProgressUpdate{Status: StatusPulling})
	assert.Equal(t, StatusPending, tracker.Last().Status)
}
