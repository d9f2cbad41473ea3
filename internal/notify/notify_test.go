package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pingpongshow/audiblez-webui/internal/jobs"
)

func TestEventMarshal(t *testing.T) {
	end := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	event := Event{
		Event:     eventJobFinished,
		Timestamp: end,
		Job: &jobs.Job{
			ID:       "job-1",
			EpubName: "moby-dick.epub",
			Status:   jobs.StatusCompleted,
			EndedAt:  &end,
		},
	}

	body, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))

	assert.Equal(t, "job.finished", decoded["event"])
	require.Contains(t, decoded, "job")

	job := decoded["job"].(map[string]any)
	assert.Equal(t, "job-1", job["job_id"])
	assert.Equal(t, "moby-dick.epub", job["epub_name"])
	assert.Equal(t, "completed", job["status"])
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		base    time.Duration
		mult    float64
		attempt int
		want    time.Duration
	}{
		{100 * time.Millisecond, 2.0, 0, 100 * time.Millisecond},
		{100 * time.Millisecond, 2.0, 1, 200 * time.Millisecond},
		{100 * time.Millisecond, 2.0, 2, 400 * time.Millisecond},
		{100 * time.Millisecond, 1.5, 2, 225 * time.Millisecond},
		{time.Second, 2.0, 3, 8 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, backoffDelay(tt.base, tt.mult, tt.attempt))
	}
}
