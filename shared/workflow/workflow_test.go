package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseApplicationStatus(t *testing.T) {
	got, err := ParseApplicationStatus(" accepted ")
	require.NoError(t, err)
	assert.Equal(t, ApplicationAccepted, got)

	got, err = ParseApplicationStatus("Interview Scheduled")
	require.NoError(t, err)
	assert.Equal(t, ApplicationInterviewScheduled, got)

	_, err = ParseApplicationStatus("HIRED")
	assert.Error(t, err)
	_, err = ParseApplicationStatus("")
	assert.Error(t, err)
}

func TestTerminal(t *testing.T) {
	assert.True(t, ApplicationRejected.Terminal())
	assert.False(t, ApplicationUnderReview.Terminal())
}

func TestParseJobStatus(t *testing.T) {
	got, err := ParseJobStatus("approved")
	require.NoError(t, err)
	assert.Equal(t, JobApproved, got)

	_, err = ParseJobStatus("ARCHIVED")
	assert.Error(t, err)
}
