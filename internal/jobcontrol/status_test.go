package jobcontrol_test

import (
	"testing"

	"github.com/nixpig/jobcontrol/internal/jobcontrol"
	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	t.Parallel()

	t.Run("Test string values", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, "Created", jobcontrol.StatusCreated.String())
		assert.Equal(t, "Running", jobcontrol.StatusRunning.String())
		assert.Equal(t, "Stopped", jobcontrol.StatusStopped.String())
		assert.Equal(t, "Terminated", jobcontrol.StatusTerminated.String())
		assert.Equal(t, "Unknown", jobcontrol.Status(99).String())
		assert.Equal(t, "Unknown", jobcontrol.Status(-1).String())
	})

	t.Run("Test transitions", func(t *testing.T) {
		t.Parallel()

		scenarios := map[string]struct {
			from  jobcontrol.Status
			to    jobcontrol.Status
			legal bool
		}{
			"Created to Running":      {jobcontrol.StatusCreated, jobcontrol.StatusRunning, true},
			"Created to Terminated":   {jobcontrol.StatusCreated, jobcontrol.StatusTerminated, true},
			"Created to Stopped":      {jobcontrol.StatusCreated, jobcontrol.StatusStopped, false},
			"Running to Stopped":      {jobcontrol.StatusRunning, jobcontrol.StatusStopped, true},
			"Running to Terminated":   {jobcontrol.StatusRunning, jobcontrol.StatusTerminated, true},
			"Running to Created":      {jobcontrol.StatusRunning, jobcontrol.StatusCreated, false},
			"Stopped to Running":      {jobcontrol.StatusStopped, jobcontrol.StatusRunning, true},
			"Stopped to Terminated":   {jobcontrol.StatusStopped, jobcontrol.StatusTerminated, true},
			"Terminated to Running":   {jobcontrol.StatusTerminated, jobcontrol.StatusRunning, false},
			"Terminated to Terminated": {jobcontrol.StatusTerminated, jobcontrol.StatusTerminated, false},
		}

		for scenario, config := range scenarios {
			t.Run(scenario, func(t *testing.T) {
				t.Parallel()

				assert.Equal(t, config.legal, config.from.CanTransitionTo(config.to))
			})
		}
	})

	t.Run("Test terminal and live", func(t *testing.T) {
		t.Parallel()

		assert.True(t, jobcontrol.StatusTerminated.Terminal())
		assert.False(t, jobcontrol.StatusRunning.Terminal())

		assert.True(t, jobcontrol.StatusRunning.Live())
		assert.True(t, jobcontrol.StatusStopped.Live())
		assert.False(t, jobcontrol.StatusCreated.Live())
		assert.False(t, jobcontrol.StatusTerminated.Live())
	})
}
