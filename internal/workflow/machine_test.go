package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pneumoai/backend/internal/models"
)

func sampleResult() *models.AnalysisResult {
	return &models.AnalysisResult{Label: "PNEUMONIA", Confidence: 87, Insights: []string{}}
}

func TestMachine_FullCycle(t *testing.T) {
	m := New()
	assert.Equal(t, models.StepScan, m.Step())
	assert.Nil(t, m.Result())

	res := sampleResult()
	require.NoError(t, m.Complete(res))
	assert.Equal(t, models.StepResults, m.Step())
	assert.Same(t, res, m.Result())

	require.NoError(t, m.OpenExport())
	assert.Equal(t, models.StepExport, m.Step())

	require.NoError(t, m.BackToResults())
	assert.Equal(t, models.StepResults, m.Step())
	assert.Same(t, res, m.Result(), "result survives export → results")

	discarded, err := m.Restart()
	require.NoError(t, err)
	assert.Same(t, res, discarded)
	assert.Equal(t, models.StepScan, m.Step())
	assert.Nil(t, m.Result())
}

func TestMachine_RestartFromExport(t *testing.T) {
	m := New()
	require.NoError(t, m.Complete(sampleResult()))
	require.NoError(t, m.OpenExport())

	discarded, err := m.Restart()
	require.NoError(t, err)
	assert.NotNil(t, discarded)
	assert.Equal(t, models.StepScan, m.Step())
}

func TestMachine_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *Machine)
		move  func(m *Machine) error
	}{
		{
			name: "complete without result",
			move: func(m *Machine) error { return m.Complete(nil) },
		},
		{
			name:  "complete twice",
			setup: func(m *Machine) { m.Complete(sampleResult()) },
			move:  func(m *Machine) error { return m.Complete(sampleResult()) },
		},
		{
			name: "export from scan",
			move: func(m *Machine) error { return m.OpenExport() },
		},
		{
			name:  "back to results from results",
			setup: func(m *Machine) { m.Complete(sampleResult()) },
			move:  func(m *Machine) error { return m.BackToResults() },
		},
		{
			name: "restart from scan",
			move: func(m *Machine) error { _, err := m.Restart(); return err },
		},
		{
			name: "leave contact when not there",
			move: func(m *Machine) error { return m.LeaveContact() },
		},
		{
			name:  "open contact twice",
			setup: func(m *Machine) { m.OpenContact() },
			move:  func(m *Machine) error { return m.OpenContact() },
		},
		{
			name: "navigate to results from scan",
			move: func(m *Machine) error { _, err := m.Navigate(models.StepResults); return err },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			if tt.setup != nil {
				tt.setup(m)
			}
			before, beforeResult := m.Step(), m.Result()

			err := tt.move(m)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
			var te *TransitionError
			assert.True(t, errors.As(err, &te))

			assert.Equal(t, before, m.Step(), "state unchanged")
			assert.Same(t, beforeResult, m.Result())
		})
	}
}

func TestMachine_Contact(t *testing.T) {
	m := New()
	res := sampleResult()
	require.NoError(t, m.Complete(res))

	require.NoError(t, m.OpenContact())
	assert.Equal(t, models.StepContact, m.Step())
	assert.Same(t, res, m.Result())

	require.NoError(t, m.LeaveContact())
	assert.Equal(t, models.StepResults, m.Step())
	assert.Same(t, res, m.Result())
}

func TestMachine_Navigate(t *testing.T) {
	m := New()

	_, err := m.Navigate(models.StepScan)
	require.NoError(t, err, "same step is a no-op")

	require.NoError(t, m.Complete(sampleResult()))

	_, err = m.Navigate(models.StepExport)
	require.NoError(t, err)
	assert.Equal(t, models.StepExport, m.Step())

	_, err = m.Navigate(models.StepContact)
	require.NoError(t, err)

	_, err = m.Navigate(models.StepScan)
	assert.ErrorIs(t, err, ErrInvalidTransition, "contact only returns to its origin")

	_, err = m.Navigate(models.StepExport)
	require.NoError(t, err)
	assert.Equal(t, models.StepExport, m.Step())

	_, err = m.Navigate(models.StepResults)
	require.NoError(t, err)

	discarded, err := m.Navigate(models.StepScan)
	require.NoError(t, err)
	assert.NotNil(t, discarded)
	assert.Nil(t, m.Result())

	_, err = m.Navigate("elsewhere")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
