// Package workflow implements the scan → results → export step machine.
//
// A Machine holds the current step and the single live result. It is not
// safe for concurrent use; callers serialize access.
package workflow

import (
	"errors"
	"fmt"

	"github.com/pneumoai/backend/internal/models"
)

// ErrInvalidTransition is wrapped by every rejected move.
var ErrInvalidTransition = errors.New("invalid workflow transition")

// TransitionError describes a rejected move.
type TransitionError struct {
	From   models.WorkflowStep
	To     models.WorkflowStep
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot move from %s to %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("cannot move from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Machine tracks the workflow step and the result it carries.
type Machine struct {
	step     models.WorkflowStep
	previous models.WorkflowStep // step to return to from contact
	result   *models.AnalysisResult
}

// New returns a machine at the scan step.
func New() *Machine {
	return &Machine{step: models.StepScan}
}

// Step returns the current step.
func (m *Machine) Step() models.WorkflowStep { return m.step }

// Result returns the live result, if any.
func (m *Machine) Result() *models.AnalysisResult { return m.result }

// Complete records a fresh result and moves scan → results.
func (m *Machine) Complete(result *models.AnalysisResult) error {
	if m.step != models.StepScan {
		return m.reject(models.StepResults, "analysis can only complete from scan")
	}
	if result == nil {
		return m.reject(models.StepResults, "no result")
	}
	m.result = result
	m.step = models.StepResults
	return nil
}

// OpenExport moves results → export. It does not export anything.
func (m *Machine) OpenExport() error {
	if m.step != models.StepResults {
		return m.reject(models.StepExport, "")
	}
	m.step = models.StepExport
	return nil
}

// BackToResults moves export → results, keeping the result.
func (m *Machine) BackToResults() error {
	if m.step != models.StepExport {
		return m.reject(models.StepResults, "")
	}
	m.step = models.StepResults
	return nil
}

// Restart returns to scan from results or export and discards the result.
// The discarded result is returned so its image can be released.
func (m *Machine) Restart() (*models.AnalysisResult, error) {
	if m.step != models.StepResults && m.step != models.StepExport {
		return nil, m.reject(models.StepScan, "")
	}
	discarded := m.result
	m.result = nil
	m.step = models.StepScan
	return discarded, nil
}

// OpenContact shows the contact page from any other step.
func (m *Machine) OpenContact() error {
	if m.step == models.StepContact {
		return m.reject(models.StepContact, "already there")
	}
	m.previous = m.step
	m.step = models.StepContact
	return nil
}

// LeaveContact returns to the step the contact page was opened from.
func (m *Machine) LeaveContact() error {
	if m.step != models.StepContact {
		return m.reject(m.previous, "not on the contact page")
	}
	m.step = m.previous
	m.previous = ""
	return nil
}

// Navigate moves towards target using the transitions above. Moving to the
// current step is a no-op. A discarded result is returned when the move
// restarts the workflow.
func (m *Machine) Navigate(target models.WorkflowStep) (*models.AnalysisResult, error) {
	if target == m.step {
		return nil, nil
	}

	if m.step == models.StepContact {
		if target == m.previous {
			return nil, m.LeaveContact()
		}
		// Only the origin step is reachable from contact.
		return nil, m.reject(target, "contact page returns to "+string(m.previous))
	}

	switch target {
	case models.StepScan:
		return m.Restart()
	case models.StepResults:
		return nil, m.BackToResults()
	case models.StepExport:
		return nil, m.OpenExport()
	case models.StepContact:
		return nil, m.OpenContact()
	default:
		return nil, m.reject(target, "unknown step")
	}
}

func (m *Machine) reject(to models.WorkflowStep, reason string) error {
	return &TransitionError{From: m.step, To: to, Reason: reason}
}
