package models

// WorkflowStep marks where the user is in the linear scan → results → export flow.
type WorkflowStep string

const (
	StepScan    WorkflowStep = "scan"
	StepResults WorkflowStep = "results"
	StepExport  WorkflowStep = "export"
	StepContact WorkflowStep = "contact"
)

// ParseWorkflowStep converts a client supplied step name.
func ParseWorkflowStep(s string) (WorkflowStep, bool) {
	switch WorkflowStep(s) {
	case StepScan, StepResults, StepExport, StepContact:
		return WorkflowStep(s), true
	}
	return "", false
}
