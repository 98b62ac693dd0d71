package workflows

import "fmt"

// StepError is a workflow failure attributed to a named step. The runner
// converts it into the task's error record.
type StepError struct {
	Step        string
	Message     string
	Recoverable bool
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %s", e.Step, e.Message)
}

// Validationf builds a non-recoverable validation failure.
func Validationf(format string, args ...any) *StepError {
	return &StepError{
		Step:    "validate",
		Message: fmt.Sprintf(format, args...),
	}
}

// StepFailf builds a failure for an arbitrary step.
func StepFailf(step string, format string, args ...any) *StepError {
	return &StepError{
		Step:    step,
		Message: fmt.Sprintf(format, args...),
	}
}

// wrapStep attributes an underlying error to a step, marking it recoverable
// so the caller can retry the task manually.
func wrapStep(step string, err error) *StepError {
	return &StepError{
		Step:        step,
		Message:     err.Error(),
		Recoverable: true,
	}
}
