package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the kind shared by every missing-entity error.
	ErrNotFound = errors.New("not found")
	// ErrTemplateNotFound indicates the template could not be loaded.
	ErrTemplateNotFound = fmt.Errorf("template %w", ErrNotFound)
	// ErrQuestionNotFound indicates a question ID is unknown or outside the template.
	ErrQuestionNotFound = fmt.Errorf("question %w", ErrNotFound)
	// ErrQuestionnaireNotFound indicates the project questionnaire does not exist.
	ErrQuestionnaireNotFound = fmt.Errorf("questionnaire %w", ErrNotFound)
	// ErrProjectNotFound indicates the project does not exist.
	ErrProjectNotFound = fmt.Errorf("project %w", ErrNotFound)
	// ErrUserNotFound indicates the user or client does not exist.
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)

	// ErrUnauthorized is returned when no identity is attached to the call.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the identity may not touch the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials is returned by login for an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidInput flags malformed arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrQuestionnaireLocked blocks mutations of a LOCKED questionnaire.
	ErrQuestionnaireLocked = errors.New("questionnaire is locked and cannot be modified")
	// ErrAlreadySubmitted blocks mutations and re-submits of a SUBMITTED questionnaire.
	ErrAlreadySubmitted = errors.New("questionnaire has been submitted and cannot be modified")
	// ErrIncompleteSubmission is the kind behind IncompleteSubmissionError.
	ErrIncompleteSubmission = errors.New("required questions remain unanswered")
	// ErrDuplicateAssignment rejects assigning a template twice to one project.
	ErrDuplicateAssignment = errors.New("template is already assigned to the project")
	// ErrInUse is the kind behind InUseError.
	ErrInUse = errors.New("template is in use")
	// ErrEmailTaken rejects creating a second user with the same email.
	ErrEmailTaken = errors.New("email already registered")
)

// IncompleteSubmissionError carries the number of unanswered required questions.
type IncompleteSubmissionError struct {
	Missing int
}

func (e *IncompleteSubmissionError) Error() string {
	return fmt.Sprintf("please answer all required questions: %d required question(s) remaining", e.Missing)
}

func (e *IncompleteSubmissionError) Is(target error) bool {
	return target == ErrIncompleteSubmission
}

// InUseError carries how many project questionnaires reference a template.
type InUseError struct {
	Usage int
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("cannot delete: template is used in %d project(s), deactivate instead", e.Usage)
}

func (e *InUseError) Is(target error) bool {
	return target == ErrInUse
}

// Invalid wraps ErrInvalidInput with a description of the offending argument.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
