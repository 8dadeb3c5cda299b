package automation

import (
	"errors"
	"fmt"
)

// ErrorKind classifies where a failure belongs in the engine's failure domains
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindResolution     ErrorKind = "resolution"
	KindCollaborator   ErrorKind = "collaborator"
	KindNotImplemented ErrorKind = "not_implemented"
	KindFatal          ErrorKind = "fatal"
)

var (
	// ErrFatal marks failures that stop a whole invocation
	ErrFatal = errors.New("automation: fatal")
	// ErrRuleNotFound is returned by RunManual when the rule does not exist
	ErrRuleNotFound = errors.New("automation: rule not found")
	// ErrNotImplemented is returned for action kinds without a backing collaborator
	ErrNotImplemented = errors.New("not implemented")
)

// Error carries the kind and stage of a failure together with its cause
type Error struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrFatal) match fatal errors regardless of cause
func (e *Error) Is(target error) bool {
	return target == ErrFatal && e.Kind == KindFatal
}

func validationErr(stage string, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Stage: stage, Err: fmt.Errorf(format, args...)}
}

func resolutionErr(stage string, err error) *Error {
	return &Error{Kind: KindResolution, Stage: stage, Err: err}
}

func collaboratorErr(stage string, err error) *Error {
	return &Error{Kind: KindCollaborator, Stage: stage, Err: err}
}

func fatalErr(stage string, err error) *Error {
	return &Error{Kind: KindFatal, Stage: stage, Err: err}
}

// KindOf reports the classification of err, or "" for unclassified errors
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsValidation reports whether err is a validation failure
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}
