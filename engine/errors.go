package engine

import (
	"errors"
	"fmt"
)

// Stage names one step of the analysis pipeline
type Stage string

const (
	StageExtract   Stage = "extract"
	StageStructure Stage = "structure"
	StageClassify  Stage = "classify"
	StageTemplate  Stage = "template"
	StageCompare   Stage = "compare"
)

var (
	// ErrExtraction means the source document is unreadable; the user must re-upload
	ErrExtraction = errors.New("document could not be extracted")
	// ErrExtractionService means a model call made while structuring clauses failed
	ErrExtractionService = errors.New("clause extraction service failed")
	// ErrMalformedExtraction means the model kept returning an invalid clause structure
	ErrMalformedExtraction = errors.New("malformed clause extraction")
	// ErrClassificationService means the classification model call failed
	ErrClassificationService = errors.New("classification service failed")
	// ErrComparisonService means the comparison model call failed
	ErrComparisonService = errors.New("comparison service failed")
	// ErrTemplateUnavailable means no canonical template exists for the type yet
	ErrTemplateUnavailable = errors.New("template unavailable")
)

// StageError ties a failure to the pipeline stage that produced it. It
// matches both its Kind sentinel and the underlying cause with errors.Is.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewStageError attributes err to stage, classified by the kind sentinel.
// Collaborators outside the package use it so their failures read the same
// way as the built in stages.
func NewStageError(stage Stage, kind, err error) error {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

func stageErr(stage Stage, kind, err error) error {
	return NewStageError(stage, kind, err)
}

// FailedStage returns the stage an error came from, or "" when err did not
// originate in the pipeline.
func FailedStage(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
