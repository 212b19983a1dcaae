package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyInput                = errors.New("empty input")
	ErrInvalidConfiguration      = errors.New("invalid configuration")
	ErrModelLoad                 = errors.New("model load error")
	ErrComputeBackendUnavailable = errors.New("compute backend unavailable")
	ErrInference                 = errors.New("inference error")
	ErrArtifact                  = errors.New("artifact error")
	ErrNotFound                  = errors.New("not found")
)

// Exit codes returned by the CLI for classified failures.
const (
	ExitFailure       = 1
	ExitInvalidInput  = 2
	ExitModelLoad     = 3
	ExitArtifactWrite = 4
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrInference
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ExitCode maps a pipeline error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrEmptyInput), errors.Is(err, ErrInvalidConfiguration), errors.Is(err, ErrNotFound):
		return ExitInvalidInput
	case errors.Is(err, ErrModelLoad):
		return ExitModelLoad
	case errors.Is(err, ErrArtifact):
		return ExitArtifactWrite
	default:
		return ExitFailure
	}
}

// IsFatal reports whether err must abort an evaluation run. Backend
// unavailability only degrades throughput.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrComputeBackendUnavailable)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
