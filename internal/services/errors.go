package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks malformed input or configuration that must be
	// rejected immediately and never retried.
	ErrValidation = errors.New("validation error")
	// ErrConflict marks concurrency conflicts such as a duplicate label
	// commit or an action against a stale assignment. Clients resolve it by
	// re-requesting assignments.
	ErrConflict = errors.New("conflict")
	// ErrNotFound marks references to rows that do not exist.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration marks invalid project or application configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrUnavailable marks infrastructure failures such as an unreachable
	// cache or durable store. Fatal at startup.
	ErrUnavailable = errors.New("unavailable")
	// ErrNotEnoughData marks reporting queries that need more ratings than
	// exist. It is a normal reporting outcome, not an engine fault.
	ErrNotEnoughData = errors.New("not enough data")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrUnavailable
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
