package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration marks a malformed policy or metric table.
	ErrConfiguration = errors.New("configuration invalid")
)

// ConfigError lists the problems found in a configuration document.
type ConfigError struct {
	Source   string
	Problems []string
}

// NewConfigError builds a ConfigError, returning nil when there is nothing to report.
func NewConfigError(source string, problems ...string) error {
	if len(problems) == 0 {
		return nil
	}
	return &ConfigError{Source: source, Problems: problems}
}

func (e *ConfigError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%s: %s", ErrConfiguration, strings.Join(e.Problems, "; "))
	}
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration, e.Source, strings.Join(e.Problems, "; "))
}

// Unwrap allows errors.Is(err, ErrConfiguration).
func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}
