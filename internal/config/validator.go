package config

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "generator.max_tokens")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidStoreDrivers returns the list of valid store drivers
func ValidStoreDrivers() []string {
	return []string{"sqlite", "json"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateGenerator()...)
	errs = append(errs, c.validateLimits()...)
	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateLogging()...)
	return errs
}

func (c *Config) validateGenerator() []ValidationError {
	var errs []ValidationError
	g := c.Generator

	if strings.TrimSpace(g.Model) == "" {
		errs = append(errs, ValidationError{Field: "generator.model", Value: g.Model, Message: "must not be empty"})
	}
	if g.MaxTokens < 1 {
		errs = append(errs, ValidationError{Field: "generator.max_tokens", Value: g.MaxTokens, Message: "must be at least 1"})
	}
	if g.Temperature < 0 || g.Temperature > 1 {
		errs = append(errs, ValidationError{Field: "generator.temperature", Value: g.Temperature, Message: "must be between 0 and 1"})
	}
	if g.Timeout <= 0 {
		errs = append(errs, ValidationError{Field: "generator.timeout", Value: g.Timeout, Message: "must be positive"})
	}
	if g.MaxRetries < 0 {
		errs = append(errs, ValidationError{Field: "generator.max_retries", Value: g.MaxRetries, Message: "must be non-negative"})
	}
	return errs
}

func (c *Config) validateLimits() []ValidationError {
	var errs []ValidationError

	if r := c.Validation.MaxRejectRatio; !(r > 0 && r <= 1) {
		errs = append(errs, ValidationError{Field: "validation.max_reject_ratio", Value: r, Message: "must be in (0, 1]"})
	}
	if d := c.Fallback.TaskDays; !(d > 0) || math.IsInf(d, 1) {
		errs = append(errs, ValidationError{Field: "fallback.task_days", Value: d, Message: "must be a positive number of days"})
	}
	return errs
}

func (c *Config) validateStore() []ValidationError {
	var errs []ValidationError

	if !slices.Contains(ValidStoreDrivers(), c.Store.Driver) {
		errs = append(errs, ValidationError{
			Field:   "store.driver",
			Value:   c.Store.Driver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStoreDrivers(), ", ")),
		})
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		errs = append(errs, ValidationError{Field: "store.path", Value: c.Store.Path, Message: "must not be empty"})
	}
	return errs
}

func (c *Config) validateLogging() []ValidationError {
	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		return []ValidationError{{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		}}
	}
	return nil
}
