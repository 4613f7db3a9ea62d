package config

import (
	"fmt"
	"net/mail"
	"slices"
	"strings"

	"taskweaver/internal/logging"
)

// ValidationError represents a single invalid setting.
type ValidationError struct {
	Field   string // dotted key, e.g. "run.max_workers"
	Value   any
	Message string
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

// Validate checks c and returns every problem found.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validateLog()...)
	errors = append(errors, c.validateRun()...)
	errors = append(errors, c.validateSMTP()...)
	return errors
}

func (c *Config) validateLog() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(logging.ValidLevels(), strings.ToLower(c.Log.Level)) {
		errors = append(errors, ValidationError{
			Field:   "log.level",
			Value:   c.Log.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(logging.ValidLevels(), ", ")),
		})
	}
	if !slices.Contains(logging.ValidFormats(), strings.ToLower(c.Log.Format)) {
		errors = append(errors, ValidationError{
			Field:   "log.format",
			Value:   c.Log.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(logging.ValidFormats(), ", ")),
		})
	}
	if c.Log.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "log.max_size_mb",
			Value:   c.Log.MaxSizeMB,
			Message: "must be non-negative",
		})
	}
	if c.Log.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "log.max_backups",
			Value:   c.Log.MaxBackups,
			Message: "must be non-negative",
		})
	}
	return errors
}

func (c *Config) validateRun() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidRunModes(), strings.ToLower(c.Run.Mode)) {
		errors = append(errors, ValidationError{
			Field:   "run.mode",
			Value:   c.Run.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidRunModes(), ", ")),
		})
	}
	if c.Run.MaxWorkers < 1 {
		errors = append(errors, ValidationError{
			Field:   "run.max_workers",
			Value:   c.Run.MaxWorkers,
			Message: "must be at least 1",
		})
	}
	return errors
}

// SMTP settings are only checked when e-mail is enabled.
func (c *Config) validateSMTP() []ValidationError {
	if !c.SMTP.Enabled {
		return nil
	}
	var errors []ValidationError

	if strings.TrimSpace(c.SMTP.Host) == "" {
		errors = append(errors, ValidationError{
			Field:   "smtp.host",
			Value:   c.SMTP.Host,
			Message: "is required when smtp is enabled",
		})
	}
	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "smtp.port",
			Value:   c.SMTP.Port,
			Message: "must be between 1 and 65535",
		})
	}
	if _, err := mail.ParseAddress(c.SMTP.From); err != nil {
		errors = append(errors, ValidationError{
			Field:   "smtp.from",
			Value:   c.SMTP.From,
			Message: "must be a valid e-mail address",
		})
	}
	if len(c.SMTP.To) == 0 {
		errors = append(errors, ValidationError{
			Field:   "smtp.to",
			Value:   c.SMTP.To,
			Message: "needs at least one recipient",
		})
	}
	for _, addr := range c.SMTP.To {
		if _, err := mail.ParseAddress(addr); err != nil {
			errors = append(errors, ValidationError{
				Field:   "smtp.to",
				Value:   addr,
				Message: "must be a valid e-mail address",
			})
		}
	}
	if c.SMTP.Timeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "smtp.timeout",
			Value:   c.SMTP.Timeout,
			Message: "must be non-negative",
		})
	}
	return errors
}
