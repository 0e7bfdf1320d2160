package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"

	"handy/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Fields returns the names of the invalid fields.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for _, err := range e {
		fields = append(fields, err.Field)
	}
	return fields
}

// ValidateConfig validates every section and returns ValidationErrors, or
// nil when the configuration is usable.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateEngine(&c.Engine)...)
	errs = append(errs, validateFrames(&c.Frames)...)
	errs = append(errs, validateStrategies(&c.Strategies)...)
	errs = append(errs, validateLimits(&c.Limits)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateBrowser(&c.Browser)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

var knownInputTypes = map[string]bool{
	"text": true, "search": true, "url": true, "tel": true, "email": true,
	"number": true, "date": true, "datetime-local": true, "month": true,
	"week": true, "time": true, "color": true, "range": true,
}

func validateEngine(e *EngineConfig) ValidationErrors {
	var errs ValidationErrors
	if e.FollowUpDelayMs < 0 || e.FollowUpDelayMs > 1000 {
		errs = append(errs, *RangeError("engine.follow_up_delay_ms", 0, 1000))
	}
	if len(e.InputTypes) == 0 {
		errs = append(errs, *RequiredFieldError("engine.input_types"))
	}
	for i, t := range e.InputTypes {
		if strings.EqualFold(t, "password") {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("engine.input_types[%d]", i),
				Message: "password fields are never expanded",
			})
			continue
		}
		if !knownInputTypes[strings.ToLower(t)] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("engine.input_types[%d]", i),
				Message: fmt.Sprintf("unknown input type %q", t),
			})
		}
	}
	return errs
}

func validateFrames(f *FramesConfig) ValidationErrors {
	var errs ValidationErrors
	if f.PollIntervalMs < 100 {
		errs = append(errs, ValidationError{
			Field:   "frames.poll_interval_ms",
			Message: "must be at least 100",
		})
	}
	if f.InjectDelayMs < 0 {
		errs = append(errs, ValidationError{Field: "frames.inject_delay_ms", Message: "must not be negative"})
	}
	if f.StaggerMs < 0 {
		errs = append(errs, ValidationError{Field: "frames.stagger_ms", Message: "must not be negative"})
	}
	return errs
}

func validateStrategies(s *StrategiesConfig) ValidationErrors {
	var errs ValidationErrors
	for i, p := range s.EmbeddedHosts {
		if p == "" {
			errs = append(errs, *RequiredFieldError(fmt.Sprintf("strategies.embedded_hosts[%d]", i)))
			continue
		}
		if _, err := glob.Compile(p); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("strategies.embedded_hosts[%d]", i),
				Message: fmt.Sprintf("invalid pattern: %v", err),
			})
		}
	}
	for _, list := range []struct {
		field     string
		selectors []string
	}{
		{"strategies.ckeditor_selectors", s.CKEditorSelectors},
		{"strategies.lightning_selectors", s.LightningSelectors},
	} {
		for i, sel := range list.selectors {
			if strings.TrimSpace(sel) == "" {
				errs = append(errs, *RequiredFieldError(fmt.Sprintf("%s[%d]", list.field, i)))
			}
		}
	}
	return errs
}

func validateLimits(l *LimitsConfig) ValidationErrors {
	var errs ValidationErrors
	if l.MaxKeywordLength < 1 || l.MaxKeywordLength > 1000 {
		errs = append(errs, *RangeError("limits.max_keyword_length", 1, 1000))
	}
	if l.MaxSnippetLength < 1 || l.MaxSnippetLength > 100000 {
		errs = append(errs, *RangeError("limits.max_snippet_length", 1, 100000))
	}
	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors
	if s.Path == "" {
		errs = append(errs, *RequiredFieldError("storage.path"))
	}
	if s.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{Field: "storage.busy_timeout_ms", Message: "must not be negative"})
	}
	if s.WatchDebounceMs < 0 {
		errs = append(errs, ValidationError{Field: "storage.watch_debounce_ms", Message: "must not be negative"})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors
	if _, err := logging.ParseLevel(l.Level); err != nil {
		errs = append(errs, ValidationError{Field: "logging.level", Message: err.Error()})
	}
	if _, err := logging.ParseFormat(l.Format); err != nil {
		errs = append(errs, ValidationError{Field: "logging.format", Message: err.Error()})
	}
	switch strings.ToLower(l.Output) {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, *RequiredFieldError("logging.file_path"))
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("unknown output %q (stdout, stderr, file, both)", l.Output),
		})
	}
	if l.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_size_mb", Message: "must not be negative"})
	}
	return errs
}

func validateBrowser(b *BrowserConfig) ValidationErrors {
	var errs ValidationErrors
	if b.ControlURL != "" {
		u, err := url.Parse(b.ControlURL)
		if err != nil || u.Host == "" || (u.Scheme != "ws" && u.Scheme != "wss" && u.Scheme != "http") {
			errs = append(errs, ValidationError{
				Field:   "browser.control_url",
				Message: "must be a ws://, wss:// or http:// DevTools address",
			})
		}
	}
	return errs
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
