package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"drawerstore/internal/core"
	"drawerstore/internal/style"
	"drawerstore/internal/vault"
	"drawerstore/pkg/domain"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The store rejected the request (not found, duplicate, failed check)
	ExitCommandError = 2 // Command error (bad config, unreadable project, lock timeout)
)

// Error codes reported in CLIError.Code.
const (
	ErrCodeGeneric    = "E000"
	ErrCodeNotFound   = "E001"
	ErrCodeValidation = "E002"
	ErrCodeDuplicate  = "E003"
	ErrCodeCrypto     = "E004"
	ErrCodeLocked     = "E005"
	ErrCodeDenied     = "E006"
	ErrCodeBlocked    = "E007"
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// classify maps a store error onto an error code and exit code.
func classify(err error) (string, int) {
	var blocked domain.RuleViolationError
	switch {
	case errors.As(err, &blocked):
		return ErrCodeBlocked, ExitFailure
	case errors.Is(err, domain.ErrNotFound):
		return ErrCodeNotFound, ExitFailure
	case errors.Is(err, domain.ErrValidation):
		return ErrCodeValidation, ExitFailure
	case errors.Is(err, domain.ErrDuplicate):
		return ErrCodeDuplicate, ExitFailure
	case errors.Is(err, domain.ErrCrypto):
		return ErrCodeCrypto, ExitCommandError
	case errors.Is(err, vault.ErrPasswordMismatch):
		return ErrCodeDenied, ExitFailure
	case errors.Is(err, core.ErrLocked):
		return ErrCodeLocked, ExitCommandError
	default:
		return ErrCodeGeneric, ExitCommandError
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success outputs a successful result in the configured format. Text output
// prints data with fmt, so payload types implement fmt.Stringer.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "%s [%s] %s\n", style.ErrorPrefix, code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns the matching ExitError.
func (f *OutputFormatter) Fail(err error) error {
	code, exit := classify(err)
	_ = f.Error(code, err.Error(), nil)
	return WrapExitError(exit, code, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
