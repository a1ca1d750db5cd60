package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arthur-debert/graphport/graphport/export"
	"github.com/arthur-debert/graphport/types"
)

// CLIError represents a user-friendly CLI error with context and suggestions
type CLIError struct {
	Operation   string   // The operation that failed (e.g., "export", "import")
	Cause       string   // The underlying cause (e.g., "entity not found")
	Details     string   // Additional technical details
	Suggestions []string // Helpful suggestions for the user
	Underlying  error    // Original error for debugging
}

// Error implements the error interface
func (e *CLIError) Error() string {
	var msg strings.Builder

	if e.Operation != "" {
		msg.WriteString(fmt.Sprintf("Failed to %s", e.Operation))
	} else {
		msg.WriteString("Operation failed")
	}

	if e.Cause != "" {
		msg.WriteString(fmt.Sprintf(": %s", e.Cause))
	}

	if e.Details != "" {
		msg.WriteString(fmt.Sprintf(" (%s)", e.Details))
	}

	if len(e.Suggestions) > 0 {
		msg.WriteString("\n\nSuggestions:")
		for i, suggestion := range e.Suggestions {
			msg.WriteString(fmt.Sprintf("\n  %d. %s", i+1, suggestion))
		}
	}

	return msg.String()
}

// Unwrap returns the underlying error for error chain compatibility
func (e *CLIError) Unwrap() error {
	return e.Underlying
}

// NewValidationError creates an error for invalid arguments
func NewValidationError(operation, field, value string, suggestions ...string) *CLIError {
	return &CLIError{
		Operation:   operation,
		Cause:       fmt.Sprintf("invalid %s: %q", field, value),
		Suggestions: suggestions,
	}
}

// NewConfigError creates an error for configuration issues
func NewConfigError(operation string, underlying error) *CLIError {
	return &CLIError{
		Operation:   operation,
		Cause:       "configuration error",
		Details:     underlying.Error(),
		Suggestions: []string{CommonSuggestions.CheckConfig, CommonSuggestions.ShowConfig},
		Underlying:  underlying,
	}
}

// NewStoreError creates an error for store-related issues
func NewStoreError(operation string, underlying error, suggestions ...string) *CLIError {
	cause := "store operation failed"
	details := ""

	if underlying != nil {
		details = underlying.Error()

		errStr := strings.ToLower(underlying.Error())
		switch {
		case strings.Contains(errStr, "no such file"):
			cause = "store file not found"
		case strings.Contains(errStr, "permission denied"):
			cause = "insufficient permissions to access store"
		case strings.Contains(errStr, "database is locked"):
			cause = "store is currently locked by another process"
		}
	}

	return &CLIError{
		Operation:   operation,
		Cause:       cause,
		Details:     details,
		Suggestions: suggestions,
		Underlying:  underlying,
	}
}

// NewBlobError creates an error for blob backend issues
func NewBlobError(operation string, underlying error) *CLIError {
	return &CLIError{
		Operation:   operation,
		Cause:       "blob storage unavailable",
		Details:     underlying.Error(),
		Suggestions: []string{CommonSuggestions.CheckBlob, CommonSuggestions.CheckConfig},
		Underlying:  underlying,
	}
}

// WrapError turns export and import failures into CLI errors with
// suggestions matching the failure kind.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		if cliErr.Operation == "" {
			cliErr.Operation = operation
		}
		return cliErr
	}

	var (
		graphErr  *types.GraphError
		formatErr *types.FormatError
		storeErr  *types.StoreError
		blobErr   *types.BlobError
	)
	e := &CLIError{Operation: operation, Details: err.Error(), Underlying: err}
	switch {
	case errors.As(err, &formatErr):
		e.Cause = "archive cannot be read"
		e.Suggestions = []string{CommonSuggestions.CheckArchive}
	case errors.As(err, &blobErr):
		e.Cause = "blob transfer failed"
		e.Suggestions = []string{CommonSuggestions.CheckBlob}
	case errors.As(err, &storeErr):
		e.Cause = fmt.Sprintf("could not create %s entity", storeErr.Type)
		e.Suggestions = []string{CommonSuggestions.CheckLedger, CommonSuggestions.TryDryRun}
	case errors.As(err, &graphErr) && errors.Is(err, types.ErrNotFound):
		e.Cause = fmt.Sprintf("%s %s not found", graphErr.Type, graphErr.ID)
		e.Suggestions = []string{CommonSuggestions.CheckID, CommonSuggestions.RunTree}
	case errors.Is(err, export.ErrNothingToExport):
		e.Cause = "nothing to export"
		e.Suggestions = []string{CommonSuggestions.CheckExcluded}
	}
	return e
}

// Common error messages and suggestions
var (
	CommonSuggestions = struct {
		CheckConfig   string
		ShowConfig    string
		CheckStore    string
		CheckBlob     string
		CheckArchive  string
		CheckID       string
		CheckExcluded string
		CheckLedger   string
		RunTree       string
		TryDryRun     string
	}{
		CheckConfig:   "Check your configuration file or GRAPHPORT_* environment variables",
		ShowConfig:    "Run 'graphport config show' to see the effective settings",
		CheckStore:    "Verify --store points to a readable store file",
		CheckBlob:     "Check the blob.* settings and credentials",
		CheckArchive:  "Use a .yml, .yaml, .json, .tgz or .tar.gz archive produced by 'graphport export'",
		CheckID:       "Verify the entity type and id exist in the source store",
		CheckExcluded: "Configuration entities cannot be exported; pick a content entity as the root",
		CheckLedger:   "Entities created before the failure are listed above and were not rolled back",
		RunTree:       "Run 'graphport tree <type> <id>' to preview what would be exported",
		TryDryRun:     "Use --dry-run to check the archive without creating anything",
	}
)
