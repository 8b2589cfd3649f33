package domain

import "errors"

var (
	// ErrSchemaUnavailable means the record layouts could not be loaded; no decoding may start.
	ErrSchemaUnavailable = errors.New("schema unavailable")
	// ErrLineTooShort is returned when a line cannot hold the record type code.
	ErrLineTooShort = errors.New("line too short")
	// ErrUnclassifiableRecordType is returned when the record type slot holds no valid code.
	ErrUnclassifiableRecordType = errors.New("unclassifiable record type")
	// ErrFieldValidation marks a field value that failed conversion or validation.
	ErrFieldValidation = errors.New("field validation error")
	// ErrInvalidPosition marks a malformed field position string.
	ErrInvalidPosition = errors.New("invalid field position")
	// ErrNotFinancialData is returned when a file holds no classifiable record lines.
	ErrNotFinancialData = errors.New("file contains no parseable financial records")
	// ErrBuildInProgress is returned when a cache build for the same month is already running.
	ErrBuildInProgress = errors.New("monthly cache build already in progress")
	// ErrCacheBuildFailure wraps any failure while rebuilding a monthly cache row.
	ErrCacheBuildFailure = errors.New("monthly cache build failed")
	// ErrNotFound is returned by repositories when a row does not exist.
	ErrNotFound = errors.New("not found")
)
